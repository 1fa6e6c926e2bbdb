package wellness

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medconnect/medconnect/internal/platform/apperr"
	"github.com/medconnect/medconnect/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const logCols = `id, user_id, date, mood, sleep_hours, water_intake, exercise_minutes, stress_level, notes, created_at`

func scanLog(row pgx.Row) (*Log, error) {
	var l Log
	err := row.Scan(&l.ID, &l.UserID, &l.Date, &l.Mood, &l.SleepHours, &l.WaterIntake,
		&l.ExerciseMinutes, &l.StressLevel, &l.Notes, &l.CreatedAt)
	return &l, err
}

func (r *repoPG) Create(ctx context.Context, l *Log) error {
	l.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO wellness_logs (id, user_id, date, mood, sleep_hours, water_intake,
			exercise_minutes, stress_level, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		l.ID, l.UserID, l.Date, l.Mood, l.SleepHours, l.WaterIntake,
		l.ExerciseMinutes, l.StressLevel, l.Notes).Scan(&l.CreatedAt)
	return db.Classify(err, "user not found")
}

func (r *repoPG) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Log, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+logCols+` FROM wellness_logs
		WHERE user_id = $1
		ORDER BY date DESC, id
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer rows.Close()

	var out []*Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, apperr.Storage(err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err)
	}
	return out, nil
}

func (r *repoPG) HasEntryBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM wellness_logs
			WHERE user_id = $1 AND date >= $2 AND date < $3
		)`, userID, from, to).Scan(&ok)
	if err != nil {
		return false, apperr.Storage(err)
	}
	return ok, nil
}
