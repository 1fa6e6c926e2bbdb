package appointment

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

const appointmentCols = `a.id, a.patient_id, a.doctor_id, d.name, a.date, a.status, a.reason, a.created_at, a.updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.DoctorName, &a.Date, &a.Status, &a.Reason,
		&a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *repoPG) ListUpcomingConfirmed(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments a
		JOIN users d ON d.id = a.doctor_id
		WHERE a.patient_id = $1 AND a.status = $2 AND a.date BETWEEN $3 AND $4
		ORDER BY a.date, a.id`, patientID, string(StatusConfirmed), from, to)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, apperr.Storage(err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err)
	}
	return out, nil
}
