package wellness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medconnect/medconnect/internal/platform/apperr"
)

const maxNotesLength = 2000

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Log records an entry for userID. Logging today's entry is what clears the
// daily check-in reminder.
func (s *Service) Log(ctx context.Context, userID uuid.UUID, in LogInput) (*Log, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	l := &Log{
		UserID:          userID,
		Date:            s.now(),
		Mood:            in.Mood,
		SleepHours:      in.SleepHours,
		WaterIntake:     in.WaterIntake,
		ExerciseMinutes: in.ExerciseMinutes,
		StressLevel:     in.StressLevel,
	}
	if in.Date != nil {
		l.Date = *in.Date
	}
	if in.Notes != nil {
		if notes := strings.TrimSpace(*in.Notes); notes != "" {
			l.Notes = &notes
		}
	}
	if err := s.repo.Create(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func validate(in LogInput) error {
	if err := intRange("mood", in.Mood, 1, 10); err != nil {
		return err
	}
	if err := intRange("stress_level", in.StressLevel, 1, 10); err != nil {
		return err
	}
	if in.ExerciseMinutes != nil && *in.ExerciseMinutes < 0 {
		return apperr.Validation("exercise_minutes cannot be negative")
	}
	if in.SleepHours != nil && (*in.SleepHours < 0 || *in.SleepHours > 24) {
		return apperr.Validation("sleep_hours must be between 0 and 24")
	}
	if in.WaterIntake != nil && *in.WaterIntake < 0 {
		return apperr.Validation("water_intake cannot be negative")
	}
	if in.Notes != nil && len(*in.Notes) > maxNotesLength {
		return apperr.Validation(fmt.Sprintf("notes must be at most %d bytes", maxNotesLength))
	}
	return nil
}

func intRange(field string, v *int, lo, hi int) error {
	if v != nil && (*v < lo || *v > hi) {
		return apperr.Validation(fmt.Sprintf("%s must be between %d and %d", field, lo, hi))
	}
	return nil
}

// Recent returns the user's latest entries, newest first.
func (s *Service) Recent(ctx context.Context, userID uuid.UUID, limit int) ([]*Log, error) {
	logs, err := s.repo.ListForUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []*Log{}
	}
	return logs, nil
}

// HasEntryBetween lets other components ask whether a day was logged.
func (s *Service) HasEntryBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) (bool, error) {
	return s.repo.HasEntryBetween(ctx, userID, from, to)
}
