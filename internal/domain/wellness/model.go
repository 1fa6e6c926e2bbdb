package wellness

import (
	"time"

	"github.com/google/uuid"
)

// Log is one daily wellness entry. Every measurement is optional.
type Log struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	Date            time.Time `json:"date"`
	Mood            *int      `json:"mood,omitempty"`
	SleepHours      *float64  `json:"sleep_hours,omitempty"`
	WaterIntake     *float64  `json:"water_intake,omitempty"`
	ExerciseMinutes *int      `json:"exercise_minutes,omitempty"`
	StressLevel     *int      `json:"stress_level,omitempty"`
	Notes           *string   `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// LogInput is the body of a log request. A missing date means now.
type LogInput struct {
	Date            *time.Time `json:"date"`
	Mood            *int       `json:"mood"`
	SleepHours      *float64   `json:"sleep_hours"`
	WaterIntake     *float64   `json:"water_intake"`
	ExerciseMinutes *int       `json:"exercise_minutes"`
	StressLevel     *int       `json:"stress_level"`
	Notes           *string    `json:"notes"`
}
