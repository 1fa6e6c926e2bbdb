package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// ListUpcomingConfirmed returns the patient's confirmed appointments with
	// from <= date <= to, soonest first.
	ListUpcomingConfirmed(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error)
}
