package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medconnect/medconnect/internal/domain/appointment"
)

const (
	appointmentLookahead = 24 * time.Hour
	reminderCooldown     = 24 * time.Hour
	appointmentDateFmt   = "Mon Jan 2, 3:04 PM"
)

// WellnessChecker reports whether a wellness entry exists in [from, to).
type WellnessChecker interface {
	HasEntryBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) (bool, error)
}

// AppointmentLister lists a patient's confirmed appointments in [from, to].
type AppointmentLister interface {
	ListUpcomingConfirmed(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*appointment.Appointment, error)
}

// GeneratorConfig holds the generator's time and randomness sources.
type GeneratorConfig struct {
	// Trigger gates the insight rule. Nil never fires.
	Trigger InsightTrigger
	// Now defaults to time.Now.
	Now func() time.Time
	// Location defines calendar days. Defaults to time.Local.
	Location *time.Location
}

// Generator inserts the reminders and insights a user is due. Each rule is
// idempotent within its window, so running it on every fetch is safe.
type Generator struct {
	repo      Repository
	tx        TxRunner
	wellness  WellnessChecker
	appts     AppointmentLister
	templates *TemplateEngine
	trigger   InsightTrigger
	now       func() time.Time
	loc       *time.Location
}

func NewGenerator(repo Repository, tx TxRunner, wellness WellnessChecker, appts AppointmentLister, templates *TemplateEngine, cfg GeneratorConfig) *Generator {
	g := &Generator{
		repo:      repo,
		tx:        tx,
		wellness:  wellness,
		appts:     appts,
		templates: templates,
		trigger:   cfg.Trigger,
		now:       cfg.Now,
		loc:       cfg.Location,
	}
	if g.trigger == nil {
		g.trigger = TriggerFunc(func() bool { return false })
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.loc == nil {
		g.loc = time.Local
	}
	return g
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// EnsureTodaysNotifications applies the wellness, appointment and insight
// rules for userID and returns the notifications it created. Passes for the
// same user are serialized.
func (g *Generator) EnsureTodaysNotifications(ctx context.Context, userID uuid.UUID) ([]*Notification, error) {
	now := g.now()
	today := StartOfDay(now, g.loc)

	var created []*Notification
	err := g.tx.WithTx(ctx, func(ctx context.Context) error {
		created = nil
		if err := g.repo.LockUser(ctx, userID); err != nil {
			return err
		}
		for _, rule := range []func(context.Context, uuid.UUID, time.Time, time.Time) ([]*Notification, error){
			g.wellnessReminder,
			g.appointmentReminders,
			g.insight,
		} {
			ns, err := rule(ctx, userID, now, today)
			if err != nil {
				return err
			}
			created = append(created, ns...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// wellnessReminder fires once per calendar day while no entry is logged.
func (g *Generator) wellnessReminder(ctx context.Context, userID uuid.UUID, _, today time.Time) ([]*Notification, error) {
	logged, err := g.wellness.HasEntryBetween(ctx, userID, today, today.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("check wellness log: %w", err)
	}
	if logged {
		return nil, nil
	}
	n, err := g.createOnce(ctx, userID, TemplateWellnessCheckIn, nil, today)
	if err != nil || n == nil {
		return nil, err
	}
	return []*Notification{n}, nil
}

// appointmentReminders covers confirmed appointments in the next 24 hours.
// An identical title in the last 24 hours suppresses the reminder.
func (g *Generator) appointmentReminders(ctx context.Context, userID uuid.UUID, now, _ time.Time) ([]*Notification, error) {
	appts, err := g.appts.ListUpcomingConfirmed(ctx, userID, now, now.Add(appointmentLookahead))
	if err != nil {
		return nil, fmt.Errorf("list upcoming appointments: %w", err)
	}

	var out []*Notification
	for _, a := range appts {
		data := map[string]string{
			"doctor": a.DoctorName,
			"date":   a.Date.In(g.loc).Format(appointmentDateFmt),
		}
		n, err := g.createOnce(ctx, userID, TemplateAppointmentReminder, data, now.Add(-reminderCooldown))
		if err != nil {
			return nil, err
		}
		if n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

// insight offers at most one insight per calendar day when the trigger fires.
func (g *Generator) insight(ctx context.Context, userID uuid.UUID, _, today time.Time) ([]*Notification, error) {
	if !g.trigger.Fire() {
		return nil, nil
	}
	exists, err := g.repo.ExistsSince(ctx, userID, TypeInsight, "", today)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}
	n, err := g.render(userID, TemplateWellnessInsight, nil)
	if err != nil {
		return nil, err
	}
	if err := g.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create insight: %w", err)
	}
	return []*Notification{n}, nil
}

// createOnce renders templateID and inserts it unless a notification of the
// same type and title exists since the given instant. It returns nil when
// nothing was inserted.
func (g *Generator) createOnce(ctx context.Context, userID uuid.UUID, templateID string, data map[string]string, since time.Time) (*Notification, error) {
	n, err := g.render(userID, templateID, data)
	if err != nil {
		return nil, err
	}
	exists, err := g.repo.ExistsSince(ctx, userID, n.Type, n.Title, since)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}
	if err := g.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create %s notification: %w", n.Type, err)
	}
	return n, nil
}

func (g *Generator) render(userID uuid.UUID, templateID string, data map[string]string) (*Notification, error) {
	n, err := g.templates.Render(templateID, data)
	if err != nil {
		return nil, err
	}
	n.UserID = userID
	return n, nil
}
