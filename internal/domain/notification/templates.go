package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Built-in template ids.
const (
	TemplateWellnessCheckIn     = "wellness-check-in"
	TemplateAppointmentReminder = "appointment-reminder"
	TemplateWellnessInsight     = "wellness-insight"
)

// Template defines a reusable notification. Title and Message may contain
// {{key}} placeholders.
type Template struct {
	ID      string
	Type    Type
	Title   string
	Message string
	Link    string
}

// TemplateEngine renders notifications from templates. Titles produced here
// are the ones the generator deduplicates on.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateWellnessCheckIn,
			Type:    TypeWellness,
			Title:   "Daily Wellness Check-in",
			Message: "Don't forget to log your wellness data for today. It only takes a minute!",
			Link:    "/wellness",
		},
		{
			ID:      TemplateAppointmentReminder,
			Type:    TypeAppointment,
			Title:   "Upcoming Appointment: {{doctor}}",
			Message: "You have an appointment with {{doctor}} on {{date}}.",
			Link:    "/appointments",
		},
		{
			ID:      TemplateWellnessInsight,
			Type:    TypeInsight,
			Title:   "Wellness Tip",
			Message: "Staying hydrated supports your energy and focus. Aim for at least 8 glasses of water today.",
			Link:    "/wellness",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. The result is not yet owned by any user.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (*Notification, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("template %q not found", templateID)
	}

	title, message := t.Title, t.Message
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		message = strings.ReplaceAll(message, placeholder, v)
	}

	n := &Notification{Type: t.Type, Title: title, Message: message}
	if t.Link != "" {
		link := t.Link
		n.Link = &link
	}
	return n, nil
}
