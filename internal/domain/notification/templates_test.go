package notification

import "testing"

func TestTemplateEngine_BuiltInTemplates(t *testing.T) {
	eng := NewTemplateEngine()

	tests := []struct {
		id       string
		data     map[string]string
		wantType Type
		title    string
	}{
		{TemplateWellnessCheckIn, nil, TypeWellness, "Daily Wellness Check-in"},
		{TemplateAppointmentReminder, map[string]string{"doctor": "Dr. Grey", "date": "Tue Jun 11, 8:00 AM"}, TypeAppointment, "Upcoming Appointment: Dr. Grey"},
		{TemplateWellnessInsight, nil, TypeInsight, "Wellness Tip"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			n, err := eng.Render(tt.id, tt.data)
			if err != nil {
				t.Fatalf("Render() error: %v", err)
			}
			if n.Type != tt.wantType || n.Title != tt.title {
				t.Errorf("got %s %q, want %s %q", n.Type, n.Title, tt.wantType, tt.title)
			}
			if n.Message == "" || n.Link == nil {
				t.Errorf("expected message and link, got %+v", n)
			}
		})
	}
}

func TestTemplateEngine_RenderSubstitutesMessage(t *testing.T) {
	eng := NewTemplateEngine()
	n, err := eng.Render(TemplateAppointmentReminder, map[string]string{"doctor": "Dr. Grey", "date": "Tue Jun 11, 8:00 AM"})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	want := "You have an appointment with Dr. Grey on Tue Jun 11, 8:00 AM."
	if n.Message != want {
		t.Errorf("message = %q, want %q", n.Message, want)
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	eng := NewTemplateEngine()
	if _, err := eng.Render("nonexistent", nil); err == nil {
		t.Fatal("expected error for missing template, got nil")
	}
}

func TestTemplateEngine_RegisterTemplate(t *testing.T) {
	eng := NewTemplateEngine()
	eng.RegisterTemplate(Template{
		ID:      "refill",
		Type:    TypeMedication,
		Title:   "Refill {{drug}}",
		Message: "Your {{drug}} prescription runs out soon.",
	})

	n, err := eng.Render("refill", map[string]string{"drug": "Metformin"})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if n.Title != "Refill Metformin" || n.Type != TypeMedication {
		t.Errorf("unexpected notification %+v", n)
	}
	if n.Link != nil {
		t.Errorf("expected no link, got %q", *n.Link)
	}

	// placeholders without data are left as-is
	n, _ = eng.Render("refill", nil)
	if n.Title != "Refill {{drug}}" {
		t.Errorf("unexpected title %q", n.Title)
	}
}

func TestType_Valid(t *testing.T) {
	for _, typ := range []Type{TypeAppointment, TypeWellness, TypeMedication, TypeAchievement, TypeInsight, TypeSystem} {
		if !typ.Valid() {
			t.Errorf("expected %s to be valid", typ)
		}
	}
	if Type("marketing").Valid() {
		t.Error("expected marketing to be invalid")
	}
}
