package model

import (
	"testing"
	"time"
)

func TestCalendarEvent_SameSchedule(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t1Other := t1.In(time.FixedZone("CET", 3600))

	tests := []struct {
		name string
		a, b CalendarEvent
		want bool
	}{
		{"same start and summary", CalendarEvent{Summary: "Kick off", Start: &t1}, CalendarEvent{Summary: "Kick off", Start: &t1}, true},
		{"same instant different zone", CalendarEvent{Summary: "x", Start: &t1}, CalendarEvent{Summary: "x", Start: &t1Other}, true},
		{"moved start", CalendarEvent{Summary: "x", Start: &t1}, CalendarEvent{Summary: "x", Start: &t2}, false},
		{"renamed", CalendarEvent{Summary: "x", Start: &t1}, CalendarEvent{Summary: "y", Start: &t1}, false},
		{"both without start", CalendarEvent{Summary: "x"}, CalendarEvent{Summary: "x"}, true},
		{"start dropped", CalendarEvent{Summary: "x", Start: &t1}, CalendarEvent{Summary: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.SameSchedule(tt.b); got != tt.want {
				t.Errorf("SameSchedule() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalendarEvent_AttendeeEmails(t *testing.T) {
	ev := CalendarEvent{Attendees: []Attendee{
		{Email: "b@x.com"},
		{Email: ""},
		{Email: "a@x.com", Organizer: true},
	}}
	got := ev.AttendeeEmails()
	if len(got) != 2 || got[0] != "b@x.com" || got[1] != "a@x.com" {
		t.Errorf("AttendeeEmails() = %v, want [b@x.com a@x.com]", got)
	}
}

func TestDelegatedGrant_HasScope(t *testing.T) {
	g := DelegatedGrant{Scopes: []string{"openid", "https://www.googleapis.com/auth/calendar"}}
	if !g.HasScope("https://www.googleapis.com/auth/calendar") {
		t.Error("expected calendar scope")
	}
	if g.HasScope("https://www.googleapis.com/auth/drive") {
		t.Error("did not expect drive scope")
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Client@ACME.com "); got != "client@acme.com" {
		t.Errorf("NormalizeEmail() = %q", got)
	}
}
