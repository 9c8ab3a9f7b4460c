package resolver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/directory"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
)

type fakeMessenger struct {
	mu   sync.Mutex
	sent map[string]string
	fail map[string]bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{sent: make(map[string]string), fail: make(map[string]bool)}
}

func (f *fakeMessenger) Send(_ context.Context, slackUserID, markdown string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[slackUserID] {
		return errors.New("channel_not_found")
	}
	f.sent[slackUserID] = markdown
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedDirectory() *directory.MemoryDirectory {
	dir := directory.NewMemoryDirectory()
	dir.AddUser(model.User{ID: "u1", Email: "ana@turbo.dev", SlackUserID: "U1"})
	dir.AddUser(model.User{ID: "u2", Email: "bo@turbo.dev"})
	dir.AddUser(model.User{ID: "u3", Email: "cy@turbo.dev", SlackUserID: "U3"})
	dir.AddProject(model.Project{ID: "42", Name: "Acme", UserIDs: []string{"u1", "u2", "u3"}})
	dir.AddProject(model.Project{ID: "7", Name: "Globex"})
	dir.AddContact(model.ClientContact{Email: "client@acme.com", ProjectID: "42"})
	dir.AddContact(model.ClientContact{Email: "hank@globex.com", ProjectID: "7"})
	return dir
}

func eventWith(emails ...string) model.CalendarEvent {
	ev := model.CalendarEvent{EventID: "ev1", Summary: "Kickoff", Status: model.StatusConfirmed}
	for _, e := range emails {
		ev.Attendees = append(ev.Attendees, model.Attendee{Email: e})
	}
	return ev
}

func TestResolve(t *testing.T) {
	r := New(seedDirectory(), newFakeMessenger(), testLogger(), 4)

	tests := []struct {
		name   string
		emails []string
		want   string
		wantOK bool
	}{
		{"known contact", []string{"client@acme.com"}, "42", true},
		{"unknown contact", []string{"unknown@x.com"}, "", false},
		{"no attendees", nil, "", false},
		{"case insensitive", []string{"Client@ACME.com"}, "42", true},
		{"first match wins", []string{"me@turbo.dev", "hank@globex.com", "client@acme.com"}, "7", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := r.Resolve(context.Background(), eventWith(tt.emails...))
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Resolve = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestResolveAndNotify(t *testing.T) {
	m := newFakeMessenger()
	m.fail["U3"] = true
	r := New(seedDirectory(), m, testLogger(), 2)

	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	ev := eventWith("client@acme.com")
	ev.Start = &start

	projectID, ok, err := r.ResolveAndNotify(context.Background(), ev)
	if err != nil || !ok || projectID != "42" {
		t.Fatalf("ResolveAndNotify = %q, %v, %v", projectID, ok, err)
	}
	if len(m.sent) != 1 {
		t.Fatalf("expected one delivered message, got %v", m.sent)
	}
	if !strings.Contains(m.sent["U1"], "Acme") || !strings.Contains(m.sent["U1"], "Kickoff") {
		t.Errorf("message = %q", m.sent["U1"])
	}
}

func TestResolveAndNotify_NoMatchSendsNothing(t *testing.T) {
	m := newFakeMessenger()
	r := New(seedDirectory(), m, testLogger(), 2)

	_, ok, err := r.ResolveAndNotify(context.Background(), eventWith("unknown@x.com"))
	if err != nil || ok {
		t.Fatalf("ResolveAndNotify = %v, %v", ok, err)
	}
	if len(m.sent) != 0 {
		t.Errorf("sent = %v", m.sent)
	}
}
