package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/directory"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
)

type fakeExtractor struct {
	answer string
	err    error
	user   string
}

func (f *fakeExtractor) ExtractJSON(_ context.Context, _, user string) ([]byte, error) {
	f.user = user
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.answer), nil
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []string
	fail map[string]bool
}

func (f *fakeMessenger) Send(_ context.Context, slackUserID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[slackUserID] {
		return errors.New("user_not_found")
	}
	f.sent = append(f.sent, slackUserID)
	return nil
}

func seed() *directory.MemoryDirectory {
	dir := directory.NewMemoryDirectory()
	dir.AddUser(model.User{ID: "u1", SlackUserID: "U1"})
	dir.AddUser(model.User{ID: "u2", SlackUserID: "U2"})
	dir.AddUser(model.User{ID: "u3"})
	dir.AddProject(model.Project{ID: "42", UserIDs: []string{"u1", "u2", "u3"}})
	dir.AddMeeting(model.Meeting{
		ID:        "m1",
		Title:     "Acme weekly",
		ProjectID: "42",
		Sentences: []model.Sentence{
			{Index: 1, Speaker: "Bo", StartSec: 65, EndSec: 70.4, Text: "I'll send the deck."},
			{Index: 0, Speaker: "Ana", StartSec: 0, EndSec: 4.2, Text: "Let's start."},
		},
	})
	dir.AddMeeting(model.Meeting{ID: "empty", Title: "Silent"})
	return dir
}

func newPipeline(dir directory.Directory, ex *fakeExtractor, m *fakeMessenger) *Pipeline {
	return New(dir, ex, m, slog.New(slog.NewTextHandler(io.Discard, nil)), 2, 0)
}

func TestProcessMeetingToTasks(t *testing.T) {
	dir := seed()
	dir.FailAssign["u2"] = true
	ex := &fakeExtractor{answer: `{"tasks":[{"description":"Send the deck","priority":"high"},{"description":"Book the room","priority":"low"}]}`}
	m := &fakeMessenger{}

	res, err := newPipeline(dir, ex, m).ProcessMeetingToTasks(context.Background(), "m1")
	if err != nil {
		t.Fatalf("ProcessMeetingToTasks failed: %v", err)
	}

	tasks := dir.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks))
	}
	task := tasks[0]
	if task.ID != res.TaskID || task.Title != "Action items: Acme weekly" || task.Status != model.TaskTodo {
		t.Errorf("task = %+v", task)
	}
	if task.Body != "Send the deck\n\nBook the room" {
		t.Errorf("Body = %q", task.Body)
	}
	if len(res.AssignedUsers) != 2 || res.AssignedUsers[0] != "u1" || res.AssignedUsers[1] != "u3" {
		t.Errorf("AssignedUsers = %v", res.AssignedUsers)
	}
	if len(m.sent) != 1 || m.sent[0] != "U1" {
		t.Errorf("sent = %v", m.sent)
	}
	if want := "Ana (0:00-0:04): Let's start.\nBo (1:05-1:10): I'll send the deck."; !strings.Contains(ex.user, want) {
		t.Errorf("prompt missing ordered transcript:\n%s", ex.user)
	}
}

func TestProcessMeetingToTasks_NotifyFailureKeepsTask(t *testing.T) {
	dir := seed()
	ex := &fakeExtractor{answer: `{"tasks":[{"description":"Send the deck"}]}`}
	m := &fakeMessenger{fail: map[string]bool{"U2": true}}

	res, err := newPipeline(dir, ex, m).ProcessMeetingToTasks(context.Background(), "m1")
	if err != nil {
		t.Fatalf("ProcessMeetingToTasks failed: %v", err)
	}
	if res.NotifyFailures != 1 || len(dir.Tasks()) != 1 {
		t.Errorf("result = %+v tasks = %d", res, len(dir.Tasks()))
	}
}

func TestProcessMeetingToTasks_AllOrNothing(t *testing.T) {
	tests := []struct {
		name      string
		meetingID string
		extractor *fakeExtractor
		wantErr   error
	}{
		{"missing meeting", "nope", &fakeExtractor{}, model.ErrNotFound},
		{"no sentences", "empty", &fakeExtractor{answer: `{"tasks":[{"description":"x"}]}`}, model.ErrNoContent},
		{"empty tasks", "m1", &fakeExtractor{answer: `{"tasks":[]}`}, model.ErrExtraction},
		{"blank descriptions", "m1", &fakeExtractor{answer: `{"tasks":[{"description":"  "}]}`}, model.ErrExtraction},
		{"not json", "m1", &fakeExtractor{answer: `Sure! Here are the tasks`}, model.ErrExtraction},
		{"call failed", "m1", &fakeExtractor{err: errors.New("timeout")}, model.ErrExtraction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := seed()
			_, err := newPipeline(dir, tt.extractor, &fakeMessenger{}).ProcessMeetingToTasks(context.Background(), tt.meetingID)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if n := len(dir.Tasks()); n != 0 {
				t.Errorf("created %d tasks", n)
			}
		})
	}
}

func TestProcessMeetingToTasks_CallFailureIsTransient(t *testing.T) {
	dir := seed()
	ex := &fakeExtractor{err: context.DeadlineExceeded}
	p := newPipeline(dir, ex, &fakeMessenger{})

	_, err := p.ProcessMeetingToTasks(context.Background(), "m1")
	if !errors.Is(err, model.ErrProvider) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected provider error wrapping the timeout, got %v", err)
	}

	ex.err = nil
	ex.answer = `{"tasks":[{"description":"Send the deck"}]}`
	res, err := p.ProcessMeetingToTasks(context.Background(), "m1")
	if err != nil || res == nil {
		t.Fatalf("retry = %+v, %v", res, err)
	}
	if n := len(dir.Tasks()); n != 1 {
		t.Errorf("expected 1 task after retry, got %d", n)
	}
}

func TestProcessMeetingToTasks_SkipsMeetingWithTask(t *testing.T) {
	dir := seed()
	m := &fakeMessenger{}
	p := newPipeline(dir, &fakeExtractor{answer: `{"tasks":[{"description":"Send the deck"}]}`}, m)
	ctx := context.Background()

	if _, err := p.ProcessMeetingToTasks(ctx, "m1"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	sent := len(m.sent)

	res, err := p.ProcessMeetingToTasks(ctx, "m1")
	if res != nil || err != nil {
		t.Fatalf("second run = %+v, %v", res, err)
	}
	if n := len(dir.Tasks()); n != 1 {
		t.Errorf("expected 1 task, got %d", n)
	}
	if len(m.sent) != sent {
		t.Errorf("second run notified again")
	}
}

func TestFormatTranscript(t *testing.T) {
	got := FormatTranscript([]model.Sentence{
		{Speaker: "Ana", StartSec: 0, EndSec: 9.9, Text: " hi "},
		{Speaker: "Bo", StartSec: 600, EndSec: 3725, Text: "long one"},
	})
	want := "Ana (0:00-0:09): hi\nBo (10:00-62:05): long one"
	if got != want {
		t.Errorf("FormatTranscript =\n%q\nwant\n%q", got, want)
	}
}
