// Package pipeline turns a meeting transcript into one assigned task.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/directory"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/extract"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/notify"
)

const systemPrompt = `You are a project manager's assistant. Read the meeting transcript and list the concrete action items the team committed to.
Respond with a JSON object of the form {"tasks":[{"description":"...","priority":"high|medium|low"}]}.
Each description is one self-contained sentence naming what has to be done. Return {"tasks":[]} when there are none.`

// Result reports one processed meeting.
type Result struct {
	TaskID         string   `json:"taskId"`
	AssignedUsers  []string `json:"assignedUsers"`
	NotifyFailures int      `json:"notifyFailures"`
}

// Pipeline extracts action items from meetings.
type Pipeline struct {
	dir         directory.Directory
	extractor   extract.Extractor
	messenger   notify.Messenger
	logger      *slog.Logger
	notifyLimit int
	timeout     time.Duration
}

// New creates a Pipeline. timeout bounds the extraction call.
func New(dir directory.Directory, extractor extract.Extractor, messenger notify.Messenger, logger *slog.Logger, notifyLimit int, timeout time.Duration) *Pipeline {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Pipeline{
		dir:         dir,
		extractor:   extractor,
		messenger:   messenger,
		logger:      logger,
		notifyLimit: notifyLimit,
		timeout:     timeout,
	}
}

// ProcessMeetingToTasks creates one task holding every action item of the meeting,
// assigns it to the project's staff and notifies them. Nothing is created when the
// meeting has no transcript or extraction yields no items. Notification failures
// are counted, never rolled back. A meeting that already has a task returns nil, nil.
func (p *Pipeline) ProcessMeetingToTasks(ctx context.Context, meetingID string) (*Result, error) {
	logger := p.logger.With("meeting_id", meetingID)

	meeting, err := p.dir.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("load meeting: %w", err)
	}

	existing, err := p.dir.GetTaskByMeeting(ctx, meetingID)
	switch {
	case err == nil:
		logger.InfoContext(ctx, "meeting already has a task", "task_id", existing.ID)
		return nil, nil
	case !errors.Is(err, model.ErrNotFound):
		return nil, fmt.Errorf("load meeting task: %w", err)
	}
	if len(meeting.Sentences) == 0 {
		return nil, fmt.Errorf("meeting %s: %w", meetingID, model.ErrNoContent)
	}

	items, err := p.extract(ctx, meeting)
	if err != nil {
		return nil, err
	}

	var staffed []model.User
	if meeting.ProjectID != "" {
		if staffed, err = p.dir.StaffedUsers(ctx, meeting.ProjectID); err != nil {
			return nil, fmt.Errorf("load staffed users: %w", err)
		}
	}
	userIDs := make([]string, 0, len(staffed))
	for _, u := range staffed {
		userIDs = append(userIDs, u.ID)
	}

	task := &model.Task{
		MeetingID: meeting.ID,
		ProjectID: meeting.ProjectID,
		Title:     "Action items: " + meeting.Title,
		Body:      TaskBody(items),
		Status:    model.TaskTodo,
	}
	assigned, err := p.dir.CreateTaskWithAssignees(ctx, task, userIDs)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if skipped := len(userIDs) - len(assigned); skipped > 0 {
		logger.WarnContext(ctx, "some assignments failed", "task_id", task.ID, "skipped", skipped)
	}

	isAssigned := make(map[string]bool, len(assigned))
	for _, id := range assigned {
		isAssigned[id] = true
	}
	var recipients []model.User
	for _, u := range staffed {
		if isAssigned[u.ID] {
			recipients = append(recipients, u)
		}
	}
	out := notify.NotifyUsers(ctx, p.messenger, p.logger, p.notifyLimit, recipients, TaskMessage(meeting.Title, task))

	logger.InfoContext(ctx, "created task from meeting",
		"task_id", task.ID, "items", len(items), "assigned", len(assigned), "notify_failures", out.Failed)
	return &Result{TaskID: task.ID, AssignedUsers: assigned, NotifyFailures: out.Failed}, nil
}

func (p *Pipeline) extract(ctx context.Context, meeting *model.Meeting) ([]model.ExtractedTask, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	user := fmt.Sprintf("Meeting: %s\n\nTranscript:\n%s", meeting.Title, FormatTranscript(meeting.Sentences))
	raw, err := p.extractor.ExtractJSON(ctx, systemPrompt, user)
	if err != nil {
		// A failed call is also a provider failure, so redelivery retries it.
		return nil, fmt.Errorf("extract tasks: %w", errors.Join(model.ErrExtraction, model.ErrProvider, err))
	}
	return ParseExtraction(raw)
}

// FormatTranscript renders one "speaker (m:ss-m:ss): text" line per sentence.
func FormatTranscript(sentences []model.Sentence) string {
	var b strings.Builder
	for _, s := range sentences {
		fmt.Fprintf(&b, "%s (%s-%s): %s\n", s.Speaker, clock(s.StartSec), clock(s.EndSec), strings.TrimSpace(s.Text))
	}
	return strings.TrimRight(b.String(), "\n")
}

func clock(sec float64) string {
	total := int(sec)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

type extraction struct {
	Tasks []model.ExtractedTask `json:"tasks"`
}

// ParseExtraction decodes the model answer. Malformed JSON or no usable task is
// model.ErrExtraction.
func ParseExtraction(raw []byte) ([]model.ExtractedTask, error) {
	var out extraction
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", errors.Join(model.ErrExtraction, err))
	}
	var tasks []model.ExtractedTask
	for _, t := range out.Tasks {
		t.Description = strings.TrimSpace(t.Description)
		if t.Description != "" {
			tasks = append(tasks, t)
		}
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks in extraction: %w", model.ErrExtraction)
	}
	return tasks, nil
}

// TaskBody joins the item descriptions with blank lines.
func TaskBody(items []model.ExtractedTask) string {
	descs := make([]string, len(items))
	for i, it := range items {
		descs[i] = it.Description
	}
	return strings.Join(descs, "\n\n")
}

// TaskMessage is the markdown sent to assignees.
func TaskMessage(meetingTitle string, t *model.Task) string {
	return fmt.Sprintf("You were assigned **%s** from the meeting _%s_.\n\n%s", t.Title, meetingTitle, t.Body)
}
