// Package reminder schedules delayed keyword reminders for calendar events and
// delivers them when the queue calls back.
package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/directory"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/notify"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/queue"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/store"
)

// DefaultLead is how long before the start a reminder fires.
const DefaultLead = 24 * time.Hour

// ProjectResolver finds the client project of an event.
type ProjectResolver interface {
	Resolve(ctx context.Context, ev model.CalendarEvent) (string, bool, error)
}

// Scheduler arms, cancels and fires reminder jobs.
type Scheduler struct {
	channels    store.ChannelStore
	events      store.EventStore
	dir         directory.Directory
	queue       queue.Queue
	resolver    ProjectResolver
	messenger   notify.Messenger
	logger      *slog.Logger
	lead        time.Duration
	notifyLimit int
	now         func() time.Time
}

// Deps groups the collaborators of a Scheduler.
type Deps struct {
	Channels    store.ChannelStore
	Events      store.EventStore
	Directory   directory.Directory
	Queue       queue.Queue
	Resolver    ProjectResolver
	Messenger   notify.Messenger
	Logger      *slog.Logger
	Lead        time.Duration
	NotifyLimit int
}

// New creates a Scheduler. A zero lead means DefaultLead.
func New(d Deps) *Scheduler {
	lead := d.Lead
	if lead <= 0 {
		lead = DefaultLead
	}
	return &Scheduler{
		channels:    d.Channels,
		events:      d.Events,
		dir:         d.Directory,
		queue:       d.Queue,
		resolver:    d.Resolver,
		messenger:   d.Messenger,
		logger:      d.Logger,
		lead:        lead,
		notifyLimit: d.NotifyLimit,
		now:         time.Now,
	}
}

// MatchesKeyword reports whether title contains any keyword, ignoring case.
func MatchesKeyword(title string, keywords []string) bool {
	lower := strings.ToLower(title)
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// FireTime returns when the reminder for a start time is due.
func (s *Scheduler) FireTime(start time.Time) time.Time {
	return start.Add(-s.lead).UTC()
}

// MaybeSchedule publishes a reminder for ev when its owner tracks a keyword in its
// title. It returns nil, nil when no reminder applies. Callers cancel any live job
// first; MaybeSchedule never looks at the existing one.
func (s *Scheduler) MaybeSchedule(ctx context.Context, ev model.CalendarEvent, resourceID string) (*model.ReminderJob, error) {
	if ev.Start == nil {
		s.logger.DebugContext(ctx, "reminder skipped", "event_id", ev.EventID, "reason", "no start time")
		return nil, nil
	}

	ch, err := s.channels.GetChannelByResource(ctx, resourceID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("resource %s: %w", resourceID, model.ErrUnknownChannel)
	}
	if err != nil {
		return nil, fmt.Errorf("load channel by resource: %w", err)
	}

	user, err := s.dir.GetUser(ctx, ch.UserID)
	if err != nil {
		return nil, fmt.Errorf("load owner %s: %w", ch.UserID, err)
	}
	if !MatchesKeyword(ev.Summary, user.TrackingKeywords) {
		s.logger.DebugContext(ctx, "reminder skipped", "event_id", ev.EventID, "user_id", user.ID, "reason", "no keyword match")
		return nil, nil
	}

	fireAt := s.FireTime(*ev.Start)
	payload := model.ReminderPayload{EventID: ev.EventID, ReminderTime: fireAt}
	body, err := json.Marshal(model.QueueMessage{Kind: model.KindReminderFire, Reminder: &payload})
	if err != nil {
		return nil, fmt.Errorf("marshal reminder: %w", err)
	}

	notBefore := fireAt
	if now := s.now(); notBefore.Before(now) {
		notBefore = now
	}
	jobID, err := s.queue.Publish(ctx, body, notBefore)
	if err != nil {
		return nil, fmt.Errorf("publish reminder: %w", err)
	}

	if err := s.events.SetReminderJob(ctx, ev.EventID, jobID); err != nil {
		if cancelErr := s.queue.Cancel(ctx, jobID); cancelErr != nil {
			s.logger.WarnContext(ctx, "failed to cancel orphaned reminder", "job_id", jobID, "error", cancelErr)
		}
		return nil, fmt.Errorf("record reminder job: %w", err)
	}

	s.logger.InfoContext(ctx, "reminder scheduled", "event_id", ev.EventID, "job_id", jobID, "fire_at", fireAt)
	return &model.ReminderJob{EventID: ev.EventID, FireAt: fireAt, Payload: payload, JobID: jobID}, nil
}

// Cancel deletes a pending job. Unknown or already fired jobs are not an error.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return nil
	}
	if err := s.queue.Cancel(ctx, jobID); err != nil {
		return fmt.Errorf("cancel reminder %s: %w", jobID, err)
	}
	return nil
}

// Fire delivers a reminder. Payloads for missing, cancelled or rescheduled events,
// and redeliveries of a reminder already sent, are dropped. It reports whether a
// notification went out.
func (s *Scheduler) Fire(ctx context.Context, p model.ReminderPayload) (bool, error) {
	logger := s.logger.With("event_id", p.EventID)

	ev, err := s.events.GetEvent(ctx, p.EventID)
	if errors.Is(err, model.ErrNotFound) {
		logger.InfoContext(ctx, "reminder dropped", "reason", "event missing")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load event: %w", err)
	}

	switch {
	case ev.Status == model.StatusCancelled:
		logger.InfoContext(ctx, "reminder dropped", "reason", "event cancelled")
		return false, nil
	case ev.ReminderJobID == "":
		logger.InfoContext(ctx, "reminder dropped", "reason", "no live job")
		return false, nil
	case ev.Start == nil || !s.FireTime(*ev.Start).Equal(p.ReminderTime):
		logger.InfoContext(ctx, "reminder dropped", "reason", "stale reminder time")
		return false, nil
	}

	first, err := s.events.MarkReminderSent(ctx, ev.EventID, p.ReminderTime)
	if err != nil {
		return false, fmt.Errorf("record reminder: %w", err)
	}
	if !first {
		logger.InfoContext(ctx, "reminder dropped", "reason", "already sent")
		return false, nil
	}

	users, err := s.recipients(ctx, *ev)
	if err != nil {
		return false, err
	}
	out := notify.NotifyUsers(ctx, s.messenger, s.logger, s.notifyLimit, users, Message(*ev, s.lead))
	logger.InfoContext(ctx, "reminder fired", "notified", len(out.Notified), "skipped", len(out.Skipped), "failed", out.Failed)
	return true, nil
}

// recipients is the event owner followed by the project's staffed users.
func (s *Scheduler) recipients(ctx context.Context, ev model.CalendarEvent) ([]model.User, error) {
	seen := make(map[string]bool)
	var users []model.User
	add := func(u model.User) {
		if !seen[u.ID] {
			seen[u.ID] = true
			users = append(users, u)
		}
	}

	if ev.UserID != "" {
		owner, err := s.dir.GetUser(ctx, ev.UserID)
		switch {
		case err == nil:
			add(*owner)
		case !errors.Is(err, model.ErrNotFound):
			return nil, fmt.Errorf("load owner: %w", err)
		}
	}

	projectID, ok, err := s.resolver.Resolve(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("resolve project: %w", err)
	}
	if ok {
		staffed, err := s.dir.StaffedUsers(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("load staffed users: %w", err)
		}
		for _, u := range staffed {
			add(u)
		}
	}
	return users, nil
}

// Message is the markdown body of a reminder.
func Message(ev model.CalendarEvent, lead time.Duration) string {
	title := ev.Summary
	if title == "" {
		title = "(untitled)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Reminder: **%s** starts in %s", title, humanLead(lead))
	if ev.Start != nil {
		fmt.Fprintf(&b, " (%s)", ev.Start.UTC().Format(time.RFC1123))
	}
	if emails := ev.AttendeeEmails(); len(emails) > 0 {
		b.WriteString("\n\nAttendees:\n")
		for _, e := range emails {
			b.WriteString("- " + e + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func humanLead(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return d.String()
}
