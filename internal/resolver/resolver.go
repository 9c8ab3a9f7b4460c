// Package resolver maps calendar attendees and meeting participants to the client
// project they belong to.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/directory"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/notify"
)

// Resolver finds the project of an event by its attendees.
type Resolver struct {
	dir         directory.Directory
	messenger   notify.Messenger
	logger      *slog.Logger
	notifyLimit int
}

// New creates a Resolver. notifyLimit bounds concurrent Slack sends.
func New(dir directory.Directory, messenger notify.Messenger, logger *slog.Logger, notifyLimit int) *Resolver {
	return &Resolver{dir: dir, messenger: messenger, logger: logger, notifyLimit: notifyLimit}
}

// Resolve returns the project of the first attendee, in provider order, who is a
// known client contact. No attendees or no match is ok == false, not an error.
func (r *Resolver) Resolve(ctx context.Context, ev model.CalendarEvent) (string, bool, error) {
	return r.ResolveEmails(ctx, ev.AttendeeEmails())
}

// ResolveEmails applies the first-match rule to a list of addresses.
func (r *Resolver) ResolveEmails(ctx context.Context, emails []string) (string, bool, error) {
	for _, email := range emails {
		contact, err := r.dir.FindContactByEmail(ctx, email)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("lookup contact %s: %w", email, err)
		}
		return contact.ProjectID, true, nil
	}
	return "", false, nil
}

// ResolveAndNotify resolves the event's project and, on a match, tells every
// staffed user with a Slack identity about the meeting.
func (r *Resolver) ResolveAndNotify(ctx context.Context, ev model.CalendarEvent) (string, bool, error) {
	projectID, ok, err := r.Resolve(ctx, ev)
	if err != nil || !ok {
		return projectID, ok, err
	}

	project, err := r.dir.GetProject(ctx, projectID)
	if err != nil {
		return projectID, true, fmt.Errorf("load project %s: %w", projectID, err)
	}
	users, err := r.dir.StaffedUsers(ctx, projectID)
	if err != nil {
		return projectID, true, fmt.Errorf("load staffed users: %w", err)
	}

	out := notify.NotifyUsers(ctx, r.messenger, r.logger, r.notifyLimit, users, MeetingMessage(project.Name, ev))
	r.logger.InfoContext(ctx, "project matched",
		"event_id", ev.EventID,
		"project_id", projectID,
		"notified", len(out.Notified),
		"skipped", len(out.Skipped),
		"failed", out.Failed,
	)
	return projectID, true, nil
}

// MeetingMessage is the markdown announcement of a client meeting.
func MeetingMessage(projectName string, ev model.CalendarEvent) string {
	title := ev.Summary
	if title == "" {
		title = "(untitled)"
	}
	msg := fmt.Sprintf("**%s** meeting scheduled: %s", projectName, title)
	if ev.Start != nil {
		if ev.AllDay {
			msg += "\n\nWhen: " + ev.Start.Format("Mon Jan 2")
		} else {
			msg += "\n\nWhen: " + ev.Start.UTC().Format(time.RFC1123)
		}
	}
	return msg
}
