// Package dispatch routes every inbound trigger (provider push, queue delivery,
// transcript webhook, cron) to the component that handles it.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/ingest"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/pipeline"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/watch"
)

// Ingester applies calendar changes for a channel.
type Ingester interface {
	Ingest(ctx context.Context, channelID string) (ingest.Result, error)
}

// ReminderFirer delivers a due reminder.
type ReminderFirer interface {
	Fire(ctx context.Context, p model.ReminderPayload) (bool, error)
}

// TranscriptImporter stores a transcript as a meeting.
type TranscriptImporter interface {
	Import(ctx context.Context, externalID string) (*model.Meeting, bool, error)
}

// MeetingProcessor turns a meeting into a task.
type MeetingProcessor interface {
	ProcessMeetingToTasks(ctx context.Context, meetingID string) (*pipeline.Result, error)
}

// Renewer renews expiring watch channels.
type Renewer interface {
	RenewExpiring(ctx context.Context, window, threshold time.Duration) (watch.SweepSummary, error)
}

// Deps groups the Dispatcher's collaborators.
type Deps struct {
	Ingester       Ingester
	Reminders      ReminderFirer
	Importer       TranscriptImporter
	Pipeline       MeetingProcessor
	Watches        Renewer
	Logger         *slog.Logger
	ChannelSecret  string
	RenewWindow    time.Duration
	RenewThreshold time.Duration
}

// Dispatcher is the single entry point for triggers, independent of transport.
type Dispatcher struct {
	d Deps
}

// New creates a Dispatcher.
func New(d Deps) *Dispatcher {
	return &Dispatcher{d: d}
}

// CalendarPush is one provider push notification.
type CalendarPush struct {
	ChannelID     string
	ResourceID    string
	ResourceState string
	Token         string
}

// PushOutcome tells the caller what a push did. Pushes are always acknowledged.
type PushOutcome struct {
	Status string        `json:"status"` // "sync", "ingested", "ignored"
	Result ingest.Result `json:"result"`
}

// OnCalendarPush ingests the pushed channel. The initial "sync" handshake and
// pushes for channels we no longer track are acknowledged without work.
func (x *Dispatcher) OnCalendarPush(ctx context.Context, push CalendarPush) (PushOutcome, error) {
	logger := x.d.Logger.With("channel_id", push.ChannelID)

	if push.ResourceState == "sync" {
		logger.InfoContext(ctx, "watch channel handshake")
		return PushOutcome{Status: "sync"}, nil
	}
	if !watch.VerifyChannelToken(x.d.ChannelSecret, push.ChannelID, push.Token) {
		return PushOutcome{}, fmt.Errorf("channel token: %w", model.ErrUnauthorized)
	}

	res, err := x.d.Ingester.Ingest(ctx, push.ChannelID)
	if errors.Is(err, model.ErrUnknownChannel) {
		logger.WarnContext(ctx, "push for unknown channel", "resource_id", push.ResourceID)
		return PushOutcome{Status: "ignored"}, nil
	}
	if err != nil {
		return PushOutcome{}, err
	}
	return PushOutcome{Status: "ingested", Result: res}, nil
}

// OnReminderFire delivers a reminder and reports whether it was sent.
func (x *Dispatcher) OnReminderFire(ctx context.Context, p model.ReminderPayload) (bool, error) {
	if p.EventID == "" {
		return false, fmt.Errorf("reminder without event id: %w", model.ErrParse)
	}
	return x.d.Reminders.Fire(ctx, p)
}

// OnTranscriptReady imports a finished transcript and runs the meeting pipeline.
// A redelivery of an imported transcript runs the pipeline again, which creates
// the task only if an earlier attempt failed before creating it. Other event
// types return nil, nil.
func (x *Dispatcher) OnTranscriptReady(ctx context.Context, n model.TranscriptNotification) (*pipeline.Result, error) {
	logger := x.d.Logger.With("external_id", n.MeetingID)
	if n.MeetingID == "" {
		return nil, fmt.Errorf("transcript notification without meeting id: %w", model.ErrParse)
	}
	if n.EventType != "" && n.EventType != model.TranscriptCompleted {
		logger.InfoContext(ctx, "ignoring transcript event", "event_type", n.EventType)
		return nil, nil
	}

	meeting, created, err := x.d.Importer.Import(ctx, n.MeetingID)
	if err != nil {
		return nil, fmt.Errorf("import transcript: %w", err)
	}
	if !created {
		logger.InfoContext(ctx, "transcript already imported", "meeting_id", meeting.ID)
	}
	return x.d.Pipeline.ProcessMeetingToTasks(ctx, meeting.ID)
}

// OnRenewalSweep renews channels that expire within the configured window.
func (x *Dispatcher) OnRenewalSweep(ctx context.Context) (watch.SweepSummary, error) {
	return x.d.Watches.RenewExpiring(ctx, x.d.RenewWindow, x.d.RenewThreshold)
}

// HandleMessage dispatches one queue delivery. Errors are returned so the queue
// can retry; payloads that can never succeed are logged and dropped.
func (x *Dispatcher) HandleMessage(ctx context.Context, raw []byte) error {
	var msg model.QueueMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		x.d.Logger.ErrorContext(ctx, "dropping undecodable message", "error", err)
		return nil
	}

	var err error
	switch msg.Kind {
	case model.KindReminderFire:
		if msg.Reminder == nil {
			err = fmt.Errorf("reminder message without payload: %w", model.ErrParse)
			break
		}
		_, err = x.OnReminderFire(ctx, *msg.Reminder)
	case model.KindRenewalSweep:
		_, err = x.OnRenewalSweep(ctx)
	case model.KindTranscriptReady:
		if msg.Transcript == nil {
			err = fmt.Errorf("transcript message without payload: %w", model.ErrParse)
			break
		}
		_, err = x.OnTranscriptReady(ctx, *msg.Transcript)
	default:
		err = fmt.Errorf("unknown message kind %q: %w", msg.Kind, model.ErrParse)
	}

	if permanent(err) {
		x.d.Logger.ErrorContext(ctx, "dropping message", "kind", msg.Kind, "error", err)
		return nil
	}
	return err
}

// permanent reports errors a redelivery cannot fix. Provider failures are always
// transient, even when they also carry a permanent kind.
func permanent(err error) bool {
	if errors.Is(err, model.ErrProvider) {
		return false
	}
	return errors.Is(err, model.ErrParse) ||
		errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrNoContent) ||
		errors.Is(err, model.ErrExtraction)
}
