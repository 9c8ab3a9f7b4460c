// Package ingest applies calendar deltas to the local event projection.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/calendar"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/store"
)

// ColdStartWindow bounds the listing used when a channel has no usable sync token.
const ColdStartWindow = 5 * time.Minute

// Reminders arms and cancels reminder jobs.
type Reminders interface {
	MaybeSchedule(ctx context.Context, ev model.CalendarEvent, resourceID string) (*model.ReminderJob, error)
	Cancel(ctx context.Context, jobID string) error
}

// ProjectNotifier announces confirmed client meetings.
type ProjectNotifier interface {
	ResolveAndNotify(ctx context.Context, ev model.CalendarEvent) (string, bool, error)
}

// Result reports one ingestion.
type Result struct {
	Processed     int    `json:"processed"`
	NextSyncToken string `json:"next_sync_token,omitempty"`
	FullResync    bool   `json:"full_resync,omitempty"`
}

// Engine fetches changes for a channel and persists them.
type Engine struct {
	channels  store.ChannelStore
	events    store.EventStore
	providers calendar.ProviderFactory
	reminders Reminders
	projects  ProjectNotifier
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time
}

// NewEngine creates an Engine. timeout bounds each provider call.
func NewEngine(channels store.ChannelStore, events store.EventStore, providers calendar.ProviderFactory,
	reminders Reminders, projects ProjectNotifier, logger *slog.Logger, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Engine{
		channels:  channels,
		events:    events,
		providers: providers,
		reminders: reminders,
		projects:  projects,
		logger:    logger,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Ingest fetches every change since the channel's sync token and applies it. The
// token advances only after every event of the batch is stored.
func (e *Engine) Ingest(ctx context.Context, channelID string) (Result, error) {
	ch, err := e.channels.GetChannel(ctx, channelID)
	if errors.Is(err, model.ErrNotFound) {
		return Result{}, fmt.Errorf("channel %s: %w", channelID, model.ErrUnknownChannel)
	}
	if err != nil {
		return Result{}, fmt.Errorf("load channel: %w", err)
	}
	logger := e.logger.With("channel_id", ch.ChannelID, "user_id", ch.UserID)

	prov, err := e.providers.ForUser(ctx, ch.UserID)
	if err != nil {
		return Result{}, err
	}

	prevToken := ch.SyncToken
	listing, full, err := e.fetch(ctx, prov, ch)
	if err != nil {
		return Result{}, err
	}
	if full {
		prevToken = ""
		logger.WarnContext(ctx, "sync token expired, resynced recent window")
	}

	for _, ev := range listing.Events {
		if err := e.apply(ctx, *ch, ev); err != nil {
			return Result{}, fmt.Errorf("event %s: %w", ev.EventID, err)
		}
	}

	res := Result{Processed: len(listing.Events), NextSyncToken: listing.NextSyncToken, FullResync: full}
	if listing.NextSyncToken != "" && listing.NextSyncToken != prevToken {
		err := e.channels.UpdateSyncToken(ctx, ch.ChannelID, prevToken, listing.NextSyncToken)
		switch {
		case errors.Is(err, store.ErrStaleToken):
			// A concurrent delivery already moved the channel forward.
			logger.InfoContext(ctx, "sync token advanced concurrently")
		case err != nil:
			return Result{}, fmt.Errorf("store sync token: %w", err)
		}
	}

	logger.InfoContext(ctx, "ingested changes", "processed", res.Processed, "full_resync", full)
	return res, nil
}

// fetch lists changes by sync token, falling back to the cold-start window when
// there is no token or the provider rejected it. The bool reports the fallback
// after a rejected token.
func (e *Engine) fetch(ctx context.Context, prov calendar.Provider, ch *model.WatchChannel) (*calendar.ListResult, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if ch.SyncToken != "" {
		listing, err := prov.List(ctx, calendar.ListQuery{CalendarID: ch.CalendarID, SyncToken: ch.SyncToken})
		if err == nil {
			return listing, false, nil
		}
		if !errors.Is(err, model.ErrTokenExpired) {
			return nil, false, err
		}
		if err := e.channels.UpdateSyncToken(ctx, ch.ChannelID, ch.SyncToken, ""); err != nil && !errors.Is(err, store.ErrStaleToken) {
			return nil, false, fmt.Errorf("clear sync token: %w", err)
		}
		listing, err = e.window(ctx, prov, ch.CalendarID)
		return listing, true, err
	}

	listing, err := e.window(ctx, prov, ch.CalendarID)
	return listing, false, err
}

func (e *Engine) window(ctx context.Context, prov calendar.Provider, calendarID string) (*calendar.ListResult, error) {
	listing, err := prov.List(ctx, calendar.ListQuery{
		CalendarID: calendarID,
		UpdatedMin: e.now().Add(-ColdStartWindow),
	})
	if err != nil {
		return nil, err
	}
	if listing.NextSyncToken == "" {
		if listing.NextSyncToken, err = prov.SeedSyncToken(ctx, calendarID); err != nil {
			return nil, fmt.Errorf("seed sync token: %w", err)
		}
	}
	return listing, nil
}

// apply stores one event and keeps its reminder in step with it.
func (e *Engine) apply(ctx context.Context, ch model.WatchChannel, ev model.CalendarEvent) error {
	if ev.Status == model.StatusCancelled {
		prev, err := e.events.MarkCancelled(ctx, ev.EventID, ev.UpdatedAt)
		if err != nil {
			return fmt.Errorf("mark cancelled: %w", err)
		}
		if prev != nil && prev.ReminderJobID != "" {
			return e.disarm(ctx, ev.EventID, prev.ReminderJobID)
		}
		return nil
	}

	ev.ChannelID = ch.ChannelID
	ev.UserID = ch.UserID
	prev, err := e.events.UpsertEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}

	liveJob := ""
	if prev != nil {
		liveJob = prev.ReminderJobID
	}

	if ev.Status != model.StatusConfirmed {
		// Only confirmed events keep a reminder.
		if liveJob != "" {
			return e.disarm(ctx, ev.EventID, liveJob)
		}
		return nil
	}

	changed := prev == nil || prev.Status != model.StatusConfirmed || !prev.SameSchedule(ev)
	if changed {
		if _, _, err := e.projects.ResolveAndNotify(ctx, ev); err != nil {
			e.logger.WarnContext(ctx, "project notification failed", "event_id", ev.EventID, "error", err)
		}
	}
	if !changed && liveJob != "" {
		return nil
	}

	if liveJob != "" {
		if err := e.disarm(ctx, ev.EventID, liveJob); err != nil {
			return err
		}
	}
	if _, err := e.reminders.MaybeSchedule(ctx, ev, ch.ResourceID); err != nil {
		return fmt.Errorf("schedule reminder: %w", err)
	}
	return nil
}

func (e *Engine) disarm(ctx context.Context, eventID, jobID string) error {
	if err := e.reminders.Cancel(ctx, jobID); err != nil {
		return err
	}
	if err := e.events.SetReminderJob(ctx, eventID, ""); err != nil {
		return fmt.Errorf("clear reminder job: %w", err)
	}
	return nil
}
