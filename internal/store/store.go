// Package store persists watch channels (with their sync tokens) and the local
// projection of provider calendar events.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
)

// ErrStaleToken is returned by UpdateSyncToken when the stored token is no longer
// the one the caller read. Another delivery already advanced the channel.
var ErrStaleToken = errors.New("sync token changed concurrently")

// ChannelStore persists WatchChannel records keyed by channel id.
type ChannelStore interface {
	GetChannel(ctx context.Context, channelID string) (*model.WatchChannel, error)
	GetChannelByResource(ctx context.Context, resourceID string) (*model.WatchChannel, error)
	ListChannelsByUser(ctx context.Context, userID string) ([]model.WatchChannel, error)
	// ListExpiringChannels returns channels whose expiration is before the given time.
	ListExpiringChannels(ctx context.Context, before time.Time) ([]model.WatchChannel, error)
	PutChannel(ctx context.Context, ch model.WatchChannel) error
	DeleteChannel(ctx context.Context, channelID string) error
	// UpdateSyncToken replaces prev with next. An empty prev means "no token stored";
	// an empty next clears the token.
	UpdateSyncToken(ctx context.Context, channelID, prev, next string) error
}

// EventStore persists CalendarEvent projections keyed by provider event id.
type EventStore interface {
	GetEvent(ctx context.Context, eventID string) (*model.CalendarEvent, error)
	// UpsertEvent writes the projection fields of ev and returns the record as it was
	// before the write, or nil when the event was inserted. Reminder fields are kept.
	UpsertEvent(ctx context.Context, ev model.CalendarEvent) (*model.CalendarEvent, error)
	// MarkCancelled flips the status in place and returns the previous record.
	MarkCancelled(ctx context.Context, eventID string, updatedAt time.Time) (*model.CalendarEvent, error)
	// SetReminderJob records the live reminder job id. An empty id clears it.
	SetReminderJob(ctx context.Context, eventID, jobID string) error
	// MarkReminderSent records that the reminder for reminderTime went out. It returns
	// false when that reminder was already recorded.
	MarkReminderSent(ctx context.Context, eventID string, reminderTime time.Time) (bool, error)
}
