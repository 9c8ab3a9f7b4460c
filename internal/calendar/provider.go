// Package calendar talks to the calendar provider: push-channel registration,
// channel teardown and incremental event listing.
package calendar

import (
	"context"
	"net/http"
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
)

// WatchRequest describes a push channel to register.
type WatchRequest struct {
	CalendarID string
	ChannelID  string
	Address    string // HTTPS webhook the provider posts to
	Token      string // echoed back in X-Goog-Channel-Token
	TTL        time.Duration
}

// WatchResult is what the provider assigned to a new channel.
type WatchResult struct {
	ChannelID   string
	ResourceID  string
	ResourceURI string
	Expiration  time.Time
}

// ListQuery selects events to fetch. SyncToken wins over UpdatedMin when both are set.
type ListQuery struct {
	CalendarID string
	SyncToken  string
	UpdatedMin time.Time
}

// ListResult is one fully paged listing.
type ListResult struct {
	Events        []model.CalendarEvent
	NextSyncToken string
}

// Provider is a calendar API bound to one user's credential.
type Provider interface {
	Watch(ctx context.Context, req WatchRequest) (*WatchResult, error)
	// Stop tears down a channel. A channel the provider no longer knows is not an error.
	Stop(ctx context.Context, channelID, resourceID string) error
	// List returns model.ErrTokenExpired when the sync token is no longer accepted.
	List(ctx context.Context, q ListQuery) (*ListResult, error)
	// SeedSyncToken pages through the calendar's metadata and returns the sync token
	// marking "now" in its change stream.
	SeedSyncToken(ctx context.Context, calendarID string) (string, error)
}

// ProviderFactory returns a Provider acting as the given user.
type ProviderFactory interface {
	ForUser(ctx context.Context, userID string) (Provider, error)
}

// CredentialSource hands out authenticated HTTP clients per user.
type CredentialSource interface {
	Client(ctx context.Context, userID string) (*http.Client, error)
}
