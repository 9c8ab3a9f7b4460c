package calendar

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
)

type change struct {
	version int
	event   model.CalendarEvent
}

// MemoryCalendar implements Provider in memory. Sync tokens are "v<version>" cursors
// into its change log. Used in DEV_MODE and tests.
type MemoryCalendar struct {
	mu         sync.Mutex
	version    int
	tokenFloor int
	changes    []change
	channels   map[string]WatchResult
	stopped    []string

	// WatchErr and ListErr, when set, are returned by the next calls.
	WatchErr error
	ListErr  error

	// NoExpiration makes Watch report a channel without an expiration.
	NoExpiration bool
}

// NewMemoryCalendar creates an empty MemoryCalendar.
func NewMemoryCalendar() *MemoryCalendar {
	return &MemoryCalendar{channels: make(map[string]WatchResult)}
}

// PutEvent records a change to an event.
func (m *MemoryCalendar) PutEvent(ev model.CalendarEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.UpdatedAt.IsZero() {
		ev.UpdatedAt = time.Now().UTC()
	}
	m.version++
	m.changes = append(m.changes, change{version: m.version, event: ev})
}

// ExpireTokens invalidates every sync token issued so far.
func (m *MemoryCalendar) ExpireTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenFloor = m.version + 1
}

// Channels returns the live channel ids.
func (m *MemoryCalendar) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	return ids
}

// Stopped returns the channel ids passed to Stop, in order.
func (m *MemoryCalendar) Stopped() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stopped...)
}

func (m *MemoryCalendar) Watch(_ context.Context, req WatchRequest) (*WatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WatchErr != nil {
		return nil, m.WatchErr
	}
	res := WatchResult{
		ChannelID:   req.ChannelID,
		ResourceID:  "res-" + req.CalendarID,
		ResourceURI: "memory://calendars/" + req.CalendarID + "/events",
		Expiration:  time.Now().Add(req.TTL).Truncate(time.Second),
	}
	if m.NoExpiration {
		res.Expiration = time.Time{}
	}
	m.channels[req.ChannelID] = res
	return &res, nil
}

func (m *MemoryCalendar) Stop(_ context.Context, channelID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, channelID)
	delete(m.channels, channelID)
	return nil
}

func parseToken(token string) (int, error) {
	v, err := strconv.Atoi(strings.TrimPrefix(token, "v"))
	if err != nil || !strings.HasPrefix(token, "v") {
		return 0, fmt.Errorf("malformed sync token %q: %w", token, model.ErrTokenExpired)
	}
	return v, nil
}

func (m *MemoryCalendar) List(_ context.Context, q ListQuery) (*ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	since := -1
	if q.SyncToken != "" {
		v, err := parseToken(q.SyncToken)
		if err != nil {
			return nil, err
		}
		if v < m.tokenFloor {
			return nil, fmt.Errorf("sync token %q: %w", q.SyncToken, model.ErrTokenExpired)
		}
		since = v
	}

	// Latest state per event, in first-seen order.
	latest := map[string]int{}
	var order []string
	for i, c := range m.changes {
		if c.version <= since {
			continue
		}
		if q.SyncToken == "" && !q.UpdatedMin.IsZero() && c.event.UpdatedAt.Before(q.UpdatedMin) {
			continue
		}
		if _, ok := latest[c.event.EventID]; !ok {
			order = append(order, c.event.EventID)
		}
		latest[c.event.EventID] = i
	}

	res := &ListResult{NextSyncToken: "v" + strconv.Itoa(m.version)}
	for _, id := range order {
		res.Events = append(res.Events, m.changes[latest[id]].event)
	}
	return res, nil
}

func (m *MemoryCalendar) SeedSyncToken(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return "", m.ListErr
	}
	return "v" + strconv.Itoa(m.version), nil
}

// MemoryFactory implements ProviderFactory, handing every user the same calendar
// unless the user was revoked.
type MemoryFactory struct {
	Calendar *MemoryCalendar

	mu      sync.Mutex
	revoked map[string]bool
}

// NewMemoryFactory wraps cal as a ProviderFactory.
func NewMemoryFactory(cal *MemoryCalendar) *MemoryFactory {
	return &MemoryFactory{Calendar: cal, revoked: make(map[string]bool)}
}

// Revoke makes ForUser fail with model.ErrCredential for userID.
func (f *MemoryFactory) Revoke(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[userID] = true
}

func (f *MemoryFactory) ForUser(_ context.Context, userID string) (Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked[userID] {
		return nil, fmt.Errorf("user %s: %w", userID, model.ErrCredential)
	}
	return f.Calendar, nil
}
