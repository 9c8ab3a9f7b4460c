package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
)

// MemoryStore implements ChannelStore and EventStore in memory.
// Used in DEV_MODE and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	channels map[string]model.WatchChannel
	events   map[string]model.CalendarEvent
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		channels: make(map[string]model.WatchChannel),
		events:   make(map[string]model.CalendarEvent),
	}
}

func (s *MemoryStore) GetChannel(_ context.Context, channelID string) (*model.WatchChannel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &ch, nil
}

func (s *MemoryStore) GetChannelByResource(_ context.Context, resourceID string) (*model.WatchChannel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *model.WatchChannel
	for _, ch := range s.channels {
		if ch.ResourceID != resourceID {
			continue
		}
		if best == nil || ch.ExpiresAt > best.ExpiresAt {
			c := ch
			best = &c
		}
	}
	if best == nil {
		return nil, model.ErrNotFound
	}
	return best, nil
}

func (s *MemoryStore) filter(keep func(model.WatchChannel) bool) []model.WatchChannel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.WatchChannel
	for _, ch := range s.channels {
		if keep(ch) {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

func (s *MemoryStore) ListChannelsByUser(_ context.Context, userID string) ([]model.WatchChannel, error) {
	return s.filter(func(ch model.WatchChannel) bool { return ch.UserID == userID }), nil
}

func (s *MemoryStore) ListExpiringChannels(_ context.Context, before time.Time) ([]model.WatchChannel, error) {
	cutoff := before.Unix()
	return s.filter(func(ch model.WatchChannel) bool { return ch.ExpiresAt < cutoff }), nil
}

func (s *MemoryStore) PutChannel(_ context.Context, ch model.WatchChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ChannelID] = ch
	return nil
}

func (s *MemoryStore) DeleteChannel(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channelID)
	return nil
}

func (s *MemoryStore) UpdateSyncToken(_ context.Context, channelID, prev, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok || ch.SyncToken != prev {
		return ErrStaleToken
	}
	ch.SyncToken = next
	s.channels[channelID] = ch
	return nil
}

func cloneEvent(ev model.CalendarEvent) *model.CalendarEvent {
	ev.Attendees = append([]model.Attendee(nil), ev.Attendees...)
	return &ev
}

func (s *MemoryStore) GetEvent(_ context.Context, eventID string) (*model.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[eventID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneEvent(ev), nil
}

func (s *MemoryStore) UpsertEvent(_ context.Context, ev model.CalendarEvent) (*model.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.events[ev.EventID]
	next := *cloneEvent(ev)
	next.ReminderJobID = prev.ReminderJobID
	next.RemindedFor = prev.RemindedFor
	s.events[ev.EventID] = next
	if !existed {
		return nil, nil
	}
	return cloneEvent(prev), nil
}

func (s *MemoryStore) MarkCancelled(_ context.Context, eventID string, updatedAt time.Time) (*model.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.events[eventID]
	next := prev
	next.EventID = eventID
	next.Status = model.StatusCancelled
	next.UpdatedAt = updatedAt
	s.events[eventID] = next
	if !existed {
		return nil, nil
	}
	return cloneEvent(prev), nil
}

func (s *MemoryStore) SetReminderJob(_ context.Context, eventID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return model.ErrNotFound
	}
	ev.ReminderJobID = jobID
	s.events[eventID] = ev
	return nil
}

func (s *MemoryStore) MarkReminderSent(_ context.Context, eventID string, reminderTime time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return false, nil
	}
	if ev.RemindedFor != nil && ev.RemindedFor.Equal(reminderTime) {
		return false, nil
	}
	rt := reminderTime.UTC()
	ev.RemindedFor = &rt
	s.events[eventID] = ev
	return true, nil
}

// EventCount returns the number of stored projections.
func (s *MemoryStore) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
