// Package watch creates, renews and tears down calendar push channels.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/calendar"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/fanout"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/lease"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/store"
)

// MaxTTL is the longest channel lifetime the provider grants.
const MaxTTL = 7 * 24 * time.Hour

// Options configures a Manager.
type Options struct {
	Address         string // public webhook URL the provider posts to
	TokenSecret     string
	CalendarID      string
	TTL             time.Duration
	SweepLimit      int
	ProviderTimeout time.Duration
}

// Manager owns the lifecycle of WatchChannel records and their provider channels.
type Manager struct {
	providers calendar.ProviderFactory
	channels  store.ChannelStore
	locker    lease.Locker
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
	newID     func() string
}

// NewManager creates a Manager. locker may be nil.
func NewManager(providers calendar.ProviderFactory, channels store.ChannelStore, locker lease.Locker, logger *slog.Logger, opts Options) *Manager {
	if opts.CalendarID == "" {
		opts.CalendarID = "primary"
	}
	if opts.TTL <= 0 || opts.TTL > MaxTTL {
		opts.TTL = MaxTTL
	}
	if opts.SweepLimit <= 0 {
		opts.SweepLimit = 4
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 15 * time.Second
	}
	return &Manager{
		providers: providers,
		channels:  channels,
		locker:    locker,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// SweepSummary reports one renewal sweep.
type SweepSummary struct {
	Checked int `json:"checked"`
	Renewed int `json:"renewed"`
	Failed  int `json:"failed"`
}

// CreateWatch subscribes to the user's calendar and replaces any channel the user
// already had on it.
func (m *Manager) CreateWatch(ctx context.Context, userID string) (*model.WatchChannel, error) {
	release, err := m.hold(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	prov, err := m.providers.ForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	previous, err := m.userChannels(ctx, userID)
	if err != nil {
		return nil, err
	}

	ch, err := m.subscribe(ctx, prov, userID, "")
	if err != nil {
		return nil, err
	}
	for _, old := range previous {
		m.stopBestEffort(ctx, prov, old)
		if err := m.channels.DeleteChannel(ctx, old.ChannelID); err != nil {
			m.logger.WarnContext(ctx, "failed to delete replaced channel", "channel_id", old.ChannelID, "error", err)
		}
	}
	return ch, nil
}

// RenewIfExpiring returns ch unchanged while it has more than threshold left.
// Otherwise the old channel is stopped, a new one registered and stored, and only
// then the old record deleted. The sync token carries over so no change is missed.
func (m *Manager) RenewIfExpiring(ctx context.Context, ch model.WatchChannel, threshold time.Duration) (*model.WatchChannel, error) {
	if ch.Expiry().Sub(m.now()) > threshold {
		return &ch, nil
	}
	logger := m.logger.With("channel_id", ch.ChannelID, "user_id", ch.UserID)

	release, err := m.hold(ctx, ch.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	prov, err := m.providers.ForUser(ctx, ch.UserID)
	if err != nil {
		if errors.Is(err, model.ErrCredential) {
			// Nothing can renew this channel any more.
			logger.WarnContext(ctx, "dropping channel without credential", "error", err)
			if delErr := m.channels.DeleteChannel(ctx, ch.ChannelID); delErr != nil {
				logger.ErrorContext(ctx, "failed to delete channel", "error", delErr)
			}
		}
		return nil, err
	}

	m.stopBestEffort(ctx, prov, ch)

	renewed, err := m.subscribe(ctx, prov, ch.UserID, ch.SyncToken)
	if err != nil {
		return nil, err
	}
	if err := m.channels.DeleteChannel(ctx, ch.ChannelID); err != nil {
		logger.WarnContext(ctx, "failed to delete renewed channel", "error", err)
	}
	logger.InfoContext(ctx, "renewed watch channel", "new_channel_id", renewed.ChannelID, "expires_at", renewed.Expiry())
	return renewed, nil
}

// StopWatch tears down a channel at the provider and deletes its record. A channel
// the provider already forgot is not an error.
func (m *Manager) StopWatch(ctx context.Context, channelID, resourceID string) error {
	ch, err := m.channels.GetChannel(ctx, channelID)
	if err != nil {
		return fmt.Errorf("load channel %s: %w", channelID, err)
	}
	if resourceID == "" {
		resourceID = ch.ResourceID
	}

	prov, err := m.providers.ForUser(ctx, ch.UserID)
	switch {
	case errors.Is(err, model.ErrCredential):
		// The grant is gone; the provider channel lapses on its own.
		m.logger.WarnContext(ctx, "stopping channel locally only", "channel_id", channelID, "error", err)
	case err != nil:
		return err
	default:
		pctx, cancel := context.WithTimeout(ctx, m.opts.ProviderTimeout)
		err := prov.Stop(pctx, channelID, resourceID)
		cancel()
		if err != nil {
			return fmt.Errorf("stop channel %s: %w", channelID, err)
		}
	}

	if err := m.channels.DeleteChannel(ctx, channelID); err != nil {
		return fmt.Errorf("delete channel %s: %w", channelID, err)
	}
	m.logger.InfoContext(ctx, "stopped watch channel", "channel_id", channelID, "user_id", ch.UserID)
	return nil
}

// StopAll stops every channel of the user. It returns the number stopped.
func (m *Manager) StopAll(ctx context.Context, userID string) (int, error) {
	chans, err := m.channels.ListChannelsByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list channels: %w", err)
	}
	var errs []error
	stopped := 0
	for _, ch := range chans {
		if err := m.StopWatch(ctx, ch.ChannelID, ch.ResourceID); err != nil {
			errs = append(errs, err)
			continue
		}
		stopped++
	}
	return stopped, errors.Join(errs...)
}

// RenewExpiring renews every channel expiring within window. Channels are renewed
// independently; one failure never blocks the others.
func (m *Manager) RenewExpiring(ctx context.Context, window, threshold time.Duration) (SweepSummary, error) {
	expiring, err := m.channels.ListExpiringChannels(ctx, m.now().Add(window))
	if err != nil {
		return SweepSummary{}, fmt.Errorf("list expiring channels: %w", err)
	}

	var renewed atomic.Int64
	results, sum := fanout.Run(ctx, m.opts.SweepLimit, expiring, func(ctx context.Context, ch model.WatchChannel) error {
		next, err := m.RenewIfExpiring(ctx, ch, threshold)
		if err != nil {
			return err
		}
		if next.ChannelID != ch.ChannelID {
			renewed.Add(1)
		}
		return nil
	})
	for _, r := range results {
		if r.Err != nil {
			m.logger.ErrorContext(ctx, "failed to renew channel", "channel_id", r.Item.ChannelID, "user_id", r.Item.UserID, "error", r.Err)
		}
	}

	out := SweepSummary{Checked: sum.Total, Renewed: int(renewed.Load()), Failed: sum.Failed}
	m.logger.InfoContext(ctx, "renewal sweep finished", "checked", out.Checked, "renewed", out.Renewed, "failed", out.Failed)
	return out, nil
}

// subscribe registers a new channel and stores it. An empty syncToken is seeded
// from the provider.
func (m *Manager) subscribe(ctx context.Context, prov calendar.Provider, userID, syncToken string) (*model.WatchChannel, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ProviderTimeout)
	defer cancel()

	if syncToken == "" {
		var err error
		syncToken, err = prov.SeedSyncToken(ctx, m.opts.CalendarID)
		if err != nil {
			return nil, fmt.Errorf("seed sync token: %w", err)
		}
	}

	channelID := m.newID()
	res, err := prov.Watch(ctx, calendar.WatchRequest{
		CalendarID: m.opts.CalendarID,
		ChannelID:  channelID,
		Address:    m.opts.Address,
		Token:      ChannelToken(m.opts.TokenSecret, channelID),
		TTL:        m.opts.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("register watch: %w", err)
	}

	expires := res.Expiration
	if expires.IsZero() {
		expires = m.now().Add(m.opts.TTL)
	}
	ch := model.WatchChannel{
		ChannelID:   channelID,
		UserID:      userID,
		CalendarID:  m.opts.CalendarID,
		ResourceID:  res.ResourceID,
		ResourceURI: res.ResourceURI,
		SyncToken:   syncToken,
		ExpiresAt:   expires.Unix(),
		CreatedAt:   m.now().UTC(),
	}
	if err := m.channels.PutChannel(ctx, ch); err != nil {
		// Do not leave a provider channel nobody tracks.
		m.stopBestEffort(ctx, prov, ch)
		return nil, fmt.Errorf("store channel: %w", err)
	}
	m.logger.InfoContext(ctx, "created watch channel", "channel_id", channelID, "user_id", userID, "expires_at", expires)
	return &ch, nil
}

func (m *Manager) stopBestEffort(ctx context.Context, prov calendar.Provider, ch model.WatchChannel) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ProviderTimeout)
	defer cancel()
	if err := prov.Stop(ctx, ch.ChannelID, ch.ResourceID); err != nil {
		m.logger.WarnContext(ctx, "failed to stop channel", "channel_id", ch.ChannelID, "error", err)
	}
}

func (m *Manager) userChannels(ctx context.Context, userID string) ([]model.WatchChannel, error) {
	all, err := m.channels.ListChannelsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	var out []model.WatchChannel
	for _, ch := range all {
		if ch.CalendarID == "" || ch.CalendarID == m.opts.CalendarID {
			out = append(out, ch)
		}
	}
	return out, nil
}

// hold takes the user's watch lease so concurrent create/renew calls do not each
// register a channel.
func (m *Manager) hold(ctx context.Context, userID string) (func(), error) {
	if m.locker == nil {
		return func() {}, nil
	}
	key := lease.WatchKey(userID, m.opts.CalendarID)
	owner := m.newID()
	if _, err := m.locker.Acquire(ctx, key, owner); err != nil {
		return nil, fmt.Errorf("watch %s: %w", key, err)
	}
	return func() {
		if err := m.locker.Release(context.WithoutCancel(ctx), key, owner); err != nil {
			m.logger.WarnContext(ctx, "failed to release lease", "lease_key", key, "error", err)
		}
	}, nil
}
