package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/calendar"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/lease"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/store"
)

func newTestManager() (*Manager, *calendar.MemoryFactory, *store.MemoryStore) {
	cal := calendar.NewMemoryCalendar()
	factory := calendar.NewMemoryFactory(cal)
	st := store.NewMemoryStore()
	m := NewManager(factory, st, lease.NewMemoryLocker(), slog.New(slog.NewTextHandler(io.Discard, nil)), Options{
		Address:     "https://calsync.example.com/webhooks/calendar",
		TokenSecret: "s3cret",
	})
	return m, factory, st
}

func TestCreateWatch(t *testing.T) {
	m, factory, st := newTestManager()
	ctx := context.Background()
	factory.Calendar.PutEvent(model.CalendarEvent{EventID: "old", Status: model.StatusConfirmed})

	ch, err := m.CreateWatch(ctx, "u1")
	if err != nil {
		t.Fatalf("CreateWatch failed: %v", err)
	}
	if ch.CalendarID != "primary" || ch.ResourceID == "" || ch.SyncToken != "v1" {
		t.Errorf("channel = %+v", ch)
	}
	if ttl := time.Until(ch.Expiry()); ttl < 6*24*time.Hour {
		t.Errorf("expiry too soon: %v", ttl)
	}
	if _, err := st.GetChannel(ctx, ch.ChannelID); err != nil {
		t.Errorf("channel not stored: %v", err)
	}

	// A second call replaces the first channel.
	second, err := m.CreateWatch(ctx, "u1")
	if err != nil {
		t.Fatalf("second CreateWatch failed: %v", err)
	}
	chans, _ := st.ListChannelsByUser(ctx, "u1")
	if len(chans) != 1 || chans[0].ChannelID != second.ChannelID {
		t.Errorf("channels after replace = %+v", chans)
	}
	if stopped := factory.Calendar.Stopped(); len(stopped) != 1 || stopped[0] != ch.ChannelID {
		t.Errorf("stopped = %v", stopped)
	}
}

func TestCreateWatch_MissingExpirationUsesTTL(t *testing.T) {
	m, factory, _ := newTestManager()
	factory.Calendar.NoExpiration = true

	ch, err := m.CreateWatch(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CreateWatch failed: %v", err)
	}
	if ttl := time.Until(ch.Expiry()); ttl < 6*24*time.Hour || ttl > MaxTTL {
		t.Errorf("expiry = %v, want about the configured TTL", ch.Expiry())
	}
}

func TestCreateWatch_Errors(t *testing.T) {
	m, factory, st := newTestManager()
	ctx := context.Background()

	factory.Revoke("nocred")
	if _, err := m.CreateWatch(ctx, "nocred"); !errors.Is(err, model.ErrCredential) {
		t.Errorf("expected ErrCredential, got %v", err)
	}

	factory.Calendar.WatchErr = model.ErrProvider
	if _, err := m.CreateWatch(ctx, "u1"); !errors.Is(err, model.ErrProvider) {
		t.Errorf("expected ErrProvider, got %v", err)
	}
	if chans, _ := st.ListChannelsByUser(ctx, "u1"); len(chans) != 0 {
		t.Errorf("rejected watch stored %v", chans)
	}
}

func TestCreateWatch_LeaseHeld(t *testing.T) {
	m, _, _ := newTestManager()
	locker := lease.NewMemoryLocker()
	m.locker = locker
	if _, err := locker.Acquire(context.Background(), lease.WatchKey("u1", "primary"), "someone-else"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreateWatch(context.Background(), "u1"); !errors.Is(err, lease.ErrHeld) {
		t.Errorf("expected ErrHeld, got %v", err)
	}
}

func TestRenewIfExpiring(t *testing.T) {
	tests := []struct {
		name      string
		remaining time.Duration
		threshold time.Duration
		wantNew   bool
	}{
		{"inside threshold", time.Hour, 2 * time.Hour, true},
		{"outside threshold", 10 * time.Hour, 2 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, factory, st := newTestManager()
			ctx := context.Background()
			old := model.WatchChannel{
				ChannelID:  "old",
				UserID:     "u1",
				CalendarID: "primary",
				ResourceID: "res-primary",
				SyncToken:  "v0",
				ExpiresAt:  time.Now().Add(tt.remaining).Unix(),
			}
			st.PutChannel(ctx, old)

			got, err := m.RenewIfExpiring(ctx, old, tt.threshold)
			if err != nil {
				t.Fatalf("RenewIfExpiring failed: %v", err)
			}
			if !tt.wantNew {
				if got.ChannelID != "old" || got.ExpiresAt != old.ExpiresAt {
					t.Errorf("expected unchanged channel, got %+v", got)
				}
				if len(factory.Calendar.Stopped()) != 0 {
					t.Error("unchanged channel was stopped")
				}
				return
			}

			if got.ChannelID == "old" || got.ExpiresAt <= old.ExpiresAt {
				t.Errorf("expected new channel with later expiry, got %+v", got)
			}
			if got.SyncToken != "v0" {
				t.Errorf("sync token not carried over: %q", got.SyncToken)
			}
			if _, err := st.GetChannel(ctx, "old"); !errors.Is(err, model.ErrNotFound) {
				t.Errorf("old record still present: %v", err)
			}
			if stopped := factory.Calendar.Stopped(); len(stopped) != 1 || stopped[0] != "old" {
				t.Errorf("stopped = %v", stopped)
			}
		})
	}
}

func TestRenewIfExpiring_RevokedCredentialDropsChannel(t *testing.T) {
	m, factory, st := newTestManager()
	ctx := context.Background()
	old := model.WatchChannel{ChannelID: "old", UserID: "u1", ExpiresAt: time.Now().Add(time.Minute).Unix()}
	st.PutChannel(ctx, old)
	factory.Revoke("u1")

	if _, err := m.RenewIfExpiring(ctx, old, time.Hour); !errors.Is(err, model.ErrCredential) {
		t.Fatalf("expected ErrCredential, got %v", err)
	}
	if _, err := st.GetChannel(ctx, "old"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("channel without credential kept: %v", err)
	}
}

func TestStopWatch(t *testing.T) {
	m, factory, st := newTestManager()
	ctx := context.Background()
	ch, err := m.CreateWatch(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.StopWatch(ctx, ch.ChannelID, ch.ResourceID); err != nil {
		t.Fatalf("StopWatch failed: %v", err)
	}
	if _, err := st.GetChannel(ctx, ch.ChannelID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("record not deleted: %v", err)
	}
	if len(factory.Calendar.Channels()) != 0 {
		t.Errorf("provider channels = %v", factory.Calendar.Channels())
	}

	if err := m.StopWatch(ctx, ch.ChannelID, ch.ResourceID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown channel, got %v", err)
	}
}

func TestRenewExpiring(t *testing.T) {
	m, factory, st := newTestManager()
	ctx := context.Background()
	now := time.Now()

	st.PutChannel(ctx, model.WatchChannel{ChannelID: "soon", UserID: "u1", ExpiresAt: now.Add(time.Hour).Unix()})
	st.PutChannel(ctx, model.WatchChannel{ChannelID: "revoked", UserID: "u2", ExpiresAt: now.Add(time.Hour).Unix()})
	st.PutChannel(ctx, model.WatchChannel{ChannelID: "later", UserID: "u3", ExpiresAt: now.Add(100 * time.Hour).Unix()})
	factory.Revoke("u2")

	sum, err := m.RenewExpiring(ctx, 72*time.Hour, 48*time.Hour)
	if err != nil {
		t.Fatalf("RenewExpiring failed: %v", err)
	}
	if sum.Checked != 2 || sum.Renewed != 1 || sum.Failed != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if chans, _ := st.ListChannelsByUser(ctx, "u1"); len(chans) != 1 || chans[0].ChannelID == "soon" {
		t.Errorf("u1 channels = %+v", chans)
	}
	if _, err := st.GetChannel(ctx, "later"); err != nil {
		t.Errorf("channel outside window touched: %v", err)
	}
}

func TestChannelToken(t *testing.T) {
	tok := ChannelToken("k", "ch1")
	if tok == "" || !VerifyChannelToken("k", "ch1", tok) {
		t.Fatal("token does not verify")
	}
	if VerifyChannelToken("k", "ch2", tok) {
		t.Error("token verified for another channel")
	}
	if VerifyChannelToken("other", "ch1", tok) {
		t.Error("token verified with another secret")
	}
	if !VerifyChannelToken("", "ch1", "") {
		t.Error("empty secret should accept")
	}
}
