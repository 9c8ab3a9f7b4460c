package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DEV_MODE", "")
	t.Setenv("REMINDER_LEAD_HOURS", "")
	t.Setenv("WATCH_TTL", "")
	t.Setenv("QUEUE_DSN", "")
	t.Setenv("PUBLIC_BASE_URL", "https://calsync.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ReminderLead != 24*time.Hour {
		t.Errorf("ReminderLead = %v, want 24h", cfg.ReminderLead)
	}
	if cfg.WatchTTL != 7*24*time.Hour {
		t.Errorf("WatchTTL = %v, want 168h", cfg.WatchTTL)
	}
	if cfg.QueueDSN != "scheduler://default" {
		t.Errorf("QueueDSN = %q", cfg.QueueDSN)
	}
	if cfg.CalendarID != "primary" {
		t.Errorf("CalendarID = %q", cfg.CalendarID)
	}
	if got := cfg.WebhookURL("/webhooks/calendar"); got != "https://calsync.example.com/webhooks/calendar" {
		t.Errorf("WebhookURL = %q", got)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoad_DevModeUsesMemoryQueue(t *testing.T) {
	t.Setenv("DEV_MODE", "true")
	t.Setenv("QUEUE_DSN", "")
	t.Setenv("GOOGLE_REDIRECT_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.QueueDSN != "memory://" {
		t.Errorf("QueueDSN = %q, want memory://", cfg.QueueDSN)
	}
	if cfg.GoogleRedirectURL != "http://localhost:8080/auth/callback" {
		t.Errorf("GoogleRedirectURL = %q", cfg.GoogleRedirectURL)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REMINDER_LEAD_HOURS", "2")
	t.Setenv("RENEW_THRESHOLD", "90m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ReminderLead != 2*time.Hour {
		t.Errorf("ReminderLead = %v", cfg.ReminderLead)
	}
	if cfg.RenewThreshold != 90*time.Minute {
		t.Errorf("RenewThreshold = %v", cfg.RenewThreshold)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"REMINDER_LEAD_HOURS", "soon"},
		{"REMINDER_LEAD_HOURS", "-3"},
		{"WATCH_TTL", "a week"},
		{"SWEEP_CONCURRENCY", "0"},
		{"LOG_LEVEL", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
