package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds non-secret runtime settings. Secrets are resolved separately by name
// through secret.Resolver.
type Config struct {
	DevMode       bool
	HTTPAddr      string
	PublicBaseURL string
	FrontendURL   string
	LogLevel      slog.Level

	WatchChannelsTable  string
	CalendarEventsTable string
	UserGrantsTable     string
	LeasesTable         string

	DatabaseURL string
	KMSKeyID    string

	QueueDSN           string
	SchedulerTargetARN string
	SchedulerRoleARN   string
	SchedulerGroup     string

	GoogleClientID    string
	GoogleRedirectURL string
	CalendarID        string

	ReminderLead      time.Duration
	WatchTTL          time.Duration
	RenewThreshold    time.Duration
	RenewWindow       time.Duration
	RenewCron         string
	SweepConcurrency  int
	NotifyConcurrency int

	ProviderTimeout   time.Duration
	ExtractionTimeout time.Duration
	OpenAIModel       string

	Secrets SecretNames
}

// SecretNames are the parameter names of the secrets the service needs.
type SecretNames struct {
	GoogleClientSecret string
	JWTSecret          string
	WebhookSecret      string
	OpenAIKey          string
	SlackBotToken      string
	FirefliesKey       string
}

// Load reads .env when present and then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DevMode:       getenv("DEV_MODE", "false") == "true",
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		FrontendURL:   getenv("FRONTEND_URL", "http://localhost:3000"),

		WatchChannelsTable:  getenv("WATCH_CHANNELS_TABLE", "WatchChannels"),
		CalendarEventsTable: getenv("CALENDAR_EVENTS_TABLE", "CalendarEvents"),
		UserGrantsTable:     getenv("USER_GRANTS_TABLE", "UserGrants"),
		LeasesTable:         getenv("LEASES_TABLE", "Leases"),

		DatabaseURL: getenv("DATABASE_URL", ""),
		KMSKeyID:    getenv("KMS_KEY_ID", "alias/calsync-token-key"),

		QueueDSN:           getenv("QUEUE_DSN", "scheduler://default"),
		SchedulerTargetARN: getenv("SCHEDULER_TARGET_ARN", ""),
		SchedulerRoleARN:   getenv("SCHEDULER_ROLE_ARN", ""),
		SchedulerGroup:     getenv("SCHEDULER_GROUP", "default"),

		GoogleClientID:    getenv("GOOGLE_CLIENT_ID", ""),
		GoogleRedirectURL: getenv("GOOGLE_REDIRECT_URL", ""),
		CalendarID:        getenv("CALENDAR_ID", "primary"),

		RenewCron:   getenv("RENEW_CRON", "cron(0 */6 * * ? *)"),
		OpenAIModel: getenv("OPENAI_MODEL", "gpt-4o-mini"),

		Secrets: SecretNames{
			GoogleClientSecret: getenv("GOOGLE_CLIENT_SECRET_PARAM", "/calsync/google-client-secret"),
			JWTSecret:          getenv("JWT_SECRET_PARAM", "/calsync/jwt-secret"),
			WebhookSecret:      getenv("WEBHOOK_SECRET_PARAM", "/calsync/webhook-secret"),
			OpenAIKey:          getenv("OPENAI_API_KEY_PARAM", "/calsync/openai-api-key"),
			SlackBotToken:      getenv("SLACK_BOT_TOKEN_PARAM", "/calsync/slack-bot-token"),
			FirefliesKey:       getenv("FIREFLIES_API_KEY_PARAM", "/calsync/fireflies-api-key"),
		},
	}

	var err error
	if cfg.LogLevel, err = parseLevel(getenv("LOG_LEVEL", "info")); err != nil {
		return Config{}, err
	}

	hours, err := getInt("REMINDER_LEAD_HOURS", 24)
	if err != nil {
		return Config{}, err
	}
	cfg.ReminderLead = time.Duration(hours) * time.Hour

	durations := []struct {
		key  string
		def  time.Duration
		into *time.Duration
	}{
		{"WATCH_TTL", 7 * 24 * time.Hour, &cfg.WatchTTL},
		{"RENEW_THRESHOLD", 48 * time.Hour, &cfg.RenewThreshold},
		{"RENEW_WINDOW", 72 * time.Hour, &cfg.RenewWindow},
		{"PROVIDER_TIMEOUT", 15 * time.Second, &cfg.ProviderTimeout},
		{"EXTRACTION_TIMEOUT", 60 * time.Second, &cfg.ExtractionTimeout},
	}
	for _, d := range durations {
		if *d.into, err = getDuration(d.key, d.def); err != nil {
			return Config{}, err
		}
	}

	if cfg.SweepConcurrency, err = getInt("SWEEP_CONCURRENCY", 4); err != nil {
		return Config{}, err
	}
	if cfg.NotifyConcurrency, err = getInt("NOTIFY_CONCURRENCY", 8); err != nil {
		return Config{}, err
	}

	if cfg.GoogleRedirectURL == "" {
		if cfg.DevMode {
			cfg.GoogleRedirectURL = "http://localhost:8080/auth/callback"
		} else {
			cfg.GoogleRedirectURL = cfg.FrontendURL + "/api/auth/callback"
		}
	}
	if cfg.DevMode && os.Getenv("QUEUE_DSN") == "" {
		cfg.QueueDSN = "memory://"
	}

	return cfg, nil
}

// WebhookURL returns the public address of a webhook path.
func (c Config) WebhookURL(path string) string {
	return c.PublicBaseURL + "/" + strings.TrimLeft(path, "/")
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getInt(key string, def int) (int, error) {
	raw := getenv(key, "")
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s=%q: expected a positive integer", key, raw)
	}
	return v, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := getenv(key, "")
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s=%q: expected a positive duration", key, raw)
	}
	return v, nil
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL=%q: %w", raw, err)
	}
	return level, nil
}
