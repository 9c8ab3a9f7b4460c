// Package app builds the dependency graph from configuration and routes API
// Gateway requests and queue deliveries into it.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/slack-go/slack"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/auth"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/calendar"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/config"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/crypto"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/directory"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/dispatch"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/extract"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/handler"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/ingest"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/lease"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/notify"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/pipeline"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/queue"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/reminder"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/resolver"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/secret"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/store"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/transcript"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/watch"
)

// Paths of the routes the service exposes.
const (
	PathCalendarWebhook   = "/webhooks/calendar"
	PathReminderWebhook   = "/webhooks/reminder"
	PathTranscriptWebhook = "/webhooks/transcript"
	PathRenewWatches      = "/cron/renew-watches"
)

// NewLogger builds the process logger. Lambda logs JSON; the local server logs text.
func NewLogger(level slog.Level, jsonOutput bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if jsonOutput {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// App holds the dependencies for the Lambda functions and the local server.
type App struct {
	cfg    config.Config
	logger *slog.Logger
	queue  queue.Queue

	dispatcher     *dispatch.Dispatcher
	authHandler    *handler.AuthHandler
	watchHandler   *handler.WatchHandler
	webhookHandler *handler.WebhookHandler
}

// NewApp initializes the application dependencies.
func NewApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	// ---------- Secrets ----------
	var secrets secret.Resolver
	if cfg.DevMode {
		secrets = secret.NewEnvResolver()
		logger.Info("using EnvResolver (DEV_MODE=true)")
	} else {
		secrets = secret.NewCachedResolver(secret.NewSSMResolver(ssm.NewFromConfig(awsCfg)))
	}

	var googleClientSecret, jwtSecret, webhookSecret, openAIKey, slackToken, firefliesKey string
	err = secret.ResolveAll(ctx, secrets, []secret.Lookup{
		{Name: cfg.Secrets.JWTSecret, Into: &jwtSecret, Required: !cfg.DevMode},
		{Name: cfg.Secrets.WebhookSecret, Into: &webhookSecret, Required: !cfg.DevMode},
		{Name: cfg.Secrets.GoogleClientSecret, Into: &googleClientSecret},
		{Name: cfg.Secrets.OpenAIKey, Into: &openAIKey},
		{Name: cfg.Secrets.SlackBotToken, Into: &slackToken},
		{Name: cfg.Secrets.FirefliesKey, Into: &firefliesKey},
	}, func(name string, err error) {
		logger.Warn("secret not resolved", "name", name, "error", err)
	})
	if err != nil {
		return nil, err
	}
	if jwtSecret == "" {
		jwtSecret = "default-dev-secret"
	}

	// ---------- Storage ----------
	var (
		channels  store.ChannelStore
		events    store.EventStore
		locker    lease.Locker
		grantsDB  auth.GrantsAPI
		encryptor crypto.Encryptor
		dir       directory.Directory
	)
	if cfg.DevMode {
		mem := store.NewMemoryStore()
		channels, events = mem, mem
		locker = lease.NewMemoryLocker()
		encryptor = crypto.NewMockEncryptor()
		logger.Info("using in-memory stores and MockEncryptor (DEV_MODE=true)")
	} else {
		dynamoClient := dynamodb.NewFromConfig(awsCfg)
		ds := store.NewDynamoStore(dynamoClient, cfg.WatchChannelsTable, cfg.CalendarEventsTable)
		channels, events = ds, ds
		locker = lease.NewDynamoLocker(dynamoClient, cfg.LeasesTable)
		grantsDB = dynamoClient
		encryptor = crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID)
	}

	switch {
	case cfg.DatabaseURL != "":
		gdb, err := directory.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if cfg.DevMode {
			if err := directory.Migrate(gdb); err != nil {
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}
		dir = directory.NewGormDirectory(gdb, logger)
	case cfg.DevMode:
		dir = directory.NewMemoryDirectory()
		logger.Info("using MemoryDirectory (no DATABASE_URL)")
	default:
		return nil, fmt.Errorf("DATABASE_URL is required outside DEV_MODE")
	}

	q, err := queue.FromDSN(cfg.QueueDSN, queue.SchedulerOptions{
		Client:    scheduler.NewFromConfig(awsCfg),
		TargetARN: cfg.SchedulerTargetARN,
		RoleARN:   cfg.SchedulerRoleARN,
	})
	if err != nil {
		return nil, err
	}

	// ---------- Google ----------
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: googleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes: append(append([]string(nil), auth.CalendarScopes...),
			"https://www.googleapis.com/auth/userinfo.email",
		),
		Endpoint: google.Endpoint,
	}
	creds := auth.NewCredentialService(oauthConfig, grantsDB, cfg.UserGrantsTable, encryptor)
	providers := calendar.NewGoogleProvider(creds)

	// ---------- Outbound ----------
	var messenger notify.Messenger
	if slackToken != "" {
		messenger = notify.NewSlackMessenger(slack.New(slackToken))
	} else {
		messenger = notify.NewLogMessenger(logger)
		logger.Warn("no Slack token, notifications are logged only")
	}
	extractor := extract.NewOpenAIClient(openAIKey, cfg.OpenAIModel)
	source := transcript.NewFirefliesClient(firefliesKey)

	// ---------- Core ----------
	projects := resolver.New(dir, messenger, logger, cfg.NotifyConcurrency)
	reminders := reminder.New(reminder.Deps{
		Channels:    channels,
		Events:      events,
		Directory:   dir,
		Queue:       q,
		Resolver:    projects,
		Messenger:   messenger,
		Logger:      logger,
		Lead:        cfg.ReminderLead,
		NotifyLimit: cfg.NotifyConcurrency,
	})
	watches := watch.NewManager(providers, channels, locker, logger, watch.Options{
		Address:         cfg.WebhookURL(PathCalendarWebhook),
		TokenSecret:     webhookSecret,
		CalendarID:      cfg.CalendarID,
		TTL:             cfg.WatchTTL,
		SweepLimit:      cfg.SweepConcurrency,
		ProviderTimeout: cfg.ProviderTimeout,
	})
	engine := ingest.NewEngine(channels, events, providers, reminders, projects, logger, cfg.ProviderTimeout)
	meetings := pipeline.New(dir, extractor, messenger, logger, cfg.NotifyConcurrency, cfg.ExtractionTimeout)
	importer := transcript.NewImporter(source, dir, projects, logger)

	dispatcher := dispatch.New(dispatch.Deps{
		Ingester:       engine,
		Reminders:      reminders,
		Importer:       importer,
		Pipeline:       meetings,
		Watches:        watches,
		Logger:         logger,
		ChannelSecret:  webhookSecret,
		RenewWindow:    cfg.RenewWindow,
		RenewThreshold: cfg.RenewThreshold,
	})

	return &App{
		cfg:            cfg,
		logger:         logger,
		queue:          q,
		dispatcher:     dispatcher,
		authHandler:    handler.NewAuthHandler(creds, dir, jwtSecret, cfg.FrontendURL, cfg.DevMode, logger),
		watchHandler:   handler.NewWatchHandler(watches, jwtSecret, logger),
		webhookHandler: handler.NewWebhookHandler(dispatcher, webhookSecret, logger),
	}, nil
}

// Logger returns the application logger.
func (app *App) Logger() *slog.Logger {
	return app.logger
}

// Queue returns the delayed queue the app publishes to.
func (app *App) Queue() queue.Queue {
	return app.queue
}

// RegisterRenewalCron registers the periodic renewal sweep with the queue.
func (app *App) RegisterRenewalCron(ctx context.Context) error {
	if app.cfg.RenewCron == "" {
		return nil
	}
	payload, err := json.Marshal(model.QueueMessage{Kind: model.KindRenewalSweep})
	if err != nil {
		return err
	}
	// The sweep goes to the queue's default target, the worker.
	id, err := app.queue.ScheduleCron(ctx, app.cfg.RenewCron, payload, "")
	if err != nil {
		return fmt.Errorf("register renewal cron: %w", err)
	}
	app.logger.InfoContext(ctx, "registered renewal sweep", "schedule_id", id, "cron", app.cfg.RenewCron)
	return nil
}

// HandleMessage processes one delivery from the delayed queue.
func (app *App) HandleMessage(ctx context.Context, raw json.RawMessage) error {
	return app.dispatcher.HandleMessage(ctx, raw)
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	method := req.HTTPMethod
	// Strip /api prefix if present (for CloudFront proxying)
	path := strings.TrimPrefix(req.Path, "/api")

	app.logger.DebugContext(ctx, "request", "method", method, "path", path)

	if method == http.MethodOptions {
		return app.corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	switch {
	case path == "/health" && method == http.MethodGet:
		return app.corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Body: "ok"}), nil

	case path == "/auth/login" && method == http.MethodGet:
		return app.corsResponse(app.must(app.authHandler.Login(ctx, req))), nil
	case path == "/auth/callback" && method == http.MethodGet:
		return app.corsResponse(app.must(app.authHandler.Callback(ctx, req))), nil

	case path == "/calendar/watch" && method == http.MethodPost:
		return app.corsResponse(app.must(app.watchHandler.Create(ctx, req))), nil
	case path == "/calendar/watch" && method == http.MethodDelete:
		return app.corsResponse(app.must(app.watchHandler.Delete(ctx, req))), nil

	case path == PathCalendarWebhook && method == http.MethodPost:
		return app.must(app.webhookHandler.Calendar(ctx, req)), nil
	case path == PathReminderWebhook && method == http.MethodPost:
		return app.must(app.webhookHandler.Reminder(ctx, req)), nil
	case path == PathTranscriptWebhook && method == http.MethodPost:
		return app.must(app.webhookHandler.Transcript(ctx, req)), nil
	case path == PathRenewWatches && method == http.MethodPost:
		return app.must(app.webhookHandler.RenewWatches(ctx, req)), nil
	}

	return app.corsResponse(events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("Not Found: %s %s", method, path),
	}), nil
}

// corsResponse adds CORS headers to an API Gateway response.
func (app *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = app.cfg.FrontendURL
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,DELETE,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must unwraps a handler response, turning an error into a 500.
func (app *App) must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		app.logger.Error("handler error", "error", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}
