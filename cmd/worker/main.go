// Command worker is the target of the delayed queue: one-shot reminder jobs and
// the recurring renewal sweep are delivered here as JSON envelopes.
package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/app"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := app.NewLogger(cfg.LogLevel, true)

	ctx := context.Background()
	application, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	if err := application.RegisterRenewalCron(ctx); err != nil {
		logger.Error("renewal cron not registered", "error", err)
	}

	lambda.Start(func(ctx context.Context, raw json.RawMessage) error {
		return application.HandleMessage(ctx, raw)
	})
}
