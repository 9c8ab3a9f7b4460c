package main

import (
	"context"
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
	lambda.Start(application.HandleRequest)
}
