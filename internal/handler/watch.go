package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/lease"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
)

// WatchService subscribes and unsubscribes a user's calendar.
type WatchService interface {
	CreateWatch(ctx context.Context, userID string) (*model.WatchChannel, error)
	StopAll(ctx context.Context, userID string) (int, error)
}

// WatchHandler serves calendar onboarding and disconnect.
type WatchHandler struct {
	watches   WatchService
	jwtSecret string
	logger    *slog.Logger
}

// NewWatchHandler creates a new WatchHandler.
func NewWatchHandler(watches WatchService, jwtSecret string, logger *slog.Logger) *WatchHandler {
	return &WatchHandler{watches: watches, jwtSecret: jwtSecret, logger: logger}
}

// Create subscribes the session user's calendar.
func (h *WatchHandler) Create(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return textResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}

	ch, err := h.watches.CreateWatch(ctx, userID)
	switch {
	case err == nil:
		return jsonResponse(http.StatusCreated, ch), nil
	case errors.Is(err, lease.ErrHeld):
		return textResponse(http.StatusConflict, "Calendar subscription already in progress"), nil
	case errors.Is(err, model.ErrCredential):
		return textResponse(http.StatusForbidden, "Calendar access not granted"), nil
	default:
		h.logger.ErrorContext(ctx, "create watch failed", "user_id", userID, "error", err)
		return textResponse(statusFor(err), "Failed to subscribe to calendar"), nil
	}
}

// Delete stops every calendar subscription of the session user.
func (h *WatchHandler) Delete(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return textResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}

	stopped, err := h.watches.StopAll(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "stop watch failed", "user_id", userID, "error", err)
		return textResponse(statusFor(err), "Failed to stop calendar subscription"), nil
	}
	return jsonResponse(http.StatusOK, map[string]int{"stopped": stopped}), nil
}
