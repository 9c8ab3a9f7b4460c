package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/dispatch"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/pipeline"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/watch"
)

// Triggers is what the webhooks hand their work to.
type Triggers interface {
	OnCalendarPush(ctx context.Context, push dispatch.CalendarPush) (dispatch.PushOutcome, error)
	OnReminderFire(ctx context.Context, p model.ReminderPayload) (bool, error)
	OnTranscriptReady(ctx context.Context, n model.TranscriptNotification) (*pipeline.Result, error)
	OnRenewalSweep(ctx context.Context) (watch.SweepSummary, error)
}

// WebhookHandler serves provider, queue and cron callbacks.
type WebhookHandler struct {
	triggers      Triggers
	webhookSecret string
	logger        *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(triggers Triggers, webhookSecret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{triggers: triggers, webhookSecret: webhookSecret, logger: logger}
}

// Calendar handles provider push notifications. The provider retries anything
// but a 2xx, so failures are logged and acknowledged.
func (h *WebhookHandler) Calendar(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	push := dispatch.CalendarPush{
		ChannelID:     header(req, "X-Goog-Channel-ID"),
		ResourceID:    header(req, "X-Goog-Resource-ID"),
		ResourceState: header(req, "X-Goog-Resource-State"),
		Token:         header(req, "X-Goog-Channel-Token"),
	}
	if push.ChannelID == "" {
		h.logger.WarnContext(ctx, "calendar push without channel id")
		return jsonResponse(http.StatusOK, map[string]string{"status": "ignored"}), nil
	}

	out, err := h.triggers.OnCalendarPush(ctx, push)
	if err != nil {
		h.logger.ErrorContext(ctx, "calendar push failed", "channel_id", push.ChannelID, "error", err)
		return jsonResponse(http.StatusOK, map[string]string{"status": "error"}), nil
	}
	return jsonResponse(http.StatusOK, out), nil
}

// Reminder handles a reminder delivered over HTTP.
func (h *WebhookHandler) Reminder(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if err := VerifyWebhook(req, h.webhookSecret); err != nil {
		h.logger.WarnContext(ctx, "rejected reminder webhook", "error", err)
		return textResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}

	var p model.ReminderPayload
	if err := json.Unmarshal([]byte(req.Body), &p); err != nil {
		h.logger.ErrorContext(ctx, "malformed reminder payload", "error", err)
		return jsonResponse(http.StatusOK, map[string]string{"status": "dropped"}), nil
	}

	sent, err := h.triggers.OnReminderFire(ctx, p)
	if err != nil {
		h.logger.ErrorContext(ctx, "reminder failed", "event_id", p.EventID, "error", err)
		return jsonResponse(http.StatusOK, map[string]string{"status": "error"}), nil
	}
	return jsonResponse(http.StatusOK, map[string]bool{"sent": sent}), nil
}

// Transcript imports a finished transcript and runs the meeting pipeline. Unlike
// the other webhooks it reports pipeline failures to the caller.
func (h *WebhookHandler) Transcript(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if err := VerifyWebhook(req, h.webhookSecret); err != nil {
		h.logger.WarnContext(ctx, "rejected transcript webhook", "error", err)
		return textResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}

	var n model.TranscriptNotification
	if err := json.Unmarshal([]byte(req.Body), &n); err != nil || n.MeetingID == "" {
		return textResponse(http.StatusBadRequest, "Invalid request body"), nil
	}

	res, err := h.triggers.OnTranscriptReady(ctx, n)
	if err != nil {
		h.logger.ErrorContext(ctx, "transcript pipeline failed", "external_id", n.MeetingID, "error", err)
		return textResponse(statusFor(err), err.Error()), nil
	}
	if res == nil {
		return jsonResponse(http.StatusOK, map[string]string{"status": "skipped"}), nil
	}
	return jsonResponse(http.StatusOK, res), nil
}

// RenewWatches runs the renewal sweep.
func (h *WebhookHandler) RenewWatches(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if err := VerifyWebhook(req, h.webhookSecret); err != nil {
		h.logger.WarnContext(ctx, "rejected renewal trigger", "error", err)
		return textResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}
	sum, err := h.triggers.OnRenewalSweep(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "renewal sweep failed", "error", err)
		return textResponse(http.StatusInternalServerError, "Renewal sweep failed"), nil
	}
	return jsonResponse(http.StatusOK, sum), nil
}

// statusFor maps a pipeline error to a status. Provider failures come first so a
// failed extraction call gets a 5xx and the caller redelivers.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrNoContent), errors.Is(err, model.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrCredential):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
