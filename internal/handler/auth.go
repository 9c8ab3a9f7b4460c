package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	xoauth2 "golang.org/x/oauth2"
	"google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/auth"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/directory"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
)

const sessionTTL = 24 * time.Hour

// EmailFetcher returns the verified email of the account behind token.
type EmailFetcher func(ctx context.Context, token *xoauth2.Token) (string, error)

// AuthHandler handles the Google consent flow that stores a user's calendar grant.
type AuthHandler struct {
	creds       *auth.CredentialService
	dir         directory.Directory
	jwtSecret   string
	frontendURL string
	devMode     bool
	fetchEmail  EmailFetcher
	logger      *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(creds *auth.CredentialService, dir directory.Directory, jwtSecret, frontendURL string, devMode bool, logger *slog.Logger) *AuthHandler {
	h := &AuthHandler{
		creds:       creds,
		dir:         dir,
		jwtSecret:   jwtSecret,
		frontendURL: frontendURL,
		devMode:     devMode,
		logger:      logger,
	}
	h.fetchEmail = h.googleEmail
	return h
}

// WithEmailFetcher replaces the userinfo lookup.
func (h *AuthHandler) WithEmailFetcher(f EmailFetcher) *AuthHandler {
	h.fetchEmail = f
	return h
}

func (h *AuthHandler) googleEmail(ctx context.Context, token *xoauth2.Token) (string, error) {
	svc, err := oauth2.NewService(ctx, option.WithTokenSource(h.creds.Config().TokenSource(ctx, token)))
	if err != nil {
		return "", fmt.Errorf("create oauth2 service: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get userinfo: %w", err)
	}
	if info.VerifiedEmail != nil && !*info.VerifiedEmail {
		return "", fmt.Errorf("google account email %s is not verified", info.Email)
	}
	return info.Email, nil
}

func (h *AuthHandler) cookie(name, value string, maxAge int) string {
	// Production serves the frontend and API from different origins.
	sameSite := "None"
	if h.devMode {
		sameSite = "Lax"
	}
	return fmt.Sprintf("%s=%s; HttpOnly; Path=/; Max-Age=%d; SameSite=%s; Secure", name, value, maxAge, sameSite)
}

func cookieValue(req events.APIGatewayProxyRequest, name string) string {
	for _, part := range strings.Split(header(req, "Cookie"), ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, name+"=") {
			return strings.TrimPrefix(part, name+"=")
		}
	}
	return ""
}

// Login redirects to Google consent with a CSRF state bound to a cookie.
func (h *AuthHandler) Login(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	state := uuid.NewString()
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": h.creds.GenerateAuthURL(state),
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {h.cookie("oauth_state", state, 600)},
		},
	}, nil
}

// Callback stores the delegated grant of a known user and starts a session.
func (h *AuthHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	code := req.QueryStringParameters["code"]
	if code == "" {
		return textResponse(http.StatusBadRequest, "Missing code"), nil
	}
	state := req.QueryStringParameters["state"]
	if state == "" || state != cookieValue(req, "oauth_state") {
		return textResponse(http.StatusBadRequest, "Invalid state"), nil
	}

	token, err := h.creds.ExchangeCode(ctx, code)
	if err != nil {
		h.logger.ErrorContext(ctx, "code exchange failed", "error", err)
		return textResponse(http.StatusInternalServerError, "Failed to exchange code"), nil
	}

	email, err := h.fetchEmail(ctx, token)
	if err != nil {
		h.logger.ErrorContext(ctx, "userinfo failed", "error", err)
		return textResponse(http.StatusInternalServerError, "Failed to get user info"), nil
	}

	user, err := h.dir.FindUserByEmail(ctx, email)
	if errors.Is(err, model.ErrNotFound) {
		return textResponse(http.StatusForbidden, "No workspace member with this Google account"), nil
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "user lookup failed", "error", err)
		return textResponse(http.StatusInternalServerError, "Failed to look up user"), nil
	}

	if _, err := h.creds.SaveGrant(ctx, user.ID, email, token); err != nil {
		h.logger.ErrorContext(ctx, "saving grant failed", "user_id", user.ID, "error", err)
		if errors.Is(err, model.ErrCredential) {
			return textResponse(http.StatusBadRequest, "Google did not grant offline access; please consent again"), nil
		}
		return textResponse(http.StatusInternalServerError, "Failed to store calendar grant"), nil
	}

	signed, err := SessionToken(h.jwtSecret, user, sessionTTL)
	if err != nil {
		return textResponse(http.StatusInternalServerError, "Failed to sign token"), nil
	}

	h.logger.InfoContext(ctx, "stored calendar grant", "user_id", user.ID)
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": h.frontendURL + "/?calendar=connected",
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {
				h.cookie("session_token", signed, int(sessionTTL.Seconds())),
				h.cookie("oauth_state", "", 0),
			},
		},
	}, nil
}
