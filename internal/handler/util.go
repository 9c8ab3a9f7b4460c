package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
)

// SignatureHeader carries the webhook signature JWT.
const SignatureHeader = "X-Webhook-Signature"

// header returns a request header regardless of case.
func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func parseHS256(tokenString, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %v", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// GetUserID extracts the user ID from the Authorization header or session cookie.
func GetUserID(req events.APIGatewayProxyRequest, jwtSecret string) (string, error) {
	// 1. Check Authorization Header (Bearer <token>)
	tokenString := ""
	authHeader := header(req, "Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		tokenString = strings.TrimPrefix(authHeader, "Bearer ")
	}

	// 2. Check Cookie
	if tokenString == "" {
		for _, part := range strings.Split(header(req, "Cookie"), ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, "session_token=") {
				tokenString = strings.TrimPrefix(part, "session_token=")
				break
			}
		}
	}

	if tokenString == "" {
		return "", fmt.Errorf("no authorization token found")
	}

	claims, err := parseHS256(tokenString, jwtSecret)
	if err != nil {
		return "", err
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("invalid token claims")
}

// SessionToken signs the session JWT issued after login.
func SessionToken(jwtSecret string, user *model.User, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"name":  user.Name,
		"exp":   time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
}

func bodyDigest(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// SignWebhook returns a signature for body, valid for ttl.
func SignWebhook(secret, body string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"body_sha256": bodyDigest(body),
		"iat":         time.Now().Unix(),
		"exp":         time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyWebhook checks the signature JWT of a webhook request against its body.
func VerifyWebhook(req events.APIGatewayProxyRequest, secret string) error {
	if secret == "" {
		return fmt.Errorf("webhook secret not configured: %w", model.ErrUnauthorized)
	}
	sig := header(req, SignatureHeader)
	if sig == "" {
		sig = strings.TrimPrefix(header(req, "Authorization"), "Bearer ")
	}
	if sig == "" {
		return fmt.Errorf("missing signature: %w", model.ErrUnauthorized)
	}
	claims, err := parseHS256(sig, secret)
	if err != nil {
		return fmt.Errorf("%v: %w", err, model.ErrUnauthorized)
	}
	if digest, _ := claims["body_sha256"].(string); digest != bodyDigest(req.Body) {
		return fmt.Errorf("body digest mismatch: %w", model.ErrUnauthorized)
	}
	return nil
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Failed to encode response"}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

func textResponse(status int, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: status, Body: body}
}
