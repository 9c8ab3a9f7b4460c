package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/crypto"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
	"golang.org/x/oauth2"
)

func testCredentialService() *CredentialService {
	return NewCredentialService(
		&oauth2.Config{
			ClientID:     "test-client-id",
			ClientSecret: "test-client-secret",
			RedirectURL:  "http://localhost:8080/auth/callback",
			Scopes:       []string{"openid", "email"},
		},
		nil, // No DynamoDB client, uses in-memory fallback
		"test-grants-table",
		crypto.NewMockEncryptor(),
	)
}

func tokenWithScope(refresh, scope string) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: refresh,
		Expiry:       time.Now().Add(time.Hour),
	}
	return tok.WithExtra(map[string]interface{}{"scope": scope})
}

func TestCredentialService_SaveAndListGrants(t *testing.T) {
	s := testCredentialService()
	ctx := context.Background()

	grant, err := s.SaveGrant(ctx, "user1", "Me@Example.com", tokenWithScope("refresh-456", "openid https://www.googleapis.com/auth/calendar"))
	if err != nil {
		t.Fatalf("SaveGrant failed: %v", err)
	}
	if grant.GrantID != "google:me@example.com" {
		t.Errorf("GrantID = %q", grant.GrantID)
	}
	if grant.EncryptedRefreshToken != "mock:user1:refresh-456" {
		t.Errorf("EncryptedRefreshToken = %q", grant.EncryptedRefreshToken)
	}
	if !grant.HasScope("https://www.googleapis.com/auth/calendar") {
		t.Errorf("Scopes = %v", grant.Scopes)
	}

	grants, _ := s.ListGrants(ctx, "user1")
	if len(grants) != 1 {
		t.Fatalf("ListGrants = %d, want 1", len(grants))
	}
}

func TestCredentialService_SaveGrant_KeepsRefreshToken(t *testing.T) {
	s := testCredentialService()
	ctx := context.Background()

	s.SaveGrant(ctx, "user1", "me@example.com", tokenWithScope("refresh-1", "openid"))
	grant, err := s.SaveGrant(ctx, "user1", "me@example.com", tokenWithScope("", "openid https://www.googleapis.com/auth/calendar"))
	if err != nil {
		t.Fatalf("SaveGrant without refresh token failed: %v", err)
	}
	if grant.EncryptedRefreshToken != "mock:user1:refresh-1" {
		t.Errorf("expected stored refresh token to be kept, got %q", grant.EncryptedRefreshToken)
	}
}

func TestCredentialService_SaveGrant_NoRefreshToken(t *testing.T) {
	s := testCredentialService()
	_, err := s.SaveGrant(context.Background(), "user1", "me@example.com", tokenWithScope("", "openid"))
	if !errors.Is(err, model.ErrCredential) {
		t.Errorf("expected ErrCredential, got %v", err)
	}
}

func TestCredentialService_SaveGrant_DefaultsToRequestedScopes(t *testing.T) {
	s := testCredentialService()
	grant, err := s.SaveGrant(context.Background(), "user1", "me@example.com", &oauth2.Token{RefreshToken: "r"})
	if err != nil {
		t.Fatalf("SaveGrant failed: %v", err)
	}
	if strings.Join(grant.Scopes, " ") != "openid email" {
		t.Errorf("Scopes = %v", grant.Scopes)
	}
}

func TestSelectGrant(t *testing.T) {
	calendar := model.DelegatedGrant{GrantID: "google:b", Scopes: []string{"https://www.googleapis.com/auth/calendar"}}
	events := model.DelegatedGrant{GrantID: "google:c", Scopes: []string{"https://www.googleapis.com/auth/calendar.events"}}
	plain := model.DelegatedGrant{GrantID: "google:a", Scopes: []string{"openid"}}

	tests := []struct {
		name    string
		grants  []model.DelegatedGrant
		want    string
		wantErr bool
	}{
		{"none", nil, "", true},
		{"calendar scope wins", []model.DelegatedGrant{plain, events, calendar}, "google:b", false},
		{"events scope", []model.DelegatedGrant{plain, events}, "google:c", false},
		{"falls back to first", []model.DelegatedGrant{plain}, "google:a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := SelectGrant(tt.grants)
			if tt.wantErr {
				if !errors.Is(err, model.ErrCredential) {
					t.Errorf("expected ErrCredential, got %v", err)
				}
				return
			}
			if err != nil || g.GrantID != tt.want {
				t.Errorf("SelectGrant = %v, %v; want %s", g, err, tt.want)
			}
		})
	}
}

func TestCredentialService_Client_NoGrant(t *testing.T) {
	s := testCredentialService()
	if _, err := s.Client(context.Background(), "nobody"); !errors.Is(err, model.ErrCredential) {
		t.Errorf("expected ErrCredential, got %v", err)
	}
}

func TestCredentialService_Client(t *testing.T) {
	s := testCredentialService()
	ctx := context.Background()
	s.SaveGrant(ctx, "user1", "me@example.com", tokenWithScope("refresh", "https://www.googleapis.com/auth/calendar"))

	c, err := s.Client(ctx, "user1")
	if err != nil {
		t.Fatalf("Client failed: %v", err)
	}
	if c == nil {
		t.Fatal("expected http client")
	}
}

func TestCredentialService_DeleteGrants(t *testing.T) {
	s := testCredentialService()
	ctx := context.Background()
	s.SaveGrant(ctx, "user1", "me@example.com", tokenWithScope("refresh", "openid"))

	if err := s.DeleteGrants(ctx, "user1"); err != nil {
		t.Fatalf("DeleteGrants failed: %v", err)
	}
	grants, _ := s.ListGrants(ctx, "user1")
	if len(grants) != 0 {
		t.Errorf("expected no grants, got %d", len(grants))
	}
}

func TestGenerateAuthURL(t *testing.T) {
	s := testCredentialService()
	u := s.GenerateAuthURL("state-xyz")
	if !strings.Contains(u, "state=state-xyz") || !strings.Contains(u, "access_type=offline") {
		t.Errorf("GenerateAuthURL = %q", u)
	}
}
