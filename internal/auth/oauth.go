package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/crypto"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
	"golang.org/x/oauth2"
)

// ProviderGoogle is the provider name stored on Google grants.
const ProviderGoogle = "google"

// CalendarScopes are the scopes that cover calendar read/write, in order of preference.
var CalendarScopes = []string{
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/calendar.events",
}

// GrantsAPI is the subset of *dynamodb.Client methods used by CredentialService.
type GrantsAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// CredentialService handles the OAuth2 consent flow and hands out delegated
// credentials for a user. Grants live in DynamoDB (partition key user_id, sort key
// grant_id) with the refresh token encrypted under the user's KMS context.
type CredentialService struct {
	oauthConfig  *oauth2.Config
	dynamoClient GrantsAPI
	tableName    string
	kmsService   crypto.Encryptor

	// In-memory fallback
	grants map[string]map[string]model.DelegatedGrant
	mu     sync.RWMutex
}

// NewCredentialService creates a new CredentialService.
// A nil dynamoClient keeps grants in memory.
func NewCredentialService(oauthConfig *oauth2.Config, dynamoClient GrantsAPI, tableName string, kmsService crypto.Encryptor) *CredentialService {
	return &CredentialService{
		oauthConfig:  oauthConfig,
		dynamoClient: dynamoClient,
		tableName:    tableName,
		kmsService:   kmsService,
		grants:       make(map[string]map[string]model.DelegatedGrant),
	}
}

// Config returns the OAuth2 config.
func (s *CredentialService) Config() *oauth2.Config {
	return s.oauthConfig
}

// GenerateAuthURL returns the URL to redirect the user to for Google consent.
func (s *CredentialService) GenerateAuthURL(state string) string {
	return s.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode exchanges the authorization code for a token.
func (s *CredentialService) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return s.oauthConfig.Exchange(ctx, code)
}

// grantedScopes reads the scopes the provider actually granted, falling back to the
// scopes we asked for.
func (s *CredentialService) grantedScopes(token *oauth2.Token) []string {
	if raw, ok := token.Extra("scope").(string); ok && raw != "" {
		return strings.Fields(raw)
	}
	return append([]string(nil), s.oauthConfig.Scopes...)
}

// SaveGrant encrypts the refresh token and stores the grant for (userID, account).
// When the provider omits the refresh token on re-consent, the stored one is kept.
func (s *CredentialService) SaveGrant(ctx context.Context, userID, account string, token *oauth2.Token) (*model.DelegatedGrant, error) {
	grantID := ProviderGoogle + ":" + strings.ToLower(account)
	grant := model.DelegatedGrant{
		UserID:    userID,
		GrantID:   grantID,
		Provider:  ProviderGoogle,
		Scopes:    s.grantedScopes(token),
		UpdatedAt: time.Now().UTC(),
	}

	if token.RefreshToken != "" {
		encrypted, err := s.kmsService.Encrypt(ctx, userID, token.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		grant.EncryptedRefreshToken = encrypted
	} else {
		existing, err := s.ListGrants(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, g := range existing {
			if g.GrantID == grantID {
				grant.EncryptedRefreshToken = g.EncryptedRefreshToken
			}
		}
		if grant.EncryptedRefreshToken == "" {
			return nil, fmt.Errorf("no refresh token in response: %w", model.ErrCredential)
		}
	}

	if s.dynamoClient == nil {
		s.mu.Lock()
		if s.grants[userID] == nil {
			s.grants[userID] = make(map[string]model.DelegatedGrant)
		}
		s.grants[userID][grantID] = grant
		s.mu.Unlock()
		return &grant, nil
	}

	item, err := attributevalue.MarshalMap(grant)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal grant: %w", err)
	}
	_, err = s.dynamoClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save grant to DynamoDB: %w", err)
	}
	return &grant, nil
}

// ListGrants returns the user's grants ordered by grant id.
func (s *CredentialService) ListGrants(ctx context.Context, userID string) ([]model.DelegatedGrant, error) {
	var grants []model.DelegatedGrant

	if s.dynamoClient == nil {
		s.mu.RLock()
		for _, g := range s.grants[userID] {
			grants = append(grants, g)
		}
		s.mu.RUnlock()
	} else {
		p := dynamodb.NewQueryPaginator(s.dynamoClient, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("user_id = :uid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uid": &types.AttributeValueMemberS{Value: userID},
			},
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to query grants: %w", err)
			}
			var batch []model.DelegatedGrant
			if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
				return nil, fmt.Errorf("failed to unmarshal grants: %w", err)
			}
			grants = append(grants, batch...)
		}
	}

	sort.Slice(grants, func(i, j int) bool { return grants[i].GrantID < grants[j].GrantID })
	return grants, nil
}

// DeleteGrants removes every grant the user has stored.
func (s *CredentialService) DeleteGrants(ctx context.Context, userID string) error {
	if s.dynamoClient == nil {
		s.mu.Lock()
		delete(s.grants, userID)
		s.mu.Unlock()
		return nil
	}

	grants, err := s.ListGrants(ctx, userID)
	if err != nil {
		return err
	}
	for _, g := range grants {
		_, err := s.dynamoClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"user_id":  &types.AttributeValueMemberS{Value: userID},
				"grant_id": &types.AttributeValueMemberS{Value: g.GrantID},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete grant %s: %w", g.GrantID, err)
		}
	}
	return nil
}

// SelectGrant picks the grant whose scopes cover calendar access, falling back to
// the first grant when none declares it.
func SelectGrant(grants []model.DelegatedGrant) (*model.DelegatedGrant, error) {
	if len(grants) == 0 {
		return nil, model.ErrCredential
	}
	for _, scope := range CalendarScopes {
		for i := range grants {
			if grants[i].HasScope(scope) {
				return &grants[i], nil
			}
		}
	}
	return &grants[0], nil
}

// Client returns an authenticated http.Client for the user's calendar grant.
func (s *CredentialService) Client(ctx context.Context, userID string) (*http.Client, error) {
	grants, err := s.ListGrants(ctx, userID)
	if err != nil {
		return nil, err
	}
	grant, err := SelectGrant(grants)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}

	refreshToken, err := s.kmsService.Decrypt(ctx, userID, grant.EncryptedRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", errors.Join(model.ErrCredential, err))
	}

	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-1 * time.Hour), // Force refresh
	}

	tokenSource := s.oauthConfig.TokenSource(ctx, token)

	return oauth2.NewClient(ctx, tokenSource), nil
}
