package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const pageSize = 250

// GoogleCalendar implements Provider for Google Calendar.
type GoogleCalendar struct {
	service *gcal.Service
}

// NewGoogleCalendar creates a GoogleCalendar.
// client should be an authenticated http.Client with the user's credentials.
func NewGoogleCalendar(ctx context.Context, client *http.Client, opts ...option.ClientOption) (*GoogleCalendar, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	srv, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar client: %w", err)
	}
	return &GoogleCalendar{service: srv}, nil
}

// classify maps provider failures onto the error taxonomy.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusGone {
		return fmt.Errorf("%s: %w", op, model.ErrTokenExpired)
	}
	return fmt.Errorf("%s: %w", op, errors.Join(model.ErrProvider, err))
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone)
}

func (g *GoogleCalendar) Watch(ctx context.Context, req WatchRequest) (*WatchResult, error) {
	ch := &gcal.Channel{
		Id:      req.ChannelID,
		Type:    "web_hook",
		Address: req.Address,
		Token:   req.Token,
	}
	if req.TTL > 0 {
		ch.Params = map[string]string{"ttl": strconv.FormatInt(int64(req.TTL.Seconds()), 10)}
	}

	res, err := g.service.Events.Watch(req.CalendarID, ch).Context(ctx).Do()
	if err != nil {
		return nil, classify("unable to watch calendar", err)
	}

	return &WatchResult{
		ChannelID:   res.Id,
		ResourceID:  res.ResourceId,
		ResourceURI: res.ResourceUri,
		Expiration:  expirationTime(res.Expiration),
	}, nil
}

// expirationTime converts a channel expiration in epoch milliseconds. An absent
// expiration is the zero time.
func expirationTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (g *GoogleCalendar) Stop(ctx context.Context, channelID, resourceID string) error {
	err := g.service.Channels.Stop(&gcal.Channel{Id: channelID, ResourceId: resourceID}).Context(ctx).Do()
	if err != nil {
		if isGone(err) {
			return nil
		}
		return classify("unable to stop channel", err)
	}
	return nil
}

func (g *GoogleCalendar) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	call := g.service.Events.List(q.CalendarID).
		ShowDeleted(true).
		MaxResults(pageSize)
	if q.SyncToken != "" {
		call = call.SyncToken(q.SyncToken)
	} else if !q.UpdatedMin.IsZero() {
		call = call.UpdatedMin(q.UpdatedMin.UTC().Format(time.RFC3339))
	}

	result := &ListResult{}
	err := call.Pages(ctx, func(page *gcal.Events) error {
		loc := loadLocation(page.TimeZone)
		for _, item := range page.Items {
			result.Events = append(result.Events, toEvent(item, loc))
		}
		if page.NextSyncToken != "" {
			result.NextSyncToken = page.NextSyncToken
		}
		return nil
	})
	if err != nil {
		return nil, classify("unable to list events", err)
	}
	return result, nil
}

func (g *GoogleCalendar) SeedSyncToken(ctx context.Context, calendarID string) (string, error) {
	var token string
	err := g.service.Events.List(calendarID).
		ShowDeleted(true).
		MaxResults(pageSize).
		Fields("nextPageToken", "nextSyncToken").
		Pages(ctx, func(page *gcal.Events) error {
			if page.NextSyncToken != "" {
				token = page.NextSyncToken
			}
			return nil
		})
	if err != nil {
		return "", classify("unable to seed sync token", err)
	}
	if token == "" {
		return "", fmt.Errorf("provider returned no sync token: %w", model.ErrProvider)
	}
	return token, nil
}

// GoogleProvider implements ProviderFactory on top of per-user OAuth clients.
type GoogleProvider struct {
	credentials CredentialSource
	opts        []option.ClientOption
}

// NewGoogleProvider creates a new Google Calendar provider factory.
func NewGoogleProvider(credentials CredentialSource, opts ...option.ClientOption) *GoogleProvider {
	return &GoogleProvider{credentials: credentials, opts: opts}
}

// ForUser returns a GoogleCalendar for the given user ID.
func (p *GoogleProvider) ForUser(ctx context.Context, userID string) (Provider, error) {
	client, err := p.credentials.Client(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client: %w", err)
	}
	return NewGoogleCalendar(ctx, client, p.opts...)
}
