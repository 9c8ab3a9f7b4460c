// Package transcript fetches meeting transcripts and imports them as meetings.
package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
)

const firefliesURL = "https://api.fireflies.ai/graphql"

const transcriptQuery = `query Transcript($transcriptId: String!) {
  transcript(id: $transcriptId) {
    id
    title
    date
    duration
    participants
    sentences { index speaker_name start_time end_time text }
  }
}`

// Source returns a transcript as an unsaved meeting (no ID, no project).
type Source interface {
	Fetch(ctx context.Context, externalID string) (*model.Meeting, error)
}

// FirefliesClient implements Source with the Fireflies GraphQL API.
type FirefliesClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type firefliesSentence struct {
	Index       int     `json:"index"`
	SpeakerName string  `json:"speaker_name"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Text        string  `json:"text"`
}

type firefliesTranscript struct {
	ID           string              `json:"id"`
	Title        string              `json:"title"`
	Date         float64             `json:"date"` // epoch milliseconds
	Duration     float64             `json:"duration"`
	Participants []string            `json:"participants"`
	Sentences    []firefliesSentence `json:"sentences"`
}

type transcriptResponse struct {
	Data struct {
		Transcript *firefliesTranscript `json:"transcript"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

// NewFirefliesClient creates a new Fireflies client.
func NewFirefliesClient(apiKey string) *FirefliesClient {
	return &FirefliesClient{
		apiKey:  apiKey,
		baseURL: firefliesURL,
		client:  &http.Client{},
	}
}

// WithBaseURL points the client at another endpoint.
func (c *FirefliesClient) WithBaseURL(u string) *FirefliesClient {
	c.baseURL = u
	return c
}

func (c *FirefliesClient) Fetch(ctx context.Context, externalID string) (*model.Meeting, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("FIREFLIES_API_KEY not set")
	}

	body, err := json.Marshal(graphqlRequest{
		Query:     transcriptQuery,
		Variables: map[string]any{"transcriptId": externalID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fireflies request: %w", errors.Join(model.ErrProvider, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fireflies API error (%d): %s: %w", resp.StatusCode, string(respBody), model.ErrProvider)
	}

	var out transcriptResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", errors.Join(model.ErrParse, err))
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("fireflies: %s: %w", out.Errors[0].Message, model.ErrProvider)
	}
	if out.Data.Transcript == nil {
		return nil, fmt.Errorf("transcript %s: %w", externalID, model.ErrNotFound)
	}
	return toMeeting(externalID, out.Data.Transcript), nil
}

func toMeeting(externalID string, t *firefliesTranscript) *model.Meeting {
	m := &model.Meeting{
		ExternalID:   externalID,
		Title:        t.Title,
		DurationMin:  t.Duration,
		Participants: t.Participants,
	}
	if t.Date > 0 {
		m.Date = time.UnixMilli(int64(t.Date)).UTC()
	}
	for _, s := range t.Sentences {
		m.Sentences = append(m.Sentences, model.Sentence{
			Index:    s.Index,
			Speaker:  s.SpeakerName,
			StartSec: s.StartTime,
			EndSec:   s.EndTime,
			Text:     s.Text,
		})
	}
	return m
}
