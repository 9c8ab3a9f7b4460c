// Package notify delivers markdown messages to users over Slack.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/fanout"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
	"github.com/slack-go/slack"
)

// Messenger sends one message to one messaging identity.
type Messenger interface {
	Send(ctx context.Context, slackUserID, markdown string) error
}

// SlackAPI is the subset of *slack.Client methods used by SlackMessenger.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackMessenger posts direct messages with a bot token.
type SlackMessenger struct {
	client SlackAPI
}

// NewSlackMessenger creates a SlackMessenger.
func NewSlackMessenger(client SlackAPI) *SlackMessenger {
	return &SlackMessenger{client: client}
}

func (m *SlackMessenger) Send(ctx context.Context, slackUserID, markdown string) error {
	// Posting to a user id opens the bot's DM with that user.
	_, _, err := m.client.PostMessageContext(ctx, slackUserID,
		slack.MsgOptionText(ToMrkdwn(markdown), false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return fmt.Errorf("slack post to %s: %w", slackUserID, err)
	}
	return nil
}

// LogMessenger writes messages to the log instead of sending them.
type LogMessenger struct {
	logger *slog.Logger
}

func NewLogMessenger(logger *slog.Logger) *LogMessenger {
	return &LogMessenger{logger: logger}
}

func (m *LogMessenger) Send(ctx context.Context, slackUserID, markdown string) error {
	m.logger.InfoContext(ctx, "notification", "slack_user_id", slackUserID, "text", ToMrkdwn(markdown))
	return nil
}

// Outcome reports a fan-out to several users.
type Outcome struct {
	Notified []string // user ids
	Skipped  []string // user ids without a messaging identity
	Failed   int
}

// NotifyUsers sends text to every user with a Slack identity, at most limit at a
// time. Users without one are skipped; send failures are logged and counted.
func NotifyUsers(ctx context.Context, m Messenger, logger *slog.Logger, limit int, users []model.User, text string) Outcome {
	var out Outcome
	var targets []model.User
	for _, u := range users {
		if u.SlackUserID == "" {
			out.Skipped = append(out.Skipped, u.ID)
			continue
		}
		targets = append(targets, u)
	}

	results, sum := fanout.Run(ctx, limit, targets, func(ctx context.Context, u model.User) error {
		return m.Send(ctx, u.SlackUserID, text)
	})
	for _, r := range results {
		if r.Err != nil {
			logger.ErrorContext(ctx, "failed to notify user", "user_id", r.Item.ID, "error", r.Err)
			continue
		}
		out.Notified = append(out.Notified, r.Item.ID)
	}
	out.Failed = sum.Failed
	return out
}
