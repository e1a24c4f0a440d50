package platform

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

func init() {
	Register("slack", func(settings Settings, logger *zap.Logger) (Backend, error) {
		return NewSlackBackend(settings, logger)
	})
}

// SlackBackend integrates with Slack through the Web API.
// Message ids are composite "channelID/timestamp".
type SlackBackend struct {
	settings Settings
	client   *slack.Client
	logger   *zap.Logger
}

// NewSlackBackend creates a Slack backend from the "bot_token" credential
// (xoxb-...). Channels lists the conversation ids it posts to and reads from.
func NewSlackBackend(settings Settings, logger *zap.Logger) (*SlackBackend, error) {
	if settings.Credential("bot_token") == "" {
		return nil, fmt.Errorf("slack: missing bot_token credential")
	}
	return &SlackBackend{settings: settings, logger: logger}, nil
}

func (b *SlackBackend) Name() string { return "slack" }

// Connect verifies the token against auth.test.
func (b *SlackBackend) Connect(ctx context.Context) error {
	client := slack.New(b.settings.Credential("bot_token"))
	resp, err := client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	b.client = client
	b.logger.Info("slack connected",
		zap.String("user", resp.User),
		zap.String("team", resp.Team))
	return nil
}

// Disconnect drops the client. The Web API is stateless, so there is no
// session to tear down.
func (b *SlackBackend) Disconnect(_ context.Context) error {
	b.client = nil
	return nil
}

func (b *SlackBackend) primaryChannel(msg *Message) (string, error) {
	if msg != nil && msg.Metadata != nil {
		if ch, ok := msg.Metadata["channel_id"].(string); ok && ch != "" {
			return ch, nil
		}
	}
	if len(b.settings.Channels) > 0 {
		return b.settings.Channels[0], nil
	}
	return "", fmt.Errorf("slack: no channel configured")
}

// Send posts the message to one Slack conversation.
func (b *SlackBackend) Send(ctx context.Context, msg *Message) error {
	if b.client == nil {
		return fmt.Errorf("slack: not connected")
	}
	channel, err := b.primaryChannel(msg)
	if err != nil {
		return err
	}
	if len(msg.Attachments) > 0 {
		b.logger.Warn("slack: dropping file attachments, text only",
			zap.Int("count", len(msg.Attachments)))
	}
	if _, _, err := b.client.PostMessageContext(ctx, channel,
		slack.MsgOptionText(msg.Content, false)); err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// Delete removes a message by its composite id.
func (b *SlackBackend) Delete(ctx context.Context, id string) error {
	if b.client == nil {
		return fmt.Errorf("slack: not connected")
	}
	channel, ts, err := SplitID(id)
	if err != nil {
		return err
	}
	if _, _, err := b.client.DeleteMessageContext(ctx, channel, ts); err != nil {
		return fmt.Errorf("slack delete: %w", err)
	}
	return nil
}

// Edit replaces a message's text.
func (b *SlackBackend) Edit(ctx context.Context, id, newContent string) error {
	if b.client == nil {
		return fmt.Errorf("slack: not connected")
	}
	channel, ts, err := SplitID(id)
	if err != nil {
		return err
	}
	if _, _, _, err := b.client.UpdateMessageContext(ctx, channel, ts,
		slack.MsgOptionText(newContent, false)); err != nil {
		return fmt.Errorf("slack edit: %w", err)
	}
	return nil
}

// React adds an emoji reaction (by name, without colons) to a message.
func (b *SlackBackend) React(ctx context.Context, id, reaction string) error {
	if b.client == nil {
		return fmt.Errorf("slack: not connected")
	}
	channel, ts, err := SplitID(id)
	if err != nil {
		return err
	}
	if err := b.client.AddReactionContext(ctx, reaction,
		slack.NewRefToMessage(channel, ts)); err != nil {
		return fmt.Errorf("slack react: %w", err)
	}
	return nil
}

// Recent fetches conversation history from every configured channel.
func (b *SlackBackend) Recent(ctx context.Context, limit int) ([]*Message, error) {
	if b.client == nil {
		return nil, fmt.Errorf("slack: not connected")
	}

	var out []*Message
	for _, channel := range b.settings.Channels {
		resp, err := b.client.GetConversationHistoryContext(ctx,
			&slack.GetConversationHistoryParameters{
				ChannelID: channel,
				Limit:     limit,
			})
		if err != nil {
			return nil, fmt.Errorf("slack history %s: %w", channel, err)
		}
		for _, m := range resp.Messages {
			out = append(out, &Message{
				ID:        CompositeID(channel, m.Timestamp),
				Content:   m.Text,
				Timestamp: slackTime(m.Timestamp),
				Platform:  "slack",
				Metadata: map[string]any{
					"channel_id": channel,
					"author_id":  m.User,
				},
			})
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// slackTime converts a Slack "seconds.micros" timestamp string.
func slackTime(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
