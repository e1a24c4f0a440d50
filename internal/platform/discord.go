package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func init() {
	Register("discord", func(settings Settings, logger *zap.Logger) (Backend, error) {
		return NewDiscordBackend(settings, logger)
	})
}

// DiscordBackend integrates with Discord through the bot gateway.
// Message ids are composite "channelID/messageID".
type DiscordBackend struct {
	settings Settings
	session  *discordgo.Session
	logger   *zap.Logger
}

// NewDiscordBackend creates a Discord backend. The bot token comes from the
// "token" credential; Channels lists the channel ids the backend posts to
// and reads from.
func NewDiscordBackend(settings Settings, logger *zap.Logger) (*DiscordBackend, error) {
	if settings.Credential("token") == "" {
		return nil, fmt.Errorf("discord: missing token credential")
	}
	return &DiscordBackend{settings: settings, logger: logger}, nil
}

func (b *DiscordBackend) Name() string { return "discord" }

// Connect opens the Discord gateway websocket.
func (b *DiscordBackend) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + b.settings.Credential("token"))
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	b.session = session

	guilds := len(session.State.Guilds)
	if guilds == 0 {
		b.logger.Warn("discord bot not added to any server — invite it first")
	}
	b.logger.Info("discord connected",
		zap.String("user", session.State.User.Username),
		zap.Int("guilds", guilds))
	return nil
}

// Disconnect closes the gateway session. Safe to call when never connected.
func (b *DiscordBackend) Disconnect(_ context.Context) error {
	if b.session == nil {
		return nil
	}
	err := b.session.Close()
	b.session = nil
	return err
}

// primaryChannel resolves the channel a message should be posted to:
// metadata routing first, then the first configured channel.
func (b *DiscordBackend) primaryChannel(msg *Message) (string, error) {
	if msg != nil && msg.Metadata != nil {
		if ch, ok := msg.Metadata["channel_id"].(string); ok && ch != "" {
			return ch, nil
		}
	}
	if len(b.settings.Channels) > 0 {
		return b.settings.Channels[0], nil
	}
	return "", fmt.Errorf("discord: no channel configured")
}

// Send posts the message to one Discord channel, uploading attachments first.
func (b *DiscordBackend) Send(_ context.Context, msg *Message) error {
	if b.session == nil {
		return fmt.Errorf("discord: not connected")
	}
	channel, err := b.primaryChannel(msg)
	if err != nil {
		return err
	}

	for _, path := range msg.Attachments {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("discord attachment %s: %w", path, err)
		}
		_, err = b.session.ChannelFileSend(channel, filepath.Base(path), f)
		f.Close()
		if err != nil {
			return fmt.Errorf("discord upload %s: %w", path, err)
		}
	}

	if _, err := b.session.ChannelMessageSend(channel, msg.Content); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Delete removes a message by its composite id.
func (b *DiscordBackend) Delete(_ context.Context, id string) error {
	if b.session == nil {
		return fmt.Errorf("discord: not connected")
	}
	channel, message, err := SplitID(id)
	if err != nil {
		return err
	}
	if err := b.session.ChannelMessageDelete(channel, message); err != nil {
		return fmt.Errorf("discord delete: %w", err)
	}
	return nil
}

// Edit replaces a message's content.
func (b *DiscordBackend) Edit(_ context.Context, id, newContent string) error {
	if b.session == nil {
		return fmt.Errorf("discord: not connected")
	}
	channel, message, err := SplitID(id)
	if err != nil {
		return err
	}
	if _, err := b.session.ChannelMessageEdit(channel, message, newContent); err != nil {
		return fmt.Errorf("discord edit: %w", err)
	}
	return nil
}

// React adds an emoji reaction to a message.
func (b *DiscordBackend) React(_ context.Context, id, reaction string) error {
	if b.session == nil {
		return fmt.Errorf("discord: not connected")
	}
	channel, message, err := SplitID(id)
	if err != nil {
		return err
	}
	if err := b.session.MessageReactionAdd(channel, message, reaction); err != nil {
		return fmt.Errorf("discord react: %w", err)
	}
	return nil
}

// Recent fetches the latest messages from every configured channel.
func (b *DiscordBackend) Recent(_ context.Context, limit int) ([]*Message, error) {
	if b.session == nil {
		return nil, fmt.Errorf("discord: not connected")
	}

	var out []*Message
	for _, channel := range b.settings.Channels {
		msgs, err := b.session.ChannelMessages(channel, limit, "", "", "")
		if err != nil {
			return nil, fmt.Errorf("discord history %s: %w", channel, err)
		}
		for _, m := range msgs {
			out = append(out, &Message{
				ID:        CompositeID(m.ChannelID, m.ID),
				Content:   m.Content,
				Timestamp: m.Timestamp,
				Platform:  "discord",
				Metadata: map[string]any{
					"channel_id": m.ChannelID,
					"author":     m.Author.Username,
					"author_id":  m.Author.ID,
				},
			})
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
