package platform

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"
)

func init() {
	Register("telegram", func(settings Settings, logger *zap.Logger) (Backend, error) {
		return NewTelegramBackend(settings, logger)
	})
}

// TelegramBackend integrates with the Telegram Bot API via long polling.
// Message ids are composite "chatID/messageID". Bots cannot read arbitrary
// chat history, so Recent drains messages buffered by the long-poll loop.
type TelegramBackend struct {
	settings Settings
	bot      *tele.Bot
	logger   *zap.Logger

	mu    sync.Mutex
	inbox []*Message
}

// inboxCap bounds the buffered inbound messages between polls.
const inboxCap = 256

// NewTelegramBackend creates a Telegram backend from the "token" credential.
// Channels lists the chat ids (as decimal strings) it posts to.
func NewTelegramBackend(settings Settings, logger *zap.Logger) (*TelegramBackend, error) {
	if settings.Credential("token") == "" {
		return nil, fmt.Errorf("telegram: missing token credential")
	}
	return &TelegramBackend{settings: settings, logger: logger}, nil
}

func (b *TelegramBackend) Name() string { return "telegram" }

// Connect creates the bot (which validates the token against getMe) and
// starts the long-poll loop feeding the inbox.
func (b *TelegramBackend) Connect(_ context.Context) error {
	bot, err := tele.NewBot(tele.Settings{
		Token:  b.settings.Credential("token"),
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return fmt.Errorf("telegram bot: %w", err)
	}

	bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil {
			return nil
		}
		b.buffer(&Message{
			ID:        CompositeID(strconv.FormatInt(m.Chat.ID, 10), strconv.Itoa(m.ID)),
			Content:   m.Text,
			Timestamp: m.Time(),
			Platform:  "telegram",
			Metadata: map[string]any{
				"chat_id":   strconv.FormatInt(m.Chat.ID, 10),
				"author":    m.Sender.Username,
				"author_id": strconv.FormatInt(m.Sender.ID, 10),
			},
		})
		return nil
	})

	b.bot = bot
	go bot.Start()
	b.logger.Info("telegram connected", zap.String("user", bot.Me.Username))
	return nil
}

func (b *TelegramBackend) buffer(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.inbox) >= inboxCap {
		// Drop the oldest rather than grow without bound.
		b.inbox = b.inbox[1:]
	}
	b.inbox = append(b.inbox, msg)
}

// Disconnect stops the long-poll loop.
func (b *TelegramBackend) Disconnect(_ context.Context) error {
	if b.bot == nil {
		return nil
	}
	b.bot.Stop()
	b.bot = nil
	return nil
}

func (b *TelegramBackend) primaryChat(msg *Message) (int64, error) {
	raw := ""
	if msg != nil && msg.Metadata != nil {
		if ch, ok := msg.Metadata["chat_id"].(string); ok && ch != "" {
			raw = ch
		}
	}
	if raw == "" && len(b.settings.Channels) > 0 {
		raw = b.settings.Channels[0]
	}
	if raw == "" {
		return 0, fmt.Errorf("telegram: no chat configured")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: bad chat id %q: %w", raw, err)
	}
	return id, nil
}

// Send posts the message text to one chat.
func (b *TelegramBackend) Send(_ context.Context, msg *Message) error {
	if b.bot == nil {
		return fmt.Errorf("telegram: not connected")
	}
	chat, err := b.primaryChat(msg)
	if err != nil {
		return err
	}
	for _, path := range msg.Attachments {
		if _, err := b.bot.Send(tele.ChatID(chat), &tele.Document{
			File:     tele.FromDisk(path),
			FileName: path,
		}); err != nil {
			return fmt.Errorf("telegram attachment %s: %w", path, err)
		}
	}
	if _, err := b.bot.Send(tele.ChatID(chat), msg.Content); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// storedMessage converts a composite id into a telebot Editable.
func storedMessage(id string) (tele.StoredMessage, error) {
	chat, message, err := SplitID(id)
	if err != nil {
		return tele.StoredMessage{}, err
	}
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return tele.StoredMessage{}, fmt.Errorf("telegram: bad chat id %q: %w", chat, err)
	}
	return tele.StoredMessage{MessageID: message, ChatID: chatID}, nil
}

// Delete removes a message by its composite id.
func (b *TelegramBackend) Delete(_ context.Context, id string) error {
	if b.bot == nil {
		return fmt.Errorf("telegram: not connected")
	}
	stored, err := storedMessage(id)
	if err != nil {
		return err
	}
	if err := b.bot.Delete(stored); err != nil {
		return fmt.Errorf("telegram delete: %w", err)
	}
	return nil
}

// Edit replaces a message's text.
func (b *TelegramBackend) Edit(_ context.Context, id, newContent string) error {
	if b.bot == nil {
		return fmt.Errorf("telegram: not connected")
	}
	stored, err := storedMessage(id)
	if err != nil {
		return err
	}
	if _, err := b.bot.Edit(stored, newContent); err != nil {
		return fmt.Errorf("telegram edit: %w", err)
	}
	return nil
}

// React is not supported: the Bot API offers no reliable reaction primitive
// for arbitrary messages, so the outcome is an explicit failure.
func (b *TelegramBackend) React(_ context.Context, _, _ string) error {
	return fmt.Errorf("telegram: reactions not supported")
}

// Recent drains up to limit messages buffered by the long-poll loop.
func (b *TelegramBackend) Recent(_ context.Context, limit int) ([]*Message, error) {
	if b.bot == nil {
		return nil, fmt.Errorf("telegram: not connected")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.inbox)
	if n > limit {
		n = limit
	}
	out := make([]*Message, n)
	copy(out, b.inbox[:n])
	b.inbox = b.inbox[n:]
	return out, nil
}
