package platform

import (
	"context"
	"time"
)

// PlatformMulti tags messages built by the broadcaster before fan-out,
// as opposed to messages observed on a concrete platform.
const PlatformMulti = "multi"

// Message is the normalized message format shared by every backend.
type Message struct {
	ID          string         `json:"id,omitempty"`
	Content     string         `json:"content"`
	Timestamp   time.Time      `json:"timestamp"`
	Platform    string         `json:"platform"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Attachments []string       `json:"attachments,omitempty"`
}

// Reaction is a normalized reaction observed on a message.
type Reaction struct {
	Type      string    `json:"type"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}

// Settings configures one backend instance. Credentials and Options carry
// platform-specific fields so the orchestrator never needs to know them.
type Settings struct {
	Credentials  map[string]string `json:"credentials"`
	Channels     []string          `json:"channels"`
	PollInterval time.Duration     `json:"-"`
	ErrorDelay   time.Duration     `json:"-"`
	Options      map[string]string `json:"options"`
}

// Credential returns a named credential or "" when unset.
func (s Settings) Credential(key string) string {
	return s.Credentials[key]
}

// Option returns a named option or the given fallback.
func (s Settings) Option(key, fallback string) string {
	if v, ok := s.Options[key]; ok {
		return v
	}
	return fallback
}

// Backend is the capability contract every platform integration satisfies.
//
// Every operation makes exactly one attempt against the remote service and
// reports failure through its error return; implementations never panic
// across this boundary and never retry internally. Disconnect is idempotent.
// Message identifiers are opaque to callers; composite ids (for services
// that address messages by channel + id) are the backend's own business.
type Backend interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, msg *Message) error
	Delete(ctx context.Context, id string) error
	Edit(ctx context.Context, id, newContent string) error
	React(ctx context.Context, id, reaction string) error

	// Recent returns up to limit recently observed messages, newest first
	// where the service allows it. An empty slice is a valid result.
	Recent(ctx context.Context, limit int) ([]*Message, error)
}
