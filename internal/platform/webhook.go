package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func init() {
	Register("webhook", func(settings Settings, logger *zap.Logger) (Backend, error) {
		return NewWebhookBackend(settings, logger)
	})
}

// WebhookBackend integrates plain HTTP services: outbound messages are
// POSTed as JSON to a configured URL, inbound messages arrive on the
// backend's own routes (mounted by the API server) and are buffered until
// the next poll.
type WebhookBackend struct {
	settings Settings
	client   *http.Client
	logger   *zap.Logger

	mu    sync.Mutex
	inbox []*Message
}

// NewWebhookBackend creates a webhook backend. The "outbound_url" option is
// required for sends; a backend without it is receive-only.
func NewWebhookBackend(settings Settings, logger *zap.Logger) (*WebhookBackend, error) {
	return &WebhookBackend{
		settings: settings,
		logger:   logger,
	}, nil
}

func (b *WebhookBackend) Name() string { return "webhook" }

// Connect prepares the HTTP client. Nothing to dial until the first send.
func (b *WebhookBackend) Connect(_ context.Context) error {
	b.client = &http.Client{Timeout: 15 * time.Second}
	return nil
}

// Disconnect drops the client.
func (b *WebhookBackend) Disconnect(_ context.Context) error {
	b.client = nil
	return nil
}

// Send POSTs the message as JSON to the configured outbound URL.
func (b *WebhookBackend) Send(ctx context.Context, msg *Message) error {
	if b.client == nil {
		return fmt.Errorf("webhook: not connected")
	}
	url := b.settings.Option("outbound_url", "")
	if url == "" {
		return fmt.Errorf("webhook: no outbound_url configured")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook send: status %d", resp.StatusCode)
	}
	return nil
}

func (b *WebhookBackend) Delete(_ context.Context, _ string) error {
	return fmt.Errorf("webhook: delete not supported")
}

func (b *WebhookBackend) Edit(_ context.Context, _, _ string) error {
	return fmt.Errorf("webhook: edit not supported")
}

func (b *WebhookBackend) React(_ context.Context, _, _ string) error {
	return fmt.Errorf("webhook: reactions not supported")
}

// Recent drains buffered inbound messages.
func (b *WebhookBackend) Recent(_ context.Context, limit int) ([]*Message, error) {
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

// Routes returns the inbound ingestion endpoints for mounting under the
// admin API.
func (b *WebhookBackend) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/message", b.handleInbound)
	return r
}

func (b *WebhookBackend) handleInbound(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		UserName string `json:"user_name"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, `{"error":"content is required"}`, http.StatusBadRequest)
		return
	}

	msg := &Message{
		ID:        uuid.New().String(),
		Content:   req.Content,
		Timestamp: time.Now(),
		Platform:  "webhook",
		Metadata: map[string]any{
			"author":    req.UserName,
			"author_id": req.UserID,
		},
	}

	b.mu.Lock()
	if len(b.inbox) >= inboxCap {
		b.inbox = b.inbox[1:]
	}
	b.inbox = append(b.inbox, msg)
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": msg.ID})
}
