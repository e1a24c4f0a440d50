package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seryn/herald/internal/platform"
)

// BroadcastRecord is one archived broadcast attempt with its per-platform
// outcomes.
type BroadcastRecord struct {
	ID       string          `json:"id"`
	Template string          `json:"template"`
	Content  string          `json:"content"`
	Results  map[string]bool `json:"results"`
	SentAt   time.Time       `json:"sent_at"`
}

// RecordBroadcast archives a broadcast and its outcome map.
func (s *Store) RecordBroadcast(ctx context.Context, rec *BroadcastRecord) error {
	results, err := json.Marshal(rec.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO broadcasts (id, template, content, results, sent_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.Template, rec.Content, results, rec.SentAt,
	)
	if err != nil {
		return fmt.Errorf("record broadcast %s: %w", rec.ID, err)
	}
	return nil
}

// RecentBroadcasts returns the latest archived broadcasts, newest first.
func (s *Store) RecentBroadcasts(ctx context.Context, limit int) ([]*BroadcastRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, template, content, results, sent_at
		FROM broadcasts
		ORDER BY sent_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list broadcasts: %w", err)
	}
	defer rows.Close()

	var out []*BroadcastRecord
	for rows.Next() {
		var rec BroadcastRecord
		var results []byte
		if err := rows.Scan(&rec.ID, &rec.Template, &rec.Content, &results, &rec.SentAt); err != nil {
			return nil, fmt.Errorf("scan broadcast: %w", err)
		}
		if err := json.Unmarshal(results, &rec.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// RecordMessage archives one observed message.
func (s *Store) RecordMessage(ctx context.Context, msg *platform.Message) error {
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO messages (id, remote_id, platform, content, metadata, observed_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		ON CONFLICT (platform, remote_id) DO NOTHING`,
		msg.ID, msg.Platform, msg.Content, metadata, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record message %s: %w", msg.ID, err)
	}
	return nil
}

// RecentMessages returns the latest observed messages for one platform,
// or for all platforms when platformName is empty.
func (s *Store) RecentMessages(ctx context.Context, platformName string, limit int) ([]*platform.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT remote_id, platform, content, metadata, observed_at
		FROM messages
		WHERE $1 = '' OR platform = $1
		ORDER BY observed_at DESC
		LIMIT $2`, platformName, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*platform.Message
	for rows.Next() {
		var m platform.Message
		var metadata []byte
		if err := rows.Scan(&m.ID, &m.Platform, &m.Content, &metadata, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
