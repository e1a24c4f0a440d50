package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/seryn/herald/internal/platform"
	"go.uber.org/zap"
)

// Feed publishes observed messages onto per-platform Redis Streams so
// downstream consumers can process them without talking to the platforms
// themselves.
type Feed struct {
	rdb    *redis.Client
	logger *zap.Logger
}

const streamPrefix = "herald:feed:"

// NewFeed creates a Redis-backed feed and verifies connectivity.
func NewFeed(redisURL string, logger *zap.Logger) (*Feed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Feed{rdb: rdb, logger: logger}, nil
}

// Publish appends a message to its platform's stream.
func (f *Feed) Publish(ctx context.Context, msg *platform.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	stream := streamPrefix + msg.Platform
	_, err = f.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	f.logger.Debug("message published",
		zap.String("platform", msg.Platform),
		zap.String("id", msg.ID))
	return nil
}

// Subscribe emits messages observed on one platform's stream, starting from
// new entries. Cancel the context to stop; the channel closes on return.
func (f *Feed) Subscribe(ctx context.Context, platformName string) <-chan *platform.Message {
	ch := make(chan *platform.Message, 16)
	stream := streamPrefix + platformName

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := f.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()
			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, entry := range r.Messages {
					lastID = entry.ID
					data, ok := entry.Values["data"].(string)
					if !ok {
						continue
					}
					var m platform.Message
					if json.Unmarshal([]byte(data), &m) == nil {
						ch <- &m
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (f *Feed) Close() error {
	return f.rdb.Close()
}
