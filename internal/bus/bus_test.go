package bus

import (
	"context"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/seryn/herald/internal/platform"
)

func startFeed(t *testing.T) *Feed {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	feed, err := NewFeed(url, zap.NewNop())
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	t.Cleanup(func() { feed.Close() })
	return feed
}

func TestPublishSubscribe(t *testing.T) {
	feed := startFeed(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ch := feed.Subscribe(ctx, "discord")

	// Give the subscriber a moment to reach the stream before publishing;
	// it reads from "$" and only sees entries added after that.
	time.Sleep(500 * time.Millisecond)

	sent := &platform.Message{
		ID:        "C1/7",
		Platform:  "discord",
		Content:   "over the wire",
		Timestamp: time.Now().UTC(),
	}
	if err := feed.Publish(ctx, sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.ID != sent.ID || got.Content != sent.Content {
			t.Errorf("round trip mismatch: %+v", got)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("message never arrived on the stream")
	}
}

func TestSubscribeStopsOnCancel(t *testing.T) {
	feed := startFeed(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch := feed.Subscribe(ctx, "slack")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel, got a message")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("subscriber did not stop after cancellation")
	}
}
