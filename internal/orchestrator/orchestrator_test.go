package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seryn/herald/internal/platform"
	"github.com/seryn/herald/internal/template"
	"go.uber.org/zap"
)

// fakeBackend is a scriptable in-memory platform for orchestrator tests.
type fakeBackend struct {
	name string

	mu          sync.Mutex
	sent        []*platform.Message
	reacted     []string
	deleted     []string
	disconnects int

	sendErr    error
	sendPanic  bool
	reactErr   error
	deleteErr  error
	discErr    error
	recentErr  error
	recentOnce atomic.Bool // when set, recentErr fires on the first call only
	recent     []*platform.Message
	polls      atomic.Int64
}

func (f *fakeBackend) Name() string                        { return f.name }
func (f *fakeBackend) Connect(context.Context) error       { return nil }
func (f *fakeBackend) Disconnect(context.Context) error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return f.discErr
}

func (f *fakeBackend) Send(_ context.Context, msg *platform.Message) error {
	if f.sendPanic {
		panic("backend blew up")
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Delete(_ context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Edit(context.Context, string, string) error { return nil }

func (f *fakeBackend) React(_ context.Context, id, reaction string) error {
	if f.reactErr != nil {
		return f.reactErr
	}
	f.mu.Lock()
	f.reacted = append(f.reacted, id+":"+reaction)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Recent(context.Context, int) ([]*platform.Message, error) {
	f.polls.Add(1)
	if f.recentErr != nil && f.recentOnce.CompareAndSwap(false, true) {
		return nil, f.recentErr
	}
	return f.recent, nil
}

func (f *fakeBackend) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// allowAll is a limiter that admits everything.
type allowAll struct{}

func (allowAll) Allow() bool { return true }

// denyAll rejects everything.
type denyAll struct{}

func (denyAll) Allow() bool { return false }

func newTestStore(t *testing.T) *template.Store {
	t.Helper()
	s := template.NewStore(filepath.Join(t.TempDir(), "templates.json"), zap.NewNop())
	if err := s.Load(); err != nil {
		t.Fatalf("load templates: %v", err)
	}
	return s
}

// newTestOrchestrator wires an orchestrator with the given fakes active.
func newTestOrchestrator(t *testing.T, limiter Limiter, fakes ...*fakeBackend) *Orchestrator {
	t.Helper()
	reg := platform.NewRegistry()
	configs := make(map[string]platform.Settings, len(fakes))
	for _, f := range fakes {
		f := f
		reg.Register(f.name, func(platform.Settings, *zap.Logger) (platform.Backend, error) {
			return f, nil
		})
		configs[f.name] = platform.Settings{
			PollInterval: 10 * time.Millisecond,
			ErrorDelay:   30 * time.Millisecond,
		}
	}

	o := New(reg, newTestStore(t), limiter, nil, zap.NewNop())
	o.Initialize(context.Background(), configs)
	return o
}

func TestBroadcastUnknownTemplate(t *testing.T) {
	f := &fakeBackend{name: "alpha"}
	o := newTestOrchestrator(t, allowAll{}, f)

	results := o.Broadcast(context.Background(), "no-such-template", nil, nil)
	if len(results) != 0 {
		t.Fatalf("want empty result map, got %v", results)
	}
	if f.sentCount() != 0 {
		t.Fatalf("no backend call expected, got %d", f.sentCount())
	}
}

func TestBroadcastMissingParameterAborts(t *testing.T) {
	f := &fakeBackend{name: "alpha"}
	o := newTestOrchestrator(t, allowAll{}, f)
	o.templates.Put(template.Template{Name: "param", Content: "hello {who}"})

	results := o.Broadcast(context.Background(), "param", nil, nil)
	if len(results) != 0 {
		t.Fatalf("want empty result map, got %v", results)
	}
	if f.sentCount() != 0 {
		t.Fatalf("no backend call expected, got %d", f.sentCount())
	}
}

func TestBroadcastToAllActive(t *testing.T) {
	a := &fakeBackend{name: "alpha"}
	b := &fakeBackend{name: "beta"}
	o := newTestOrchestrator(t, allowAll{}, a, b)

	results := o.Broadcast(context.Background(), "emergence", nil, nil)
	if len(results) != 2 || !results["alpha"] || !results["beta"] {
		t.Fatalf("got %v", results)
	}
	if a.sentCount() != 1 || b.sentCount() != 1 {
		t.Fatalf("each backend should receive exactly one send")
	}

	msg := a.sent[0]
	if msg.Platform != platform.PlatformMulti {
		t.Errorf("platform tag = %q, want multi", msg.Platform)
	}
	if msg.Metadata["template"] != "emergence" {
		t.Errorf("metadata template = %v", msg.Metadata["template"])
	}
	if msg.Timestamp.IsZero() {
		t.Error("timestamp not assigned")
	}
}

func TestBroadcastFailureIsolation(t *testing.T) {
	good := &fakeBackend{name: "alpha"}
	bad := &fakeBackend{name: "beta", sendErr: errors.New("boom")}
	panicky := &fakeBackend{name: "gamma", sendPanic: true}
	o := newTestOrchestrator(t, allowAll{}, good, bad, panicky)

	results := o.Broadcast(context.Background(), "emergence", nil, nil)
	if len(results) != 3 {
		t.Fatalf("want 3 entries, got %v", results)
	}
	if !results["alpha"] || results["beta"] || results["gamma"] {
		t.Fatalf("got %v", results)
	}
	if good.sentCount() != 1 {
		t.Fatal("healthy backend must be unaffected by sibling failures")
	}
}

func TestBroadcastUninitializedTarget(t *testing.T) {
	f := &fakeBackend{name: "alpha"}
	o := newTestOrchestrator(t, allowAll{}, f)

	results := o.Broadcast(context.Background(), "emergence", []string{"alpha", "ghost"}, nil)
	if len(results) != 2 {
		t.Fatalf("result map must cover every requested target: %v", results)
	}
	if !results["alpha"] || results["ghost"] {
		t.Fatalf("got %v", results)
	}
}

func TestBroadcastRateLimited(t *testing.T) {
	f := &fakeBackend{name: "alpha"}
	o := newTestOrchestrator(t, denyAll{}, f)

	results := o.Broadcast(context.Background(), "emergence", nil, nil)
	if results["alpha"] {
		t.Fatal("rate-limited send must be reported false")
	}
	if f.sentCount() != 0 {
		t.Fatal("rate-limited send must not reach the backend")
	}
}

func TestReactAllAndDeleteAll(t *testing.T) {
	a := &fakeBackend{name: "alpha"}
	b := &fakeBackend{name: "beta", reactErr: errors.New("nope"), deleteErr: errors.New("nope")}
	o := newTestOrchestrator(t, allowAll{}, a, b)

	reacts := o.ReactAll(context.Background(), "chan/42", "fire")
	if len(reacts) != 2 || !reacts["alpha"] || reacts["beta"] {
		t.Fatalf("react results %v", reacts)
	}

	deletes := o.DeleteAll(context.Background(), "chan/42")
	if len(deletes) != 2 || !deletes["alpha"] || deletes["beta"] {
		t.Fatalf("delete results %v", deletes)
	}
}

func TestInitializeUnknownPlatform(t *testing.T) {
	reg := platform.NewRegistry()
	o := New(reg, newTestStore(t), allowAll{}, nil, zap.NewNop())
	o.Initialize(context.Background(), map[string]platform.Settings{"mystery": {}})

	if len(o.Active()) != 0 {
		t.Fatalf("unknown platform must not become active: %v", o.Active())
	}
}

func TestShutdownDisconnectIsolation(t *testing.T) {
	a := &fakeBackend{name: "alpha", discErr: errors.New("hang up failed")}
	b := &fakeBackend{name: "beta"}
	o := newTestOrchestrator(t, allowAll{}, a, b)

	o.Shutdown(context.Background())
	if a.disconnects != 1 || b.disconnects != 1 {
		t.Fatalf("every backend must see one disconnect attempt: %d/%d",
			a.disconnects, b.disconnects)
	}
	if len(o.Active()) != 0 {
		t.Fatal("active set must be empty after shutdown")
	}
}

func TestMonitorDeliversEachMessage(t *testing.T) {
	msgs := []*platform.Message{
		{ID: "1", Platform: "alpha", Content: "one"},
		{ID: "2", Platform: "alpha", Content: "two"},
		{ID: "3", Platform: "alpha", Content: "three"},
	}
	f := &fakeBackend{name: "alpha", recent: msgs}
	o := newTestOrchestrator(t, allowAll{}, f)

	var count atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.MonitorAll(ctx, func(*platform.Message) { count.Add(1) })
	}()

	// Wait for at least two full poll cycles.
	deadline := time.After(2 * time.Second)
	for count.Load() < 6 {
		select {
		case <-deadline:
			t.Fatalf("callbacks = %d, want >= 6", count.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if count.Load()%3 != 0 {
		t.Errorf("callbacks = %d, want a multiple of the batch size", count.Load())
	}
}

func TestMonitorSurvivesPollError(t *testing.T) {
	f := &fakeBackend{
		name:      "alpha",
		recent:    []*platform.Message{{ID: "1", Platform: "alpha"}},
		recentErr: errors.New("transient"),
	}
	o := newTestOrchestrator(t, allowAll{}, f)

	var count atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.MonitorAll(ctx, func(*platform.Message) { count.Add(1) })
	}()

	// First poll fails; the loop must back off and keep going.
	deadline := time.After(2 * time.Second)
	for count.Load() < 1 {
		select {
		case <-deadline:
			t.Fatalf("loop died after poll error; callbacks = %d", count.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if f.polls.Load() < 2 {
		t.Errorf("polls = %d, want the loop to continue past the error", f.polls.Load())
	}
}

func TestMonitorAllReturnsOnCancel(t *testing.T) {
	a := &fakeBackend{name: "alpha"}
	b := &fakeBackend{name: "beta"}
	o := newTestOrchestrator(t, allowAll{}, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.MonitorAll(ctx, func(*platform.Message) {})
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("MonitorAll did not return after cancellation")
	}
}
