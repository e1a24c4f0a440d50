package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/seryn/herald/internal/platform"
	"github.com/seryn/herald/internal/template"
	"go.uber.org/zap"
)

// Limiter is the admission check consulted before every send attempt.
type Limiter interface {
	Allow() bool
}

// Callback receives one observed message at a time from the monitor loops.
type Callback func(*platform.Message)

const (
	defaultPollInterval = 60 * time.Second
	defaultErrorDelay   = 300 * time.Second
	monitorBatch        = 10
)

// entry is one connected backend plus its polling cadence.
type entry struct {
	backend platform.Backend
	poll    time.Duration
	backoff time.Duration
}

// Orchestrator owns the active-backend map and runs broadcast, fan-out, and
// monitoring across it. The map is mutated only by Initialize and Shutdown;
// everything else reads it under the lock.
type Orchestrator struct {
	registry  *platform.Registry
	templates *template.Store
	limiter   Limiter
	sanitize  func(string) string
	logger    *zap.Logger

	mu     sync.RWMutex
	active map[string]*entry

	onBroadcast func(*platform.Message, map[string]bool)
}

// New creates an orchestrator. sanitize is applied to every formatted
// message body before it is considered send-ready; nil means no-op.
func New(registry *platform.Registry, templates *template.Store, limiter Limiter, sanitize func(string) string, logger *zap.Logger) *Orchestrator {
	if sanitize == nil {
		sanitize = func(s string) string { return s }
	}
	return &Orchestrator{
		registry:  registry,
		templates: templates,
		limiter:   limiter,
		sanitize:  sanitize,
		logger:    logger,
		active:    make(map[string]*entry),
	}
}

// SetBroadcastHook registers a callback invoked after every completed
// broadcast with the sent message and its outcome map. Set before use; not
// safe to change while broadcasts run.
func (o *Orchestrator) SetBroadcastHook(fn func(*platform.Message, map[string]bool)) {
	o.onBroadcast = fn
}

// Initialize constructs and connects a backend for every configured platform.
// Unknown platforms and failed connections are logged and skipped; one bad
// platform never blocks the others from coming up.
func (o *Orchestrator) Initialize(ctx context.Context, configs map[string]platform.Settings) {
	for name, settings := range configs {
		factory, ok := o.registry.Lookup(name)
		if !ok {
			o.logger.Warn("unknown platform", zap.String("platform", name))
			continue
		}

		if settings.PollInterval <= 0 {
			settings.PollInterval = defaultPollInterval
		}
		if settings.ErrorDelay <= 0 {
			settings.ErrorDelay = defaultErrorDelay
		}

		backend, err := factory(settings, o.logger.Named(name))
		if err != nil {
			o.logger.Error("backend construction failed",
				zap.String("platform", name), zap.Error(err))
			continue
		}
		if err := backend.Connect(ctx); err != nil {
			o.logger.Error("backend connect failed",
				zap.String("platform", name), zap.Error(err))
			continue
		}

		o.mu.Lock()
		o.active[name] = &entry{
			backend: backend,
			poll:    settings.PollInterval,
			backoff: settings.ErrorDelay,
		}
		o.mu.Unlock()
		o.logger.Info("platform initialized", zap.String("platform", name))
	}
}

// Shutdown disconnects every active backend. A failing disconnect is logged
// and never prevents the remaining backends from being attempted.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	active := o.active
	o.active = make(map[string]*entry)
	o.mu.Unlock()

	for name, e := range active {
		if err := o.safeDisconnect(ctx, e.backend); err != nil {
			o.logger.Error("disconnect failed",
				zap.String("platform", name), zap.Error(err))
			continue
		}
		o.logger.Info("platform disconnected", zap.String("platform", name))
	}
}

func (o *Orchestrator) safeDisconnect(ctx context.Context, b platform.Backend) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicErr(r)
		}
	}()
	return b.Disconnect(ctx)
}

// Active returns the names of currently connected platforms, sorted.
func (o *Orchestrator) Active() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.active))
	for name := range o.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Available returns every platform kind the registry knows, active or not.
func (o *Orchestrator) Available() []string {
	return o.registry.Names()
}

// Backend returns the live backend for an active platform, for callers that
// need platform-specific capabilities beyond the common contract.
func (o *Orchestrator) Backend(name string) (platform.Backend, bool) {
	e, ok := o.lookup(name)
	if !ok {
		return nil, false
	}
	return e.backend, true
}

// lookup returns the active entry for a platform.
func (o *Orchestrator) lookup(name string) (*entry, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.active[name]
	return e, ok
}

// snapshot copies the active map for iteration without holding the lock.
func (o *Orchestrator) snapshot() map[string]*entry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]*entry, len(o.active))
	for name, e := range o.active {
		out[name] = e
	}
	return out
}
