package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/seryn/herald/internal/platform"
	"go.uber.org/zap"
)

// Broadcast formats a template and fans it out to the requested platforms,
// or to every active platform when targets is empty. The returned map holds
// exactly one boolean outcome per requested target; per-platform failures are
// isolated and never abort the remaining sends.
//
// Template failures (unknown name, missing parameter) abort before any
// backend is touched and return an empty map.
func (o *Orchestrator) Broadcast(ctx context.Context, templateName string, targets []string, params map[string]string) map[string]bool {
	tmpl, ok := o.templates.Get(templateName)
	if !ok {
		o.logger.Error("template not found", zap.String("template", templateName))
		return map[string]bool{}
	}

	content, err := o.templates.Format(templateName, params)
	if err != nil {
		o.logger.Error("template formatting failed",
			zap.String("template", templateName), zap.Error(err))
		return map[string]bool{}
	}
	content = o.sanitize(content)

	msg := &platform.Message{
		ID:        uuid.New().String(),
		Content:   content,
		Timestamp: time.Now(),
		Platform:  platform.PlatformMulti,
		Metadata: map[string]any{
			"template": templateName,
			"tags":     tmpl.Tags,
		},
	}

	if len(targets) == 0 {
		targets = o.Active()
	}

	results := make(map[string]bool, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range targets {
		e, ok := o.lookup(name)
		if !ok {
			o.logger.Warn("platform not initialized", zap.String("platform", name))
			mu.Lock()
			results[name] = false
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(name string, e *entry) {
			defer wg.Done()

			if o.limiter != nil && !o.limiter.Allow() {
				o.logger.Warn("send rate limited", zap.String("platform", name))
				mu.Lock()
				results[name] = false
				mu.Unlock()
				return
			}

			err := o.safeCall(func() error { return e.backend.Send(ctx, msg) })
			if err != nil {
				o.logger.Error("send failed",
					zap.String("platform", name), zap.Error(err))
			} else {
				o.logger.Info("message sent",
					zap.String("platform", name),
					zap.String("template", templateName))
			}
			mu.Lock()
			results[name] = err == nil
			mu.Unlock()
		}(name, e)
	}

	wg.Wait()
	if o.onBroadcast != nil {
		o.onBroadcast(msg, results)
	}
	return results
}

// ReactAll applies one reaction to a message id on every active platform.
func (o *Orchestrator) ReactAll(ctx context.Context, messageID, reaction string) map[string]bool {
	return o.fanOut("react", func(b platform.Backend) error {
		return b.React(ctx, messageID, reaction)
	})
}

// DeleteAll deletes a message id on every active platform.
func (o *Orchestrator) DeleteAll(ctx context.Context, messageID string) map[string]bool {
	return o.fanOut("delete", func(b platform.Backend) error {
		return b.Delete(ctx, messageID)
	})
}

// EditAll replaces a message's content on every active platform.
func (o *Orchestrator) EditAll(ctx context.Context, messageID, newContent string) map[string]bool {
	return o.fanOut("edit", func(b platform.Backend) error {
		return b.Edit(ctx, messageID, newContent)
	})
}

// fanOut runs one operation concurrently across all active backends with
// per-platform failure isolation, returning a complete outcome map.
func (o *Orchestrator) fanOut(op string, fn func(platform.Backend) error) map[string]bool {
	active := o.snapshot()
	results := make(map[string]bool, len(active))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, e := range active {
		wg.Add(1)
		go func(name string, e *entry) {
			defer wg.Done()
			err := o.safeCall(func() error { return fn(e.backend) })
			if err != nil {
				o.logger.Error(op+" failed",
					zap.String("platform", name), zap.Error(err))
			}
			mu.Lock()
			results[name] = err == nil
			mu.Unlock()
		}(name, e)
	}

	wg.Wait()
	return results
}

// safeCall confines a panicking backend to its own outcome.
func (o *Orchestrator) safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicErr(r)
		}
	}()
	return fn()
}

func panicErr(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("backend panic: %w", err)
	}
	return fmt.Errorf("backend panic: %v", r)
}
