package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/seryn/herald/internal/platform"
	"go.uber.org/zap"
)

// MonitorAll starts one polling loop per active backend and blocks until
// every loop has stopped, which only happens when ctx is cancelled. Loops
// are fully independent: a stalled or failing platform never delays the
// others.
func (o *Orchestrator) MonitorAll(ctx context.Context, callback Callback) {
	var wg sync.WaitGroup
	for name, e := range o.snapshot() {
		wg.Add(1)
		go func(name string, e *entry) {
			defer wg.Done()
			o.monitor(ctx, name, e, callback)
		}(name, e)
	}
	wg.Wait()
}

// monitor polls one backend until cancellation. Errors back off to the
// platform's error delay instead of terminating the loop.
func (o *Orchestrator) monitor(ctx context.Context, name string, e *entry, callback Callback) {
	o.logger.Info("monitoring platform",
		zap.String("platform", name), zap.Duration("interval", e.poll))

	for {
		delay := e.poll
		msgs, err := o.safeRecent(ctx, e, monitorBatch)
		switch {
		case err != nil:
			o.logger.Error("poll failed, backing off",
				zap.String("platform", name),
				zap.Duration("backoff", e.backoff),
				zap.Error(err))
			delay = e.backoff
		default:
			for _, m := range msgs {
				callback(m)
			}
		}

		select {
		case <-ctx.Done():
			o.logger.Info("monitor stopped", zap.String("platform", name))
			return
		case <-time.After(delay):
		}
	}
}

func (o *Orchestrator) safeRecent(ctx context.Context, e *entry, limit int) (msgs []*platform.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicErr(r)
		}
	}()
	return e.backend.Recent(ctx, limit)
}
