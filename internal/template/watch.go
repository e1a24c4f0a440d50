package template

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the store whenever the template file changes on disk.
// It blocks until the context is cancelled. Reload failures keep the
// previous template set.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files on save and
	// a file watch dies with the old inode.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(s.path)
	var pending *time.Timer
	reload := make(chan struct{}, 1)
	debounce := func() {
		if pending != nil {
			pending.Stop()
		}
		pending = time.AfterFunc(200*time.Millisecond, func() {
			select {
			case reload <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reload:
			if err := s.Load(); err != nil {
				s.logger.Error("template reload failed", zap.Error(err))
			} else {
				s.logger.Info("templates reloaded", zap.String("path", s.path))
			}
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("template watch error", zap.Error(err))
		}
	}
}
