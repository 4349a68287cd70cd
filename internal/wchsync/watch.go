package wchsync

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceInterval batches filesystem events before a push: editors write
// in bursts, and one push per burst beats one push per write.
const debounceInterval = 2 * time.Second

// Watcher observes the working directory and pushes modified artifacts
// after each quiet period.
type Watcher struct {
	engine *Engine
	dir    string
	logger *slog.Logger

	// interval is the debounce window, injectable for tests.
	interval time.Duration
}

// NewWatcher creates a watcher over the engine's working directory.
func NewWatcher(engine *Engine, dir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		engine:   engine,
		dir:      dir,
		logger:   logger,
		interval: debounceInterval,
	}
}

// Run blocks, pushing modified artifacts after each burst of filesystem
// changes, until the context is cancelled.
func (w *Watcher) Run(ctx context.Context, s *Session, o Options) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addRecursive(fw, w.dir); err != nil {
		return err
	}

	w.logger.Info("watching working directory",
		slog.String("dir", w.dir),
	)

	var timer *time.Timer

	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}

			if w.ignoreEvent(ev) {
				continue
			}

			// New directories need their own watch.
			if ev.Op.Has(fsnotify.Create) {
				_ = w.addRecursive(fw, ev.Name)
			}

			if timer == nil {
				timer = time.AfterFunc(w.interval, func() { fire <- struct{}{} })
			} else {
				timer.Reset(w.interval)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("watch error",
				slog.String("error", err.Error()),
			)

		case <-fire:
			timer = nil
			w.pushModified(ctx, s, o)
		}
	}
}

// pushModified pushes changed artifacts of every type.
func (w *Watcher) pushModified(ctx context.Context, s *Session, o Options) {
	w.logger.Info("pushing modified artifacts")

	for _, service := range w.engine.Services() {
		if service == "assets" {
			if _, err := w.engine.Assets().PushModified(ctx, s, o); err != nil {
				w.logger.Warn("watch push failed",
					slog.String("service", service),
					slog.String("error", err.Error()),
				)
			}

			continue
		}

		h, ok := w.engine.Helper(service)
		if !ok {
			continue
		}

		if _, err := h.PushModified(ctx, s, o); err != nil {
			w.logger.Warn("watch push failed",
				slog.String("service", service),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ignoreEvent filters bookkeeping files and transient writes.
func (w *Watcher) ignoreEvent(ev fsnotify.Event) bool {
	name := filepath.Base(ev.Name)

	if strings.HasPrefix(name, ".wchtoolshashes") || strings.HasPrefix(name, ".dxhashes") {
		return true
	}

	if strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".partial") ||
		strings.HasSuffix(name, ".lock") || strings.HasSuffix(name, ".conflict") {
		return true
	}

	return ev.Op == fsnotify.Chmod
}

// addRecursive watches dir and every directory below it.
func (w *Watcher) addRecursive(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable subtrees are skipped, not fatal
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".git") {
				return filepath.SkipDir
			}

			return fw.Add(path)
		}

		return nil
	})
}
