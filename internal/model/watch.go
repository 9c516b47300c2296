package model

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces bursts of write events from editors that save
// via rename-and-replace.
const watchDebounce = 250 * time.Millisecond

// Watch reloads the registry from the models file whenever it changes.
// It blocks until the context is cancelled. Reload failures keep the
// previous model set and are logged, not fatal.
func Watch(ctx context.Context, registry *Registry, path string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fsw.Close() }()

	// Watch the parent directory: editors replace the file, which breaks
	// a direct file watch.
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(path)
	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("models file watcher error", slog.String("error", err.Error()))

		case <-reload:
			cfgs, err := LoadFile(path)
			if err != nil {
				slog.Warn("models file reload failed",
					slog.String("path", path),
					slog.String("error", err.Error()))
				continue
			}
			if err := registry.Replace(cfgs); err != nil {
				slog.Warn("models file rejected",
					slog.String("path", path),
					slog.String("error", err.Error()))
				continue
			}
			slog.Info("model registry reloaded",
				slog.String("path", path),
				slog.Int("models", len(cfgs)))
		}
	}
}
