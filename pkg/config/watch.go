package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the config file and invokes onReload with the freshly
// loaded configuration whenever it changes on disk. Only tier budgets are
// meant to be picked up at runtime; the endpoint order stays fixed for the
// process lifetime, so callers should apply just the parts they support.
//
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors and config management
	// tools replace files via rename, which drops a file-level watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	logger := slog.Default().With("component", "config.watch")
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logger.Error("config reload failed, keeping previous", "error", err)
				continue
			}
			logger.Info("config reloaded", "tiers", len(cfg.Tiers))
			onReload(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watch error", "error", err)
		}
	}
}
