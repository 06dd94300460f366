package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads cfg from path whenever the file changes on disk, invoking
// onChange with the freshly parsed Config. It runs until ctx is cancelled.
// Parse errors are logged and skipped, leaving the last good config in
// effect — a config edit with a typo must not crash a live session.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(Config)) error {
	if path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					logger.Warn("config: reload failed, keeping previous config", "error", err)
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config: watcher error", "error", err)
			}
		}
	}()
	return nil
}
