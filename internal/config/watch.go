package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// reloadOps are the events on the config file that trigger a reload. Editors
// that save atomically rename a temp file over it, which shows up as Create
// or Rename on the target name.
const reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename

// Watch reloads path whenever it changes and calls onChange with the new
// Config, until ctx is cancelled. The parent directory is watched so the file
// may be replaced, not only rewritten. A reload that fails to load keeps the
// previous config.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config: watch %q: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("config: watch %q: %w", filepath.Dir(path), err)
	}
	slog.Info("config: watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || event.Op&reloadOps == 0 {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				// A rename away leaves no file until the new one lands.
				if !errors.Is(err, fs.ErrNotExist) {
					slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
				}
				continue
			}
			slog.Info("config: reloaded", "path", path, "op", event.Op.String())
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
