package settings

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// reloadDelay coalesces the burst of events an editor produces on save.
const reloadDelay = 100 * time.Millisecond

// fileDocument is the YAML layout of a settings file.
type fileDocument struct {
	Settings []Setting `yaml:"settings"`
}

// LoadFile reads settings from a YAML file and validates each entry.
func LoadFile(path string) ([]Setting, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	for _, st := range doc.Settings {
		if err := st.Validate(); err != nil {
			return nil, fmt.Errorf("settings %s: %w", path, err)
		}
	}
	return doc.Settings, nil
}

// WriteFile stores settings as YAML.
func WriteFile(path string, settings []Setting) error {
	data, err := yaml.Marshal(fileDocument{Settings: settings})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// WatchFile applies path to server, then again after every change to the
// file, until ctx is done. Its directory is watched so that editors
// replacing the file on save are followed. Changes closer together than
// reloadDelay cause a single reload.
func WatchFile(ctx context.Context, path string, server *Server, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("settings watcher: %w", err)
	}

	apply(abs, server, logger)

	// pending fires reloadDelay after the last relevant event.
	pending := time.NewTimer(reloadDelay)
	pending.Stop()
	defer pending.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pending.C:
			apply(abs, server, logger)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == abs && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				pending.Reset(reloadDelay)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("settings watcher error", "error", err)
		}
	}
}

// apply loads path into server. A file that fails to parse leaves the
// current values in place.
func apply(path string, server *Server, logger *slog.Logger) {
	list, err := LoadFile(path)
	if err != nil {
		logger.Warn("settings reload failed", "path", path, "error", err)
		return
	}
	if err := server.Apply(list); err != nil {
		logger.Warn("settings partially applied", "path", path, "error", err)
		return
	}
	logger.Debug("settings reloaded", "path", path, "count", len(list))
}
