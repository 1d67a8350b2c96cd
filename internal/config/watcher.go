package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// RulesWatcher reloads the alerting file when it changes on disk and hands
// the parsed result to an apply callback. A file that fails to parse or
// validate is logged and ignored; the previously applied configuration
// stays in effect.
type RulesWatcher struct {
	path    string
	logger  *zap.Logger
	apply   func(*AlertingFile)
	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// NewRulesWatcher creates a watcher for the alerting file at path. Start
// must be called to begin watching.
func NewRulesWatcher(path string, logger *zap.Logger, apply func(*AlertingFile)) *RulesWatcher {
	return &RulesWatcher{
		path:   path,
		logger: logger,
		apply:  apply,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins watching the file's directory. Watching the directory rather
// than the file itself survives editors and config mounts that replace the
// file atomically.
func (w *RulesWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = watcher

	go w.run()
	return nil
}

func (w *RulesWatcher) run() {
	defer close(w.done)
	defer w.watcher.Close()

	// Debounce: editors and mounts emit bursts of events per save.
	var pending *time.Timer
	var pendingC <-chan time.Time

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(200 * time.Millisecond)
				pendingC = pending.C
			} else {
				pending.Reset(200 * time.Millisecond)
			}
		case <-pendingC:
			pending = nil
			pendingC = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("alerting config watcher error", zap.Error(err))
		case <-w.stop:
			return
		}
	}
}

func (w *RulesWatcher) reload() {
	f, err := LoadAlertingFile(w.path)
	if err != nil {
		w.logger.Error("alerting config reload failed, keeping previous configuration",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	w.apply(f)
	w.logger.Info("alerting config reloaded",
		zap.String("path", w.path),
		zap.Int("rules", len(f.Rules)),
		zap.Int("routing_rules", len(f.Routing.Rules)),
	)
}

// Stop stops watching and waits for the watch loop to exit.
func (w *RulesWatcher) Stop() {
	close(w.stop)
	<-w.done
}
