package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"formdeploy/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// OptionsWatcher keeps the current options in sync with the options file
// and notifies subscribers when they change.
type OptionsWatcher struct {
	mu          sync.RWMutex
	path        string
	current     Options
	subscribers []func(Options)

	watcher     *fsnotify.Watcher
	debounceDur time.Duration
	pending     time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewOptionsWatcher loads the options at path and prepares a watcher for
// its directory.
func NewOptionsWatcher(path string) (*OptionsWatcher, error) {
	opts, err := LoadOptions(path)
	if err != nil {
		logging.ConfigWarn("Using default options: %v", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create options watcher: %w", err)
	}
	return &OptionsWatcher{
		path:        filepath.Clean(path),
		current:     opts,
		watcher:     w,
		debounceDur: 200 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Path returns the watched options file.
func (ow *OptionsWatcher) Path() string {
	return ow.path
}

// Current returns the latest options.
func (ow *OptionsWatcher) Current() Options {
	ow.mu.RLock()
	defer ow.mu.RUnlock()
	return ow.current
}

// Subscribe registers fn to be called with the new options after every
// change.
func (ow *OptionsWatcher) Subscribe(fn func(Options)) {
	ow.mu.Lock()
	ow.subscribers = append(ow.subscribers, fn)
	ow.mu.Unlock()
}

// Update saves opts and applies them immediately.
func (ow *OptionsWatcher) Update(opts Options) (Options, error) {
	opts = opts.Normalize()
	if err := opts.Save(ow.path); err != nil {
		return ow.Current(), err
	}
	ow.apply(opts)
	return opts, nil
}

// Reset restores the defaults.
func (ow *OptionsWatcher) Reset() (Options, error) {
	return ow.Update(DefaultOptions())
}

// Start watches the options directory until ctx ends or Stop is called.
func (ow *OptionsWatcher) Start(ctx context.Context) error {
	ow.mu.Lock()
	if ow.running {
		ow.mu.Unlock()
		return nil
	}
	ow.running = true
	ow.mu.Unlock()

	dir := filepath.Dir(ow.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create options directory: %w", err)
	}
	// The directory is watched because editors and Save replace the file.
	if err := ow.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logging.Config("Watching options file %s", ow.path)

	go ow.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its loop to exit.
func (ow *OptionsWatcher) Stop() {
	ow.mu.Lock()
	wasRunning := ow.running
	ow.running = false
	ow.mu.Unlock()

	if wasRunning {
		close(ow.stopCh)
		<-ow.doneCh
	}
	if err := ow.watcher.Close(); err != nil {
		logging.ConfigWarn("Error closing options watcher: %v", err)
	}
}

func (ow *OptionsWatcher) run(ctx context.Context) {
	defer close(ow.doneCh)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ow.stopCh:
			return

		case event, ok := <-ow.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != ow.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			logging.ConfigDebug("Options %s: %s", event.Op, event.Name)
			ow.mu.Lock()
			ow.pending = time.Now()
			ow.mu.Unlock()

		case err, ok := <-ow.watcher.Errors:
			if !ok {
				return
			}
			logging.ConfigWarn("Options watcher error: %v", err)

		case <-ticker.C:
			ow.mu.Lock()
			due := !ow.pending.IsZero() && time.Since(ow.pending) >= ow.debounceDur
			if due {
				ow.pending = time.Time{}
			}
			ow.mu.Unlock()
			if due {
				ow.reload()
			}
		}
	}
}

func (ow *OptionsWatcher) reload() {
	opts, err := LoadOptions(ow.path)
	if err != nil {
		logging.ConfigWarn("Ignoring unreadable options: %v", err)
		return
	}
	ow.apply(opts)
}

// apply stores opts and notifies subscribers if anything changed.
func (ow *OptionsWatcher) apply(opts Options) {
	ow.mu.Lock()
	if ow.current == opts {
		ow.mu.Unlock()
		return
	}
	ow.current = opts
	subs := append([]func(Options){}, ow.subscribers...)
	ow.mu.Unlock()

	logging.Config("Options changed: autoSubmit=%v uploadTimeout=%ds debugMode=%v",
		opts.AutoSubmit, opts.UploadTimeout, opts.DebugMode)
	for _, fn := range subs {
		fn(opts)
	}
}
