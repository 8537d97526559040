package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Provider supplies the current configuration snapshot to the pipeline.
type Provider interface {
	// Snapshot returns the current immutable configuration snapshot.
	Snapshot() Snapshot
	// Subscribe returns a channel receiving every published snapshot,
	// starting with the current one.
	Subscribe() <-chan Snapshot
}

// FileProvider implements Provider backed by a local file, reloading on
// change and bumping the snapshot version on every successful reload.
type FileProvider struct {
	path        string
	logger      *slog.Logger
	mu          sync.RWMutex
	snapshot    Snapshot
	version     int64
	subscribers []chan Snapshot
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
}

// NewFileProvider loads the file at path and starts watching it for changes.
func NewFileProvider(path string, logger *slog.Logger) (*FileProvider, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &FileProvider{
		path:    absPath,
		logger:  logger.With("component", "config"),
		watcher: watcher,
		cancel:  cancel,
	}

	if err := p.load(); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	go p.watchLoop(ctx)

	return p, nil
}

// Snapshot returns the current configuration snapshot.
func (p *FileProvider) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// Subscribe returns a channel that receives configuration updates.
func (p *FileProvider) Subscribe() <-chan Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Snapshot, 1)
	p.subscribers = append(p.subscribers, ch)
	ch <- p.snapshot
	return ch
}

// Close stops the watcher and cleans up resources.
func (p *FileProvider) Close() error {
	p.cancel()
	return p.watcher.Close()
}

func (p *FileProvider) load() error {
	cfg, err := Load(p.path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.version++
	p.snapshot = NewSnapshot(cfg, p.version)
	snap := p.snapshot
	subs := append([]chan Snapshot(nil), p.subscribers...)
	p.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			// subscriber is lagging; it will pick up the next update
		}
	}
	return nil
}

func (p *FileProvider) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	debounceDuration := 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != p.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := p.load(); err != nil {
						p.logger.Error("Failed to reload configuration", "path", p.path, "error", err)
					} else {
						p.logger.Info("Configuration reloaded", "path", p.path, "version", p.Snapshot().Version)
					}
				})
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("Config watcher error", "error", err)
		}
	}
}

// StaticProvider wraps a fixed snapshot, useful for tests and the one-shot CLI.
type StaticProvider struct {
	snap Snapshot
}

// NewStaticProvider builds a provider that always returns the given snapshot.
func NewStaticProvider(snap Snapshot) *StaticProvider {
	return &StaticProvider{snap: snap}
}

// Snapshot returns the fixed snapshot.
func (p *StaticProvider) Snapshot() Snapshot { return p.snap }

// Subscribe returns a channel holding only the fixed snapshot.
func (p *StaticProvider) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	ch <- p.snap
	return ch
}
