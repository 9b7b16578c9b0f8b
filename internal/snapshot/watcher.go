package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher notifies subscribers whenever the snapshot document is replaced.
// It watches the containing directory because an atomic rename swaps the
// inode the file name points to.
type Watcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	target  string
	subs    map[chan struct{}]struct{}
	logger  *slog.Logger
	doneCh  chan struct{}
	running bool
}

func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve snapshot path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	return &Watcher{
		watcher: fw,
		target:  abs,
		subs:    make(map[chan struct{}]struct{}),
		logger:  logger.With("component", "snapshot_watcher"),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins watching; it returns once the directory is registered. When
// it fails the watcher is left stopped and Close returns immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	dir := filepath.Dir(w.target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching snapshot", "path", w.target)

	w.running = true
	go w.run(ctx)
	return nil
}

// Close stops the watcher and closes every subscriber channel.
func (w *Watcher) Close() error {
	err := w.watcher.Close()

	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		<-w.doneCh
	}
	return err
}

// Subscribe returns a channel that receives a value after each change, and
// a func that releases it. Notifications coalesce when the reader is slow.
func (w *Watcher) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			if _, ok := w.subs[ch]; ok {
				delete(w.subs, ch)
				close(ch)
			}
			w.mu.Unlock()
		})
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer w.closeSubscribers()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("snapshot changed", "op", event.Op.String())
			w.broadcast()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) broadcast() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (w *Watcher) closeSubscribers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.subs {
		delete(w.subs, ch)
		close(ch)
	}
}
