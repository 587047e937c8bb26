package analyzer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher keeps open documents in sync with their on-disk content. Writes to
// a tracked file are pushed to rust-analyzer as full-text changes so queries
// see what editors and external tools actually wrote.
type Watcher struct {
	client *Client
	fs     *fsnotify.Watcher
	logger *slog.Logger

	mu      sync.Mutex
	tracked map[string]bool
}

func NewWatcher(client *Client, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		client:  client,
		fs:      fs,
		logger:  logger,
		tracked: make(map[string]bool),
	}
	// Follow the client's open set: documents are watched while open.
	client.onOpen = func(path string) {
		if err := w.Track(path); err != nil {
			logger.Warn("watch failed", "path", path, "err", err)
		}
	}
	client.onClose = w.Untrack
	return w, nil
}

// Track starts watching a document that just entered the open set.
func (w *Watcher) Track(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.tracked[path] {
		return nil
	}
	if err := w.fs.Add(path); err != nil {
		return err
	}
	w.tracked[path] = true
	return nil
}

// Untrack stops watching a closed document.
func (w *Watcher) Untrack(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.tracked[path] {
		return
	}
	w.fs.Remove(path)
	delete(w.tracked, path)
}

// Run processes events until the context is done.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fs.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := w.client.SyncDocument(event.Name); err != nil {
				w.logger.Warn("document re-sync failed", "path", event.Name, "error", err)
			} else {
				w.logger.Debug("document re-synced", "path", event.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}
