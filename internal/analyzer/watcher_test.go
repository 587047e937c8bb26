package analyzer

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newWatcherFixture(t *testing.T) (*Watcher, *Client, string) {
	t.Helper()
	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := NewClient(ClientConfig{
		Binary:        "/nonexistent/rust-analyzer",
		WorkspaceRoot: root,
		Logger:        logger,
	})
	w, err := NewWatcher(client, logger)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() { w.fs.Close() })
	return w, client, root
}

func TestTrackUntrack(t *testing.T) {
	w, _, root := newWatcherFixture(t)
	path := filepath.Join(root, "main.rs")
	if err := os.WriteFile(path, []byte("fn main() {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := w.Track(path); err != nil {
		t.Fatalf("track: %v", err)
	}
	if !w.tracked[path] {
		t.Fatal("path not tracked after Track")
	}
	if err := w.Track(path); err != nil {
		t.Fatalf("second track should be a no-op: %v", err)
	}

	w.Untrack(path)
	if w.tracked[path] {
		t.Fatal("path still tracked after Untrack")
	}
	w.Untrack(path)
}

func TestTrackMissingFile(t *testing.T) {
	w, _, root := newWatcherFixture(t)
	if err := w.Track(filepath.Join(root, "absent.rs")); err == nil {
		t.Fatal("expected error tracking a missing file")
	}
}

func TestWatcherFollowsOpenSet(t *testing.T) {
	w, client, root := newWatcherFixture(t)
	if client.onOpen == nil || client.onClose == nil {
		t.Fatal("watcher did not register open-set hooks")
	}

	path := filepath.Join(root, "lib.rs")
	if err := os.WriteFile(path, []byte("pub fn f() {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	client.onOpen(path)
	if !w.tracked[path] {
		t.Fatal("open hook did not start tracking")
	}
	client.onClose(path)
	if w.tracked[path] {
		t.Fatal("close hook did not stop tracking")
	}
}
