package analyzer

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// DiagnosticsStore holds the latest published diagnostics per document URI.
// Each publishDiagnostics notification replaces the document's snapshot
// wholesale; an empty list clears it.
type DiagnosticsStore struct {
	mu   sync.RWMutex
	byURI map[string][]Diagnostic
}

func NewDiagnosticsStore() *DiagnosticsStore {
	return &DiagnosticsStore{byURI: make(map[string][]Diagnostic)}
}

// HandlePublish decodes a textDocument/publishDiagnostics payload and
// installs it as the document's current snapshot.
func (d *DiagnosticsStore) HandlePublish(params json.RawMessage, logger *slog.Logger) {
	var p PublishDiagnosticsParams
	if err := json.Unmarshal(params, &p); err != nil {
		logger.Warn("publishDiagnostics dropped", "error", err)
		return
	}
	d.mu.Lock()
	d.byURI[p.URI] = p.Diagnostics
	d.mu.Unlock()
}

// Get returns the current snapshot for a URI. A document that never received
// a notification has an empty snapshot.
func (d *DiagnosticsStore) Get(uri string) []Diagnostic {
	d.mu.RLock()
	defer d.mu.RUnlock()
	diags := d.byURI[uri]
	out := make([]Diagnostic, len(diags))
	copy(out, diags)
	return out
}

// Forget drops a document's snapshot, used when the document closes.
func (d *DiagnosticsStore) Forget(uri string) {
	d.mu.Lock()
	delete(d.byURI, uri)
	d.mu.Unlock()
}
