package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	return NewClient(ClientConfig{
		Binary:        "/nonexistent/rust-analyzer",
		WorkspaceRoot: t.TempDir(),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestMissingDocumentRejectedWithoutSubprocess(t *testing.T) {
	// The client was never started, so any attempt to reach the subprocess
	// would fail with an unavailable error. A missing file must be rejected
	// before that point.
	c := newTestClient(t)
	_, err := c.Diagnostics(context.Background(), "src/missing.rs")
	var notOpen *DocumentNotOpenError
	if !errors.As(err, &notOpen) {
		t.Fatalf("err = %v, want DocumentNotOpenError", err)
	}
	if notOpen.ErrorCode() != "document_not_open" {
		t.Fatalf("ErrorCode() = %q", notOpen.ErrorCode())
	}
}

func TestDefinitionOnMissingDocument(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Definition(context.Background(), "src/missing.rs", Position{Line: 0, Character: 0})
	var notOpen *DocumentNotOpenError
	if !errors.As(err, &notOpen) {
		t.Fatalf("err = %v, want DocumentNotOpenError", err)
	}
}

func TestDecodeLocationsShapes(t *testing.T) {
	single := json.RawMessage(`{"uri":"file:///a.rs","range":{"start":{"line":1,"character":2},"end":{"line":1,"character":5}}}`)
	locs, err := decodeLocations(single)
	if err != nil {
		t.Fatalf("single: %v", err)
	}
	if len(locs) != 1 || locs[0].URI != "file:///a.rs" {
		t.Fatalf("single decoded %+v", locs)
	}

	array := json.RawMessage(`[{"uri":"file:///a.rs","range":{"start":{"line":0,"character":0},"end":{"line":0,"character":0}}},{"uri":"file:///b.rs","range":{"start":{"line":3,"character":0},"end":{"line":3,"character":4}}}]`)
	locs, err = decodeLocations(array)
	if err != nil {
		t.Fatalf("array: %v", err)
	}
	if len(locs) != 2 || locs[1].URI != "file:///b.rs" {
		t.Fatalf("array decoded %+v", locs)
	}

	links := json.RawMessage(`[{"targetUri":"file:///c.rs","targetRange":{"start":{"line":0,"character":0},"end":{"line":9,"character":0}},"targetSelectionRange":{"start":{"line":0,"character":3},"end":{"line":0,"character":8}}}]`)
	locs, err = decodeLocations(links)
	if err != nil {
		t.Fatalf("links: %v", err)
	}
	if len(locs) != 1 || locs[0].URI != "file:///c.rs" {
		t.Fatalf("links decoded %+v", locs)
	}
	if locs[0].Range.Start.Character != 3 {
		t.Fatalf("link selection range not used: %+v", locs[0].Range)
	}

	locs, err = decodeLocations(json.RawMessage(`null`))
	if err != nil || locs != nil {
		t.Fatalf("null: locs=%v err=%v", locs, err)
	}
}

func TestSymbolPathAt(t *testing.T) {
	tree := []DocumentSymbol{
		{
			Name: "outer_mod", Kind: 2,
			Range: Range{Start: Position{Line: 0}, End: Position{Line: 50}},
			Children: []DocumentSymbol{
				{
					Name: "MyStruct", Kind: 23,
					Range: Range{Start: Position{Line: 5}, End: Position{Line: 20}},
					Children: []DocumentSymbol{
						{
							Name:  "new",
							Kind:  12,
							Range: Range{Start: Position{Line: 8}, End: Position{Line: 12}},
						},
					},
				},
			},
		},
	}

	path := symbolPathAt(tree, Position{Line: 10, Character: 4})
	if got := SymbolPathString(path); got != "outer_mod::MyStruct::new" {
		t.Fatalf("path = %q", got)
	}
	if SymbolKindName(path[len(path)-1].Kind) != "function" {
		t.Fatalf("leaf kind = %q", SymbolKindName(path[len(path)-1].Kind))
	}

	path = symbolPathAt(tree, Position{Line: 30})
	if got := SymbolPathString(path); got != "outer_mod" {
		t.Fatalf("module-level path = %q", got)
	}

	if path := symbolPathAt(tree, Position{Line: 99}); path != nil {
		t.Fatalf("out-of-range position produced %+v", path)
	}
}

func TestStalledRequestReportsAnalyzerTimeout(t *testing.T) {
	conn, srv, cleanup := testConn(t, nil, nil)
	defer cleanup()
	go func() {
		// consume the request, never answer
		readFrame(srv.reader)
	}()

	c := newTestClient(t)
	c.timeout = 50 * time.Millisecond
	c.sup = &Supervisor{conn: conn}

	_, err := c.WorkspaceSymbols(context.Background(), "anything")
	var timedOut *RequestTimeoutError
	if !errors.As(err, &timedOut) {
		t.Fatalf("err = %v, want RequestTimeoutError", err)
	}
	if timedOut.ErrorCode() != "analyzer_timeout" {
		t.Fatalf("ErrorCode() = %q", timedOut.ErrorCode())
	}
	if timedOut.Method != "workspace/symbol" {
		t.Fatalf("Method = %q", timedOut.Method)
	}
}

func TestDiagnosticsPushAndReplayHooks(t *testing.T) {
	var pushes, replayed int
	root := t.TempDir()
	c := NewClient(ClientConfig{
		Binary:              "/nonexistent/rust-analyzer",
		WorkspaceRoot:       root,
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnDiagnosticsPush:   func() { pushes++ },
		OnDocumentsReplayed: func(n int) { replayed += n },
	})

	payload, _ := json.Marshal(PublishDiagnosticsParams{
		URI:         "file:///a.rs",
		Diagnostics: []Diagnostic{{Message: "boom", Severity: 1}},
	})
	c.handleNotification("textDocument/publishDiagnostics", payload)
	c.handleNotification("textDocument/publishDiagnostics", payload)
	if pushes != 2 {
		t.Fatalf("pushes = %d, want 2", pushes)
	}

	conn, srv, cleanup := testConn(t, nil, nil)
	defer cleanup()
	go func() {
		for {
			if _, err := readFrame(srv.reader); err != nil {
				return
			}
		}
	}()
	c.docs["/tmp/a.rs"] = &docState{version: 1, text: "fn a() {}"}
	c.docs["/tmp/b.rs"] = &docState{version: 3, text: "fn b() {}"}
	c.replayDocuments(conn)
	if replayed != 2 {
		t.Fatalf("replayed = %d, want 2", replayed)
	}
}

func TestDiagnosticsSnapshotReadsWithoutOpening(t *testing.T) {
	c := newTestClient(t)
	payload, _ := json.Marshal(PublishDiagnosticsParams{
		URI:         FileURI(c.abs("src/lib.rs")),
		Diagnostics: []Diagnostic{{Message: "unused variable", Severity: 2}},
	})
	c.handleNotification("textDocument/publishDiagnostics", payload)

	got := c.DiagnosticsSnapshot("src/lib.rs")
	if len(got) != 1 || got[0].Message != "unused variable" {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestFileURIRoundTrip(t *testing.T) {
	path := "/tmp/my crate/src/lib.rs"
	uri := FileURI(path)
	if uri != "file:///tmp/my%20crate/src/lib.rs" {
		t.Fatalf("FileURI = %q", uri)
	}
	if got := URIPath(uri); got != path {
		t.Fatalf("URIPath = %q, want %q", got, path)
	}
	if got := URIPath("file:///plain/path.rs"); got != "/plain/path.rs" {
		t.Fatalf("plain URIPath = %q", got)
	}
}

func TestAbsResolvesAgainstRoot(t *testing.T) {
	c := newTestClient(t)
	root := c.WorkspaceRoot()
	if got := c.abs("src/lib.rs"); got != root+"/src/lib.rs" {
		t.Fatalf("abs = %q", got)
	}
	if got := c.abs("/tmp/other.rs"); got != "/tmp/other.rs" {
		t.Fatalf("abs absolute = %q", got)
	}
}
