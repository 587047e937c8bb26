package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ClientConfig carries everything a Client needs.
type ClientConfig struct {
	Binary         string
	WorkspaceRoot  string
	RequestTimeout time.Duration
	Logger         *slog.Logger

	// Telemetry hooks, all optional.
	OnDecodeError       func()
	OnRestart           func()
	OnDiagnosticsPush   func()
	OnDocumentsReplayed func(int)
}

type docState struct {
	version int
	text    string
}

// Client is the high-level interface to rust-analyzer: it tracks which
// documents are open, routes diagnostics pushes into a store and exposes the
// language queries the bridge serves.
type Client struct {
	sup    *Supervisor
	diags  *DiagnosticsStore
	logger *slog.Logger

	root    string
	timeout time.Duration

	docMu sync.Mutex
	docs  map[string]*docState

	onRestart  func()
	onOpen     func(string)
	onClose    func(string)
	onPush     func()
	onReplayed func(int)
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	c := &Client{
		diags:      NewDiagnosticsStore(),
		logger:     cfg.Logger,
		root:       cfg.WorkspaceRoot,
		timeout:    cfg.RequestTimeout,
		docs:       make(map[string]*docState),
		onRestart:  cfg.OnRestart,
		onPush:     cfg.OnDiagnosticsPush,
		onReplayed: cfg.OnDocumentsReplayed,
	}
	c.sup = NewSupervisor(SupervisorConfig{
		Binary:        DefaultBinary(cfg.Binary),
		WorkspaceRoot: cfg.WorkspaceRoot,
		Logger:        cfg.Logger,
		OnNotify:      c.handleNotification,
		OnDecode:      cfg.OnDecodeError,
		OnRestart:     c.replayDocuments,
	})
	return c
}

// Start brings the subprocess up and completes the handshake.
func (c *Client) Start(ctx context.Context) error {
	return c.sup.Start(ctx)
}

// Stop shuts the subprocess down in order.
func (c *Client) Stop(ctx context.Context) {
	c.sup.Stop(ctx)
}

// WorkspaceRoot returns the directory rust-analyzer was rooted at.
func (c *Client) WorkspaceRoot() string { return c.root }

// Healthy reports whether the subprocess connection is live.
func (c *Client) Healthy() bool {
	_, err := c.sup.Conn()
	return err == nil
}

func (c *Client) handleNotification(method string, params json.RawMessage) {
	switch method {
	case "textDocument/publishDiagnostics":
		c.diags.HandlePublish(params, c.logger)
		if c.onPush != nil {
			c.onPush()
		}
	case "window/logMessage", "window/showMessage":
		var m struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(params, &m) == nil {
			c.logger.Debug("rust-analyzer message", "message", m.Message)
		}
	default:
		c.logger.Debug("analyzer notification ignored", "method", method)
	}
}

// replayDocuments re-opens every tracked document on a fresh connection
// after a restart. Versions are preserved.
func (c *Client) replayDocuments(conn *Conn) {
	c.docMu.Lock()
	snapshot := make(map[string]*docState, len(c.docs))
	for path, st := range c.docs {
		snapshot[path] = &docState{version: st.version, text: st.text}
	}
	c.docMu.Unlock()

	for path, st := range snapshot {
		err := conn.Notify("textDocument/didOpen", map[string]any{
			"textDocument": TextDocumentItem{
				URI:        FileURI(path),
				LanguageID: "rust",
				Version:    st.version,
				Text:       st.text,
			},
		})
		if err != nil {
			c.logger.Warn("document replay failed", "path", path, "error", err)
		}
	}
	c.logger.Info("open documents replayed", "count", len(snapshot))
	if c.onReplayed != nil {
		c.onReplayed(len(snapshot))
	}
	if c.onRestart != nil {
		c.onRestart()
	}
}

// abs resolves a possibly workspace-relative path.
func (c *Client) abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.root, path)
}

// ensureOpen guarantees the document is in the open set before a positional
// request. The file is read from disk first: when it cannot be read, the
// subprocess is never contacted.
func (c *Client) ensureOpen(path string) error {
	c.docMu.Lock()
	_, open := c.docs[path]
	c.docMu.Unlock()
	if open {
		return nil
	}

	text, err := os.ReadFile(path)
	if err != nil {
		return &DocumentNotOpenError{Path: path}
	}
	conn, err := c.sup.Conn()
	if err != nil {
		return err
	}

	c.docMu.Lock()
	if _, open := c.docs[path]; open {
		c.docMu.Unlock()
		return nil
	}
	c.docs[path] = &docState{version: 1, text: string(text)}
	c.docMu.Unlock()

	if c.onOpen != nil {
		c.onOpen(path)
	}
	return conn.Notify("textDocument/didOpen", map[string]any{
		"textDocument": TextDocumentItem{
			URI:        FileURI(path),
			LanguageID: "rust",
			Version:    1,
			Text:       string(text),
		},
	})
}

// SyncDocument pushes new on-disk content for an already-open document via a
// full-text didChange. Unknown documents are ignored.
func (c *Client) SyncDocument(path string) error {
	abs := c.abs(path)
	text, err := os.ReadFile(abs)
	if err != nil {
		return err
	}

	c.docMu.Lock()
	st, open := c.docs[abs]
	if !open {
		c.docMu.Unlock()
		return nil
	}
	st.version++
	st.text = string(text)
	version := st.version
	c.docMu.Unlock()

	conn, err := c.sup.Conn()
	if err != nil {
		return err
	}
	return conn.Notify("textDocument/didChange", map[string]any{
		"textDocument": VersionedTextDocumentIdentifier{URI: FileURI(abs), Version: version},
		"contentChanges": []map[string]any{
			{"text": string(text)},
		},
	})
}

// CloseDocument removes a document from the open set.
func (c *Client) CloseDocument(path string) error {
	abs := c.abs(path)
	c.docMu.Lock()
	_, open := c.docs[abs]
	delete(c.docs, abs)
	c.docMu.Unlock()
	if !open {
		return nil
	}
	if c.onClose != nil {
		c.onClose(abs)
	}
	c.diags.Forget(FileURI(abs))
	conn, err := c.sup.Conn()
	if err != nil {
		return err
	}
	return conn.Notify("textDocument/didClose", map[string]any{
		"textDocument": TextDocumentIdentifier{URI: FileURI(abs)},
	})
}

// OpenDocuments lists the paths currently tracked as open.
func (c *Client) OpenDocuments() []string {
	c.docMu.Lock()
	defer c.docMu.Unlock()
	out := make([]string, 0, len(c.docs))
	for path := range c.docs {
		out = append(out, path)
	}
	return out
}

func (c *Client) call(ctx context.Context, path, method string, params, result any) error {
	abs := c.abs(path)
	if err := c.ensureOpen(abs); err != nil {
		return err
	}
	conn, err := c.sup.Conn()
	if err != nil {
		return err
	}
	return c.timedCall(ctx, conn, method, params, result)
}

// timedCall applies the client deadline and labels an expiry as an analyzer
// stall, so it cannot be mistaken for a compiler timeout downstream.
func (c *Client) timedCall(ctx context.Context, conn *Conn, method string, params, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := conn.Call(ctx, method, params, result)
	if errors.Is(err, context.DeadlineExceeded) {
		return &RequestTimeoutError{Method: method, Timeout: c.timeout}
	}
	return err
}

// Definition resolves textDocument/definition at a position. rust-analyzer
// may answer with a single Location, a Location array or LocationLink array;
// all three shapes are normalized.
func (c *Client) Definition(ctx context.Context, path string, pos Position) ([]Location, error) {
	abs := c.abs(path)
	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: FileURI(abs)},
		Position:     pos,
	}
	var raw json.RawMessage
	if err := c.call(ctx, path, "textDocument/definition", params, &raw); err != nil {
		return nil, err
	}
	return decodeLocations(raw)
}

func decodeLocations(raw json.RawMessage) ([]Location, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var one Location
	if err := json.Unmarshal(raw, &one); err == nil && one.URI != "" {
		return []Location{one}, nil
	}
	var many []Location
	if err := json.Unmarshal(raw, &many); err == nil && (len(many) == 0 || many[0].URI != "") {
		return many, nil
	}
	var links []LocationLink
	if err := json.Unmarshal(raw, &links); err != nil {
		return nil, &DecodeError{Detail: "definition result: " + err.Error()}
	}
	out := make([]Location, 0, len(links))
	for _, l := range links {
		out = append(out, Location{URI: l.TargetURI, Range: l.TargetSelectionRange})
	}
	return out, nil
}

// DefinitionDetail pairs a resolved definition with the container path of
// the symbol it lands on, e.g. ["my_mod", "MyStruct", "new"].
type DefinitionDetail struct {
	Location   Location            `json:"location"`
	SymbolPath []SymbolPathSegment `json:"symbol_path,omitempty"`
}

// DefinitionDetails resolves definitions and enriches each with the symbol
// container path by walking the target document's symbol tree.
func (c *Client) DefinitionDetails(ctx context.Context, path string, pos Position) ([]DefinitionDetail, error) {
	locs, err := c.Definition(ctx, path, pos)
	if err != nil {
		return nil, err
	}
	out := make([]DefinitionDetail, 0, len(locs))
	for _, loc := range locs {
		detail := DefinitionDetail{Location: loc}
		target := URIPath(loc.URI)
		symbols, symErr := c.DocumentSymbols(ctx, target)
		if symErr == nil {
			detail.SymbolPath = symbolPathAt(symbols, loc.Range.Start)
		}
		out = append(out, detail)
	}
	return out, nil
}

// symbolPathAt walks a hierarchical symbol tree and returns the chain of
// symbols whose ranges contain the position, outermost first.
func symbolPathAt(symbols []DocumentSymbol, pos Position) []SymbolPathSegment {
	for _, sym := range symbols {
		if !positionInRange(sym.Range, pos) {
			continue
		}
		seg := SymbolPathSegment{Name: sym.Name, Kind: sym.Kind}
		if rest := symbolPathAt(sym.Children, pos); rest != nil {
			return append([]SymbolPathSegment{seg}, rest...)
		}
		return []SymbolPathSegment{seg}
	}
	return nil
}

// SymbolPathString renders a symbol path the way Rust items are spelled.
func SymbolPathString(path []SymbolPathSegment) string {
	names := make([]string, len(path))
	for i, seg := range path {
		names[i] = seg.Name
	}
	return strings.Join(names, "::")
}

// References lists every reference to the symbol at a position, optionally
// including the declaration itself.
func (c *Client) References(ctx context.Context, path string, pos Position, includeDecl bool) ([]Location, error) {
	abs := c.abs(path)
	params := ReferenceParams{
		TextDocument: TextDocumentIdentifier{URI: FileURI(abs)},
		Position:     pos,
		Context:      ReferenceContext{IncludeDeclaration: includeDecl},
	}
	var locs []Location
	if err := c.call(ctx, path, "textDocument/references", params, &locs); err != nil {
		return nil, err
	}
	return locs, nil
}

// DocumentSymbols fetches the hierarchical symbol tree for a document.
func (c *Client) DocumentSymbols(ctx context.Context, path string) ([]DocumentSymbol, error) {
	abs := c.abs(path)
	params := DocumentSymbolParams{TextDocument: TextDocumentIdentifier{URI: FileURI(abs)}}
	var symbols []DocumentSymbol
	if err := c.call(ctx, path, "textDocument/documentSymbol", params, &symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}

// WorkspaceSymbols queries workspace/symbol. No document needs to be open.
func (c *Client) WorkspaceSymbols(ctx context.Context, query string) ([]SymbolInformation, error) {
	conn, err := c.sup.Conn()
	if err != nil {
		return nil, err
	}
	var symbols []SymbolInformation
	if err := c.timedCall(ctx, conn, "workspace/symbol", WorkspaceSymbolParams{Query: query}, &symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}

// Rename produces the workspace edit for renaming the symbol at a position.
// The edit is returned, not applied.
func (c *Client) Rename(ctx context.Context, path string, pos Position, newName string) (*WorkspaceEdit, error) {
	abs := c.abs(path)
	params := RenameParams{
		TextDocument: TextDocumentIdentifier{URI: FileURI(abs)},
		Position:     pos,
		NewName:      newName,
	}
	var edit WorkspaceEdit
	if err := c.call(ctx, path, "textDocument/rename", params, &edit); err != nil {
		return nil, err
	}
	return &edit, nil
}

// Format runs textDocument/formatting and returns the raw edits.
func (c *Client) Format(ctx context.Context, path string) ([]TextEdit, error) {
	abs := c.abs(path)
	params := FormattingParams{
		TextDocument: TextDocumentIdentifier{URI: FileURI(abs)},
		Options:      FormattingOptions{TabSize: 4, InsertSpaces: true},
	}
	var edits []TextEdit
	if err := c.call(ctx, path, "textDocument/formatting", params, &edits); err != nil {
		return nil, err
	}
	return edits, nil
}

// CodeActions fetches code actions for a range, optionally filtered by kind.
func (c *Client) CodeActions(ctx context.Context, path string, rng Range, only []string) ([]CodeAction, error) {
	abs := c.abs(path)
	params := CodeActionParams{
		TextDocument: TextDocumentIdentifier{URI: FileURI(abs)},
		Range:        rng,
		Context:      CodeActionContext{Diagnostics: []Diagnostic{}, Only: only},
	}
	var raw json.RawMessage
	if err := c.call(ctx, path, "textDocument/codeAction", params, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var actions []CodeAction
	if err := json.Unmarshal(raw, &actions); err != nil {
		return nil, &DecodeError{Detail: "codeAction result: " + err.Error()}
	}
	return actions, nil
}

// TypeHierarchy prepares the type hierarchy at a position and expands one
// level of supertypes and subtypes.
func (c *Client) TypeHierarchy(ctx context.Context, path string, pos Position) (*TypeHierarchy, error) {
	abs := c.abs(path)
	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: FileURI(abs)},
		Position:     pos,
	}
	var items []TypeHierarchyItem
	if err := c.call(ctx, path, "textDocument/prepareTypeHierarchy", params, &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return &TypeHierarchy{}, nil
	}
	conn, err := c.sup.Conn()
	if err != nil {
		return nil, err
	}

	h := &TypeHierarchy{Item: &items[0]}
	itemParams := map[string]any{"item": items[0]}
	if err := c.timedCall(ctx, conn, "typeHierarchy/supertypes", itemParams, &h.Supertypes); err != nil {
		c.logger.Debug("supertypes unavailable", "error", err)
	}
	if err := c.timedCall(ctx, conn, "typeHierarchy/subtypes", itemParams, &h.Subtypes); err != nil {
		c.logger.Debug("subtypes unavailable", "error", err)
	}
	return h, nil
}

// TypeHierarchy bundles the anchor item with one level of neighbors.
type TypeHierarchy struct {
	Item       *TypeHierarchyItem  `json:"item,omitempty"`
	Supertypes []TypeHierarchyItem `json:"supertypes,omitempty"`
	Subtypes   []TypeHierarchyItem `json:"subtypes,omitempty"`
}

// Diagnostics returns the current push snapshot for a document. The document
// is opened first so rust-analyzer starts publishing for it.
func (c *Client) Diagnostics(ctx context.Context, path string) ([]Diagnostic, error) {
	abs := c.abs(path)
	if err := c.ensureOpen(abs); err != nil {
		return nil, err
	}
	return c.diags.Get(FileURI(abs)), nil
}

// DiagnosticsSnapshot reads the stored diagnostics without opening anything.
func (c *Client) DiagnosticsSnapshot(path string) []Diagnostic {
	return c.diags.Get(FileURI(c.abs(path)))
}
