package inspect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rustbridge/rustbridge/internal/analyzer"
	"github.com/rustbridge/rustbridge/internal/compiler"
)

// BadRequestError rejects an inspection request before anything runs.
type BadRequestError struct {
	Msg string
}

func (e *BadRequestError) Error() string { return e.Msg }

func (e *BadRequestError) ErrorCode() string { return "invalid_params" }

// Provenance records exactly how an inspection was produced.
type Provenance struct {
	WorkspaceRoot       string             `json:"workspace_root"`
	TargetDir           string             `json:"target_dir"`
	Env                 map[string]string  `json:"env"`
	GatingMode          GatingMode         `json:"gating_mode"`
	ToolchainChannel    Channel            `json:"toolchain_channel"`
	WorkspaceLocked     bool               `json:"workspace_locked"`
	RustcVerboseVersion string             `json:"rustc_verbose_version,omitempty"`
	RustAnalyzerVersion string             `json:"rust_analyzer_version,omitempty"`
	Command             string             `json:"command,omitempty"`
	Truncation          *TruncationSummary `json:"truncation,omitempty"`
}

// Report is the outcome of one inspection.
type Report struct {
	View        string     `json:"view"`
	Symbol      string     `json:"symbol,omitempty"`
	Text        string     `json:"text"`
	Truncated   bool       `json:"truncated"`
	Diagnostics []string   `json:"diagnostics"`
	Provenance  Provenance `json:"provenance"`
}

// Capabilities advertises what inspections the current toolchain supports.
type Capabilities struct {
	ToolchainChannel Channel    `json:"toolchain_channel"`
	GatingMode       GatingMode `json:"gating_mode"`
	Views            []View     `json:"views"`
	Limits           Limits     `json:"limits"`
	Diagnostics      []string   `json:"diagnostics"`
	Provenance       Provenance `json:"provenance"`
}

// Request selects a view and the symbol to inspect. Line and Character are
// zero-based, matching the analyzer's positions.
type Request struct {
	View       string
	FilePath   string
	Line       *uint32
	Character  *uint32
	SymbolName string
	OptLevel   string
	Target     string
	// GatingOverride, when non-empty, replaces the service's configured
	// gating mode for this request only.
	GatingOverride string
}

// Service orchestrates curated inspections across the analyzer and the
// guarded compiler. A per-workspace mutex serializes compiler-backed views
// so concurrent runs do not trample the shared target dir.
type Service struct {
	analyzer  *analyzer.Client
	cargo     *compiler.Cargo
	limits    Limits
	gating    GatingMode
	toolchain Toolchain
	logger    *slog.Logger

	workspaceMu sync.Mutex
}

func NewService(client *analyzer.Client, cargo *compiler.Cargo, gating GatingMode, tc Toolchain, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		analyzer:  client,
		cargo:     cargo,
		limits:    DefaultLimits(),
		gating:    gating,
		toolchain: tc,
		logger:    logger,
	}
}

func (s *Service) gatingFor(override string) GatingMode {
	if override == "" {
		return s.gating
	}
	return ParseGatingMode(override)
}

func (s *Service) provenance(mode GatingMode) Provenance {
	return Provenance{
		WorkspaceRoot:       s.cargo.WorkspaceRoot(),
		TargetDir:           s.cargo.TargetDir(),
		Env:                 map[string]string{"CARGO_TARGET_DIR": s.cargo.TargetDir()},
		GatingMode:          mode,
		ToolchainChannel:    s.toolchain.Channel,
		RustcVerboseVersion: s.toolchain.RustcVerboseVersion,
		RustAnalyzerVersion: s.toolchain.RustAnalyzerVersion,
	}
}

// Capabilities lists the views the toolchain supports under the gating mode.
func (s *Service) Capabilities(gatingOverride string) Capabilities {
	mode := s.gatingFor(gatingOverride)
	var views []View
	var diags []string
	for _, v := range CuratedViews() {
		if ViewAdvertised(v, s.toolchain.Channel, mode) {
			views = append(views, v)
		} else {
			diags = append(diags, fmt.Sprintf(
				"View `%s` hidden: requires a nightly toolchain (detected %s)", v.Name, s.toolchain.Channel))
		}
	}
	return Capabilities{
		ToolchainChannel: s.toolchain.Channel,
		GatingMode:       mode,
		Views:            views,
		Limits:           s.limits,
		Diagnostics:      diags,
		Provenance:       s.provenance(mode),
	}
}

// Perform runs one inspection end to end.
func (s *Service) Perform(ctx context.Context, req Request) (*Report, error) {
	view, ok := FindView(req.View)
	if !ok {
		return nil, &BadRequestError{Msg: fmt.Sprintf("unknown inspection view %q", req.View)}
	}
	mode := s.gatingFor(req.GatingOverride)
	if !ViewAdvertised(view, s.toolchain.Channel, mode) {
		return nil, &BadRequestError{Msg: fmt.Sprintf(
			"view %q is not available under %s gating for %s toolchain", view.Name, mode, s.toolchain.Channel)}
	}

	prov := s.provenance(mode)
	if !ViewRunnable(view, s.toolchain.Channel) {
		return &Report{
			View: view.Name,
			Diagnostics: []string{fmt.Sprintf(
				"View `%s` requires a nightly toolchain (detected %s)", view.Name, s.toolchain.Channel)},
			Provenance: prov,
		}, nil
	}

	s.workspaceMu.Lock()
	defer s.workspaceMu.Unlock()
	prov.WorkspaceLocked = true

	var (
		text       string
		symbolName string
		diags      []string
	)
	switch view.Name {
	case "def":
		resolved, err := s.resolveDefinition(ctx, req)
		if err != nil {
			return nil, err
		}
		text, symbolName = resolved.text, resolved.itemName
	case "types":
		resolved, err := s.resolveTypes(ctx, req)
		if err != nil {
			return nil, err
		}
		text, symbolName = resolved.text, resolved.itemName
	default:
		sym, err := s.resolveSymbol(ctx, req)
		if err != nil {
			return nil, err
		}
		out, command, compileDiags, err := s.runCompiledView(ctx, view, req, sym)
		if err != nil {
			return nil, err
		}
		text, symbolName = out, sym.ItemName
		diags = compileDiags
		prov.Command = command
	}

	final, truncated, summary := Truncate(text, s.limits)
	if summary != nil {
		diags = append(diags, TruncationNote(summary))
	}
	prov.Truncation = summary

	s.logger.Info("inspection served",
		"view", view.Name, "symbol", symbolName, "truncated", truncated)
	return &Report{
		View:        view.Name,
		Symbol:      symbolName,
		Text:        final,
		Truncated:   truncated,
		Diagnostics: diags,
		Provenance:  prov,
	}, nil
}

type resolvedSymbol struct {
	text     string
	itemName string
}

func (s *Service) definitionDetail(ctx context.Context, req Request) (*analyzer.DefinitionDetail, error) {
	if req.Line == nil || req.Character == nil {
		return nil, &BadRequestError{Msg: "both line and character are required to resolve a symbol"}
	}
	details, err := s.analyzer.DefinitionDetails(ctx, req.FilePath,
		analyzer.Position{Line: *req.Line, Character: *req.Character})
	if err != nil {
		return nil, err
	}
	if len(details) == 0 {
		return nil, &compiler.NotFoundError{
			Symbol: fmt.Sprintf("%s:%d:%d", req.FilePath, *req.Line, *req.Character),
			View:   req.View,
		}
	}
	return &details[0], nil
}

func (s *Service) resolveDefinition(ctx context.Context, req Request) (*resolvedSymbol, error) {
	detail, err := s.definitionDetail(ctx, req)
	if err != nil {
		return nil, err
	}
	path := analyzer.SymbolPathString(detail.SymbolPath)
	item := itemName(detail.SymbolPath, req.SymbolName)
	return &resolvedSymbol{
		text: fmt.Sprintf("Definition: %s:%d:%d (%s)",
			detail.Location.URI,
			detail.Location.Range.Start.Line+1,
			detail.Location.Range.Start.Character+1,
			path),
		itemName: item,
	}, nil
}

func (s *Service) resolveTypes(ctx context.Context, req Request) (*resolvedSymbol, error) {
	detail, err := s.definitionDetail(ctx, req)
	if err != nil {
		return nil, err
	}
	hierarchy, err := s.analyzer.TypeHierarchy(ctx, req.FilePath,
		analyzer.Position{Line: *req.Line, Character: *req.Character})
	if err != nil {
		return nil, err
	}
	path := analyzer.SymbolPathString(detail.SymbolPath)
	var b strings.Builder
	fmt.Fprintf(&b, "Types: %s:%d:%d (%s)\n",
		detail.Location.URI,
		detail.Location.Range.Start.Line+1,
		detail.Location.Range.Start.Character+1,
		path)
	writeHierarchy(&b, hierarchy)
	return &resolvedSymbol{text: b.String(), itemName: itemName(detail.SymbolPath, req.SymbolName)}, nil
}

func writeHierarchy(b *strings.Builder, h *analyzer.TypeHierarchy) {
	if h == nil || h.Item == nil {
		b.WriteString("No type hierarchy available\n")
		return
	}
	fmt.Fprintf(b, "Item: %s (%s)\n", h.Item.Name, analyzer.SymbolKindName(h.Item.Kind))
	for _, sup := range h.Supertypes {
		fmt.Fprintf(b, "Supertype: %s\n", sup.Name)
	}
	for _, sub := range h.Subtypes {
		fmt.Fprintf(b, "Subtype: %s\n", sub.Name)
	}
}

// resolveSymbol produces the normalized symbol a compiled view will search
// for. Only functions and methods have MIR, LLVM IR or assembly.
func (s *Service) resolveSymbol(ctx context.Context, req Request) (compiler.NormalizedSymbol, error) {
	detail, err := s.definitionDetail(ctx, req)
	if err != nil {
		return compiler.NormalizedSymbol{}, err
	}
	if len(detail.SymbolPath) == 0 {
		return compiler.NormalizedSymbol{}, &BadRequestError{Msg: "could not resolve a named symbol at the position"}
	}
	leaf := detail.SymbolPath[len(detail.SymbolPath)-1]
	if leaf.Kind != 12 && leaf.Kind != 6 {
		return compiler.NormalizedSymbol{}, &BadRequestError{Msg: fmt.Sprintf(
			"symbol %q is a %s; compiled views cover functions and methods only",
			leaf.Name, analyzer.SymbolKindName(leaf.Kind))}
	}
	defName := analyzer.SymbolPathString(detail.SymbolPath)
	if req.SymbolName != "" {
		defName = req.SymbolName
	}
	return compiler.NormalizeSymbol(defName), nil
}

func (s *Service) runCompiledView(ctx context.Context, view View, req Request, sym compiler.NormalizedSymbol) (string, string, []string, error) {
	var cargoArgs, rustcFlags []string
	if req.Target != "" {
		cargoArgs = append(cargoArgs, "--target", req.Target)
	}
	if view.Emit != "" {
		rustcFlags = append(rustcFlags, "--emit="+view.Emit)
	}
	if view.Unpretty != "" {
		rustcFlags = append(rustcFlags, "-Zunpretty="+view.Unpretty)
	}
	if req.OptLevel != "" {
		rustcFlags = append(rustcFlags, "-C", "opt-level="+req.OptLevel)
	}

	result, artifacts, err := s.cargo.Rustc(ctx, cargoArgs, rustcFlags)
	if err != nil {
		return "", "", nil, err
	}
	command := "cargo rustc " + strings.Join(append(cargoArgs, rustcFlags...), " ")

	var diags []string
	if strings.TrimSpace(result.Stderr) != "" {
		stderr, truncated, _ := Truncate(result.Stderr, s.limits)
		prefix := "Compiler stderr:\n"
		if truncated {
			prefix = "Compiler stderr (truncated):\n"
		}
		diags = append(diags, prefix+stderr)
	}
	if result.ExitCode != 0 {
		return "", command, diags, fmt.Errorf("compiler exited with status %d: %s",
			result.ExitCode, firstLine(result.Stderr))
	}

	var text string
	switch view.Name {
	case "mir":
		text, err = compiler.ExtractMIR(result.Stdout, sym)
	case "llvm-ir":
		text, err = s.extractFromArtifacts(artifacts, ".ll", sym, compiler.ExtractLLVMIR)
	case "asm":
		text, err = s.extractFromArtifacts(artifacts, ".s", sym, compiler.ExtractASM)
	default:
		err = &BadRequestError{Msg: fmt.Sprintf("view %q has no compiled output", view.Name)}
	}
	if err != nil {
		return "", command, diags, err
	}
	return text, command, diags, nil
}

// extractFromArtifacts searches produced artifacts with the right extension
// until one contains the symbol. Ambiguity inside a single artifact is
// surfaced as-is.
func (s *Service) extractFromArtifacts(artifacts []string, ext string, sym compiler.NormalizedSymbol, extract func(string, compiler.NormalizedSymbol) (string, error)) (string, error) {
	matched := false
	for _, path := range artifacts {
		if filepath.Ext(path) != ext {
			continue
		}
		matched = true
		data, err := s.cargo.Runner().ReadArtifact(path)
		if err != nil {
			return "", err
		}
		text, err := extract(string(data), sym)
		if err == nil {
			return text, nil
		}
		var notFound *compiler.NotFoundError
		if !errors.As(err, &notFound) {
			return "", err
		}
	}
	if !matched {
		return "", fmt.Errorf("no %s artifacts were produced by the compiler", ext)
	}
	return "", &compiler.NotFoundError{Symbol: sym.DefName, View: strings.TrimPrefix(ext, ".")}
}

func itemName(path []analyzer.SymbolPathSegment, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1].Name
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
