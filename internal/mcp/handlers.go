package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rustbridge/rustbridge/internal/analyzer"
	"github.com/rustbridge/rustbridge/internal/codegen"
	"github.com/rustbridge/rustbridge/internal/compiler"
	"github.com/rustbridge/rustbridge/internal/inspect"
	"github.com/rustbridge/rustbridge/internal/manifest"
)

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid json arguments: %w", err)
	}
	return nil
}

func errRequired(field string) error {
	return fmt.Errorf("%s is required", field)
}

type positionArgs struct {
	FilePath  string `json:"file_path"`
	Line      uint32 `json:"line"`
	Character uint32 `json:"character"`
}

func (a positionArgs) pos() analyzer.Position {
	return analyzer.Position{Line: a.Line, Character: a.Character}
}

type fileArgs struct {
	FilePath string `json:"file_path"`
}

func (s *Server) toolFindDefinition(ctx context.Context, raw json.RawMessage) (any, error) {
	var args positionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.FilePath == "" {
		return nil, errRequired("file_path")
	}
	details, err := s.analyzer.DefinitionDetails(ctx, args.FilePath, args.pos())
	if err != nil {
		return nil, err
	}
	return map[string]any{"definitions": details, "count": len(details)}, nil
}

func (s *Server) toolFindReferences(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		positionArgs
		IncludeDeclaration bool `json:"include_declaration"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.FilePath == "" {
		return nil, errRequired("file_path")
	}
	refs, err := s.analyzer.References(ctx, args.FilePath, args.pos(), args.IncludeDeclaration)
	if err != nil {
		return nil, err
	}
	return map[string]any{"references": refs, "count": len(refs)}, nil
}

func (s *Server) toolGetDiagnostics(ctx context.Context, raw json.RawMessage) (any, error) {
	var args fileArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.FilePath == "" {
		return nil, errRequired("file_path")
	}
	diags, err := s.analyzer.Diagnostics(ctx, args.FilePath)
	if err != nil {
		return nil, err
	}
	return map[string]any{"file_path": args.FilePath, "diagnostics": diags, "count": len(diags)}, nil
}

func (s *Server) toolWorkspaceSymbols(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, errRequired("query")
	}
	syms, err := s.analyzer.WorkspaceSymbols(ctx, args.Query)
	if err != nil {
		return nil, err
	}
	return map[string]any{"symbols": syms, "count": len(syms)}, nil
}

func (s *Server) toolRenameSymbol(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		positionArgs
		NewName string `json:"new_name"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.FilePath == "" {
		return nil, errRequired("file_path")
	}
	if strings.TrimSpace(args.NewName) == "" {
		return nil, errRequired("new_name")
	}
	edit, err := s.analyzer.Rename(ctx, args.FilePath, args.pos(), args.NewName)
	if err != nil {
		return nil, err
	}
	return map[string]any{"edit": edit}, nil
}

func (s *Server) toolFormatCode(ctx context.Context, raw json.RawMessage) (any, error) {
	var args fileArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.FilePath == "" {
		return nil, errRequired("file_path")
	}
	edits, err := s.analyzer.Format(ctx, args.FilePath)
	if err != nil {
		return nil, err
	}
	return map[string]any{"edits": edits, "count": len(edits)}, nil
}

// wholeDocument is a range past any real file's end; the analyzer clamps it.
var wholeDocument = analyzer.Range{End: analyzer.Position{Line: 1 << 30}}

func (s *Server) toolOrganizeImports(ctx context.Context, raw json.RawMessage) (any, error) {
	var args fileArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.FilePath == "" {
		return nil, errRequired("file_path")
	}
	actions, err := s.analyzer.CodeActions(ctx, args.FilePath, wholeDocument, []string{"source.organizeImports"})
	if err != nil {
		return nil, err
	}
	return map[string]any{"actions": actions, "count": len(actions)}, nil
}

func (s *Server) toolGetTypeHierarchy(ctx context.Context, raw json.RawMessage) (any, error) {
	var args positionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.FilePath == "" {
		return nil, errRequired("file_path")
	}
	h, err := s.analyzer.TypeHierarchy(ctx, args.FilePath, args.pos())
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Server) toolInlineFunction(ctx context.Context, raw json.RawMessage) (any, error) {
	return s.refactorActions(ctx, raw, "refactor.inline")
}

func (s *Server) toolChangeSignature(ctx context.Context, raw json.RawMessage) (any, error) {
	return s.refactorActions(ctx, raw, "refactor.rewrite")
}

func (s *Server) refactorActions(ctx context.Context, raw json.RawMessage, kind string) (any, error) {
	var args positionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.FilePath == "" {
		return nil, errRequired("file_path")
	}
	rng := analyzer.Range{Start: args.pos(), End: args.pos()}
	actions, err := s.analyzer.CodeActions(ctx, args.FilePath, rng, []string{kind})
	if err != nil {
		return nil, err
	}
	return map[string]any{"actions": actions, "count": len(actions)}, nil
}

func (s *Server) toolExtractFunction(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		FilePath       string `json:"file_path"`
		StartLine      uint32 `json:"start_line"`
		StartCharacter uint32 `json:"start_character"`
		EndLine        uint32 `json:"end_line"`
		EndCharacter   uint32 `json:"end_character"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.FilePath == "" {
		return nil, errRequired("file_path")
	}
	if args.EndLine < args.StartLine {
		return nil, fmt.Errorf("invalid range: end_line %d before start_line %d", args.EndLine, args.StartLine)
	}
	rng := analyzer.Range{
		Start: analyzer.Position{Line: args.StartLine, Character: args.StartCharacter},
		End:   analyzer.Position{Line: args.EndLine, Character: args.EndCharacter},
	}
	actions, err := s.analyzer.CodeActions(ctx, args.FilePath, rng, []string{"refactor.extract"})
	if err != nil {
		return nil, err
	}
	return map[string]any{"actions": actions, "count": len(actions)}, nil
}

func (s *Server) toolAnalyzeManifest(_ context.Context, _ json.RawMessage) (any, error) {
	return manifest.Analyze(s.root)
}

func (s *Server) toolSuggestDependencies(_ context.Context, _ json.RawMessage) (any, error) {
	analysis, err := manifest.Analyze(s.root)
	if err != nil {
		return nil, err
	}
	suggestions, err := manifest.SuggestDependencies(s.root, analysis)
	if err != nil {
		return nil, err
	}
	return map[string]any{"suggestions": suggestions, "count": len(suggestions)}, nil
}

func compilerResult(res *compiler.Result) map[string]any {
	return map[string]any{
		"stdout":      res.Stdout,
		"stderr":      res.Stderr,
		"exit_code":   res.ExitCode,
		"duration_ms": res.Duration.Milliseconds(),
		"success":     res.ExitCode == 0,
	}
}

func (s *Server) toolRunCargoCheck(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		ExtraArgs []string `json:"extra_args"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	res, err := s.cargo.Check(ctx, args.ExtraArgs...)
	if err != nil {
		return nil, err
	}
	return compilerResult(res), nil
}

func (s *Server) toolApplyClippySuggestions(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Fix       bool     `json:"fix"`
		ExtraArgs []string `json:"extra_args"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	extra := args.ExtraArgs
	if args.Fix {
		extra = append([]string{"--fix", "--allow-dirty"}, extra...)
	}
	res, err := s.cargo.Clippy(ctx, extra...)
	if err != nil {
		return nil, err
	}
	out := compilerResult(res)
	out["fix"] = args.Fix
	return out, nil
}

func (s *Server) toolValidateLifetimes(ctx context.Context, raw json.RawMessage) (any, error) {
	var args fileArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	var findings []string
	if args.FilePath != "" {
		diags, err := s.analyzer.Diagnostics(ctx, args.FilePath)
		if err != nil {
			return nil, err
		}
		for _, d := range diags {
			if isLifetimeFinding(fmt.Sprint(d.Code), d.Message) {
				findings = append(findings, fmt.Sprintf("%s:%d: %s", args.FilePath, d.Range.Start.Line+1, d.Message))
			}
		}
	} else {
		res, err := s.cargo.Check(ctx)
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(res.Stderr, "\n") {
			if isLifetimeFinding("", line) {
				findings = append(findings, strings.TrimSpace(line))
			}
		}
	}

	return map[string]any{
		"findings": findings,
		"count":    len(findings),
		"clean":    len(findings) == 0,
	}, nil
}

// Borrow-check and lifetime error codes, plus the message phrasings rustc
// uses when no code is attached.
var lifetimeErrorCodes = map[string]bool{
	"E0106": true, "E0495": true, "E0499": true, "E0502": true,
	"E0505": true, "E0506": true, "E0597": true, "E0621": true,
	"E0623": true, "E0716": true,
}

func isLifetimeFinding(code, message string) bool {
	if lifetimeErrorCodes[code] {
		return true
	}
	lower := strings.ToLower(message)
	for c := range lifetimeErrorCodes {
		if strings.Contains(message, c) {
			return true
		}
	}
	return strings.Contains(lower, "lifetime") ||
		strings.Contains(lower, "borrow") ||
		strings.Contains(lower, "does not live long enough")
}

func (s *Server) rendered(code, filePath string) (any, error) {
	if filePath == "" {
		return map[string]any{"code": code}, nil
	}
	written, err := s.generator.AppendToFile(filePath, code)
	if err != nil {
		return nil, err
	}
	return map[string]any{"code": code, "written_to": written}, nil
}

func (s *Server) toolGenerateStruct(_ context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Name     string          `json:"name"`
		Fields   []codegen.Field `json:"fields"`
		Derives  []string        `json:"derives"`
		FilePath string          `json:"file_path"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	code, err := codegen.RenderStruct(args.Name, args.Fields, args.Derives)
	if err != nil {
		return nil, err
	}
	return s.rendered(code, args.FilePath)
}

func (s *Server) toolGenerateEnum(_ context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Name     string            `json:"name"`
		Variants []codegen.Variant `json:"variants"`
		Derives  []string          `json:"derives"`
		FilePath string            `json:"file_path"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	code, err := codegen.RenderEnum(args.Name, args.Variants, args.Derives)
	if err != nil {
		return nil, err
	}
	return s.rendered(code, args.FilePath)
}

func (s *Server) toolGenerateTraitImpl(_ context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		TraitName string   `json:"trait_name"`
		TypeName  string   `json:"type_name"`
		Methods   []string `json:"methods"`
		FilePath  string   `json:"file_path"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	code, err := codegen.RenderTraitImpl(args.TraitName, args.TypeName, args.Methods)
	if err != nil {
		return nil, err
	}
	return s.rendered(code, args.FilePath)
}

func (s *Server) toolGenerateTests(_ context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		TargetFunction string   `json:"target_function"`
		Cases          []string `json:"cases"`
		FilePath       string   `json:"file_path"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	code, err := codegen.RenderTestModule(args.TargetFunction, args.Cases)
	if err != nil {
		return nil, err
	}
	return s.rendered(code, args.FilePath)
}

func (s *Server) toolCreateModule(_ context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	path, err := s.generator.CreateModule(args.Name, args.Content)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": path}, nil
}

func (s *Server) toolMoveItems(_ context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		FromPath  string `json:"from_path"`
		ToPath    string `json:"to_path"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.FromPath == "" {
		return nil, errRequired("from_path")
	}
	if args.ToPath == "" {
		return nil, errRequired("to_path")
	}
	moved, err := s.generator.MoveItems(args.FromPath, args.ToPath, args.StartLine, args.EndLine)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"from_path":   args.FromPath,
		"to_path":     args.ToPath,
		"moved_lines": args.EndLine - args.StartLine + 1,
		"moved_text":  moved,
	}, nil
}

type inspectArgs struct {
	View       string  `json:"view"`
	FilePath   string  `json:"file_path"`
	Line       *uint32 `json:"line"`
	Character  *uint32 `json:"character"`
	SymbolName string  `json:"symbol_name"`
	OptLevel   string  `json:"opt_level"`
	Target     string  `json:"target"`
	GatingMode string  `json:"gating_mode"`
}

func (a inspectArgs) request(view string) inspect.Request {
	return inspect.Request{
		View:           view,
		FilePath:       a.FilePath,
		Line:           a.Line,
		Character:      a.Character,
		SymbolName:     a.SymbolName,
		OptLevel:       a.OptLevel,
		Target:         a.Target,
		GatingOverride: a.GatingMode,
	}
}

func (s *Server) toolCapabilities(_ context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		GatingMode string `json:"gating_mode"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return s.inspector.Capabilities(args.GatingMode), nil
}

func (s *Server) toolInspect(ctx context.Context, raw json.RawMessage) (any, error) {
	var args inspectArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.View == "" {
		return nil, errRequired("view")
	}
	return s.inspector.Perform(ctx, args.request(args.View))
}

func (s *Server) toolInspectFixed(ctx context.Context, raw json.RawMessage, view string) (any, error) {
	var args inspectArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return s.inspector.Perform(ctx, args.request(view))
}
