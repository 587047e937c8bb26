package codegen

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var rustIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Generator renders Rust source fragments and writes them into the
// workspace. Every path is validated to stay under the workspace root.
type Generator struct {
	root string
}

func NewGenerator(workspaceRoot string) *Generator {
	return &Generator{root: workspaceRoot}
}

// SafeWorkspacePath rejects absolute paths and traversal out of the
// workspace, returning the cleaned relative path.
func SafeWorkspacePath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	trimmed = strings.TrimPrefix(trimmed, "./")
	if trimmed == "" {
		return "", fmt.Errorf("file path is required")
	}
	if strings.HasPrefix(trimmed, "/") {
		return "", fmt.Errorf("absolute file path is not allowed: %q", path)
	}
	cleaned := filepath.Clean(trimmed)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("unsafe file path: %q", path)
	}
	return cleaned, nil
}

func validIdent(name, what string) error {
	if !rustIdentRe.MatchString(name) {
		return fmt.Errorf("invalid %s name: %q", what, name)
	}
	return nil
}

// AppendToFile appends a rendered fragment to a workspace file, creating the
// file and parent directories when needed. A blank line separates the
// fragment from existing content.
func (g *Generator) AppendToFile(relPath, fragment string) (string, error) {
	clean, err := SafeWorkspacePath(relPath)
	if err != nil {
		return "", err
	}
	full := filepath.Join(g.root, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("mkdir for %q: %w", clean, err)
	}

	existing, err := os.ReadFile(full)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("read %q: %w", clean, err)
	}
	var out strings.Builder
	if len(existing) > 0 {
		out.Write(existing)
		if !strings.HasSuffix(string(existing), "\n") {
			out.WriteByte('\n')
		}
		out.WriteByte('\n')
	}
	out.WriteString(fragment)
	if err := os.WriteFile(full, []byte(out.String()), 0o644); err != nil {
		return "", fmt.Errorf("write %q: %w", clean, err)
	}
	return clean, nil
}

// CreateModule writes a new module file and wires a `mod` declaration into
// the parent. Parent resolution follows cargo conventions: src/lib.rs when
// present, otherwise src/main.rs.
func (g *Generator) CreateModule(name string, content string) (string, error) {
	if err := validIdent(name, "module"); err != nil {
		return "", err
	}
	modPath := filepath.Join("src", name+".rs")
	full := filepath.Join(g.root, modPath)
	if _, err := os.Stat(full); err == nil {
		return "", fmt.Errorf("module file already exists: %s", modPath)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("mkdir src: %w", err)
	}
	if content == "" {
		content = fmt.Sprintf("//! %s module.\n", name)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write module: %w", err)
	}

	if err := g.declareModule(name); err != nil {
		return "", err
	}
	return modPath, nil
}

func (g *Generator) declareModule(name string) error {
	for _, candidate := range []string{"src/lib.rs", "src/main.rs"} {
		full := filepath.Join(g.root, candidate)
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		decl := "mod " + name + ";"
		if strings.Contains(string(data), decl) || strings.Contains(string(data), "pub "+decl) {
			return nil
		}
		updated := string(data)
		if !strings.HasSuffix(updated, "\n") {
			updated += "\n"
		}
		updated += "pub " + decl + "\n"
		return os.WriteFile(full, []byte(updated), 0o644)
	}
	return fmt.Errorf("no src/lib.rs or src/main.rs to declare module %q in", name)
}

// MoveItems moves a line range from one workspace file to another, appending
// at the destination. It returns the moved text.
func (g *Generator) MoveItems(fromPath, toPath string, startLine, endLine int) (string, error) {
	fromClean, err := SafeWorkspacePath(fromPath)
	if err != nil {
		return "", err
	}
	if _, err := SafeWorkspacePath(toPath); err != nil {
		return "", err
	}
	if startLine < 1 || endLine < startLine {
		return "", fmt.Errorf("invalid line range %d..%d", startLine, endLine)
	}

	data, err := os.ReadFile(filepath.Join(g.root, fromClean))
	if err != nil {
		return "", fmt.Errorf("read %q: %w", fromClean, err)
	}
	lines := strings.Split(string(data), "\n")
	if endLine > len(lines) {
		return "", fmt.Errorf("line range %d..%d exceeds %d lines in %s",
			startLine, endLine, len(lines), fromClean)
	}

	moved := strings.Join(lines[startLine-1:endLine], "\n")
	remaining := append(append([]string{}, lines[:startLine-1]...), lines[endLine:]...)

	if _, err := g.AppendToFile(toPath, moved+"\n"); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(g.root, fromClean),
		[]byte(strings.Join(remaining, "\n")), 0o644); err != nil {
		return "", fmt.Errorf("rewrite %q: %w", fromClean, err)
	}
	return moved, nil
}
