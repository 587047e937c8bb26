package codegen

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSafeWorkspacePath(t *testing.T) {
	if _, err := SafeWorkspacePath("src/lib.rs"); err != nil {
		t.Fatalf("plain relative path rejected: %v", err)
	}
	if got, err := SafeWorkspacePath("./src/lib.rs"); err != nil || got != "src/lib.rs" {
		t.Fatalf("dot-prefixed path: got %q err %v", got, err)
	}
	for _, bad := range []string{"", "/etc/passwd", "../outside.rs", "src/../../outside.rs", "."} {
		if _, err := SafeWorkspacePath(bad); err == nil {
			t.Fatalf("path %q accepted", bad)
		}
	}
}

func TestAppendToFileCreatesAndSeparates(t *testing.T) {
	g := NewGenerator(t.TempDir())
	if _, err := g.AppendToFile("src/gen.rs", "pub struct A;\n"); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if _, err := g.AppendToFile("src/gen.rs", "pub struct B;\n"); err != nil {
		t.Fatalf("second append: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(g.root, "src/gen.rs"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "pub struct A;\n\npub struct B;\n" {
		t.Fatalf("content = %q", data)
	}
}

func TestCreateModuleWiresDeclaration(t *testing.T) {
	g := NewGenerator(t.TempDir())
	if err := os.MkdirAll(filepath.Join(g.root, "src"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(g.root, "src/lib.rs"), []byte("pub mod existing;\n"), 0o644); err != nil {
		t.Fatalf("seed lib.rs: %v", err)
	}

	path, err := g.CreateModule("parser", "")
	if err != nil {
		t.Fatalf("CreateModule: %v", err)
	}
	if path != "src/parser.rs" {
		t.Fatalf("path = %q", path)
	}
	lib, _ := os.ReadFile(filepath.Join(g.root, "src/lib.rs"))
	if !strings.Contains(string(lib), "pub mod parser;") {
		t.Fatalf("lib.rs not wired: %q", lib)
	}

	if _, err := g.CreateModule("parser", ""); err == nil {
		t.Fatal("duplicate module creation accepted")
	}
	if _, err := g.CreateModule("not a module", ""); err == nil {
		t.Fatal("invalid module name accepted")
	}
}

func TestMoveItems(t *testing.T) {
	g := NewGenerator(t.TempDir())
	src := "fn keep() {}\nfn move_me() {\n    body();\n}\nfn also_keep() {}\n"
	if err := os.MkdirAll(filepath.Join(g.root, "src"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(g.root, "src/a.rs"), []byte(src), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	moved, err := g.MoveItems("src/a.rs", "src/b.rs", 2, 4)
	if err != nil {
		t.Fatalf("MoveItems: %v", err)
	}
	if !strings.Contains(moved, "move_me") {
		t.Fatalf("moved = %q", moved)
	}
	a, _ := os.ReadFile(filepath.Join(g.root, "src/a.rs"))
	if strings.Contains(string(a), "move_me") {
		t.Fatalf("source still contains moved item: %q", a)
	}
	if !strings.Contains(string(a), "keep") || !strings.Contains(string(a), "also_keep") {
		t.Fatalf("surrounding code lost: %q", a)
	}
	b, _ := os.ReadFile(filepath.Join(g.root, "src/b.rs"))
	if !strings.Contains(string(b), "move_me") {
		t.Fatalf("destination missing item: %q", b)
	}

	if _, err := g.MoveItems("src/a.rs", "src/b.rs", 5, 2); err == nil {
		t.Fatal("inverted range accepted")
	}
}

func TestRenderStruct(t *testing.T) {
	got, err := RenderStruct("Config", []Field{
		{Name: "name", Type: "String"},
		{Name: "retries", Type: "u32"},
	}, []string{"Debug", "Clone"})
	if err != nil {
		t.Fatalf("RenderStruct: %v", err)
	}
	want := "#[derive(Debug, Clone)]\npub struct Config {\n    pub name: String,\n    pub retries: u32,\n}\n"
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}

	unit, err := RenderStruct("Marker", nil, nil)
	if err != nil || unit != "pub struct Marker;\n" {
		t.Fatalf("unit struct: %q err %v", unit, err)
	}

	if _, err := RenderStruct("bad name", nil, nil); err == nil {
		t.Fatal("invalid struct name accepted")
	}
	if _, err := RenderStruct("S", []Field{{Name: "x", Type: " "}}, nil); err == nil {
		t.Fatal("field without type accepted")
	}
}

func TestRenderEnum(t *testing.T) {
	got, err := RenderEnum("Event", []Variant{
		{Name: "Started"},
		{Name: "Progress", Tuple: []string{"u32"}},
		{Name: "Finished", Fields: []Field{{Name: "code", Type: "i32"}}},
	}, []string{"Debug"})
	if err != nil {
		t.Fatalf("RenderEnum: %v", err)
	}
	for _, want := range []string{
		"#[derive(Debug)]",
		"pub enum Event {",
		"    Started,",
		"    Progress(u32),",
		"    Finished {",
		"        code: i32,",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}

	if _, err := RenderEnum("Empty", nil, nil); err == nil {
		t.Fatal("empty enum accepted")
	}
}

func TestRenderTraitImpl(t *testing.T) {
	got, err := RenderTraitImpl("Display", "Config", []string{
		"fn fmt(&self, f: &mut fmt::Formatter<'_>) -> fmt::Result;",
	})
	if err != nil {
		t.Fatalf("RenderTraitImpl: %v", err)
	}
	if !strings.Contains(got, "impl Display for Config {") {
		t.Fatalf("impl header missing:\n%s", got)
	}
	if !strings.Contains(got, "todo!()") {
		t.Fatalf("todo body missing:\n%s", got)
	}
	if strings.Contains(got, ";") {
		t.Fatalf("trailing semicolon kept in method body:\n%s", got)
	}

	empty, err := RenderTraitImpl("Send", "Config", nil)
	if err != nil || empty != "impl Send for Config {\n}\n" {
		t.Fatalf("marker impl: %q err %v", empty, err)
	}
}

func TestRenderTestModule(t *testing.T) {
	got, err := RenderTestModule("parse_header", []string{"empty input", "valid header"})
	if err != nil {
		t.Fatalf("RenderTestModule: %v", err)
	}
	for _, want := range []string{
		"#[cfg(test)]",
		"mod tests {",
		"use super::*;",
		"fn parse_header_empty_input()",
		"fn parse_header_valid_header()",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}

	fallback, err := RenderTestModule("run", nil)
	if err != nil || !strings.Contains(fallback, "fn run_works()") {
		t.Fatalf("fallback test: %q err %v", fallback, err)
	}
}
