package compiler

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
)

// InspectionTargetDir is kept separate from the user's regular build output
// so inspection runs never invalidate their incremental cache.
const InspectionTargetDir = "target/mcp-inspections"

// Cargo runs cargo subcommands in a workspace through the guarded runner.
type Cargo struct {
	runner    *Runner
	root      string
	targetDir string
}

func NewCargo(runner *Runner, workspaceRoot string) *Cargo {
	return &Cargo{
		runner:    runner,
		root:      workspaceRoot,
		targetDir: filepath.Join(workspaceRoot, InspectionTargetDir),
	}
}

// SetTargetDir overrides the inspection target dir. Relative paths are
// resolved against the workspace root.
func (c *Cargo) SetTargetDir(dir string) {
	if dir == "" {
		return
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.root, dir)
	}
	c.targetDir = dir
}

func (c *Cargo) WorkspaceRoot() string { return c.root }

func (c *Cargo) TargetDir() string { return c.targetDir }

func (c *Cargo) Runner() *Runner { return c.runner }

// Check runs cargo check with machine-readable diagnostics on stderr.
func (c *Cargo) Check(ctx context.Context, extraArgs ...string) (*Result, error) {
	args := append([]string{"check", "--offline"}, extraArgs...)
	return c.runner.Run(ctx, c.root, nil, "cargo", args...)
}

// Clippy runs cargo clippy. Lint findings land in the Result as ordinary
// compiler output.
func (c *Cargo) Clippy(ctx context.Context, extraArgs ...string) (*Result, error) {
	args := append([]string{"clippy", "--offline"}, extraArgs...)
	return c.runner.Run(ctx, c.root, nil, "cargo", args...)
}

// Rustc runs cargo rustc with trailing compiler flags, redirecting build
// output into the isolated inspection target dir. It returns the run result
// plus the artifact files the run produced, discovered by diffing the target
// dir's file set before and after.
func (c *Cargo) Rustc(ctx context.Context, cargoArgs, rustcFlags []string) (*Result, []string, error) {
	before, err := snapshotFiles(c.targetDir)
	if err != nil {
		return nil, nil, err
	}

	args := append([]string{"rustc", "--offline"}, cargoArgs...)
	if len(rustcFlags) > 0 {
		args = append(args, "--")
		args = append(args, rustcFlags...)
	}
	env := []string{"CARGO_TARGET_DIR=" + c.targetDir}
	result, err := c.runner.Run(ctx, c.root, env, "cargo", args...)
	if err != nil {
		return nil, nil, err
	}

	after, err := snapshotFiles(c.targetDir)
	if err != nil {
		return result, nil, err
	}
	var produced []string
	for path := range after {
		if !before[path] {
			produced = append(produced, path)
		}
	}
	sort.Strings(produced)
	return result, produced, nil
}

// snapshotFiles records every regular file under dir. A missing dir is an
// empty snapshot, since cargo creates it on first use.
func snapshotFiles(dir string) (map[string]bool, error) {
	files := make(map[string]bool)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files[path] = true
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return files, nil
		}
		return nil, err
	}
	return files, nil
}
