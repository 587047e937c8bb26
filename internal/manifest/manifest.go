package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// Package is the [package] table of a Cargo.toml.
type Package struct {
	Name    string `toml:"name" json:"name"`
	Version string `toml:"version" json:"version"`
	Edition string `toml:"edition" json:"edition"`
}

// Dependency is one declared dependency, normalized from both the shorthand
// string form and the detailed table form.
type Dependency struct {
	Name     string   `json:"name"`
	Version  string   `json:"version,omitempty"`
	Path     string   `json:"path,omitempty"`
	Git      string   `json:"git,omitempty"`
	Features []string `json:"features,omitempty"`
	Optional bool     `json:"optional,omitempty"`
}

// Analysis is the result of parsing a workspace manifest.
type Analysis struct {
	ManifestPath    string              `json:"manifest_path"`
	Package         Package             `json:"package"`
	Dependencies    []Dependency        `json:"dependencies"`
	DevDependencies []Dependency        `json:"dev_dependencies"`
	Features        map[string][]string `json:"features,omitempty"`
}

type rawManifest struct {
	Package         Package                   `toml:"package"`
	Dependencies    map[string]toml.Primitive `toml:"dependencies"`
	DevDependencies map[string]toml.Primitive `toml:"dev-dependencies"`
	Features        map[string][]string       `toml:"features"`
}

type depDetail struct {
	Version  string   `toml:"version"`
	Path     string   `toml:"path"`
	Git      string   `toml:"git"`
	Features []string `toml:"features"`
	Optional bool     `toml:"optional"`
}

// Analyze parses the Cargo.toml at the workspace root.
func Analyze(workspaceRoot string) (*Analysis, error) {
	path := filepath.Join(workspaceRoot, "Cargo.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var raw rawManifest
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	deps, err := normalizeDeps(md, raw.Dependencies)
	if err != nil {
		return nil, fmt.Errorf("parse %s dependencies: %w", path, err)
	}
	devDeps, err := normalizeDeps(md, raw.DevDependencies)
	if err != nil {
		return nil, fmt.Errorf("parse %s dev-dependencies: %w", path, err)
	}

	return &Analysis{
		ManifestPath:    path,
		Package:         raw.Package,
		Dependencies:    deps,
		DevDependencies: devDeps,
		Features:        raw.Features,
	}, nil
}

func normalizeDeps(md toml.MetaData, raw map[string]toml.Primitive) ([]Dependency, error) {
	deps := make([]Dependency, 0, len(raw))
	for name, prim := range raw {
		var version string
		if err := md.PrimitiveDecode(prim, &version); err == nil {
			deps = append(deps, Dependency{Name: name, Version: version})
			continue
		}
		var detail depDetail
		if err := md.PrimitiveDecode(prim, &detail); err != nil {
			return nil, fmt.Errorf("dependency %q: %w", name, err)
		}
		deps = append(deps, Dependency{
			Name:     name,
			Version:  detail.Version,
			Path:     detail.Path,
			Git:      detail.Git,
			Features: detail.Features,
			Optional: detail.Optional,
		})
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	return deps, nil
}

// DeclaredNames returns the dependency names as a lookup set, with dashes
// normalized to underscores the way rustc sees crate names.
func (a *Analysis) DeclaredNames() map[string]bool {
	names := make(map[string]bool, len(a.Dependencies)+len(a.DevDependencies))
	for _, d := range a.Dependencies {
		names[crateIdent(d.Name)] = true
	}
	for _, d := range a.DevDependencies {
		names[crateIdent(d.Name)] = true
	}
	return names
}
