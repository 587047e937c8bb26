package manifest

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var useRootRe = regexp.MustCompile(`(?m)^\s*(?:pub\s+)?use\s+([A-Za-z_][A-Za-z0-9_]*)\s*(?:::|;)`)
var externCrateRe = regexp.MustCompile(`(?m)^\s*extern\s+crate\s+([A-Za-z_][A-Za-z0-9_]*)`)

// builtinRoots never need a dependency declaration.
var builtinRoots = map[string]bool{
	"std": true, "core": true, "alloc": true, "crate": true,
	"self": true, "super": true, "test": true, "proc_macro": true,
}

// knownCrates maps common crate roots to the version a suggestion proposes.
var knownCrates = map[string]string{
	"serde":      "1",
	"serde_json": "1",
	"tokio":      "1",
	"anyhow":     "1",
	"thiserror":  "2",
	"clap":       "4",
	"regex":      "1",
	"rand":       "0.9",
	"log":        "0.4",
	"tracing":    "0.1",
	"reqwest":    "0.12",
	"chrono":     "0.4",
	"uuid":       "1",
}

// Suggestion points at a crate the source uses but the manifest does not
// declare.
type Suggestion struct {
	Crate   string `json:"crate"`
	Version string `json:"version,omitempty"`
	Reason  string `json:"reason"`
}

// SuggestDependencies scans .rs files under src/ for `use` and
// `extern crate` roots and reports the ones missing from the manifest. Roots
// that match the package's own crate name are skipped.
func SuggestDependencies(workspaceRoot string, analysis *Analysis) ([]Suggestion, error) {
	declared := analysis.DeclaredNames()
	selfName := crateIdent(analysis.Package.Name)

	used := make(map[string][]string)
	srcDir := filepath.Join(workspaceRoot, "src")
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".rs" {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(workspaceRoot, path)
		for _, re := range []*regexp.Regexp{useRootRe, externCrateRe} {
			for _, m := range re.FindAllStringSubmatch(string(data), -1) {
				root := m[1]
				if builtinRoots[root] || root == selfName || declared[root] {
					continue
				}
				used[root] = append(used[root], rel)
			}
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	suggestions := make([]Suggestion, 0, len(used))
	for root, files := range used {
		sort.Strings(files)
		suggestions = append(suggestions, Suggestion{
			Crate:   root,
			Version: knownCrates[root],
			Reason:  "used in " + strings.Join(dedupe(files), ", "),
		})
	}
	sort.Slice(suggestions, func(i, j int) bool { return suggestions[i].Crate < suggestions[j].Crate })
	return suggestions, nil
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}

func crateIdent(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}
