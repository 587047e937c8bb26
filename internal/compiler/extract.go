package compiler

import (
	"fmt"
	"strings"
)

// NormalizedSymbol carries the different spellings a symbol search has to
// match against compiler output: the fully qualified path, the bare item
// name, an optional mangled name and the legacy-mangling prefix derived from
// the path.
type NormalizedSymbol struct {
	DefName       string `json:"def_name"`
	ItemName      string `json:"item_name"`
	Mangled       string `json:"mangled,omitempty"`
	MangledPrefix string `json:"mangled_prefix,omitempty"`
}

// NormalizeSymbol accepts either a `crate::module::item` path, a bare item
// name, or an already-mangled `_ZN...` name.
func NormalizeSymbol(raw string) NormalizedSymbol {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "_ZN") || strings.HasPrefix(raw, "_R") {
		return NormalizedSymbol{Mangled: raw, ItemName: raw}
	}
	segments := strings.Split(raw, "::")
	sym := NormalizedSymbol{
		DefName:  raw,
		ItemName: segments[len(segments)-1],
	}
	if len(segments) > 1 {
		var b strings.Builder
		b.WriteString("_ZN")
		for _, seg := range segments {
			fmt.Fprintf(&b, "%d%s", len(seg), seg)
		}
		sym.MangledPrefix = b.String()
	}
	return sym
}

// NotFoundError reports that no block in the output matched the symbol.
type NotFoundError struct {
	Symbol string
	View   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("symbol %q not found in %s output", e.Symbol, e.View)
}

func (e *NotFoundError) ErrorCode() string { return "not_found" }

// AmbiguousSymbolError reports multiple equally good matches and lists their
// headers so the caller can pick a more specific spelling.
type AmbiguousSymbolError struct {
	Symbol     string
	Candidates []string
}

func (e *AmbiguousSymbolError) Error() string {
	return fmt.Sprintf("symbol %q matches %d blocks: %s",
		e.Symbol, len(e.Candidates), strings.Join(e.Candidates, "; "))
}

func (e *AmbiguousSymbolError) ErrorCode() string { return "invalid_params" }

// matchTier orders how strongly a header matches a symbol. Exact mangled
// names beat mangled prefixes beat qualified paths beat bare item names.
func matchTier(header string, sym NormalizedSymbol) int {
	if sym.Mangled != "" && strings.Contains(header, sym.Mangled) {
		return 4
	}
	if sym.MangledPrefix != "" && strings.Contains(header, sym.MangledPrefix) {
		return 3
	}
	if sym.DefName != "" && strings.Contains(header, sym.DefName) {
		return 2
	}
	if sym.ItemName != "" && containsToken(header, sym.ItemName) {
		return 1
	}
	return 0
}

// containsToken matches the item name only on identifier boundaries, so
// `new` does not hit `new_unchecked`.
func containsToken(s, token string) bool {
	for start := 0; ; {
		i := strings.Index(s[start:], token)
		if i < 0 {
			return false
		}
		i += start
		leftOK := i == 0 || !isIdentByte(s[i-1])
		right := i + len(token)
		rightOK := right >= len(s) || !isIdentByte(s[right])
		if leftOK && rightOK {
			return true
		}
		start = i + 1
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

type block struct {
	header string
	tier   int
	body   string
}

// selectBlock applies the tier preference: the best tier wins outright; a tie
// within the best tier is ambiguous.
func selectBlock(symbolLabel string, view string, blocks []block) (string, error) {
	best := 0
	for _, b := range blocks {
		if b.tier > best {
			best = b.tier
		}
	}
	if best == 0 {
		return "", &NotFoundError{Symbol: symbolLabel, View: view}
	}
	var matches []block
	for _, b := range blocks {
		if b.tier == best {
			matches = append(matches, b)
		}
	}
	if len(matches) > 1 {
		headers := make([]string, len(matches))
		for i, m := range matches {
			headers[i] = m.header
		}
		return "", &AmbiguousSymbolError{Symbol: symbolLabel, Candidates: headers}
	}
	return matches[0].body, nil
}

func symbolLabel(sym NormalizedSymbol) string {
	if sym.DefName != "" {
		return sym.DefName
	}
	return sym.ItemName
}

// ExtractMIR pulls the symbol's `fn` block out of -Zunpretty=mir output.
// Blocks start at a line beginning with `fn ` and end at the matching
// top-level closing brace.
func ExtractMIR(output string, sym NormalizedSymbol) (string, error) {
	lines := strings.Split(output, "\n")
	var blocks []block
	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(trimmed, "fn ") {
			continue
		}
		tier := matchTier(trimmed, sym)
		end := i
		for end < len(lines) && lines[end] != "}" {
			end++
		}
		if end < len(lines) {
			end++
		}
		blocks = append(blocks, block{
			header: trimmed,
			tier:   tier,
			body:   strings.Join(lines[i:end], "\n"),
		})
		i = end - 1
	}
	return selectBlock(symbolLabel(sym), "mir", blocks)
}

// ExtractLLVMIR pulls the symbol's `define` block out of an emitted .ll
// artifact. Blocks end at the `}` closing the function definition.
func ExtractLLVMIR(output string, sym NormalizedSymbol) (string, error) {
	lines := strings.Split(output, "\n")
	var blocks []block
	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(lines[i], "define") {
			continue
		}
		tier := matchTier(lines[i], sym)
		end := i
		for end < len(lines) && lines[end] != "}" {
			end++
		}
		if end < len(lines) {
			end++
		}
		blocks = append(blocks, block{
			header: lines[i],
			tier:   tier,
			body:   strings.Join(lines[i:end], "\n"),
		})
		i = end - 1
	}
	return selectBlock(symbolLabel(sym), "llvm-ir", blocks)
}

// ExtractASM pulls the symbol's labeled section out of an emitted .s
// artifact. A block runs from a matching label to the next unindented label
// or section directive.
func ExtractASM(output string, sym NormalizedSymbol) (string, error) {
	lines := strings.Split(output, "\n")
	var blocks []block
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !isASMLabel(line) {
			continue
		}
		tier := matchTier(line, sym)
		end := i + 1
		for end < len(lines) {
			if isASMLabel(lines[end]) || strings.HasPrefix(lines[end], ".section") {
				break
			}
			end++
		}
		blocks = append(blocks, block{
			header: strings.TrimSuffix(line, ":"),
			tier:   tier,
			body:   strings.Join(lines[i:end], "\n"),
		})
		i = end - 1
	}
	return selectBlock(symbolLabel(sym), "asm", blocks)
}

func isASMLabel(line string) bool {
	if line == "" || line[0] == ' ' || line[0] == '\t' || line[0] == '.' {
		return false
	}
	return strings.HasSuffix(strings.TrimRight(line, " \t"), ":")
}
