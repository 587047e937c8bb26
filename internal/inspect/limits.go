package inspect

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultTimeoutSeconds = 60
	defaultMaxOutputBytes = 2 * 1024 * 1024
	defaultMaxOutputLines = 20_000
)

// Limits bounds a single inspection run.
type Limits struct {
	TimeoutSeconds int `json:"timeout_seconds"`
	MaxOutputBytes int `json:"max_output_bytes"`
	MaxOutputLines int `json:"max_output_lines"`
}

func DefaultLimits() Limits {
	return Limits{
		TimeoutSeconds: defaultTimeoutSeconds,
		MaxOutputBytes: defaultMaxOutputBytes,
		MaxOutputLines: defaultMaxOutputLines,
	}
}

func (l Limits) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// TruncationSummary records what a truncation kept and dropped.
type TruncationSummary struct {
	OriginalBytes int `json:"original_bytes"`
	OriginalLines int `json:"original_lines"`
	KeptBytes     int `json:"kept_bytes"`
	KeptLines     int `json:"kept_lines"`
	MaxBytes      int `json:"max_bytes"`
	MaxLines      int `json:"max_lines"`
}

// Truncate cuts text to the byte and line limits on whole-line boundaries
// and appends an explicit marker so downstream consumers cannot mistake a
// truncated view for a complete one. Within-limits text passes through
// unchanged with a nil summary.
func Truncate(text string, limits Limits) (string, bool, *TruncationSummary) {
	originalBytes := len(text)
	originalLines := countLines(text)
	if originalBytes <= limits.MaxOutputBytes && originalLines <= limits.MaxOutputLines {
		return text, false, nil
	}

	var out strings.Builder
	keptBytes, keptLines := 0, 0
	for _, line := range splitLines(text) {
		next := keptBytes + len(line) + 1
		if next > limits.MaxOutputBytes || keptLines+1 > limits.MaxOutputLines {
			break
		}
		out.WriteString(line)
		out.WriteByte('\n')
		keptBytes = next
		keptLines++
	}

	fmt.Fprintf(&out,
		"\n[truncated after %d lines/%d bytes; original %d lines/%d bytes; limits %d lines/%d bytes]",
		keptLines, keptBytes, originalLines, originalBytes,
		limits.MaxOutputLines, limits.MaxOutputBytes)

	return out.String(), true, &TruncationSummary{
		OriginalBytes: originalBytes,
		OriginalLines: originalLines,
		KeptBytes:     keptBytes,
		KeptLines:     keptLines,
		MaxBytes:      limits.MaxOutputBytes,
		MaxLines:      limits.MaxOutputLines,
	}
}

// TruncationNote renders the human-readable diagnostic for a truncation.
func TruncationNote(s *TruncationSummary) string {
	return fmt.Sprintf("Output truncated: kept %d of %d lines (%d of %d bytes)",
		s.KeptLines, s.OriginalLines, s.KeptBytes, s.OriginalBytes)
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func countLines(text string) int {
	return len(splitLines(text))
}
