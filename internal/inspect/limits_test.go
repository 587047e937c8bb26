package inspect

import (
	"strings"
	"testing"
)

func TestTruncateWithinLimitsUnchanged(t *testing.T) {
	limits := Limits{MaxOutputBytes: 1000, MaxOutputLines: 100}
	text := "line one\nline two\n"
	got, truncated, summary := Truncate(text, limits)
	if truncated || summary != nil {
		t.Fatalf("within-limits text truncated: %v %+v", truncated, summary)
	}
	if got != text {
		t.Fatalf("text mutated: %q", got)
	}
}

func TestTruncateByLines(t *testing.T) {
	limits := Limits{MaxOutputBytes: 1 << 20, MaxOutputLines: 3}
	text := "a\nb\nc\nd\ne\n"
	got, truncated, summary := Truncate(text, limits)
	if !truncated || summary == nil {
		t.Fatal("over-limit text not truncated")
	}
	if summary.KeptLines != 3 || summary.OriginalLines != 5 {
		t.Fatalf("summary = %+v", summary)
	}
	if !strings.HasPrefix(got, "a\nb\nc\n") {
		t.Fatalf("kept text wrong: %q", got)
	}
	if strings.Contains(got, "\nd\n") {
		t.Fatalf("dropped line survived: %q", got)
	}
	if !strings.Contains(got, "[truncated after 3 lines/6 bytes; original 5 lines/10 bytes; limits 3 lines/1048576 bytes]") {
		t.Fatalf("marker missing or wrong: %q", got)
	}
}

func TestTruncateByBytes(t *testing.T) {
	limits := Limits{MaxOutputBytes: 12, MaxOutputLines: 1000}
	text := strings.Repeat("abcde\n", 10)
	got, truncated, summary := Truncate(text, limits)
	if !truncated {
		t.Fatal("not truncated")
	}
	// Two whole 6-byte lines fit; a third would cross the byte limit.
	if summary.KeptLines != 2 || summary.KeptBytes != 12 {
		t.Fatalf("summary = %+v", summary)
	}
	if !strings.HasPrefix(got, "abcde\nabcde\n\n[truncated") {
		t.Fatalf("got %q", got)
	}
}

func TestTruncateKeepsWholeLines(t *testing.T) {
	limits := Limits{MaxOutputBytes: 8, MaxOutputLines: 1000}
	text := "abcde\nfghij\n"
	_, _, summary := Truncate(text, limits)
	if summary == nil || summary.KeptLines != 1 {
		t.Fatalf("partial line kept: %+v", summary)
	}
}

func TestTruncationNote(t *testing.T) {
	note := TruncationNote(&TruncationSummary{
		OriginalBytes: 100, OriginalLines: 10, KeptBytes: 50, KeptLines: 5,
	})
	if note != "Output truncated: kept 5 of 10 lines (50 of 100 bytes)" {
		t.Fatalf("note = %q", note)
	}
}
