package telemetry

import (
	"strings"
	"testing"
	"time"
)

func TestRenderPrometheus_ToolLabelOrderingStable(t *testing.T) {
	defaultRegistry = newRegistry()

	IncToolCall("find_definition", "ok")
	IncToolCall("find_definition", "error")
	IncToolCall("run_cargo_check", "ok")
	ObserveToolDuration("find_definition", 50*time.Millisecond)
	ObserveToolDuration("run_cargo_check", 3*time.Second)

	out := RenderPrometheus()

	defErr := strings.Index(out, `rustbridge_tool_calls_total{tool="find_definition",status="error"}`)
	defOK := strings.Index(out, `rustbridge_tool_calls_total{tool="find_definition",status="ok"}`)
	check := strings.Index(out, `rustbridge_tool_calls_total{tool="run_cargo_check",status="ok"} 1`)
	if defErr < 0 || defOK < 0 || check < 0 {
		t.Fatal("tool call metrics missing from output")
	}
	if defErr >= defOK {
		t.Fatal("tool call labels are not rendered in stable lexical order")
	}

	fast := `rustbridge_tool_duration_seconds_bucket{tool="find_definition",le="0.1"} 1`
	slow := `rustbridge_tool_duration_seconds_bucket{tool="run_cargo_check",le="5"} 1`
	if !strings.Contains(out, fast) || !strings.Contains(out, slow) {
		t.Fatal("duration buckets missing or miscounted")
	}
}

func TestRenderPrometheus_GuardrailCounters(t *testing.T) {
	defaultRegistry = newRegistry()

	IncAnalyzerRestart()
	IncDecodeError()
	IncDecodeError()
	IncCompilerTimeout()
	IncOutputCapAbort()
	IncDiagnosticsPush()
	AddDocumentsReplayed(3)

	out := RenderPrometheus()
	for _, want := range []string{
		"rustbridge_analyzer_restarts_total 1",
		"rustbridge_protocol_decode_errors_total 2",
		"rustbridge_compiler_timeouts_total 1",
		"rustbridge_output_cap_aborts_total 1",
		"rustbridge_diagnostics_pushes_total 1",
		"rustbridge_documents_replayed_total 3",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}
