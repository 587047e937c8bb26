package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var defaultRegistry = newRegistry()

type registry struct {
	mu                  sync.Mutex
	toolCalls           map[string]map[string]int64
	toolDurationBuckets map[string][]int64
	analyzerRestarts    int64
	decodeErrors        int64
	compilerTimeouts    int64
	outputCapAborts     int64
	diagnosticsPushes   int64
	documentsReplayed   int64
}

func newRegistry() *registry {
	return &registry{
		toolCalls:           make(map[string]map[string]int64),
		toolDurationBuckets: make(map[string][]int64),
	}
}

func IncToolCall(toolName, status string) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.toolCalls[toolName]; !ok {
		defaultRegistry.toolCalls[toolName] = make(map[string]int64)
	}
	defaultRegistry.toolCalls[toolName][status]++
}

func ObserveToolDuration(toolName string, d time.Duration) {
	buckets := []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}
	sec := d.Seconds()

	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.toolDurationBuckets[toolName]; !ok {
		defaultRegistry.toolDurationBuckets[toolName] = make([]int64, len(buckets)+1)
	}
	idx := len(buckets)
	for i, b := range buckets {
		if sec <= b {
			idx = i
			break
		}
	}
	defaultRegistry.toolDurationBuckets[toolName][idx]++
}

func IncAnalyzerRestart() {
	defaultRegistry.mu.Lock()
	defaultRegistry.analyzerRestarts++
	defaultRegistry.mu.Unlock()
}

func IncDecodeError() {
	defaultRegistry.mu.Lock()
	defaultRegistry.decodeErrors++
	defaultRegistry.mu.Unlock()
}

func IncCompilerTimeout() {
	defaultRegistry.mu.Lock()
	defaultRegistry.compilerTimeouts++
	defaultRegistry.mu.Unlock()
}

func IncOutputCapAbort() {
	defaultRegistry.mu.Lock()
	defaultRegistry.outputCapAborts++
	defaultRegistry.mu.Unlock()
}

func IncDiagnosticsPush() {
	defaultRegistry.mu.Lock()
	defaultRegistry.diagnosticsPushes++
	defaultRegistry.mu.Unlock()
}

func AddDocumentsReplayed(n int) {
	defaultRegistry.mu.Lock()
	defaultRegistry.documentsReplayed += int64(n)
	defaultRegistry.mu.Unlock()
}

func RenderPrometheus() string {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()

	var sb strings.Builder

	sb.WriteString("# TYPE rustbridge_tool_calls_total counter\n")
	toolNames := sortedKeys(defaultRegistry.toolCalls)
	for _, tool := range toolNames {
		statuses := sortedKeys(defaultRegistry.toolCalls[tool])
		for _, status := range statuses {
			sb.WriteString(fmt.Sprintf("rustbridge_tool_calls_total{tool=\"%s\",status=\"%s\"} %d\n", tool, status, defaultRegistry.toolCalls[tool][status]))
		}
	}

	sb.WriteString("# TYPE rustbridge_tool_duration_seconds_bucket counter\n")
	bucketLabels := []string{"0.1", "0.5", "1", "2", "5", "10", "30", "60", "+Inf"}
	for _, tool := range sortedKeys(defaultRegistry.toolDurationBuckets) {
		counts := defaultRegistry.toolDurationBuckets[tool]
		for i, v := range counts {
			sb.WriteString(fmt.Sprintf("rustbridge_tool_duration_seconds_bucket{tool=\"%s\",le=\"%s\"} %d\n", tool, bucketLabels[i], v))
		}
	}

	sb.WriteString("# TYPE rustbridge_analyzer_restarts_total counter\n")
	sb.WriteString(fmt.Sprintf("rustbridge_analyzer_restarts_total %d\n", defaultRegistry.analyzerRestarts))

	sb.WriteString("# TYPE rustbridge_protocol_decode_errors_total counter\n")
	sb.WriteString(fmt.Sprintf("rustbridge_protocol_decode_errors_total %d\n", defaultRegistry.decodeErrors))

	sb.WriteString("# TYPE rustbridge_compiler_timeouts_total counter\n")
	sb.WriteString(fmt.Sprintf("rustbridge_compiler_timeouts_total %d\n", defaultRegistry.compilerTimeouts))

	sb.WriteString("# TYPE rustbridge_output_cap_aborts_total counter\n")
	sb.WriteString(fmt.Sprintf("rustbridge_output_cap_aborts_total %d\n", defaultRegistry.outputCapAborts))

	sb.WriteString("# TYPE rustbridge_diagnostics_pushes_total counter\n")
	sb.WriteString(fmt.Sprintf("rustbridge_diagnostics_pushes_total %d\n", defaultRegistry.diagnosticsPushes))

	sb.WriteString("# TYPE rustbridge_documents_replayed_total counter\n")
	sb.WriteString(fmt.Sprintf("rustbridge_documents_replayed_total %d\n", defaultRegistry.documentsReplayed))

	return sb.String()
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
