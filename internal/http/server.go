package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rustbridge/rustbridge/internal/analyzer"
	"github.com/rustbridge/rustbridge/internal/audit"
	"github.com/rustbridge/rustbridge/internal/inspect"
	"github.com/rustbridge/rustbridge/internal/telemetry"
)

// Server is the optional debug endpoint: health, metrics, and a view into
// the audit log. It never exposes tool execution.
type Server struct {
	analyzer  *analyzer.Client
	audit     *audit.Log
	toolchain inspect.Toolchain
	srv       *http.Server
	logger    *slog.Logger
}

const defaultToolCallLimit = 50

func NewServer(addr string, ac *analyzer.Client, auditLog *audit.Log, tc inspect.Toolchain, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		analyzer:  ac,
		audit:     auditLog,
		toolchain: tc,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/v1/tool-calls", s.handleToolCalls)
	mux.HandleFunc("GET /api/v1/tool-calls/summary", s.handleToolCallSummary)
	mux.HandleFunc("GET /api/v1/documents", s.handleDocuments)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      withLogging(logger, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("debug server starting", "addr", s.srv.Addr)
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.srv.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	healthy := s.analyzer != nil && s.analyzer.Healthy()
	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":            state,
		"analyzer_healthy":  healthy,
		"toolchain_channel": s.toolchain.Channel,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprint(w, telemetry.RenderPrometheus())
}

func (s *Server) handleToolCalls(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeErr(w, http.StatusServiceUnavailable, "audit log is not configured")
		return
	}

	limit := defaultToolCallLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeErr(w, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
			return
		}
		limit = n
	}

	calls, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tool_calls": calls, "count": len(calls)})
}

func (s *Server) handleToolCallSummary(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeErr(w, http.StatusServiceUnavailable, "audit log is not configured")
		return
	}
	counts, err := s.audit.CountByTool(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		writeErr(w, http.StatusServiceUnavailable, "analyzer is not configured")
		return
	}
	paths := s.analyzer.OpenDocuments()
	docs := make([]map[string]any, 0, len(paths))
	for _, path := range paths {
		docs = append(docs, map[string]any{
			"path":        path,
			"diagnostics": len(s.analyzer.DiagnosticsSnapshot(path)),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
