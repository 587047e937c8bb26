// Package audit provides an optional SQLite trail of every tool call the
// bridge serves.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Log wraps the underlying *sql.DB and provides typed insert and query
// methods.
type Log struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the
// schema. SQLite serializes writers, so a single connection is enough.
func Open(path string) (*Log, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("audit open: %w", err)
	}
	conn.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit ping: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tool_calls (
			trace_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			ok INTEGER NOT NULL,
			error_code TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit schema: %w", err)
	}
	return &Log{conn: conn}, nil
}

// Close closes the database.
func (l *Log) Close() error {
	return l.conn.Close()
}

// ToolCall is one recorded invocation.
type ToolCall struct {
	TraceID   string        `json:"trace_id"`
	ToolName  string        `json:"tool_name"`
	OK        bool          `json:"ok"`
	ErrorCode string        `json:"error_code,omitempty"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
}

// Record inserts one tool call row.
func (l *Log) Record(ctx context.Context, tc ToolCall) error {
	_, err := l.conn.ExecContext(ctx,
		`INSERT INTO tool_calls (trace_id, tool_name, ok, error_code, duration_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tc.TraceID, tc.ToolName, tc.OK, tc.ErrorCode, tc.Duration.Milliseconds(), tc.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert tool call: %w", err)
	}
	return nil
}

// Recent returns the most recent calls, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]ToolCall, error) {
	rows, err := l.conn.QueryContext(ctx,
		`SELECT trace_id, tool_name, ok, error_code, duration_ms, started_at
		 FROM tool_calls ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query tool calls: %w", err)
	}
	defer rows.Close()

	var calls []ToolCall
	for rows.Next() {
		var tc ToolCall
		var durationMs int64
		if err := rows.Scan(&tc.TraceID, &tc.ToolName, &tc.OK, &tc.ErrorCode, &durationMs, &tc.StartedAt); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		tc.Duration = time.Duration(durationMs) * time.Millisecond
		calls = append(calls, tc)
	}
	return calls, rows.Err()
}

// CountByTool aggregates call counts per tool name.
func (l *Log) CountByTool(ctx context.Context) (map[string]int, error) {
	rows, err := l.conn.QueryContext(ctx,
		`SELECT tool_name, COUNT(*) FROM tool_calls GROUP BY tool_name`)
	if err != nil {
		return nil, fmt.Errorf("count tool calls: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}
