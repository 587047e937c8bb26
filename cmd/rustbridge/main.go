package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rustbridge/rustbridge/internal/analyzer"
	"github.com/rustbridge/rustbridge/internal/audit"
	"github.com/rustbridge/rustbridge/internal/codegen"
	"github.com/rustbridge/rustbridge/internal/compiler"
	httpsvr "github.com/rustbridge/rustbridge/internal/http"
	"github.com/rustbridge/rustbridge/internal/inspect"
	mcpsvr "github.com/rustbridge/rustbridge/internal/mcp"
	"github.com/rustbridge/rustbridge/internal/telemetry"
)

var (
	version   = "0.1.0"
	gitCommit = ""
	buildTime = ""
)

func main() {
	root := &cobra.Command{
		Use:           "rustbridge",
		Short:         "MCP bridge exposing rust-analyzer and cargo to AI assistants",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), doctorCmd(), toolsCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio (and TCP when configured)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	// stdout carries the MCP stream, so logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	workspace, err := filepath.Abs(envOrDefault("RUSTBRIDGE_WORKSPACE", "."))
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	if fi, err := os.Stat(workspace); err != nil || !fi.IsDir() {
		return fmt.Errorf("workspace %s is not a directory", workspace)
	}

	binary := analyzer.DefaultBinary(os.Getenv("RUST_ANALYZER_PATH"))
	if _, err := os.Stat(binary); err != nil {
		return fmt.Errorf("rust-analyzer not found at %s (set RUST_ANALYZER_PATH)", binary)
	}

	requestTimeout, err := envSeconds("RUSTBRIDGE_REQUEST_TIMEOUT_SECONDS", 30)
	if err != nil {
		return err
	}
	compilerTimeout, err := envSeconds("RUSTBRIDGE_COMPILER_TIMEOUT_SECONDS", 60)
	if err != nil {
		return err
	}
	maxOutputBytes, err := envInt64("RUSTBRIDGE_MAX_OUTPUT_BYTES", 2<<20)
	if err != nil {
		return err
	}
	maxConcurrent, err := envInt64("RUSTBRIDGE_MAX_CONCURRENT_COMPILES", compiler.DefaultMaxConcurrent)
	if err != nil {
		return err
	}

	toolchain := inspect.DetectToolchain(binary)
	gating := inspect.ParseGatingMode(os.Getenv("MCP_GATING_MODE"))

	client := analyzer.NewClient(analyzer.ClientConfig{
		Binary:         binary,
		WorkspaceRoot:  workspace,
		RequestTimeout: requestTimeout,
		Logger:         logger,
		OnDecodeError:  telemetry.IncDecodeError,
		OnRestart:      telemetry.IncAnalyzerRestart,

		OnDiagnosticsPush:   telemetry.IncDiagnosticsPush,
		OnDocumentsReplayed: telemetry.AddDocumentsReplayed,
	})

	watcher, err := analyzer.NewWatcher(client, logger)
	if err != nil {
		return fmt.Errorf("file watcher init failed: %w", err)
	}

	runner := compiler.NewRunner(compiler.Config{
		Timeout:        compilerTimeout,
		MaxOutputBytes: maxOutputBytes,
		MaxConcurrent:  maxConcurrent,
		Logger:         logger,
		OnTimeout:      telemetry.IncCompilerTimeout,
		OnOutputCapped: telemetry.IncOutputCapAbort,
	})
	cargo := compiler.NewCargo(runner, workspace)
	cargo.SetTargetDir(os.Getenv("RUSTBRIDGE_TARGET_DIR"))

	var auditLog *audit.Log
	if path := os.Getenv("RUSTBRIDGE_AUDIT_DB"); path != "" {
		auditLog, err = audit.Open(path)
		if err != nil {
			return fmt.Errorf("audit log open failed: %w", err)
		}
		defer auditLog.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("analyzer start failed: %w", err)
	}
	go watcher.Run(ctx)

	inspector := inspect.NewService(client, cargo, gating, toolchain, logger)
	generator := codegen.NewGenerator(workspace)

	tcpAddr := os.Getenv("RUSTBRIDGE_TCP_LISTEN")
	server := mcpsvr.NewServer(tcpAddr, workspace, client, cargo, inspector, generator, auditLog, logger)

	var debugServer *httpsvr.Server
	if addr := os.Getenv("RUSTBRIDGE_DEBUG_LISTEN"); addr != "" {
		debugServer = httpsvr.NewServer(addr, client, auditLog, toolchain, logger)
	}

	logger.Info("effective config",
		"workspace", workspace,
		"analyzer_binary", binary,
		"toolchain_channel", toolchain.Channel,
		"gating_mode", gating,
		"compiler_timeout", compilerTimeout.String(),
		"max_output_bytes", maxOutputBytes,
		"max_concurrent_compiles", maxConcurrent,
		"tcp_listen", tcpAddr,
		"audit_enabled", auditLog != nil,
	)

	errCh := make(chan error, 3)
	go func() { errCh <- server.ServeStdio(ctx) }()
	if tcpAddr != "" {
		go func() { errCh <- server.ListenAndServe(ctx) }()
	}
	if debugServer != nil {
		go func() { errCh <- debugServer.ListenAndServe() }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		} else {
			logger.Info("input stream closed, shutting down")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	server.Shutdown(shutdownCtx)
	if debugServer != nil {
		debugServer.Shutdown(shutdownCtx)
	}
	client.Stop(shutdownCtx)
	logger.Info("shutdown complete")
	return nil
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment the server depends on",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor()
		},
	}
}

func runDoctor() error {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	failures := 0
	check := func(label string, ok bool, detail string) {
		mark := green("ok")
		if !ok {
			mark = red("FAIL")
			failures++
		}
		fmt.Printf("%-28s %s  %s\n", label, mark, detail)
	}

	workspace, _ := filepath.Abs(envOrDefault("RUSTBRIDGE_WORKSPACE", "."))
	fi, err := os.Stat(workspace)
	check("workspace", err == nil && fi.IsDir(), workspace)

	manifest := filepath.Join(workspace, "Cargo.toml")
	_, err = os.Stat(manifest)
	check("Cargo.toml", err == nil, manifest)

	binary := analyzer.DefaultBinary(os.Getenv("RUST_ANALYZER_PATH"))
	_, err = os.Stat(binary)
	check("rust-analyzer", err == nil, binary)

	_, cargoErr := exec.LookPath("cargo")
	check("cargo", cargoErr == nil, "in PATH")
	_, rustcErr := exec.LookPath("rustc")
	check("rustc", rustcErr == nil, "in PATH")

	if rustcErr == nil {
		tc := inspect.DetectToolchain(binary)
		detail := string(tc.Channel)
		if tc.Channel != inspect.ChannelNightly && tc.Channel != inspect.ChannelDev {
			detail += yellow(" (mir view needs nightly)")
		}
		check("toolchain channel", tc.Channel != "", detail)
	}

	if path := os.Getenv("RUSTBRIDGE_AUDIT_DB"); path != "" {
		log, err := audit.Open(path)
		check("audit log", err == nil, path)
		if err == nil {
			if counts, cErr := log.CountByTool(context.Background()); cErr == nil {
				total := 0
				for _, n := range counts {
					total += n
				}
				fmt.Printf("%-28s %s  %d recorded calls across %d tools\n", "audit history", green("ok"), total, len(counts))
			}
			log.Close()
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	fmt.Println(green("all checks passed"))
	return nil
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalog",
		Run: func(cmd *cobra.Command, args []string) {
			for _, def := range mcpsvr.ToolDefinitions() {
				fmt.Printf("%-26s %s\n", def["name"], def["description"])
			}
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rustbridge %s", version)
			if gitCommit != "" {
				fmt.Printf(" (%s)", gitCommit)
			}
			if buildTime != "" {
				fmt.Printf(" built %s", buildTime)
			}
			fmt.Println()
		},
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envSeconds(key string, fallback int) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(fallback) * time.Second, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return time.Duration(secs) * time.Second, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}
