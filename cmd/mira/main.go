// Package main provides the CLI entry point for MIRA's continuum
// orchestration core.
//
// MIRA has no HTTP or WebSocket surface (spec.md §1 non-goals): the only
// runnable entrypoint is "serve", which wires the orchestrator to
// stdin/stdout JSON-lines for manual testing. "migrate" and "status" round
// out the operational surface a process like this needs.
//
// # Basic Usage
//
// Run a turn loop against stdin/stdout:
//
//	mira serve --config mira.yaml
//
// Check schema migration state:
//
//	mira migrate status
//
// Check configuration and downstream connectivity:
//
//	mira status
//
// # Environment Variables
//
//   - MIRA_CONFIG: path to the configuration file (default: mira.yaml)
//   - ANTHROPIC_API_KEY, MIRA_GENERIC_API_KEY, MIRA_EMBEDDINGS_API_KEY,
//     MIRA_KV_PASSWORD, MIRA_SQL_DSN: secret overlays (internal/config
//     never accepts these as plain YAML in committed config)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() so tests can inspect the command tree without
// executing it.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mira",
		Short: "MIRA - continuum orchestration core",
		Long: `MIRA drives a single-user, long-running conversational turn loop: an
LLM provider abstraction with failover, a trinket-based working-memory
composer, hybrid vector+BM25 memory retrieval, tiered context-overflow
remediation, and segment lifecycle management.

This binary is a thin operational shell around the orchestrator; it has no
HTTP or WebSocket surface. "serve" exposes the turn loop over stdin/stdout
JSON-lines for manual testing and embedding in another process's pipe.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildStatusCmd(),
	)

	return rootCmd
}

// defaultConfigPath returns MIRA_CONFIG if set, else "mira.yaml". MIRA has
// no multi-profile concept, so this is a direct env-or-default rather than
// the teacher's profile-file indirection.
func defaultConfigPath() string {
	if p := os.Getenv("MIRA_CONFIG"); p != "" {
		return p
	}
	return "mira.yaml"
}
