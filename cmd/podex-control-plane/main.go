// Package main provides the CLI entry point for the Podex control plane.
//
// The control plane resolves LLM requests, executes agent tool calls against
// workspace containers, and reconciles workspace/host/agent state against
// the external relational store. It has no HTTP/WS framing surface of its
// own — external services submit tasks and observe status; this binary
// only wires the domain packages together and runs their background loops.
//
// # Basic Usage
//
// Run the reconciler/orchestrator daemon:
//
//	podex-control-plane serve
//
// Submit a one-shot task and wait for its result (useful for smoke tests):
//
//	podex-control-plane submit --agent agent-1 --session session-1 --message "list files"
//
// Run the fleet invariant checks doctor normally runs interactively:
//
//	podex-control-plane doctor
//
// # Environment Variables
//
// All configuration is environment-driven (internal/config.ControlPlaneConfig);
// see PODEX_DATABASE_URL, PODEX_LLM_PROVIDER, PODEX_JWT_SECRET_KEY, and the
// other PODEX_* variables documented on ControlPlaneConfig's fields.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/observability"
)

// version, commit, and date are populated via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// diag is the redacting, request-correlated logger used for the
	// process-lifetime lines (startup, shutdown, per-host doctor output);
	// internal packages still take the plain *slog.Logger above.
	diag := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})

	rootCmd := buildRootCmd(logger, diag)
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd(logger *slog.Logger, diag *observability.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "podex-control-plane",
		Short: "Podex control plane - distributed agent compute orchestration",
		Long: `The Podex control plane resolves agent tasks to LLM providers, dispatches
tool calls into sandboxed workspace containers, and reconciles fleet state.

Supported LLM providers: Anthropic (Claude), OpenAI (GPT), AWS Bedrock, local
Tool categories: read, write, command, git, memory, web, vision, skill, health
Reconcilers: workspace provision, standby, health, cleanup, quota reset, agent watchdog`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(logger, diag),
		buildSubmitCmd(logger),
		buildDoctorCmd(logger, diag),
	)
	return rootCmd
}

// signalContext returns a context canceled on SIGINT/SIGTERM, for commands
// that run a long-lived daemon loop.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
