package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/pkg/models"
)

// buildSubmitCmd submits a single task against a live agent and polls its
// status until it reaches a terminal state, printing the final response.
// Useful as a smoke test against a running control plane's database.
func buildSubmitCmd(logger *slog.Logger) *cobra.Command {
	var agentID, sessionID, message string
	var pollInterval time.Duration

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task to an agent and wait for its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := buildApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.stores.Close()

			taskID, err := a.orch.Submit(ctx, sessionID, agentID, message, nil)
			if err != nil {
				return fmt.Errorf("submit task: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted task %s\n", taskID)

			return waitForTask(ctx, a, taskID, pollInterval, cmd)
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "agent id to run the task against (required)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id the task belongs to (required)")
	cmd.Flags().StringVar(&message, "message", "", "message to send the agent (required)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", time.Second, "status poll interval")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("message")

	return cmd
}

func waitForTask(ctx context.Context, a *app, taskID string, pollInterval time.Duration, cmd *cobra.Command) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			view, err := a.orch.Status(ctx, taskID)
			if err != nil {
				return fmt.Errorf("poll task %s: %w", taskID, err)
			}
			if !isTerminalStatus(view.Status) {
				continue
			}
			if view.Error != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "task %s failed: %s\n", taskID, view.Error)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %s: %s\n", taskID, view.Response)
			return nil
		}
	}
}

func isTerminalStatus(status models.TaskStatus) bool {
	return status == models.TaskCompleted || status == models.TaskFailed
}
