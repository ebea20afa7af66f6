package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/reconcile"
)

// buildServeCmd runs the control plane's reconcile/orchestrator loops until
// a SIGINT/SIGTERM, blocking the process the way a long-lived daemon should.
func buildServeCmd(logger *slog.Logger, diag *observability.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciler and orchestrator loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := buildApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.stores.Close()

			diag.Info(ctx, "control plane starting", "hosts", len(a.pool.All()))

			group := reconcile.NewGroup(logger.With("component", "reconcile"))
			group.Start(ctx, a.reconcileJobs()...)

			<-ctx.Done()
			diag.Info(ctx, "shutdown signal received, draining reconcile jobs")
			group.Stop()
			diag.Info(ctx, "control plane stopped")
			return nil
		},
	}
}
