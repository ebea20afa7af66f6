package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/observability"
)

// buildDoctorCmd runs the fleet invariant checks against every pooled host
// and prints a pass/fail report, modeled on the teacher's interactive
// channel-health probe command.
func buildDoctorCmd(logger *slog.Logger, diag *observability.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check every compute host's invariants",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := buildApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.stores.Close()

			reports := a.driver.CheckAllInvariants(ctx)
			if len(reports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no hosts registered")
				return nil
			}

			unhealthy := 0
			for _, report := range reports {
				status := "OK"
				if !report.Healthy {
					status = "FAIL"
					unhealthy++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", report.HostID, status)
				for _, check := range report.Checks {
					mark := "pass"
					if !check.Passed {
						mark = "fail: " + check.Detail
					}
					fmt.Fprintf(cmd.OutOrStdout(), "  %-20s %s\n", check.Name, mark)
				}
			}

			diag.Info(ctx, "doctor run complete", "hosts", len(reports), "unhealthy", unhealthy)
			if unhealthy > 0 {
				return fmt.Errorf("%d of %d hosts failed invariant checks", unhealthy, len(reports))
			}
			return nil
		},
	}
}
