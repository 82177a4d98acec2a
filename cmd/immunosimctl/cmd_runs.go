package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"immunosim/pkg/immunosim"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			runs, err := client.Runs(cmd.Context(), immunosim.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs stored")
				return nil
			}
			for _, run := range runs {
				fmt.Fprintf(out, "%s  %-9s  %-16s  ticks=%d/%d  activated=%d  started=%s\n",
					run.ID, run.Status, run.Scenario, run.CompletedTicks, run.RequestedTicks, run.Activated, run.StartedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 for all)")
	return cmd
}

func newCrossingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crossings",
		Short: "Show the threshold crossings of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			crossings, err := client.Crossings(cmd.Context(), runLookup(cmd))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, crossings)
			}
			if len(crossings) == 0 {
				fmt.Fprintln(out, "no crossings")
				return nil
			}
			for _, c := range crossings {
				fmt.Fprintf(out, "tick %d  %s (%s)  total=%g\n", c.Tick, c.AgentID, c.Kind, c.Total)
			}
			return nil
		},
	}
	cmd.Flags().String("run-id", "", "Run id")
	cmd.Flags().Bool("latest", false, "Use the most recently started run")
	return cmd
}

func newDiagnosticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Show the per-tick diagnostics of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			diagnostics, err := client.Diagnostics(cmd.Context(), runLookup(cmd))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, diagnostics)
			}
			for _, d := range diagnostics {
				fmt.Fprintf(out, "tick %d  pairs=%d bonds=%d touched=%d crossings=%d signals=%d resets=%d net=%g mean=%g activated=%d\n",
					d.Tick, d.Pairs, d.Bonds, d.Touched, d.Crossings, d.Signals, d.Resets, d.NetDelta, d.MeanTotal, d.Activated)
			}
			return nil
		},
	}
	cmd.Flags().String("run-id", "", "Run id")
	cmd.Flags().Bool("latest", false, "Use the most recently started run")
	return cmd
}
