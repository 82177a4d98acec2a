package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"immunosim/pkg/immunosim"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario and store the results",
		Long: `Run a scenario for a number of ticks and store the run record,
per-tick diagnostics, threshold crossings and agent summaries.

Examples:
  immunosimctl run --scenario checkpoint.yaml --ticks 4
  immunosimctl run --scenario checkpoint.yaml --ticks 100 --store sqlite --db-path runs.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarioPath, _ := cmd.Flags().GetString("scenario")
			ticks, _ := cmd.Flags().GetInt("ticks")
			runID, _ := cmd.Flags().GetString("run-id")
			if scenarioPath == "" {
				return fmt.Errorf("--scenario is required")
			}

			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			res, runErr := client.Run(cmd.Context(), immunosim.RunRequest{
				RunID:        runID,
				Ticks:        ticks,
				ScenarioPath: scenarioPath,
			})
			if res.Run.ID == "" {
				return runErr
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				if err := writeJSON(out, res); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "run %s %s: %d/%d ticks, %d agents, %d pairs, %d activated\n",
					res.Run.ID, res.Run.Status, res.Run.CompletedTicks, res.Run.RequestedTicks, res.Run.Agents, res.Run.Pairs, res.Run.Activated)
				for _, c := range res.Crossings {
					fmt.Fprintf(out, "  tick %d: %s (%s) crossed with total %g\n", c.Tick, c.AgentID, c.Kind, c.Total)
				}
			}
			return runErr
		},
	}
	cmd.Flags().String("scenario", "", "Scenario YAML file")
	cmd.Flags().Int("ticks", 10, "Number of ticks to run")
	cmd.Flags().String("run-id", "", "Run id (default: random UUID)")
	return cmd
}
