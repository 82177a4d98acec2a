package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"immunosim/internal/config"
	"immunosim/internal/platform"
	"immunosim/pkg/immunosim"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and, optionally, a scenario",
		Long: `Validate the configuration and, optionally, a scenario file.

Examples:
  immunosimctl validate --config immunosim.yaml
  immunosimctl validate --scenario checkpoint.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarioPath, _ := cmd.Flags().GetString("scenario")
			out := cmd.OutOrStdout()

			report := map[string]any{"valid": true}
			cfg, err := immunosim.LoadConfig(clientOptions(cmd))
			if err != nil {
				var cfgErr *config.ConfigError
				if !errors.As(err, &cfgErr) {
					return err
				}
				report["valid"] = false
				report["invariant"] = cfgErr.Invariant
				report["detail"] = cfgErr.Detail
			}

			if err == nil && scenarioPath != "" {
				sc, scErr := platform.LoadScenario(scenarioPath)
				if scErr != nil {
					if !errors.Is(scErr, platform.ErrInvalidScenario) {
						return scErr
					}
					report["valid"] = false
					report["scenario_error"] = scErr.Error()
				} else {
					report["scenario"] = sc.Name
					report["agents"] = len(sc.Agents)
					report["pairs"] = len(sc.Pairs)
				}
			}

			if jsonOutput(cmd) {
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else if report["valid"] == true {
				w := cfg.Weights()
				fmt.Fprintf(out, "configuration valid: cd200=%g (enabled=%t) mhc_ii_fr3=%g mhc_ii_mbp=%g mhc_i_cdr12=%g adhesion=%g threshold=%g\n",
					w.CD200, w.CD200Enabled, w.MHCIIFr3, w.MHCIIMBP, w.MHCICDR12, cfg.Adhesion.Minimum, cfg.Accumulator.ActivationThreshold)
				if name, ok := report["scenario"]; ok {
					fmt.Fprintf(out, "scenario %v valid: %v agents, %v pairs\n", name, report["agents"], report["pairs"])
				}
			} else if inv, ok := report["invariant"]; ok {
				fmt.Fprintf(out, "configuration invalid: %v (%v)\n", inv, report["detail"])
			} else {
				fmt.Fprintf(out, "scenario invalid: %v\n", report["scenario_error"])
			}

			if report["valid"] != true {
				return fmt.Errorf("validation failed")
			}
			return nil
		},
	}
	cmd.Flags().String("scenario", "", "Scenario YAML file to validate")
	return cmd
}
