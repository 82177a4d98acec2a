package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"immunosim/pkg/immunosim"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "immunosimctl",
		Short: "Immune cell signal integration and adhesion simulator",
		Long: `immunosimctl steps scripted populations of immune cells through
molecular-signal integration ticks and inspects the stored runs.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("env-file", ".env", "Optional .env file with IMMUNOSIM_* variables")
	rootCmd.PersistentFlags().String("store", "", "Store backend: memory or sqlite (overrides config)")
	rootCmd.PersistentFlags().String("db-path", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newValidateCmd(),
		newRunCmd(),
		newRunsCmd(),
		newCrossingsCmd(),
		newDiagnosticsCmd(),
	)
	return rootCmd
}

func clientOptions(cmd *cobra.Command) immunosim.Options {
	configPath, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	storeKind, _ := cmd.Flags().GetString("store")
	dbPath, _ := cmd.Flags().GetString("db-path")
	logLevel, _ := cmd.Flags().GetString("log-level")
	return immunosim.Options{
		ConfigPath: configPath,
		EnvFile:    envFile,
		StoreKind:  storeKind,
		DBPath:     dbPath,
		LogLevel:   logLevel,
		LogOutput:  cmd.ErrOrStderr(),
	}
}

func newClient(cmd *cobra.Command) (*immunosim.Client, error) {
	client, err := immunosim.New(clientOptions(cmd))
	if err != nil {
		return nil, err
	}
	if err := client.Init(cmd.Context()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}
	return client, nil
}

func runLookup(cmd *cobra.Command) immunosim.RunLookup {
	runID, _ := cmd.Flags().GetString("run-id")
	latest, _ := cmd.Flags().GetBool("latest")
	return immunosim.RunLookup{RunID: runID, Latest: latest}
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
