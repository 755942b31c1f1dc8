// Package commands implements the orchis CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orchis-io/orchis/pkg/config"
	"github.com/orchis-io/orchis/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "orchis",
		Short: "Orchis - Application Deployment Orchestration Engine",
		Long: `Orchis compiles declarative application topologies into executable
deployment plans, places every task onto backend targets under capacity
and affinity constraints, and drives the plan through dependency-ordered
execution with retries and automatic rollback.

A deployment either completes fully or is rolled back; partial
deployments are never left behind.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newSolveCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newStatusCommand())

	return rootCmd
}

// loadConfig loads the configuration file or falls back to the defaults.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// newLogger builds the structured logger from the config, honoring the
// global verbose flag.
func newLogger(cfg *config.Config) (*telemetry.Logger, error) {
	logCfg := cfg.Telemetry.Logging
	if verbose {
		logCfg.Level = "debug"
	}
	return telemetry.NewLogger(logCfg)
}

// defaultResourceKinds backs compile-only commands when the config names
// no kinds: the built-in simulated adapters cover these.
var defaultResourceKinds = []string{"vm", "volume", "network"}

// resourceKinds resolves the allowed resource kinds for a run.
func resourceKinds(cfg *config.Config) []string {
	if len(cfg.Engine.ResourceKinds) > 0 {
		return cfg.Engine.ResourceKinds
	}
	return defaultResourceKinds
}
