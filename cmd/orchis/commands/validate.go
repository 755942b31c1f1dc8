package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orchis-io/orchis/pkg/config"
	"github.com/orchis-io/orchis/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <topology.yaml>",
		Short: "Validate a topology document",
		Long: `Validate a topology document without deploying anything.

This command checks:
  - YAML syntax and document shape
  - Node names and resource kinds
  - Dependency references and acyclicity
  - Constraint references`,
		Example: `  # Validate a topology
  orchis validate ./webapp.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			topo, err := config.LoadTopology(args[0])
			if err != nil {
				return err
			}

			compiler := engine.NewCompiler(resourceKinds(cfg))
			plan, err := compiler.Compile(topo)
			if err != nil {
				return fmt.Errorf("topology %s is invalid: %w", topo.Name, err)
			}

			fmt.Printf("topology %s is valid: %d tasks, graph depth %d\n",
				topo.Name, len(plan.Tasks), plan.Graph.Depth)
			return nil
		},
	}

	return cmd
}
