package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/orchis-io/orchis/pkg/config"
	"github.com/orchis-io/orchis/pkg/engine"
	"github.com/orchis-io/orchis/pkg/inventory"
	"github.com/orchis-io/orchis/pkg/solver"
)

func newSolveCommand() *cobra.Command {
	var inventoryPath string

	cmd := &cobra.Command{
		Use:   "solve <topology.yaml>",
		Short: "Compute placement for a topology against the inventory",
		Long: `Compile a topology and solve task placement against the backend
inventory, under capacity, affinity, and anti-affinity constraints.
Nothing is deployed; the command prints the cost-minimal assignment or
the constraints that make placement infeasible.`,
		Example: `  # Solve against the configured inventory
  orchis solve ./webapp.yaml

  # Solve against a specific inventory file
  orchis solve --inventory ./staging-inventory.yaml ./webapp.yaml`,
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

			path := inventoryPath
			if path == "" {
				path = cfg.Inventory.Path
			}
			snap, err := inventory.Load(path)
			if err != nil {
				return err
			}

			compiler := engine.NewCompiler(resourceKinds(cfg))
			plan, err := compiler.Compile(topo)
			if err != nil {
				return err
			}

			assignment, err := solver.New(nil).Solve(plan, snap)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(assignment)
			}

			printAssignment(assignment)
			return nil
		},
	}

	cmd.Flags().StringVar(&inventoryPath, "inventory", "", "inventory file (overrides config)")

	return cmd
}

func printAssignment(a *engine.Assignment) {
	taskIDs := make([]string, 0, len(a.Targets))
	for id := range a.Targets {
		taskIDs = append(taskIDs, id)
	}
	sort.Strings(taskIDs)

	fmt.Printf("%-20s %s\n", "TASK", "TARGET")
	for _, id := range taskIDs {
		fmt.Printf("%-20s %s\n", id, a.Targets[id])
	}
	fmt.Printf("\ntotal cost: %.2f\n", a.Cost)
}
