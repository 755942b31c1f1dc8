package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orchis-io/orchis/pkg/config"
	"github.com/orchis-io/orchis/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "plan <topology.yaml>",
		Short: "Compile a topology into a deployment plan",
		Long: `Compile a topology into an executable deployment plan and show the
resulting task graph. Nothing is deployed.`,
		Example: `  # Show the compiled task graph
  orchis plan ./webapp.yaml

  # Emit the dependency graph in DOT format
  orchis plan --dot ./webapp.yaml | dot -Tsvg -o plan.svg`,
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
				return err
			}

			switch {
			case dot:
				fmt.Println(plan.Graph.ToDOT())
			case jsonOutput:
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			default:
				printPlan(plan)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "emit the dependency graph in DOT format")

	return cmd
}

func printPlan(plan *engine.Plan) {
	fmt.Printf("plan %s (topology %s): %d tasks, depth %d\n\n",
		plan.ID, plan.Topology, len(plan.Tasks), plan.Graph.Depth)
	fmt.Printf("%-20s %-20s %8s %6s  %s\n", "TASK", "KIND", "DEMAND", "LEVEL", "DEPENDS ON")
	for _, t := range plan.Tasks {
		fmt.Printf("%-20s %-20s %8d %6d  %s\n",
			t.ID, t.Kind, t.Demand, t.Level, strings.Join(t.DependsOn, ", "))
	}
	if len(plan.Constraints) > 0 {
		fmt.Printf("\n%-20s %-15s %s\n", "CONSTRAINT", "KIND", "TASKS")
		for _, c := range plan.Constraints {
			fmt.Printf("%-20s %-15s %s\n", c.Name, c.Kind, strings.Join(c.Tasks, ", "))
		}
	}
}
