package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orchis-io/orchis/pkg/stores"
)

func newStatusCommand() *cobra.Command {
	var (
		limit      int
		showEvents bool
	)

	cmd := &cobra.Command{
		Use:   "status [plan-id]",
		Short: "Show stored deployment plans and their state",
		Long: `Without arguments, list stored deployment plans newest first. With a
plan id, show that plan's tasks and, optionally, its event history.`,
		Example: `  # List recent deployments
  orchis status

  # Show one deployment with its event log
  orchis status --events 1b4e28ba-2fa1-11d2-883f-0016d3cca427`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Path == "" {
				return fmt.Errorf("no store configured, nothing to query")
			}

			ctx := cmd.Context()
			store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return err
			}
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if len(args) == 0 {
				summaries, err := store.ListPlans(ctx, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(summaries)
				}
				fmt.Printf("%-38s %-20s %-13s %5s  %s\n", "PLAN", "TOPOLOGY", "STATE", "TASKS", "CREATED")
				for _, s := range summaries {
					fmt.Printf("%-38s %-20s %-13s %5d  %s\n",
						s.ID, s.Topology, s.State, s.TaskCount,
						s.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				return nil
			}

			plan, err := store.GetPlan(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			}

			fmt.Printf("plan %s (topology %s): %s\n\n", plan.ID, plan.Topology, plan.State)
			fmt.Printf("%-20s %-20s %-12s %-15s %8s  %s\n",
				"TASK", "KIND", "STATE", "TARGET", "ATTEMPTS", "ERROR")
			for _, t := range plan.Tasks {
				errMsg := ""
				if t.LastError != nil {
					errMsg = t.LastError.Message
				}
				fmt.Printf("%-20s %-20s %-12s %-15s %8d  %s\n",
					t.ID, t.Kind, t.State, t.Target, t.Attempts, errMsg)
			}
			for _, w := range plan.Warnings {
				fmt.Printf("warning: %s\n", w)
			}

			if showEvents {
				stored, err := store.ListEvents(ctx, plan.ID, 1000, 0)
				if err != nil {
					return err
				}
				fmt.Printf("\n%-30s %-18s %-20s\n", "TIMESTAMP", "KIND", "TASK")
				for _, se := range stored {
					fmt.Printf("%-30s %-18s %-20s\n",
						se.Event.Timestamp.Format("2006-01-02 15:04:05.000"),
						se.Event.Kind, se.Event.TaskID)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of plans to list")
	cmd.Flags().BoolVar(&showEvents, "events", false, "show the plan's event history")

	return cmd
}
