package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"

	"github.com/orchis-io/orchis/pkg/adapters"
	"github.com/orchis-io/orchis/pkg/config"
	"github.com/orchis-io/orchis/pkg/engine"
	"github.com/orchis-io/orchis/pkg/events"
	"github.com/orchis-io/orchis/pkg/inventory"
	"github.com/orchis-io/orchis/pkg/solver"
	"github.com/orchis-io/orchis/pkg/stores"
	"github.com/orchis-io/orchis/pkg/telemetry"
)

func newDeployCommand() *cobra.Command {
	var inventoryPath string

	cmd := &cobra.Command{
		Use:   "deploy <topology.yaml>",
		Short: "Compile, place, and execute a topology deployment",
		Long: `Run the full deployment pipeline: compile the topology into a task
graph, solve placement against the inventory, and execute the plan in
dependency order with bounded concurrency and retries.

If any task fails permanently, completed tasks are torn down in reverse
completion order and the deployment ends rolled back. Interrupting the
command cancels execution the same way.`,
		Example: `  # Deploy a topology
  orchis deploy ./webapp.yaml

  # Deploy against a specific inventory
  orchis deploy --inventory ./staging-inventory.yaml ./webapp.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if inventoryPath != "" {
				cfg.Inventory.Path = inventoryPath
			}
			return runDeploy(cmd.Context(), cfg, args[0])
		},
	}

	cmd.Flags().StringVar(&inventoryPath, "inventory", "", "inventory file (overrides config)")

	return cmd
}

func runDeploy(ctx context.Context, cfg *config.Config, topologyPath string) error {
	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}

	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}
	metrics.StartMetricsServer(log)

	tracer, err := telemetry.NewTracer(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("creating tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	// Persistence is optional; without it the deployment still runs, it is
	// just not queryable afterward.
	var store *stores.SQLiteStore
	if cfg.Store.Path != "" {
		store, err = stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
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
	}

	publisher, err := buildPublisher(cfg, store, log)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = publisher.Close(flushCtx)
	}()

	registry := adapters.NewRegistry()
	for _, kind := range resourceKinds(cfg) {
		if err := registry.Register(adapters.NewSimulated(kind)); err != nil {
			return err
		}
	}

	snap, err := loadInventory(ctx, cfg, log)
	if err != nil {
		return err
	}

	topo, err := config.LoadTopology(topologyPath)
	if err != nil {
		return err
	}

	compiler := engine.NewCompiler(registry.Kinds())
	plan, err := compiler.Compile(topo)
	if err != nil {
		return err
	}
	log.WithPlanID(plan.ID).Infof("compiled topology %s: %d tasks", topo.Name, len(plan.Tasks))

	assignment, err := solver.New(metrics).Solve(plan, snap)
	if err != nil {
		return err
	}
	if err := plan.Commit(assignment); err != nil {
		return err
	}
	log.WithPlanID(plan.ID).Infof("placement solved, cost %.2f", assignment.Cost)

	if store != nil {
		if err := store.SavePlan(ctx, plan); err != nil {
			return err
		}
	}

	var planSlots *semaphore.Weighted
	if cfg.Engine.MaxParallelPlans > 0 {
		planSlots = semaphore.NewWeighted(int64(cfg.Engine.MaxParallelPlans))
	}
	executor := engine.NewExecutor(
		cfg.Engine.ExecutorConfig(), registry, publisher, planSlots, log, metrics,
	).WithTracer(tracer)

	execCtx, span := tracer.StartPlanSpan(ctx, plan.ID, plan.Topology)
	state, err := executor.Execute(execCtx, plan)
	span.End()
	if err != nil {
		return err
	}

	if store != nil {
		// The run itself is over; persist the terminal state even if the
		// caller's context is already cancelled.
		if err := store.SavePlan(context.WithoutCancel(ctx), plan); err != nil {
			log.WithPlanID(plan.ID).Errorf("saving terminal plan state: %v", err)
		}
	}

	switch state {
	case engine.PlanStateCompleted:
		fmt.Printf("plan %s completed: %d tasks deployed\n", plan.ID, len(plan.Tasks))
		return nil
	default:
		for _, w := range plan.Warnings {
			log.WithPlanID(plan.ID).Warn(w)
		}
		return fmt.Errorf("plan %s rolled back", plan.ID)
	}
}

// buildPublisher assembles the event pipeline from the configured sinks.
func buildPublisher(cfg *config.Config, store *stores.SQLiteStore, log *telemetry.Logger) (*events.Publisher, error) {
	sinks := []events.Sink{events.NewLogSink(log)}
	if store != nil {
		sinks = append(sinks, events.NewRecorderSink(store))
	}
	if cfg.Events.AMQP.Enabled {
		amqpSink, err := events.NewAMQPSink(cfg.Events.AMQP.SinkConfig(), log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, amqpSink)
	}

	var sink events.Sink = sinks[0]
	if len(sinks) > 1 {
		sink = events.NewMultiSink(sinks...)
	}
	return events.NewPublisher(sink, cfg.Events.PublisherConfig(), log), nil
}

// loadInventory reads the inventory, optionally through the hot-reload
// watcher so long-running solves see refreshed capacity.
func loadInventory(ctx context.Context, cfg *config.Config, log *telemetry.Logger) (*inventory.Snapshot, error) {
	if !cfg.Inventory.Watch {
		return inventory.Load(cfg.Inventory.Path)
	}

	watcher, err := inventory.NewWatcher(cfg.Inventory.Path, log)
	if err != nil {
		return nil, err
	}
	go func() { _ = watcher.Run(ctx) }()
	return watcher.Current(), nil
}
