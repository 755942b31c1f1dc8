package solver

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/orchis-io/orchis/pkg/engine"
	"github.com/orchis-io/orchis/pkg/inventory"
)

func compilePlan(t *testing.T, topo *engine.Topology) *engine.Plan {
	t.Helper()
	compiler := engine.NewCompiler([]string{"vm", "volume", "network"})
	plan, err := compiler.Compile(topo)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return plan
}

func snapshot(t *testing.T, targets []inventory.Target) *inventory.Snapshot {
	t.Helper()
	snap, err := inventory.NewSnapshot(targets)
	if err != nil {
		t.Fatalf("NewSnapshot() error = %v", err)
	}
	return snap
}

func TestSolveSingleTask(t *testing.T) {
	plan := compilePlan(t, &engine.Topology{
		Name:  "single",
		Nodes: []engine.NodeSpec{{Name: "web", Kind: "vm", Demand: 2}},
	})
	snap := snapshot(t, []inventory.Target{
		{ID: "host-a", Capacity: 4, UnitCost: 1.0},
	})

	got, err := New(nil).Solve(plan, snap)
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if got.Targets["web"] != "host-a" {
		t.Errorf("web assigned to %q, want host-a", got.Targets["web"])
	}
	if got.Cost != 2.0 {
		t.Errorf("cost = %v, want 2.0", got.Cost)
	}
}

func TestSolveMinimizesCost(t *testing.T) {
	plan := compilePlan(t, &engine.Topology{
		Name: "cost",
		Nodes: []engine.NodeSpec{
			{Name: "api", Kind: "vm", Demand: 2},
			{Name: "db", Kind: "vm", Demand: 2},
		},
	})
	// Both tasks fit on the cheap host together.
	snap := snapshot(t, []inventory.Target{
		{ID: "cheap", Capacity: 4, UnitCost: 1.0},
		{ID: "pricey", Capacity: 10, UnitCost: 5.0},
	})

	got, err := New(nil).Solve(plan, snap)
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if got.Targets["api"] != "cheap" || got.Targets["db"] != "cheap" {
		t.Errorf("assignment = %v, want both on cheap", got.Targets)
	}
	if got.Cost != 4.0 {
		t.Errorf("cost = %v, want 4.0", got.Cost)
	}
}

func TestSolveCapacityForcesSpread(t *testing.T) {
	plan := compilePlan(t, &engine.Topology{
		Name: "spread",
		Nodes: []engine.NodeSpec{
			{Name: "api", Kind: "vm", Demand: 3},
			{Name: "db", Kind: "vm", Demand: 3},
		},
	})
	// The cheap host can hold only one of the two.
	snap := snapshot(t, []inventory.Target{
		{ID: "cheap", Capacity: 3, UnitCost: 1.0},
		{ID: "pricey", Capacity: 3, UnitCost: 5.0},
	})

	got, err := New(nil).Solve(plan, snap)
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if got.Targets["api"] == got.Targets["db"] {
		t.Errorf("both tasks on %q, capacity should force a spread", got.Targets["api"])
	}
	if got.Cost != 18.0 {
		t.Errorf("cost = %v, want 18.0", got.Cost)
	}
}

func TestSolveAffinity(t *testing.T) {
	plan := compilePlan(t, &engine.Topology{
		Name: "affinity",
		Nodes: []engine.NodeSpec{
			{Name: "app", Kind: "vm", Demand: 2},
			{Name: "cache", Kind: "vm", Demand: 2},
		},
		Constraints: []engine.Constraint{
			{Name: "app-near-cache", Kind: engine.ConstraintAffinity, Tasks: []string{"app", "cache"}},
		},
	})
	// Splitting would be cheaper, but affinity wins.
	snap := snapshot(t, []inventory.Target{
		{ID: "host-a", Capacity: 2, UnitCost: 1.0},
		{ID: "host-b", Capacity: 4, UnitCost: 2.0},
	})

	got, err := New(nil).Solve(plan, snap)
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if got.Targets["app"] != got.Targets["cache"] {
		t.Errorf("assignment = %v, want co-located", got.Targets)
	}
	if got.Targets["app"] != "host-b" {
		t.Errorf("app on %q, want host-b (only target fitting both)", got.Targets["app"])
	}
}

func TestSolveAntiAffinity(t *testing.T) {
	plan := compilePlan(t, &engine.Topology{
		Name: "anti",
		Nodes: []engine.NodeSpec{
			{Name: "db-1", Kind: "vm", Demand: 1},
			{Name: "db-2", Kind: "vm", Demand: 1},
		},
		Constraints: []engine.Constraint{
			{Name: "db-spread", Kind: engine.ConstraintAntiAffinity, Tasks: []string{"db-1", "db-2"}},
		},
	})
	snap := snapshot(t, []inventory.Target{
		{ID: "host-a", Capacity: 10, UnitCost: 1.0},
		{ID: "host-b", Capacity: 10, UnitCost: 1.0},
	})

	got, err := New(nil).Solve(plan, snap)
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if got.Targets["db-1"] == got.Targets["db-2"] {
		t.Errorf("both replicas on %q, want distinct targets", got.Targets["db-1"])
	}
}

func TestSolveAntiAffinityInfeasible(t *testing.T) {
	plan := compilePlan(t, &engine.Topology{
		Name: "anti-infeasible",
		Nodes: []engine.NodeSpec{
			{Name: "db-1", Kind: "vm", Demand: 1},
			{Name: "db-2", Kind: "vm", Demand: 1},
		},
		Constraints: []engine.Constraint{
			{Name: "db-spread", Kind: engine.ConstraintAntiAffinity, Tasks: []string{"db-1", "db-2"}},
		},
	})
	snap := snapshot(t, []inventory.Target{
		{ID: "only", Capacity: 10, UnitCost: 1.0},
	})

	_, err := New(nil).Solve(plan, snap)
	var solveErr *engine.SolveError
	if !errors.As(err, &solveErr) {
		t.Fatalf("Solve() error = %v, want *engine.SolveError", err)
	}
	found := false
	for _, c := range solveErr.Constraints {
		if strings.Contains(c, "db-spread") {
			found = true
		}
	}
	if !found {
		t.Errorf("infeasibility report %v does not name constraint db-spread", solveErr.Constraints)
	}
}

func TestSolveNoEligibleTarget(t *testing.T) {
	plan := compilePlan(t, &engine.Topology{
		Name: "kinds",
		Nodes: []engine.NodeSpec{
			{Name: "disk", Kind: "volume", Demand: 1},
		},
	})
	snap := snapshot(t, []inventory.Target{
		{ID: "compute", Kinds: []string{"vm"}, Capacity: 10, UnitCost: 1.0},
	})

	_, err := New(nil).Solve(plan, snap)
	var solveErr *engine.SolveError
	if !errors.As(err, &solveErr) {
		t.Fatalf("Solve() error = %v, want *engine.SolveError", err)
	}
	if len(solveErr.Constraints) != 1 || !strings.Contains(solveErr.Constraints[0], "disk") {
		t.Errorf("infeasibility report %v does not name task disk", solveErr.Constraints)
	}
}

func TestSolveTagFilter(t *testing.T) {
	plan := compilePlan(t, &engine.Topology{
		Name: "tags",
		Nodes: []engine.NodeSpec{
			{Name: "gpu-job", Kind: "vm", Demand: 1, Tags: []string{"gpu"}},
		},
	})
	snap := snapshot(t, []inventory.Target{
		{ID: "plain", Capacity: 10, UnitCost: 0.5},
		{ID: "accel", Capacity: 10, UnitCost: 3.0, Tags: []string{"gpu", "nvme"}},
	})

	got, err := New(nil).Solve(plan, snap)
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if got.Targets["gpu-job"] != "accel" {
		t.Errorf("gpu-job on %q, want accel", got.Targets["gpu-job"])
	}
}

func TestSolveDeterministic(t *testing.T) {
	topo := &engine.Topology{
		Name: "deterministic",
		Nodes: []engine.NodeSpec{
			{Name: "a", Kind: "vm", Demand: 1},
			{Name: "b", Kind: "vm", Demand: 1},
			{Name: "c", Kind: "vm", Demand: 1},
			{Name: "d", Kind: "vm", Demand: 1},
		},
	}
	// All targets cost the same, so every placement is optimal and only the
	// tie-break decides.
	snap := snapshot(t, []inventory.Target{
		{ID: "host-1", Capacity: 2, UnitCost: 1.0},
		{ID: "host-2", Capacity: 2, UnitCost: 1.0},
		{ID: "host-3", Capacity: 2, UnitCost: 1.0},
	})

	first, err := New(nil).Solve(compilePlan(t, topo), snap)
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := New(nil).Solve(compilePlan(t, topo), snap)
		if err != nil {
			t.Fatalf("Solve() error = %v", err)
		}
		if !reflect.DeepEqual(first.Targets, again.Targets) {
			t.Fatalf("solve %d produced %v, first produced %v", i, again.Targets, first.Targets)
		}
		if again.Cost != first.Cost {
			t.Fatalf("solve %d cost = %v, first cost = %v", i, again.Cost, first.Cost)
		}
	}

	// The tie-break is ascending task id, then ascending target id.
	want := map[string]string{"a": "host-1", "b": "host-1", "c": "host-2", "d": "host-2"}
	if !reflect.DeepEqual(first.Targets, want) {
		t.Errorf("assignment = %v, want %v", first.Targets, want)
	}
}

func TestSolveEmptyInventory(t *testing.T) {
	plan := compilePlan(t, &engine.Topology{
		Name:  "empty",
		Nodes: []engine.NodeSpec{{Name: "web", Kind: "vm", Demand: 1}},
	})

	_, err := New(nil).Solve(plan, &inventory.Snapshot{})
	var solveErr *engine.SolveError
	if !errors.As(err, &solveErr) {
		t.Fatalf("Solve() error = %v, want *engine.SolveError", err)
	}
}
