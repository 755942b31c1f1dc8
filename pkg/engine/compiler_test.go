package engine

import (
	"errors"
	"testing"
)

func testCompiler() *Compiler {
	return NewCompiler([]string{"vm", "volume", "network"})
}

func TestCompileProducesIsomorphicGraph(t *testing.T) {
	topo := &Topology{
		Name: "webapp",
		Nodes: []NodeSpec{
			{Name: "net", Kind: "network"},
			{Name: "db", Kind: "vm", Demand: 4, DependsOn: []string{"net"}},
			{Name: "web", Kind: "vm", Demand: 2, DependsOn: []string{"net", "db"}},
		},
	}

	plan, err := testCompiler().Compile(topo)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	if plan.State != PlanStatePending {
		t.Errorf("State = %s, want pending", plan.State)
	}
	if len(plan.Tasks) != len(topo.Nodes) {
		t.Fatalf("len(Tasks) = %d, want %d", len(plan.Tasks), len(topo.Nodes))
	}
	// One task per node, ids are the node names, source order preserved.
	for i, node := range topo.Nodes {
		task := plan.Tasks[i]
		if task.ID != node.Name {
			t.Errorf("task %d id = %s, want %s", i, task.ID, node.Name)
		}
		if task.State != TaskStatePending {
			t.Errorf("task %s state = %s, want pending", task.ID, task.State)
		}
		if len(task.DependsOn) != len(node.DependsOn) {
			t.Errorf("task %s deps = %v, want %v", task.ID, task.DependsOn, node.DependsOn)
		}
	}
	// The graph mirrors the topology's edges exactly.
	if len(plan.Graph.Edges) != 3 {
		t.Errorf("len(Edges) = %d, want 3", len(plan.Graph.Edges))
	}
	if plan.Graph.Depth != 3 {
		t.Errorf("Depth = %d, want 3", plan.Graph.Depth)
	}
}

func TestCompileDefaultsDemand(t *testing.T) {
	plan, err := testCompiler().Compile(&Topology{
		Name:  "single",
		Nodes: []NodeSpec{{Name: "a", Kind: "vm"}},
	})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if plan.Tasks[0].Demand != 1 {
		t.Errorf("Demand = %d, want default 1", plan.Tasks[0].Demand)
	}
}

func TestCompileRejectsUnknownKind(t *testing.T) {
	_, err := testCompiler().Compile(&Topology{
		Name:  "bad",
		Nodes: []NodeSpec{{Name: "q", Kind: "quantum"}},
	})

	var compileErr *CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("Compile() error = %v, want *CompileError", err)
	}
	if compileErr.Kind != CompileUnknownResourceKind {
		t.Errorf("Kind = %s, want %s", compileErr.Kind, CompileUnknownResourceKind)
	}
}

func TestCompileRejectsCycleWithoutTasks(t *testing.T) {
	_, err := testCompiler().Compile(&Topology{
		Name: "cycle",
		Nodes: []NodeSpec{
			{Name: "a", Kind: "vm", DependsOn: []string{"b"}},
			{Name: "b", Kind: "vm", DependsOn: []string{"a"}},
		},
	})

	var compileErr *CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("Compile() error = %v, want *CompileError", err)
	}
	if compileErr.Kind != CompileCyclicDependency {
		t.Errorf("Kind = %s, want %s", compileErr.Kind, CompileCyclicDependency)
	}
}

func TestCompileRejectsDuplicateNode(t *testing.T) {
	_, err := testCompiler().Compile(&Topology{
		Name: "dup",
		Nodes: []NodeSpec{
			{Name: "a", Kind: "vm"},
			{Name: "a", Kind: "vm"},
		},
	})

	var compileErr *CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("Compile() error = %v, want *CompileError", err)
	}
	if compileErr.Kind != CompileDuplicateNode {
		t.Errorf("Kind = %s, want %s", compileErr.Kind, CompileDuplicateNode)
	}
}

func TestCompileRejectsEmptyTopology(t *testing.T) {
	if _, err := testCompiler().Compile(nil); err == nil {
		t.Errorf("Compile(nil) succeeded, want error")
	}
	if _, err := testCompiler().Compile(&Topology{Name: "empty"}); err == nil {
		t.Errorf("Compile(no nodes) succeeded, want error")
	}
}

func TestCompileConstraints(t *testing.T) {
	plan, err := testCompiler().Compile(&Topology{
		Name: "constrained",
		Nodes: []NodeSpec{
			{Name: "a", Kind: "vm"},
			{Name: "b", Kind: "vm"},
		},
		Constraints: []Constraint{
			{Kind: ConstraintAntiAffinity, Tasks: []string{"a", "b"}},
		},
	})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if len(plan.Constraints) != 1 {
		t.Fatalf("len(Constraints) = %d, want 1", len(plan.Constraints))
	}
	// Unnamed constraints get a generated name for diagnostics.
	if plan.Constraints[0].Name == "" {
		t.Errorf("constraint name is empty, want generated name")
	}
}

func TestCompileRejectsBadConstraints(t *testing.T) {
	nodes := []NodeSpec{
		{Name: "a", Kind: "vm"},
		{Name: "b", Kind: "vm"},
	}

	cases := []struct {
		name       string
		constraint Constraint
		wantKind   CompileErrorKind
	}{
		{"unknown reference", Constraint{Name: "x", Kind: ConstraintAffinity, Tasks: []string{"a", "ghost"}}, CompileUnknownDependency},
		{"too few tasks", Constraint{Name: "x", Kind: ConstraintAffinity, Tasks: []string{"a"}}, CompileInvalidConstraint},
		{"unknown kind", Constraint{Name: "x", Kind: "gravity", Tasks: []string{"a", "b"}}, CompileInvalidConstraint},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := testCompiler().Compile(&Topology{
				Name:        "bad",
				Nodes:       nodes,
				Constraints: []Constraint{tc.constraint},
			})
			var compileErr *CompileError
			if !errors.As(err, &compileErr) {
				t.Fatalf("Compile() error = %v, want *CompileError", err)
			}
			if compileErr.Kind != tc.wantKind {
				t.Errorf("Kind = %s, want %s", compileErr.Kind, tc.wantKind)
			}
		})
	}
}

func TestCompileUniquePlanIDs(t *testing.T) {
	topo := &Topology{
		Name:  "same",
		Nodes: []NodeSpec{{Name: "a", Kind: "vm"}},
	}
	first, err := testCompiler().Compile(topo)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	second, err := testCompiler().Compile(topo)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if first.ID == second.ID {
		t.Errorf("two compilations share plan id %s", first.ID)
	}
}
