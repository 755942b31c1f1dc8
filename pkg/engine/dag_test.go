package engine

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestBuildLinearChain(t *testing.T) {
	tasks := []*Task{
		{ID: "a", Kind: "vm"},
		{ID: "b", Kind: "vm", DependsOn: []string{"a"}},
		{ID: "c", Kind: "vm", DependsOn: []string{"b"}},
	}

	g, err := NewGraphBuilder().Build(tasks)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if g.Depth != 3 {
		t.Errorf("Depth = %d, want 3", g.Depth)
	}
	if !reflect.DeepEqual(g.Roots, []string{"a"}) {
		t.Errorf("Roots = %v, want [a]", g.Roots)
	}
	for i, id := range []string{"a", "b", "c"} {
		if g.Nodes[id].Level != i {
			t.Errorf("node %s level = %d, want %d", id, g.Nodes[id].Level, i)
		}
	}
	// Levels are stamped back onto the tasks.
	if tasks[2].Level != 2 {
		t.Errorf("task c Level = %d, want 2", tasks[2].Level)
	}
}

func TestBuildDiamond(t *testing.T) {
	tasks := []*Task{
		{ID: "root", Kind: "vm"},
		{ID: "left", Kind: "vm", DependsOn: []string{"root"}},
		{ID: "right", Kind: "vm", DependsOn: []string{"root"}},
		{ID: "sink", Kind: "vm", DependsOn: []string{"left", "right"}},
	}

	g, err := NewGraphBuilder().Build(tasks)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if g.Depth != 3 {
		t.Errorf("Depth = %d, want 3", g.Depth)
	}
	if g.Nodes["left"].Level != 1 || g.Nodes["right"].Level != 1 {
		t.Errorf("left/right levels = %d/%d, want 1/1",
			g.Nodes["left"].Level, g.Nodes["right"].Level)
	}
	if got := g.Nodes["root"].Dependents; len(got) != 2 {
		t.Errorf("root dependents = %v, want two", got)
	}
	if len(g.Edges) != 4 {
		t.Errorf("len(Edges) = %d, want 4", len(g.Edges))
	}
}

func TestBuildDetectsCycle(t *testing.T) {
	tasks := []*Task{
		{ID: "a", Kind: "vm", DependsOn: []string{"c"}},
		{ID: "b", Kind: "vm", DependsOn: []string{"a"}},
		{ID: "c", Kind: "vm", DependsOn: []string{"b"}},
	}

	_, err := NewGraphBuilder().Build(tasks)
	var compileErr *CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("Build() error = %v, want *CompileError", err)
	}
	if compileErr.Kind != CompileCyclicDependency {
		t.Errorf("Kind = %s, want %s", compileErr.Kind, CompileCyclicDependency)
	}
	if len(compileErr.Nodes) == 0 {
		t.Errorf("cycle error names no nodes: %v", compileErr)
	}
}

func TestBuildSelfCycle(t *testing.T) {
	tasks := []*Task{{ID: "a", Kind: "vm", DependsOn: []string{"a"}}}

	_, err := NewGraphBuilder().Build(tasks)
	var compileErr *CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("Build() error = %v, want *CompileError", err)
	}
	if compileErr.Kind != CompileCyclicDependency {
		t.Errorf("Kind = %s, want %s", compileErr.Kind, CompileCyclicDependency)
	}
}

func TestBuildUnknownDependency(t *testing.T) {
	tasks := []*Task{{ID: "a", Kind: "vm", DependsOn: []string{"ghost"}}}

	_, err := NewGraphBuilder().Build(tasks)
	var compileErr *CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("Build() error = %v, want *CompileError", err)
	}
	if compileErr.Kind != CompileUnknownDependency {
		t.Errorf("Kind = %s, want %s", compileErr.Kind, CompileUnknownDependency)
	}
	found := false
	for _, n := range compileErr.Nodes {
		if n == "ghost" {
			found = true
		}
	}
	if !found {
		t.Errorf("error nodes %v do not name ghost", compileErr.Nodes)
	}
}

func TestBuildDuplicateTaskID(t *testing.T) {
	tasks := []*Task{
		{ID: "a", Kind: "vm"},
		{ID: "a", Kind: "vm"},
	}

	_, err := NewGraphBuilder().Build(tasks)
	var compileErr *CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("Build() error = %v, want *CompileError", err)
	}
	if compileErr.Kind != CompileDuplicateNode {
		t.Errorf("Kind = %s, want %s", compileErr.Kind, CompileDuplicateNode)
	}
}

func TestBuildEmpty(t *testing.T) {
	g, err := NewGraphBuilder().Build(nil)
	if err != nil {
		t.Fatalf("Build(nil) error = %v", err)
	}
	if g.Depth != 0 || len(g.Nodes) != 0 {
		t.Errorf("empty graph = %+v, want zero depth and no nodes", g)
	}
}

func TestToDOT(t *testing.T) {
	tasks := []*Task{
		{ID: "a", Kind: "vm"},
		{ID: "b", Kind: "vm", DependsOn: []string{"a"}},
	}
	g, err := NewGraphBuilder().Build(tasks)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	dot := g.ToDOT()
	if !strings.Contains(dot, `"a" -> "b";`) {
		t.Errorf("DOT output missing edge a -> b:\n%s", dot)
	}
	if !strings.Contains(dot, "digraph Plan") {
		t.Errorf("DOT output missing header:\n%s", dot)
	}
}
