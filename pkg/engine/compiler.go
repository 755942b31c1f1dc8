package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Compiler turns a declarative topology into an executable plan.
// Compilation has no side effects beyond constructing the plan object graph:
// a malformed topology is rejected before any task exists.
type Compiler struct {
	// kinds is the set of resource kinds with a registered adapter.
	kinds map[string]bool
}

// NewCompiler creates a compiler that accepts the given resource kinds.
func NewCompiler(kinds []string) *Compiler {
	set := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return &Compiler{kinds: set}
}

// Compile validates the topology and produces a plan with one task per node.
// It fails with a CompileError naming the offending node(s) when a dependency
// does not resolve, the graph is cyclic, or a node has an unknown resource
// kind. The compiled plan's dependency graph is isomorphic to the topology's
// node/edge graph.
func (c *Compiler) Compile(topology *Topology) (*Plan, error) {
	if topology == nil || len(topology.Nodes) == 0 {
		return nil, NewCompileError(CompileUnknownDependency, "topology has no nodes")
	}

	seen := make(map[string]bool, len(topology.Nodes))
	for _, node := range topology.Nodes {
		if node.Name == "" {
			return nil, NewCompileError(CompileDuplicateNode, "node has empty name")
		}
		if seen[node.Name] {
			return nil, NewCompileError(CompileDuplicateNode, "duplicate node name", node.Name)
		}
		seen[node.Name] = true

		if !c.kinds[node.Kind] {
			return nil, NewCompileError(CompileUnknownResourceKind,
				fmt.Sprintf("no adapter for kind %q", node.Kind), node.Name)
		}
	}

	// One task per node. Task ids are node names so that solver output is
	// reproducible for identical topologies.
	tasks := make([]*Task, 0, len(topology.Nodes))
	for _, node := range topology.Nodes {
		demand := node.Demand
		if demand <= 0 {
			demand = 1
		}
		tasks = append(tasks, &Task{
			ID:        node.Name,
			Kind:      node.Kind,
			Demand:    demand,
			DependsOn: append([]string(nil), node.DependsOn...),
			Tags:      append([]string(nil), node.Tags...),
			Config:    node.Config,
			State:     TaskStatePending,
		})
	}

	// Edge validation and cycle detection happen in the graph build; a
	// failure here discards the tasks with the rejected plan.
	graph, err := NewGraphBuilder().Build(tasks)
	if err != nil {
		return nil, err
	}

	constraints, err := c.compileConstraints(topology, seen)
	if err != nil {
		return nil, err
	}

	return &Plan{
		ID:          uuid.New().String(),
		Topology:    topology.Name,
		CreatedAt:   time.Now().UTC(),
		Tasks:       tasks,
		Constraints: constraints,
		Graph:       graph,
		State:       PlanStatePending,
	}, nil
}

// compileConstraints carries cross-node constraints over to task ids,
// rejecting references to unknown nodes.
func (c *Compiler) compileConstraints(topology *Topology, nodes map[string]bool) ([]Constraint, error) {
	out := make([]Constraint, 0, len(topology.Constraints))
	for i, constraint := range topology.Constraints {
		name := constraint.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", constraint.Kind, i)
		}

		switch constraint.Kind {
		case ConstraintAffinity, ConstraintAntiAffinity:
		default:
			return nil, NewCompileError(CompileInvalidConstraint,
				fmt.Sprintf("constraint %s has unknown kind %q", name, constraint.Kind))
		}

		if len(constraint.Tasks) < 2 {
			return nil, NewCompileError(CompileInvalidConstraint,
				fmt.Sprintf("constraint %s names fewer than two tasks", name))
		}
		for _, ref := range constraint.Tasks {
			if !nodes[ref] {
				return nil, NewCompileError(CompileUnknownDependency,
					fmt.Sprintf("constraint %s references unknown node", name), ref)
			}
		}

		out = append(out, Constraint{
			Name:  name,
			Kind:  constraint.Kind,
			Tasks: append([]string(nil), constraint.Tasks...),
		})
	}
	return out, nil
}
