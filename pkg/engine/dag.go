package engine

import (
	"fmt"
	"sort"
	"strings"
)

// GraphBuilder builds the dependency graph over a plan's tasks.
// It validates edges, detects cycles, and assigns topological levels.
type GraphBuilder struct {
	// tasks maps task ids to their tasks
	tasks map[string]*Task

	// dependents maps task ids to the tasks that depend on them
	dependents map[string][]string

	// dependencies maps task ids to their dependencies
	dependencies map[string][]string

	// inDegree tracks the number of incoming edges for each node
	inDegree map[string]int

	// levels maps topological level to task ids at that level
	levels [][]string
}

// Graph is the dependency DAG over a plan's task ids.
type Graph struct {
	// Nodes maps task ids to their graph nodes.
	Nodes map[string]*GraphNode `json:"nodes"`

	// Edges lists all dependency edges, from dependency to dependent.
	Edges []GraphEdge `json:"edges"`

	// Roots are the task ids with no dependencies.
	Roots []string `json:"roots"`

	// Depth is the number of topological levels.
	Depth int `json:"depth"`
}

// GraphNode is one task's position in the dependency graph.
type GraphNode struct {
	// ID is the task id.
	ID string `json:"id"`

	// Level is the topological level (depth from roots).
	Level int `json:"level"`

	// Dependencies are the task ids this node depends on.
	Dependencies []string `json:"dependencies"`

	// Dependents are the task ids that depend on this node.
	Dependents []string `json:"dependents"`
}

// GraphEdge is a dependency edge: From must complete before To dispatches.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NewGraphBuilder creates a new graph builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		tasks:        make(map[string]*Task),
		dependents:   make(map[string][]string),
		dependencies: make(map[string][]string),
		inDegree:     make(map[string]int),
		levels:       make([][]string, 0),
	}
}

// Build constructs the dependency graph for the given tasks. It fails with a
// CompileError if an edge points at an unknown task or the graph is cyclic.
func (b *GraphBuilder) Build(tasks []*Task) (*Graph, error) {
	if len(tasks) == 0 {
		return &Graph{
			Nodes: make(map[string]*GraphNode),
			Edges: make([]GraphEdge, 0),
			Roots: make([]string, 0),
			Depth: 0,
		}, nil
	}

	if err := b.initialize(tasks); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	return b.buildGraph(), nil
}

// initialize sets up the internal data structures from the tasks.
func (b *GraphBuilder) initialize(tasks []*Task) error {
	for _, task := range tasks {
		if task.ID == "" {
			return NewCompileError(CompileDuplicateNode, "task has empty id")
		}
		if _, exists := b.tasks[task.ID]; exists {
			return NewCompileError(CompileDuplicateNode, "duplicate task id", task.ID)
		}

		b.tasks[task.ID] = task
		b.dependents[task.ID] = make([]string, 0)
		b.dependencies[task.ID] = make([]string, 0)
		b.inDegree[task.ID] = 0
	}

	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			if _, exists := b.tasks[dep]; !exists {
				return NewCompileError(CompileUnknownDependency,
					fmt.Sprintf("task %s depends on unknown task %s", task.ID, dep),
					task.ID, dep)
			}

			// Edge from dependency to dependent: the dependency must
			// complete before the dependent can dispatch.
			b.dependents[dep] = append(b.dependents[dep], task.ID)
			b.dependencies[task.ID] = append(b.dependencies[task.ID], dep)
			b.inDegree[task.ID]++
		}
	}

	return nil
}

// detectCycles uses depth-first search with a recursion stack to find
// circular dependencies.
func (b *GraphBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	// Deterministic iteration order keeps cycle reports stable.
	ids := make([]string, 0, len(b.tasks))
	for id := range b.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if !visited[id] {
			if cycle := b.visit(id, visited, recStack, nil); cycle != nil {
				return NewCompileError(CompileCyclicDependency,
					formatCycle(cycle), cycle...)
			}
		}
	}

	return nil
}

// visit performs DFS and returns the cycle path if one is found.
func (b *GraphBuilder) visit(id string, visited, recStack map[string]bool, path []string) []string {
	visited[id] = true
	recStack[id] = true
	path = append(path, id)

	for _, dependent := range b.dependents[id] {
		if !visited[dependent] {
			if cycle := b.visit(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, p := range path {
				if p == dependent {
					return append(path[i:], dependent)
				}
			}
		}
	}

	recStack[id] = false
	return nil
}

// computeLevels assigns topological levels using Kahn's algorithm.
// Tasks at the same level have no ordering between them.
func (b *GraphBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for id, d := range b.inDegree {
		inDegree[id] = d
	}

	current := make([]string, 0)
	for id, d := range inDegree {
		if d == 0 {
			current = append(current, id)
		}
	}
	sort.Strings(current)

	if len(current) == 0 && len(b.tasks) > 0 {
		return NewCompileError(CompileCyclicDependency, "no root tasks found")
	}

	processed := 0
	for len(current) > 0 {
		b.levels = append(b.levels, current)
		processed += len(current)

		next := make([]string, 0)
		for _, id := range current {
			for _, dependent := range b.dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	// Should be unreachable once cycle detection has passed.
	if processed != len(b.tasks) {
		return NewCompileError(CompileCyclicDependency, "unprocessed tasks remain")
	}

	return nil
}

// buildGraph creates the final Graph structure and stamps levels on tasks.
func (b *GraphBuilder) buildGraph() *Graph {
	g := &Graph{
		Nodes: make(map[string]*GraphNode),
		Edges: make([]GraphEdge, 0),
		Roots: make([]string, 0),
		Depth: len(b.levels),
	}

	for level, ids := range b.levels {
		for _, id := range ids {
			task := b.tasks[id]
			g.Nodes[id] = &GraphNode{
				ID:           id,
				Level:        level,
				Dependencies: b.dependencies[id],
				Dependents:   b.dependents[id],
			}
			task.Level = level

			if level == 0 {
				g.Roots = append(g.Roots, id)
			}
		}
	}

	ids := make([]string, 0, len(b.tasks))
	for id := range b.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, dep := range b.tasks[id].DependsOn {
			g.Edges = append(g.Edges, GraphEdge{From: dep, To: id})
		}
	}

	return g
}

// ToDOT generates a DOT representation of the graph for visualization.
// The output can be rendered with Graphviz tools.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Plan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	byLevel := make(map[int][]string)
	maxLevel := 0
	for id, node := range g.Nodes {
		byLevel[node.Level] = append(byLevel[node.Level], id)
		if node.Level > maxLevel {
			maxLevel = node.Level
		}
	}

	for level := 0; level <= maxLevel; level++ {
		ids := byLevel[level]
		sort.Strings(ids)
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			sb.WriteString(fmt.Sprintf("    %q;\n", id))
		}
		sb.WriteString("  }\n\n")
	}

	for _, edge := range g.Edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q;\n", edge.From, edge.To))
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}
