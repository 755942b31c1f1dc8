// Package solver assigns a plan's tasks to backend inventory targets.
//
// Placement is formulated as an assignment problem: one decision per
// (task, candidate target) pair, subject to per-target capacity, task
// eligibility (kind and tags), and cross-task affinity/anti-affinity
// constraints, minimizing a linear cost objective (demand times the
// target's unit cost). The solver searches the assignment space exactly
// with branch-and-bound, so a returned assignment is feasible and
// cost-minimal, and an infeasible instance is reported as such. A partial
// assignment is never committed.
//
// The solve is a pure function of the plan and the inventory snapshot.
// Determinism is part of the contract: tasks are visited in ascending task
// id order and candidates in ascending target id order, and among
// equal-cost optima the first solution in that order wins. Identical
// inputs therefore produce bit-identical assignments, which is what makes
// re-planning after a restart reproducible.
package solver

import (
	"fmt"
	"sort"
	"time"

	"github.com/orchis-io/orchis/pkg/engine"
	"github.com/orchis-io/orchis/pkg/inventory"
	"github.com/orchis-io/orchis/pkg/telemetry"
)

// Solver computes placement assignments for compiled plans.
type Solver struct {
	metrics *telemetry.Metrics
}

// New creates a solver. Metrics may be nil.
func New(metrics *telemetry.Metrics) *Solver {
	return &Solver{metrics: metrics}
}

// Solve produces a feasible, cost-minimal assignment of every task in the
// plan to a target in the snapshot, or a SolveError naming the
// unsatisfiable constraint set. The plan and snapshot are not mutated.
func (s *Solver) Solve(plan *engine.Plan, snap *inventory.Snapshot) (*engine.Assignment, error) {
	started := time.Now()
	assignment, err := solve(plan, snap)
	s.metrics.ObserveSolve(time.Since(started), err == nil)
	return assignment, err
}

// problem is the immutable search input derived from plan and snapshot.
type problem struct {
	tasks      []*engine.Task // ascending id
	candidates [][]int        // per task: eligible target indexes, ascending id
	targets    []inventory.Target
	// constraints indexed for membership checks during search
	affinity []indexedConstraint
	anti     []indexedConstraint
	// suffixMin[i] is the minimum possible cost of tasks[i:], the
	// branch-and-bound lower bound.
	suffixMin []float64
}

type indexedConstraint struct {
	name    string
	members map[string]bool
}

func solve(plan *engine.Plan, snap *inventory.Snapshot) (*engine.Assignment, error) {
	if len(snap.Targets) == 0 {
		return nil, engine.NewSolveError("inventory has no targets")
	}

	p, err := buildProblem(plan, snap)
	if err != nil {
		return nil, err
	}

	st := &searchState{
		p:         p,
		remaining: make([]int64, len(p.targets)),
		assigned:  make([]int, len(p.tasks)),
		blocked:   make(map[string]bool),
	}
	for i, t := range p.targets {
		st.remaining[i] = t.Capacity
	}
	for i := range st.assigned {
		st.assigned[i] = -1
	}

	st.search(0, 0)

	if st.best == nil {
		return nil, engine.NewSolveError(st.blockedReasons()...)
	}

	targets := make(map[string]string, len(p.tasks))
	for i, task := range p.tasks {
		targets[task.ID] = p.targets[st.best[i]].ID
	}
	return &engine.Assignment{Targets: targets, Cost: st.bestCost}, nil
}

func buildProblem(plan *engine.Plan, snap *inventory.Snapshot) (*problem, error) {
	tasks := append([]*engine.Task(nil), plan.Tasks...)
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	p := &problem{
		tasks:      tasks,
		targets:    snap.Targets,
		candidates: make([][]int, len(tasks)),
		suffixMin:  make([]float64, len(tasks)+1),
	}

	// Eligibility filter. A task with no candidate at all is infeasible on
	// its own; report every such task at once.
	var unplaceable []string
	for i, task := range tasks {
		for j := range snap.Targets {
			t := &snap.Targets[j]
			if t.Supports(task.Kind) && t.HasTags(task.Tags) && t.Capacity >= task.Demand {
				p.candidates[i] = append(p.candidates[i], j)
			}
		}
		if len(p.candidates[i]) == 0 {
			unplaceable = append(unplaceable,
				fmt.Sprintf("task %s: no target matches kind/tags/capacity", task.ID))
		}
	}
	if len(unplaceable) > 0 {
		return nil, engine.NewSolveError(unplaceable...)
	}

	for _, c := range plan.Constraints {
		ic := indexedConstraint{name: c.Name, members: make(map[string]bool, len(c.Tasks))}
		for _, id := range c.Tasks {
			ic.members[id] = true
		}
		switch c.Kind {
		case engine.ConstraintAffinity:
			p.affinity = append(p.affinity, ic)
		case engine.ConstraintAntiAffinity:
			p.anti = append(p.anti, ic)
		}
	}

	// Lower bound: each unassigned task costs at least its cheapest
	// candidate, ignoring capacity interactions.
	for i := len(tasks) - 1; i >= 0; i-- {
		minCost := -1.0
		for _, j := range p.candidates[i] {
			cost := float64(tasks[i].Demand) * snap.Targets[j].UnitCost
			if minCost < 0 || cost < minCost {
				minCost = cost
			}
		}
		p.suffixMin[i] = p.suffixMin[i+1] + minCost
	}

	return p, nil
}

// searchState carries the mutable branch-and-bound state.
type searchState struct {
	p         *problem
	remaining []int64 // capacity left per target index
	assigned  []int   // target index per task index, -1 if unassigned

	best     []int
	bestCost float64

	// blocked records, at the deepest frontier the search reached without a
	// solution, which constraints rejected candidates there.
	blocked      map[string]bool
	blockedDepth int
}

// search assigns tasks[depth:] by depth-first enumeration in candidate
// order, pruning branches that cannot beat the incumbent.
func (st *searchState) search(depth int, cost float64) {
	p := st.p
	if depth == len(p.tasks) {
		// First complete solution at a given cost wins; later equal-cost
		// solutions are pruned below, which realizes the task-id/target-id
		// tie-break order.
		if st.best == nil || cost < st.bestCost {
			st.best = append([]int(nil), st.assigned...)
			st.bestCost = cost
		}
		return
	}

	if st.best != nil && cost+p.suffixMin[depth] >= st.bestCost {
		return
	}

	task := p.tasks[depth]
	for _, j := range p.candidates[depth] {
		target := &p.targets[j]

		if reason, ok := st.admissible(depth, j); !ok {
			st.recordBlocked(depth, reason)
			continue
		}

		stepCost := float64(task.Demand) * target.UnitCost
		st.assigned[depth] = j
		st.remaining[j] -= task.Demand

		st.search(depth+1, cost+stepCost)

		st.remaining[j] += task.Demand
		st.assigned[depth] = -1
	}
}

// admissible checks capacity and cross-task constraints for placing the
// task at depth onto target index j, given earlier assignments.
func (st *searchState) admissible(depth, j int) (string, bool) {
	p := st.p
	task := p.tasks[depth]

	if st.remaining[j] < task.Demand {
		return fmt.Sprintf("capacity of target %s", p.targets[j].ID), false
	}

	for _, c := range p.affinity {
		if !c.members[task.ID] {
			continue
		}
		for prev := 0; prev < depth; prev++ {
			if c.members[p.tasks[prev].ID] && st.assigned[prev] != j {
				return fmt.Sprintf("affinity constraint %s", c.name), false
			}
		}
	}

	for _, c := range p.anti {
		if !c.members[task.ID] {
			continue
		}
		for prev := 0; prev < depth; prev++ {
			if c.members[p.tasks[prev].ID] && st.assigned[prev] == j {
				return fmt.Sprintf("anti-affinity constraint %s", c.name), false
			}
		}
	}

	return "", true
}

// recordBlocked keeps rejection reasons only for the deepest frontier, so
// an infeasibility report names the constraints that actually bind.
func (st *searchState) recordBlocked(depth int, reason string) {
	if depth > st.blockedDepth {
		st.blocked = map[string]bool{}
		st.blockedDepth = depth
	}
	if depth == st.blockedDepth {
		st.blocked[fmt.Sprintf("task %s: %s", st.p.tasks[depth].ID, reason)] = true
	}
}

func (st *searchState) blockedReasons() []string {
	if len(st.blocked) == 0 {
		return []string{"no feasible assignment"}
	}
	reasons := make([]string, 0, len(st.blocked))
	for r := range st.blocked {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	return reasons
}
