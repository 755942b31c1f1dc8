package engine

import (
	"time"
)

// Topology is the declarative description of an application deployment:
// named resource nodes and the dependency edges between them.
type Topology struct {
	// Name identifies the application this topology deploys.
	Name string `json:"name" yaml:"name"`

	// Nodes are the resources to deploy, in document order.
	Nodes []NodeSpec `json:"nodes" yaml:"nodes"`

	// Constraints are cross-node placement constraints.
	Constraints []Constraint `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// NodeSpec describes one resource in a topology.
type NodeSpec struct {
	// Name is the unique node name within the topology.
	Name string `json:"name" yaml:"name"`

	// Kind is the resource kind, matched against registered adapters
	// (e.g. "compute.instance", "network.port", "volume").
	Kind string `json:"kind" yaml:"kind"`

	// Demand is the capacity the resource consumes on its target.
	Demand int64 `json:"demand" yaml:"demand"`

	// DependsOn names the nodes that must complete before this one dispatches.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Tags restrict placement to targets carrying every listed tag.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Config is opaque provisioning configuration passed to the adapter.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// ConstraintKind identifies a cross-task placement constraint type.
type ConstraintKind string

const (
	// ConstraintAffinity requires all named tasks on the same target.
	ConstraintAffinity ConstraintKind = "affinity"

	// ConstraintAntiAffinity requires all named tasks on pairwise distinct targets.
	ConstraintAntiAffinity ConstraintKind = "anti_affinity"
)

// Constraint is a placement constraint across named tasks.
type Constraint struct {
	// Name identifies the constraint in diagnostics.
	Name string `json:"name" yaml:"name"`

	// Kind is the constraint type.
	Kind ConstraintKind `json:"kind" yaml:"kind"`

	// Tasks names the tasks the constraint binds. In a Topology these are
	// node names; the compiler carries them over as task ids.
	Tasks []string `json:"tasks" yaml:"tasks"`
}

// Task is one schedulable unit of work within a plan, compiled from one
// topology node. A task is owned by its plan's executor instance and is
// never mutated concurrently.
type Task struct {
	// ID is the task identifier, unique within the plan. Task ids are the
	// source node names so that solver output is reproducible across runs.
	ID string `json:"id"`

	// Kind is the resource kind, used to select the adapter.
	Kind string `json:"kind"`

	// Demand is the capacity the task consumes on its assigned target.
	Demand int64 `json:"demand"`

	// DependsOn lists task ids that must complete before this task dispatches.
	DependsOn []string `json:"depends_on,omitempty"`

	// Tags restrict placement to targets carrying every listed tag.
	Tags []string `json:"tags,omitempty"`

	// Config is opaque provisioning configuration passed to the adapter.
	Config map[string]any `json:"config,omitempty"`

	// State is the current lifecycle state.
	State TaskState `json:"state"`

	// Target is the assigned backend target id. Empty until solved; set
	// exactly once, before dispatch.
	Target string `json:"target,omitempty"`

	// Handle is the provision handle returned by the adapter on success.
	Handle string `json:"handle,omitempty"`

	// Attempts is the number of adapter calls made for this task.
	Attempts int `json:"attempts"`

	// LastError is the most recent error, if any.
	LastError *EngineError `json:"last_error,omitempty"`

	// Level is the topological depth assigned at compile time (diagnostics).
	Level int `json:"level"`
}

// Plan is the compiled, executable instance of a topology for one
// deployment request. The plan is the unit of rollback.
type Plan struct {
	// ID is the unique plan identifier.
	ID string `json:"id"`

	// Topology is the name of the source topology.
	Topology string `json:"topology"`

	// CreatedAt is when the plan was compiled.
	CreatedAt time.Time `json:"created_at"`

	// Tasks are the plan's tasks in source node order.
	Tasks []*Task `json:"tasks"`

	// Constraints are the cross-task placement constraints, with task ids.
	Constraints []Constraint `json:"constraints,omitempty"`

	// Graph is the dependency graph over task ids.
	Graph *Graph `json:"graph,omitempty"`

	// State is the overall plan state.
	State PlanState `json:"state"`

	// Warnings collects non-fatal conditions, e.g. teardown failures
	// recorded during rollback.
	Warnings []string `json:"warnings,omitempty"`

	byID map[string]*Task
}

// Task returns the task with the given id, or nil.
func (p *Plan) Task(id string) *Task {
	if p.byID == nil {
		p.byID = make(map[string]*Task, len(p.Tasks))
		for _, t := range p.Tasks {
			p.byID[t.ID] = t
		}
	}
	return p.byID[id]
}

// Verify re-checks the plan's structural invariants before execution:
// every dependency resolves and the task graph is acyclic.
func (p *Plan) Verify() error {
	b := NewGraphBuilder()
	g, err := b.Build(p.Tasks)
	if err != nil {
		return err
	}
	p.Graph = g
	return nil
}

// Solved reports whether every task carries a committed placement.
func (p *Plan) Solved() bool {
	for _, t := range p.Tasks {
		if t.Target == "" {
			return false
		}
	}
	return true
}

// Assignment maps task ids to backend target ids. It is produced by the
// placement solver and immutable once committed to a plan.
type Assignment struct {
	// Targets maps task id to target id.
	Targets map[string]string `json:"targets"`

	// Cost is the total objective value of the assignment.
	Cost float64 `json:"cost"`
}

// Commit writes the assignment onto the plan's tasks. Each task's target is
// set exactly once; committing over an already-solved plan is an error.
func (p *Plan) Commit(a *Assignment) error {
	for _, t := range p.Tasks {
		target, ok := a.Targets[t.ID]
		if !ok {
			return NewFatalError("assignment missing task", nil).
				WithCode(ErrCodeValidation).WithTask(t.ID)
		}
		if t.Target != "" {
			return NewFatalError("task already has a placement", nil).
				WithCode(ErrCodeValidation).WithTask(t.ID)
		}
		t.Target = target
		t.State = TaskStateSolved
	}
	return nil
}

// Event is an immutable lifecycle record emitted during plan execution.
// Events are append-only and never mutated after emission.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// PlanID is the plan the event belongs to.
	PlanID string `json:"plan_id"`

	// TaskID is the task the event belongs to, if any.
	TaskID string `json:"task_id,omitempty"`

	// Kind is the event kind.
	Kind EventKind `json:"kind"`

	// Timestamp is when the event was produced.
	Timestamp time.Time `json:"timestamp"`

	// Payload carries event-specific data.
	Payload map[string]any `json:"payload,omitempty"`
}
