package engine

import (
	"encoding/json"
	"fmt"
)

// TaskState represents the state of a task in its lifecycle.
// Valid transitions: pending -> solved -> dispatched -> running ->
// {succeeded | failed} -> {completed | rolled_back}.
type TaskState string

const (
	// TaskStatePending indicates the task has been compiled but not yet placed.
	TaskStatePending TaskState = "pending"

	// TaskStateSolved indicates the task has a committed placement assignment.
	TaskStateSolved TaskState = "solved"

	// TaskStateDispatched indicates the task has been handed to its adapter.
	TaskStateDispatched TaskState = "dispatched"

	// TaskStateRunning indicates the adapter call is in flight.
	TaskStateRunning TaskState = "running"

	// TaskStateSucceeded indicates the adapter returned a provision handle.
	TaskStateSucceeded TaskState = "succeeded"

	// TaskStateFailed indicates the adapter failed permanently or the retry
	// budget was exhausted.
	TaskStateFailed TaskState = "failed"

	// TaskStateCompleted is the terminal success state.
	TaskStateCompleted TaskState = "completed"

	// TaskStateRolledBack is the terminal state after plan rollback. Tasks
	// that never provisioned anything reach it without a teardown call.
	TaskStateRolledBack TaskState = "rolled_back"
)

// IsTerminal returns true if the task state is final.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateCompleted || s == TaskStateRolledBack
}

// Validate checks if the task state is valid.
func (s TaskState) Validate() error {
	switch s {
	case TaskStatePending, TaskStateSolved, TaskStateDispatched, TaskStateRunning,
		TaskStateSucceeded, TaskStateFailed, TaskStateCompleted, TaskStateRolledBack:
		return nil
	default:
		return fmt.Errorf("invalid task state: %s", s)
	}
}

// validNext enumerates the allowed transitions out of each state.
var validNext = map[TaskState][]TaskState{
	TaskStatePending:    {TaskStateSolved, TaskStateRolledBack},
	TaskStateSolved:     {TaskStateDispatched, TaskStateRolledBack},
	TaskStateDispatched: {TaskStateRunning},
	TaskStateRunning:    {TaskStateSucceeded, TaskStateFailed},
	TaskStateSucceeded:  {TaskStateCompleted},
	TaskStateFailed:     {TaskStateRolledBack},
	TaskStateCompleted:  {TaskStateRolledBack},
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s TaskState) CanTransition(next TaskState) bool {
	for _, n := range validNext[s] {
		if n == next {
			return true
		}
	}
	return false
}

// PlanState represents the overall state of a deployment plan.
type PlanState string

const (
	// PlanStatePending indicates the plan is compiled but not yet executing.
	PlanStatePending PlanState = "pending"

	// PlanStateRunning indicates the executor is dispatching tasks.
	PlanStateRunning PlanState = "running"

	// PlanStateRollingBack indicates completed work is being torn down.
	PlanStateRollingBack PlanState = "rolling_back"

	// PlanStateCompleted indicates every task reached completed.
	PlanStateCompleted PlanState = "completed"

	// PlanStateRolledBack indicates the plan was aborted and completed work
	// received compensating teardown calls.
	PlanStateRolledBack PlanState = "rolled_back"
)

// IsTerminal returns true if the plan state is final.
func (s PlanState) IsTerminal() bool {
	return s == PlanStateCompleted || s == PlanStateRolledBack
}

// Validate checks if the plan state is valid.
func (s PlanState) Validate() error {
	switch s {
	case PlanStatePending, PlanStateRunning, PlanStateRollingBack,
		PlanStateCompleted, PlanStateRolledBack:
		return nil
	default:
		return fmt.Errorf("invalid plan state: %s", s)
	}
}

// EventKind identifies a lifecycle event on the outbound bus.
type EventKind string

const (
	// EventPlanStarted indicates execution of a plan has begun.
	EventPlanStarted EventKind = "plan_started"

	// EventTaskDispatched indicates a task was handed to its adapter.
	EventTaskDispatched EventKind = "task_dispatched"

	// EventTaskCompleted indicates a task reached its terminal success state.
	EventTaskCompleted EventKind = "task_completed"

	// EventTaskFailed indicates a task failed permanently.
	EventTaskFailed EventKind = "task_failed"

	// EventPlanCompleted indicates every task in the plan completed.
	EventPlanCompleted EventKind = "plan_completed"

	// EventPlanRolledBack indicates the plan was aborted and rolled back.
	EventPlanRolledBack EventKind = "plan_rolled_back"

	// EventWarning carries non-fatal conditions such as teardown failures.
	EventWarning EventKind = "warning"
)

// Severity returns the log severity for the event kind.
func (k EventKind) Severity() string {
	switch k {
	case EventTaskFailed, EventPlanRolledBack:
		return "error"
	case EventWarning:
		return "warning"
	default:
		return "info"
	}
}

// Validate checks if the event kind is valid.
func (k EventKind) Validate() error {
	switch k {
	case EventPlanStarted, EventTaskDispatched, EventTaskCompleted,
		EventTaskFailed, EventPlanCompleted, EventPlanRolledBack, EventWarning:
		return nil
	default:
		return fmt.Errorf("invalid event kind: %s", k)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s TaskState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *TaskState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = TaskState(str)
	return s.Validate()
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s PlanState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *PlanState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = PlanState(str)
	return s.Validate()
}
