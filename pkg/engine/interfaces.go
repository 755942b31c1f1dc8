package engine

import (
	"context"
)

// Adapter abstracts one backend infrastructure service behind a uniform
// provision/teardown contract. The core depends only on this contract and
// never on a specific backend client library. Adapter errors must be
// classified: a retryable or throttled EngineError is retried against the
// task's budget, everything else aborts the plan.
type Adapter interface {
	// Kind returns the resource kind this adapter serves.
	Kind() string

	// Provision creates the resource described by the spec on the assigned
	// target and returns an opaque handle for later teardown. The context
	// carries the per-task timeout.
	Provision(ctx context.Context, spec ProvisionSpec) (string, error)

	// Teardown releases the resource identified by the handle. Called
	// during plan rollback in reverse completion order.
	Teardown(ctx context.Context, handle string) error
}

// ProvisionSpec is the input to an adapter provision call.
type ProvisionSpec struct {
	// PlanID is the plan the task belongs to.
	PlanID string `json:"plan_id"`

	// TaskID is the task being provisioned.
	TaskID string `json:"task_id"`

	// Kind is the resource kind.
	Kind string `json:"kind"`

	// Target is the backend target id chosen by the placement solver.
	Target string `json:"target"`

	// Demand is the capacity the task consumes on the target.
	Demand int64 `json:"demand"`

	// Config is the opaque provisioning configuration from the topology.
	Config map[string]any `json:"config,omitempty"`
}

// AdapterRegistry resolves resource kinds to adapters.
type AdapterRegistry interface {
	// Get returns the adapter for the kind, or an error if none is registered.
	Get(kind string) (Adapter, error)

	// Kinds lists all registered resource kinds.
	Kinds() []string
}

// EventPublisher receives lifecycle events from the executor. Publish is
// fire-and-forget: it must never block a task state transition. Delivery,
// buffering, and retry toward the external bus are the publisher's concern.
type EventPublisher interface {
	Publish(event Event)
}

// NopPublisher discards all events. Useful when no bus is configured.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) {}
