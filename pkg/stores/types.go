package stores

import (
	"context"
	"time"

	"github.com/orchis-io/orchis/pkg/engine"
)

// PlanSummary is the list-view projection of a stored deployment plan.
type PlanSummary struct {
	// ID is the plan identifier.
	ID string `json:"id"`

	// Topology is the source topology name.
	Topology string `json:"topology"`

	// State is the plan state at last save.
	State engine.PlanState `json:"state"`

	// TaskCount is the number of tasks in the plan.
	TaskCount int `json:"task_count"`

	// CreatedAt is when the plan was compiled.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// StoredEvent is one persisted lifecycle event.
type StoredEvent struct {
	// Seq is the append order within the store.
	Seq int64 `json:"seq"`

	// Event is the original engine event.
	Event engine.Event `json:"event"`
}

// Store persists deployment plans and their event history.
type Store interface {
	// SavePlan writes the plan and its tasks, replacing any previous record.
	SavePlan(ctx context.Context, plan *engine.Plan) error

	// GetPlan reconstructs a stored plan by id.
	GetPlan(ctx context.Context, id string) (*engine.Plan, error)

	// ListPlans lists stored plans, newest first.
	ListPlans(ctx context.Context, limit, offset int) ([]*PlanSummary, error)

	// RecordEvent appends one event to the plan's history.
	RecordEvent(ctx context.Context, event engine.Event) error

	// ListEvents returns a plan's events in emission order.
	ListEvents(ctx context.Context, planID string, limit, offset int) ([]*StoredEvent, error)

	// HealthCheck verifies the backing database is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
