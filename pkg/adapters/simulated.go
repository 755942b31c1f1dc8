package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orchis-io/orchis/pkg/engine"
)

// Simulated is an in-memory adapter that provisions nothing. It backs
// simulated deploys and the engine tests: outcomes can be scripted per
// task, and every provision and teardown is recorded for inspection.
type Simulated struct {
	kind  string
	delay time.Duration

	mu sync.Mutex

	// scripts holds the remaining scripted errors per task id. Each
	// provision attempt consumes one entry; when the script is exhausted
	// the attempt succeeds.
	scripts map[string][]error

	// live maps handle to the spec that created it.
	live map[string]engine.ProvisionSpec

	// tornDown records handles in teardown order.
	tornDown []string

	// teardownErr, when set, makes every teardown fail.
	teardownErr error
}

// NewSimulated creates a simulated adapter for the given resource kind.
func NewSimulated(kind string) *Simulated {
	return &Simulated{
		kind:    kind,
		scripts: make(map[string][]error),
		live:    make(map[string]engine.ProvisionSpec),
	}
}

// Kind implements engine.Adapter.
func (s *Simulated) Kind() string {
	return s.kind
}

// WithDelay makes every provision call sleep before completing, so tests
// can exercise timeouts and cancellation.
func (s *Simulated) WithDelay(d time.Duration) *Simulated {
	s.delay = d
	return s
}

// ScriptFailure queues errors for a task: the task's next provision
// attempts fail with the given errors in order, then succeed.
func (s *Simulated) ScriptFailure(taskID string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[taskID] = append(s.scripts[taskID], errs...)
}

// FailTeardown makes every teardown call return the given error.
func (s *Simulated) FailTeardown(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownErr = err
}

// Provision implements engine.Adapter.
func (s *Simulated) Provision(ctx context.Context, spec engine.ProvisionSpec) (string, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if script := s.scripts[spec.TaskID]; len(script) > 0 {
		err := script[0]
		s.scripts[spec.TaskID] = script[1:]
		return "", err
	}

	handle := fmt.Sprintf("sim-%s-%s", spec.TaskID, uuid.New().String()[:8])
	s.live[handle] = spec
	return handle, nil
}

// Teardown implements engine.Adapter.
func (s *Simulated) Teardown(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.teardownErr != nil {
		return s.teardownErr
	}
	if _, exists := s.live[handle]; !exists {
		return engine.NewFatalError(fmt.Sprintf("unknown handle %s", handle), nil)
	}

	delete(s.live, handle)
	s.tornDown = append(s.tornDown, handle)
	return nil
}

// Live returns the specs of resources currently provisioned.
func (s *Simulated) Live() []engine.ProvisionSpec {
	s.mu.Lock()
	defer s.mu.Unlock()

	specs := make([]engine.ProvisionSpec, 0, len(s.live))
	for _, spec := range s.live {
		specs = append(specs, spec)
	}
	return specs
}

// TornDown returns the handles released so far, in teardown order.
func (s *Simulated) TornDown() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tornDown...)
}
