package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/orchis-io/orchis/pkg/telemetry"
)

// ExecutorConfig holds the execution tunables consumed by the core.
type ExecutorConfig struct {
	// MaxParallelTasks bounds concurrent adapter calls per plan.
	MaxParallelTasks int

	// MaxAttempts is the per-task adapter call budget, including the first.
	MaxAttempts int

	// BackoffBase is the initial retry delay.
	BackoffBase time.Duration

	// BackoffMax caps the retry delay.
	BackoffMax time.Duration

	// TaskTimeout bounds each adapter provision call. A timeout counts as a
	// retryable failure until the attempt budget is exhausted.
	TaskTimeout time.Duration

	// TeardownTimeout bounds each rollback teardown call.
	TeardownTimeout time.Duration
}

// withDefaults fills in zero fields.
func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.MaxParallelTasks <= 0 {
		c.MaxParallelTasks = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = time.Minute
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 5 * time.Minute
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = time.Minute
	}
	return c
}

// Executor walks a solved plan's task graph in dependency order, dispatching
// ready tasks to their adapters with bounded concurrency, retrying transient
// failures, and driving compensating rollback on unrecoverable failure.
//
// Task records are owned exclusively by the executing run: all cross-task
// bookkeeping goes through a single mutation point per plan.
type Executor struct {
	cfg       ExecutorConfig
	adapters  AdapterRegistry
	publisher EventPublisher
	log       *telemetry.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer

	// planSlots bounds concurrently executing plans process-wide.
	// Passed in at construction; nil means unbounded.
	planSlots *semaphore.Weighted
}

// NewExecutor creates a workflow executor.
func NewExecutor(
	cfg ExecutorConfig,
	adapters AdapterRegistry,
	publisher EventPublisher,
	planSlots *semaphore.Weighted,
	log *telemetry.Logger,
	metrics *telemetry.Metrics,
) *Executor {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if log == nil {
		log = telemetry.NewNopLogger()
	}
	return &Executor{
		cfg:       cfg.withDefaults(),
		adapters:  adapters,
		publisher: publisher,
		planSlots: planSlots,
		log:       log,
		metrics:   metrics,
	}
}

// WithTracer attaches a tracer so every task dispatch runs under its own
// span, nested in the caller's plan span. A nil tracer disables task spans.
func (e *Executor) WithTracer(tracer *telemetry.Tracer) *Executor {
	e.tracer = tracer
	return e
}

// Execute runs the plan to completion and returns its terminal state.
// The plan must be solved (every task placed). Compile- and solve-class
// defects surface as an error with no task dispatched; execution failures
// never do, they drive rollback and are reflected in the terminal state.
// Cancelling the context behaves like a permanent task failure: no new
// dispatch, completed work rolled back.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (PlanState, error) {
	if plan == nil {
		return "", NewFatalError("plan is nil", nil).WithCode(ErrCodeValidation)
	}

	// Re-verify acyclicity before any dispatch.
	if err := plan.Verify(); err != nil {
		return "", err
	}
	for _, t := range plan.Tasks {
		if t.Target == "" || t.State != TaskStateSolved {
			return "", NewFatalError("plan is not solved", nil).
				WithCode(ErrCodeValidation).WithTask(t.ID)
		}
	}

	if e.planSlots != nil {
		if err := e.planSlots.Acquire(ctx, 1); err != nil {
			return "", NewFatalError("acquiring plan slot", err).WithCode(ErrCodeCancelled)
		}
		defer e.planSlots.Release(1)
	}

	run := &planRun{
		e:    e,
		plan: plan,
		log:  e.log.WithPlanID(plan.ID),
	}
	run.cond = sync.NewCond(&run.mu)

	started := time.Now()
	state := run.run(ctx)
	plan.State = state
	e.metrics.ObservePlanDuration(string(state), time.Since(started))
	return state, nil
}

// planRun is the per-plan execution state. Everything below mu is the plan's
// single mutation point.
type planRun struct {
	e    *Executor
	plan *Plan
	log  *telemetry.Logger

	mu             sync.Mutex
	cond           *sync.Cond
	waiting        map[string]int // task id -> unmet dependency count
	ready          []*Task        // dispatchable, in deterministic seed order
	inFlight       int
	completedOrder []string // completion order, consumed in reverse by rollback
	aborted        bool
	abortReason    string
}

func (r *planRun) run(ctx context.Context) PlanState {
	r.plan.State = PlanStateRunning
	r.emit(EventPlanStarted, "", map[string]any{
		"topology": r.plan.Topology,
		"tasks":    len(r.plan.Tasks),
	})
	r.log.Infof("plan started: %d tasks", len(r.plan.Tasks))

	// Seed the ready set with root tasks, in plan order.
	r.waiting = make(map[string]int, len(r.plan.Tasks))
	for _, t := range r.plan.Tasks {
		r.waiting[t.ID] = len(t.DependsOn)
		if len(t.DependsOn) == 0 {
			r.ready = append(r.ready, t)
		}
	}

	// External cancellation stops new dispatch and triggers rollback.
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.abort("execution cancelled")
		r.mu.Unlock()
	})
	defer stop()

	pool := make(chan struct{}, r.e.cfg.MaxParallelTasks)
	var wg sync.WaitGroup

	r.mu.Lock()
	for {
		for len(r.ready) == 0 && r.inFlight > 0 && !r.aborted {
			r.cond.Wait()
		}
		if r.aborted || (len(r.ready) == 0 && r.inFlight == 0) {
			break
		}

		task := r.ready[0]
		r.ready = r.ready[1:]
		r.inFlight++
		r.mu.Unlock()

		pool <- struct{}{}
		wg.Add(1)
		go func(t *Task) {
			defer wg.Done()
			defer func() { <-pool }()

			// An abort recorded while this task sat in the pool queue means
			// no new dispatch: hand the slot back untouched.
			r.mu.Lock()
			aborted := r.aborted
			r.mu.Unlock()
			if aborted {
				r.mu.Lock()
				r.inFlight--
				r.cond.Broadcast()
				r.mu.Unlock()
				return
			}

			ok := r.runTask(ctx, t)
			r.onTaskDone(t, ok)
		}(task)

		r.mu.Lock()
	}
	r.mu.Unlock()

	// Rollback must not race an active dispatch: wait for every in-flight
	// task to reach a per-task terminal outcome first.
	wg.Wait()

	r.mu.Lock()
	aborted, reason := r.aborted, r.abortReason
	r.mu.Unlock()

	if aborted {
		return r.rollback(ctx, reason)
	}

	r.emit(EventPlanCompleted, "", map[string]any{"tasks": len(r.plan.Tasks)})
	r.log.Info("plan completed")
	return PlanStateCompleted
}

// onTaskDone is the plan's single mutation point for cross-task state:
// completion order, ready-set maintenance, and the abort flag.
func (r *planRun) onTaskDone(t *Task, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight--

	if ok {
		// Promote succeeded -> completed before any dependent can dispatch,
		// so the completion event always precedes the dependent's dispatch.
		t.State = TaskStateCompleted
		r.emit(EventTaskCompleted, t.ID, map[string]any{
			"target":   t.Target,
			"handle":   t.Handle,
			"attempts": t.Attempts,
		})
		r.completedOrder = append(r.completedOrder, t.ID)
		if node := r.plan.Graph.Nodes[t.ID]; node != nil {
			for _, dep := range node.Dependents {
				r.waiting[dep]--
				if r.waiting[dep] == 0 {
					r.ready = append(r.ready, r.plan.Task(dep))
				}
			}
		}
	} else {
		r.abort(fmt.Sprintf("task %s failed", t.ID))
	}

	r.cond.Broadcast()
}

func (r *planRun) abort(reason string) {
	if !r.aborted {
		r.aborted = true
		r.abortReason = reason
	}
	r.cond.Broadcast()
}

// runTask drives one task through dispatch, retries, and its terminal state.
// Returns true if the task completed.
func (r *planRun) runTask(ctx context.Context, t *Task) bool {
	log := r.log.WithTaskID(t.ID)

	ctx, span := r.e.tracer.StartTaskSpan(ctx, t.ID, t.Kind, t.Target)
	defer span.End()

	t.State = TaskStateDispatched
	r.emit(EventTaskDispatched, t.ID, map[string]any{
		"kind":   t.Kind,
		"target": t.Target,
	})
	r.e.metrics.IncTasksDispatched(t.Kind)
	log.Debugf("dispatched to target %s", t.Target)

	adapter, err := r.e.adapters.Get(t.Kind)
	if err != nil {
		return r.failTask(t, NewFatalError("no adapter for kind", err).
			WithCode(ErrCodeNotFound).WithTask(t.ID))
	}

	t.State = TaskStateRunning
	spec := ProvisionSpec{
		PlanID: r.plan.ID,
		TaskID: t.ID,
		Kind:   t.Kind,
		Target: t.Target,
		Demand: t.Demand,
		Config: t.Config,
	}

	var lastErr *EngineError
	for attempt := 1; attempt <= r.e.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.e.cfg.TaskTimeout)
		handle, err := adapter.Provision(callCtx, spec)
		cancel()
		t.Attempts++

		if err == nil {
			t.Handle = handle
			t.State = TaskStateSucceeded
			log.Infof("succeeded after %d attempt(s)", t.Attempts)
			return true
		}

		// Parent cancellation is terminal regardless of classification.
		if ctx.Err() != nil {
			return r.failTask(t, NewFatalError("execution cancelled", ctx.Err()).
				WithCode(ErrCodeCancelled).WithTask(t.ID))
		}

		lastErr = classify(err, t.ID)
		if !IsRetryable(lastErr) {
			return r.failTask(t, lastErr)
		}
		r.e.metrics.IncTaskRetries(t.Kind)

		if attempt == r.e.cfg.MaxAttempts {
			break
		}

		delay := r.backoff(attempt, lastErr)
		log.Warnf("attempt %d/%d failed, retrying in %s: %v",
			attempt, r.e.cfg.MaxAttempts, delay, lastErr)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return r.failTask(t, NewFatalError("execution cancelled", ctx.Err()).
				WithCode(ErrCodeCancelled).WithTask(t.ID))
		}
	}

	return r.failTask(t, NewFatalError("retry budget exhausted", lastErr).
		WithCode(ErrCodeRetriesExhausted).WithTask(t.ID))
}

func (r *planRun) failTask(t *Task, err *EngineError) bool {
	t.LastError = err
	t.State = TaskStateFailed
	r.emit(EventTaskFailed, t.ID, map[string]any{
		"target":   t.Target,
		"attempts": t.Attempts,
		"error":    err.Error(),
	})
	r.e.metrics.IncTaskFailures(t.Kind)
	r.log.WithTaskID(t.ID).WithError(err).Error("task failed")
	return false
}

// rollback tears down completed tasks in reverse completion order.
// Teardown failures are recorded as warnings but never abort rollback:
// the plan always reaches rolled_back.
func (r *planRun) rollback(ctx context.Context, reason string) PlanState {
	r.plan.State = PlanStateRollingBack
	r.log.Warnf("rolling back: %s", reason)

	// Tasks that never provisioned anything reach rolled_back directly.
	for _, t := range r.plan.Tasks {
		if t.State != TaskStateCompleted {
			t.State = TaskStateRolledBack
		}
	}

	// Rollback may run after cancellation, so detach from the parent's
	// cancel signal while keeping its values.
	base := context.WithoutCancel(ctx)

	for i := len(r.completedOrder) - 1; i >= 0; i-- {
		t := r.plan.Task(r.completedOrder[i])
		log := r.log.WithTaskID(t.ID)

		adapter, err := r.e.adapters.Get(t.Kind)
		if err == nil {
			callCtx, cancel := context.WithTimeout(base, r.e.cfg.TeardownTimeout)
			err = adapter.Teardown(callCtx, t.Handle)
			cancel()
		}
		r.e.metrics.IncTeardowns(t.Kind, err == nil)

		if err != nil {
			warning := fmt.Sprintf("teardown of task %s (handle %s) failed: %v", t.ID, t.Handle, err)
			r.plan.Warnings = append(r.plan.Warnings, warning)
			r.emit(EventWarning, t.ID, map[string]any{"warning": warning})
			log.Warnf("teardown failed: %v", err)
		} else {
			log.Debug("teardown complete")
		}
		t.State = TaskStateRolledBack
	}

	r.emit(EventPlanRolledBack, "", map[string]any{
		"reason":   reason,
		"warnings": append([]string(nil), r.plan.Warnings...),
	})
	r.log.Warn("plan rolled back")
	return PlanStateRolledBack
}

// backoff computes the exponential retry delay for an attempt.
func (r *planRun) backoff(attempt int, err error) time.Duration {
	base := r.e.cfg.BackoffBase
	if IsThrottled(err) {
		base *= 5
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if delay > r.e.cfg.BackoffMax {
		delay = r.e.cfg.BackoffMax
	}
	return delay
}

func (r *planRun) emit(kind EventKind, taskID string, payload map[string]any) {
	r.e.publisher.Publish(Event{
		ID:        uuid.New().String(),
		PlanID:    r.plan.ID,
		TaskID:    taskID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

// classify maps an adapter error onto the engine taxonomy. A deadline on the
// per-call context is a timeout, treated as retryable until the attempt
// budget runs out.
func classify(err error, taskID string) *EngineError {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRetryableError("adapter call timed out", err).
			WithCode(ErrCodeTimeout).WithTask(taskID)
	}
	return NewFatalError("adapter call failed", err).
		WithCode(ErrCodeAdapterFailed).WithTask(taskID)
}
