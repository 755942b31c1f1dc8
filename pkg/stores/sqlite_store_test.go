package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/orchis-io/orchis/pkg/engine"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testPlan() *engine.Plan {
	return &engine.Plan{
		ID:        "plan-1",
		Topology:  "webapp",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		State:     engine.PlanStatePending,
		Tasks: []*engine.Task{
			{
				ID: "net", Kind: "network", Demand: 1,
				State: engine.TaskStatePending,
			},
			{
				ID: "web", Kind: "vm", Demand: 2,
				DependsOn: []string{"net"},
				Tags:      []string{"ssd"},
				Config:    map[string]any{"image": "debian-12"},
				State:     engine.TaskStatePending,
			},
		},
		Constraints: []engine.Constraint{
			{Name: "spread", Kind: engine.ConstraintAntiAffinity, Tasks: []string{"net", "web"}},
		},
	}
}

func TestSavePlanRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	plan := testPlan()
	if err := store.SavePlan(ctx, plan); err != nil {
		t.Fatalf("SavePlan() error = %v", err)
	}

	got, err := store.GetPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}

	if got.Topology != "webapp" || got.State != engine.PlanStatePending {
		t.Errorf("plan = %s/%s, want webapp/pending", got.Topology, got.State)
	}
	if len(got.Tasks) != 2 {
		t.Fatalf("len(Tasks) = %d, want 2", len(got.Tasks))
	}
	// Task order is the source node order.
	if got.Tasks[0].ID != "net" || got.Tasks[1].ID != "web" {
		t.Errorf("task order = [%s %s], want [net web]", got.Tasks[0].ID, got.Tasks[1].ID)
	}
	web := got.Tasks[1]
	if web.Demand != 2 || len(web.DependsOn) != 1 || web.DependsOn[0] != "net" {
		t.Errorf("web task = %+v, want demand 2 depending on net", web)
	}
	if web.Config["image"] != "debian-12" {
		t.Errorf("web config = %v, want image debian-12", web.Config)
	}
	if len(got.Constraints) != 1 || got.Constraints[0].Name != "spread" {
		t.Errorf("constraints = %+v, want one named spread", got.Constraints)
	}
}

func TestSavePlanUpdatesState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	plan := testPlan()
	if err := store.SavePlan(ctx, plan); err != nil {
		t.Fatalf("SavePlan() error = %v", err)
	}

	plan.State = engine.PlanStateCompleted
	plan.Tasks[0].State = engine.TaskStateCompleted
	plan.Tasks[0].Target = "host-a"
	plan.Tasks[0].Handle = "h-1"
	plan.Tasks[0].Attempts = 1
	plan.Warnings = append(plan.Warnings, "teardown of task web failed")
	if err := store.SavePlan(ctx, plan); err != nil {
		t.Fatalf("SavePlan() second save error = %v", err)
	}

	got, err := store.GetPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if got.State != engine.PlanStateCompleted {
		t.Errorf("state = %s, want completed", got.State)
	}
	if got.Tasks[0].Target != "host-a" || got.Tasks[0].Handle != "h-1" {
		t.Errorf("net task = %+v, want target host-a handle h-1", got.Tasks[0])
	}
	if len(got.Warnings) != 1 {
		t.Errorf("warnings = %v, want one entry", got.Warnings)
	}
}

func TestGetPlanNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetPlan(context.Background(), "missing"); err == nil {
		t.Errorf("GetPlan(missing) succeeded, want error")
	}
}

func TestListPlans(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testPlan()
	first.ID = "plan-a"
	first.CreatedAt = time.Now().UTC().Add(-time.Hour)
	second := testPlan()
	second.ID = "plan-b"
	second.CreatedAt = time.Now().UTC()

	for _, p := range []*engine.Plan{first, second} {
		if err := store.SavePlan(ctx, p); err != nil {
			t.Fatalf("SavePlan(%s) error = %v", p.ID, err)
		}
	}

	got, err := store.ListPlans(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListPlans() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].ID != "plan-b" || got[1].ID != "plan-a" {
		t.Errorf("order = [%s %s], want [plan-b plan-a]", got[0].ID, got[1].ID)
	}
	if got[0].TaskCount != 2 {
		t.Errorf("TaskCount = %d, want 2", got[0].TaskCount)
	}
}

func TestRecordAndListEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	kinds := []engine.EventKind{
		engine.EventPlanStarted,
		engine.EventTaskDispatched,
		engine.EventTaskCompleted,
		engine.EventPlanCompleted,
	}
	for i, kind := range kinds {
		event := engine.Event{
			ID:        "evt-" + string(rune('a'+i)),
			PlanID:    "plan-1",
			Kind:      kind,
			Timestamp: time.Now().UTC(),
			Payload:   map[string]any{"n": float64(i)},
		}
		if err := store.RecordEvent(ctx, event); err != nil {
			t.Fatalf("RecordEvent(%s) error = %v", kind, err)
		}
	}

	got, err := store.ListEvents(ctx, "plan-1", 100, 0)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(got) != len(kinds) {
		t.Fatalf("len = %d, want %d", len(got), len(kinds))
	}
	for i, kind := range kinds {
		if got[i].Event.Kind != kind {
			t.Errorf("event %d kind = %s, want %s", i, got[i].Event.Kind, kind)
		}
	}
	if got[1].Event.Payload["n"] != float64(1) {
		t.Errorf("payload = %v, want n=1", got[1].Event.Payload)
	}
}

func TestRecordEventIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	event := engine.Event{
		ID:        "evt-dup",
		PlanID:    "plan-1",
		Kind:      engine.EventPlanStarted,
		Timestamp: time.Now().UTC(),
	}
	// The publisher may redeliver after a partial sink failure; the same
	// event id must not produce a second row.
	for i := 0; i < 2; i++ {
		if err := store.RecordEvent(ctx, event); err != nil {
			t.Fatalf("RecordEvent() attempt %d error = %v", i+1, err)
		}
	}

	got, err := store.ListEvents(ctx, "plan-1", 10, 0)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}
