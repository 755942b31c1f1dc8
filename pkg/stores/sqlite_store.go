package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/orchis-io/orchis/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded source.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SavePlan writes the plan and its tasks in one transaction, replacing any
// previous record of the same plan.
func (s *SQLiteStore) SavePlan(ctx context.Context, plan *engine.Plan) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	warnings, err := json.Marshal(plan.Warnings)
	if err != nil {
		return fmt.Errorf("failed to encode warnings: %w", err)
	}
	constraints, err := json.Marshal(plan.Constraints)
	if err != nil {
		return fmt.Errorf("failed to encode constraints: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deployments (id, topology, state, warnings, constraints, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			warnings = excluded.warnings,
			updated_at = excluded.updated_at
	`,
		plan.ID,
		plan.Topology,
		string(plan.State),
		string(warnings),
		string(constraints),
		plan.CreatedAt.UTC(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE plan_id = ?`, plan.ID); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}

	for pos, t := range plan.Tasks {
		taskConfig, err := json.Marshal(t.Config)
		if err != nil {
			return fmt.Errorf("failed to encode task config: %w", err)
		}
		dependsOn, err := json.Marshal(t.DependsOn)
		if err != nil {
			return fmt.Errorf("failed to encode task dependencies: %w", err)
		}
		tags, err := json.Marshal(t.Tags)
		if err != nil {
			return fmt.Errorf("failed to encode task tags: %w", err)
		}

		var lastError *string
		if t.LastError != nil {
			msg := t.LastError.Error()
			lastError = &msg
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (
				plan_id, id, position, kind, demand, depends_on, tags, config,
				state, target, handle, attempts, last_error, level
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			plan.ID, t.ID, pos, t.Kind, t.Demand,
			string(dependsOn), string(tags), string(taskConfig),
			string(t.State), t.Target, t.Handle, t.Attempts, lastError, t.Level,
		)
		if err != nil {
			return fmt.Errorf("failed to save task %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan: %w", err)
	}
	return nil
}

// GetPlan reconstructs a stored plan by id.
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*engine.Plan, error) {
	plan := &engine.Plan{}
	var state, warnings, constraints string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, topology, state, warnings, constraints, created_at
		FROM deployments
		WHERE id = ?
	`, id).Scan(&plan.ID, &plan.Topology, &state, &warnings, &constraints, &plan.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("plan not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	plan.State = engine.PlanState(state)
	if err := json.Unmarshal([]byte(warnings), &plan.Warnings); err != nil {
		return nil, fmt.Errorf("failed to decode warnings: %w", err)
	}
	if err := json.Unmarshal([]byte(constraints), &plan.Constraints); err != nil {
		return nil, fmt.Errorf("failed to decode constraints: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, demand, depends_on, tags, config,
		       state, target, handle, attempts, last_error, level
		FROM tasks
		WHERE plan_id = ?
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t := &engine.Task{}
		var taskState, dependsOn, tags, taskConfig string
		var lastError *string

		err := rows.Scan(
			&t.ID, &t.Kind, &t.Demand, &dependsOn, &tags, &taskConfig,
			&taskState, &t.Target, &t.Handle, &t.Attempts, &lastError, &t.Level,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		t.State = engine.TaskState(taskState)
		if err := json.Unmarshal([]byte(dependsOn), &t.DependsOn); err != nil {
			return nil, fmt.Errorf("failed to decode task dependencies: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode task tags: %w", err)
		}
		if err := json.Unmarshal([]byte(taskConfig), &t.Config); err != nil {
			return nil, fmt.Errorf("failed to decode task config: %w", err)
		}
		if lastError != nil {
			t.LastError = engine.NewFatalError(*lastError, nil).WithTask(t.ID)
		}

		plan.Tasks = append(plan.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return plan, nil
}

// ListPlans lists stored plans, newest first.
func (s *SQLiteStore) ListPlans(ctx context.Context, limit, offset int) ([]*PlanSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.topology, d.state, d.created_at, d.updated_at,
		       (SELECT COUNT(*) FROM tasks t WHERE t.plan_id = d.id)
		FROM deployments d
		ORDER BY d.created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	summaries := []*PlanSummary{}
	for rows.Next() {
		summary := &PlanSummary{}
		var state string
		err := rows.Scan(
			&summary.ID, &summary.Topology, &state,
			&summary.CreatedAt, &summary.UpdatedAt, &summary.TaskCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan summary: %w", err)
		}
		summary.State = engine.PlanState(state)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}

	return summaries, nil
}

// RecordEvent appends one event to the plan's history.
func (s *SQLiteStore) RecordEvent(ctx context.Context, event engine.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, plan_id, task_id, kind, timestamp, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		event.ID, event.PlanID, event.TaskID,
		string(event.Kind), event.Timestamp.UTC(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// ListEvents returns a plan's events in emission order.
func (s *SQLiteStore) ListEvents(ctx context.Context, planID string, limit, offset int) ([]*StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, plan_id, task_id, kind, timestamp, payload
		FROM events
		WHERE plan_id = ?
		ORDER BY seq ASC
		LIMIT ? OFFSET ?
	`, planID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	stored := []*StoredEvent{}
	for rows.Next() {
		se := &StoredEvent{}
		var kind, payload string
		err := rows.Scan(
			&se.Seq, &se.Event.ID, &se.Event.PlanID, &se.Event.TaskID,
			&kind, &se.Event.Timestamp, &payload,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		se.Event.Kind = engine.EventKind(kind)
		if err := json.Unmarshal([]byte(payload), &se.Event.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode event payload: %w", err)
		}
		stored = append(stored, se)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return stored, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
