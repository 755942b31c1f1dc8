// Package stores persists deployment plans and their event history.
//
// The SQLite implementation keeps three tables: deployments (one row per
// plan), tasks (the plan's tasks with their terminal state and placement),
// and events (the append-only lifecycle log). Schema changes ship as
// embedded migrations applied at startup.
package stores
