// Package queue persists conversion jobs in SQLite and drives their
// lifecycle.
//
// The Store manages database connections, schema initialization, stats
// queries, lease claiming and heartbeats, stale-lease recovery, and status
// transitions validated against the job state machine. Every transition is a
// compare-and-swap on the current status, so two writers racing on one job
// serialize: exactly one wins and the other observes ErrConflict. Each
// successful transition is appended to job_transitions for auditing.
//
// The database is treated as storage for in-flight and recently finished
// jobs rather than a long-term archive. Schema changes bump the version in
// schema.go; users clear the database to adopt the new schema.
//
// Treat this package as the single source of truth for job semantics; when
// you add new statuses or columns, update schema.sql and bump schemaVersion.
package queue
