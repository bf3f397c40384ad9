// Package queue persists tasks and exposes the claim/complete/fail lifecycle
// the worker drives.
//
// Tasks are claimed with a single atomic statement (FOR UPDATE SKIP LOCKED on
// PostgreSQL, a guarded UPDATE ... RETURNING on SQLite) so concurrent callers
// never receive the same row. Failed attempts are rescheduled on a fixed
// backoff table until max_attempts is reached, after which the task stays
// failed until an operator retries it. ResetStaleProcessing recovers tasks a
// crashed process left claimed.
//
// Treat this package as the single source of truth for queue semantics.
package queue
