// Package services defines shared utilities consumed by the task handlers and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, batch IDs, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so the worker can tell
//     permanent failures (never retried) from transient ones (retried with
//     backoff).
//
// Use these helpers when wiring new handlers so error handling and
// observability stay uniform across the daemon.
package services
