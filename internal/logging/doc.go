// Package logging assembles structured slog loggers used across shelver.
//
// It picks between a colourised console handler and a JSON handler, adds an
// optional size-rotated log file, and exposes context-aware helpers so task
// handlers automatically tag log lines with task IDs, batch IDs, and
// correlation IDs. A no-op logger is provided for tests and wiring code that
// cannot fail.
package logging
