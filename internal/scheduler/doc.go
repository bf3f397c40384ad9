// Package scheduler runs the daemon's periodic jobs on a cron table: the AI
// backend health probe that drives the worker's availability flag, the
// retention purge of finished tasks, and the queue depth gauges.
package scheduler
