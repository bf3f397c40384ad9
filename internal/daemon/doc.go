// Package daemon coordinates the long-running shelver process and its HTTP API.
//
// It wires the task queue, worker loop, scheduler and classification services
// into a single lifecycle with flock-based locking to prevent multiple
// instances sharing one data directory. Startup returns tasks a crashed
// process left in processing to pending before the worker claims anything.
//
// The API server exposes queue administration, classification history,
// live reassignment and reclassification batches as JSON, plus Prometheus
// metrics on /metrics. Batch execution is never run on the request goroutine:
// execute and resume enqueue an execute_batch task for the worker.
//
// Keep orchestration logic here: classification and batch semantics live in
// their own packages while the daemon focuses on startup, shutdown and
// transport.
package daemon
