// Package worker runs the single polling loop that claims tasks from the
// queue and hands them to registered handlers.
//
// Each iteration checks the availability flag (cleared by the AI health
// probe), then the in-flight cap (MaxConcurrent), and only then claims a
// task. Claimed tasks run asynchronously on a context that ignores loop
// cancellation; Stop waits for them. Handler errors marked permanent in
// internal/services fail the task immediately, all others use the queue's
// backoff table.
package worker
