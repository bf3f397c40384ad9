// Package api defines wire-format types, converters and the HTTP client for
// the daemon API. It translates internal queue, classification and batch
// models into transport-friendly DTOs so the CLI can render them without
// coupling to storage types.
//
// # Key Types
//
// Task: queue entry with attempts, retry schedule and raw payload.
//
// Classification, Correction, Clarification: classification history views.
//
// Batch, BatchItem, BatchDetail, BatchProgress: reclassification batch views.
//
// DaemonStatus: worker state, queue counts and lock/database locations.
//
// # Converters
//
// FromTask, FromRecord, FromBatch, FromDetail, FromProgress and
// FromWorkerSnapshot map internal models to DTOs. MergeQueueStats fills in
// zero counts for every known task status.
//
// # Client
//
// Client wraps resty with the daemon's bind address and optional bearer
// token. Connection failures satisfy IsUnavailable; error answers come back
// as *StatusError carrying the error kind reported by the server.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Task payloads and item results are passed through as json.RawMessage.
package api
