package api

import (
	"encoding/json"
	"time"

	"shelver/internal/batch"
	"shelver/internal/classification"
	"shelver/internal/queue"
	"shelver/internal/services/arr"
	"shelver/internal/worker"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// FromTask converts a queue task to its API representation.
func FromTask(task *queue.Task) Task {
	if task == nil {
		return Task{}
	}
	dto := Task{
		ID:           task.ID,
		Type:         task.Type,
		Status:       string(task.Status),
		Priority:     task.Priority,
		Attempts:     task.Attempts,
		MaxAttempts:  task.MaxAttempts,
		Source:       task.Source,
		ErrorMessage: task.ErrorMessage,
		CreatedAt:    formatTime(task.CreatedAt),
		StartedAt:    formatTimePtr(task.StartedAt),
		CompletedAt:  formatTimePtr(task.CompletedAt),
		UpdatedAt:    formatTime(task.UpdatedAt),
	}
	if task.Status == queue.StatusPending {
		dto.NextRetryAt = formatTime(task.NextRetryAt)
	}
	if len(task.Payload) > 0 {
		dto.Payload = json.RawMessage(task.Payload)
	}
	return dto
}

// FromTasks converts a slice of tasks into API DTOs.
func FromTasks(tasks []*queue.Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, FromTask(task))
	}
	return out
}

// MergeQueueStats converts store counts into a map keyed by every known status.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(queue.AllStatuses))
	for _, status := range queue.AllStatuses {
		out[string(status)] = stats[status]
	}
	return out
}

// FromHealth builds the stats payload from a queue health summary.
func FromHealth(health queue.HealthSummary) QueueStatsResponse {
	return QueueStatsResponse{
		Counts: map[string]int{
			string(queue.StatusPending):    health.Pending,
			string(queue.StatusProcessing): health.Processing,
			string(queue.StatusCompleted):  health.Completed,
			string(queue.StatusFailed):     health.Failed,
			string(queue.StatusCancelled):  health.Cancelled,
		},
		Retrying: health.Retrying,
		Total:    health.Total,
	}
}

// FromRecord converts a classification record.
func FromRecord(rec classification.Record) Classification {
	dto := Classification{
		ID:         rec.ID,
		ExternalID: rec.ExternalID,
		MediaType:  rec.MediaType,
		Title:      rec.Title,
		LibraryID:  rec.LibraryID,
		Confidence: rec.Confidence,
		Method:     string(rec.Method),
		Reason:     rec.Reason,
		Routed:     rec.Routed,
		RouteError: rec.RouteError,
		TaskID:     rec.TaskID,
		CreatedAt:  formatTime(rec.CreatedAt),
		UpdatedAt:  formatTime(rec.UpdatedAt),
	}
	if raw, err := json.Marshal(rec.Metadata); err == nil {
		dto.Metadata = raw
	}
	return dto
}

// FromCorrection converts a correction audit entry.
func FromCorrection(c classification.Correction) Correction {
	return Correction{
		ID:                 c.ID,
		ClassificationID:   c.ClassificationID,
		OriginalLibraryID:  c.OriginalLibraryID,
		CorrectedLibraryID: c.CorrectedLibraryID,
		CorrectedBy:        c.CorrectedBy,
		CreatedAt:          formatTime(c.CreatedAt),
	}
}

// FromRoute converts a routing result. Nil stays nil.
func FromRoute(r *arr.Result) *RouteResult {
	if r == nil {
		return nil
	}
	return &RouteResult{
		Router:   r.Router,
		Action:   string(r.Action),
		RemoteID: r.RemoteID,
		Path:     r.Path,
	}
}

// FromReassign converts the outcome of a live reassignment.
func FromReassign(res classification.ReassignResult) ReassignResponse {
	return ReassignResponse{
		Correction: FromCorrection(res.Correction),
		Route:      FromRoute(res.Route),
	}
}

// FromClarification converts a recorded clarification.
func FromClarification(c classification.Clarification) Clarification {
	return Clarification{
		ID:               c.ID,
		ClassificationID: c.ClassificationID,
		Question:         c.Question,
		Answer:           c.Answer,
		ConfidenceBefore: c.ConfidenceBefore,
		ConfidenceAfter:  c.ConfidenceAfter,
		Boost:            c.Boost,
		CreatedAt:        formatTime(c.CreatedAt),
	}
}

// FromBatch converts a batch header.
func FromBatch(b batch.Batch) Batch {
	return Batch{
		ID:             b.ID,
		Status:         string(b.Status),
		TotalItems:     b.TotalItems,
		CompletedItems: b.CompletedItems,
		FailedItems:    b.FailedItems,
		SkippedItems:   b.SkippedItems,
		PausedAtItem:   b.PausedAtItem,
		PauseOnError:   b.PauseOnError,
		CreatedBy:      b.CreatedBy,
		ErrorMessage:   b.ErrorMessage,
		CreatedAt:      formatTime(b.CreatedAt),
		StartedAt:      formatTimePtr(b.StartedAt),
		CompletedAt:    formatTimePtr(b.CompletedAt),
		UpdatedAt:      formatTime(b.UpdatedAt),
	}
}

// FromBatches converts a list of batch headers.
func FromBatches(batches []batch.Batch) []Batch {
	out := make([]Batch, 0, len(batches))
	for _, b := range batches {
		out = append(out, FromBatch(b))
	}
	return out
}

// FromBatchItem converts a batch item.
func FromBatchItem(it batch.Item) BatchItem {
	return BatchItem{
		ID:               it.ID,
		ClassificationID: it.ClassificationID,
		TargetLibraryID:  it.TargetLibraryID,
		Status:           string(it.Status),
		ExecutionOrder:   it.ExecutionOrder,
		ErrorMessage:     it.ErrorMessage,
		ValidationResult: it.ValidationResult,
		ExecutionResult:  it.ExecutionResult,
		UpdatedAt:        formatTime(it.UpdatedAt),
	}
}

// FromDetail converts the full status of a batch.
func FromDetail(d batch.Detail) BatchDetail {
	items := make([]BatchItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, FromBatchItem(it))
	}
	return BatchDetail{Batch: FromBatch(d.Batch), Items: items}
}

// FromProgress converts the polling projection of a batch.
func FromProgress(p batch.Progress) BatchProgress {
	return BatchProgress{
		BatchID:        p.BatchID,
		Status:         string(p.Status),
		TotalItems:     p.TotalItems,
		CompletedItems: p.CompletedItems,
		FailedItems:    p.FailedItems,
		SkippedItems:   p.SkippedItems,
		PausedAtItem:   p.PausedAtItem,
		Percent:        p.Percent,
	}
}

// ToItemInputs converts request items into orchestrator inputs.
func ToItemInputs(items []BatchItemInput) []batch.ItemInput {
	out := make([]batch.ItemInput, 0, len(items))
	for _, it := range items {
		out = append(out, batch.ItemInput{
			ClassificationID: it.ClassificationID,
			TargetLibraryID:  it.TargetLibraryID,
		})
	}
	return out
}

// FromWorkerSnapshot converts the worker state.
func FromWorkerSnapshot(s worker.Snapshot) WorkerStatus {
	dto := WorkerStatus{
		Running:   s.Running,
		Available: s.Available,
		InFlight:  s.InFlight,
		SessionID: s.SessionID,
		StartedAt: formatTime(s.StartedAt),
		LastError: s.LastError,
	}
	if s.LastTask != nil {
		dto.LastTask = &WorkerRef{
			TaskID:     s.LastTask.ID,
			Type:       s.LastTask.Type,
			Result:     s.LastTask.Result,
			FinishedAt: formatTime(s.LastTask.FinishedAt),
		}
	}
	return dto
}
