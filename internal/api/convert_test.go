package api

import (
	"encoding/json"
	"testing"
	"time"

	"shelver/internal/batch"
	"shelver/internal/classification"
	"shelver/internal/media"
	"shelver/internal/queue"
	"shelver/internal/services/arr"
	"shelver/internal/worker"
)

func TestFromTaskFormatsTimes(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	started := created.Add(time.Minute)
	task := &queue.Task{
		ID:          7,
		Type:        "classify",
		Status:      queue.StatusProcessing,
		Attempts:    1,
		MaxAttempts: 5,
		Payload:     json.RawMessage(`{"external_id":"603"}`),
		NextRetryAt: created,
		CreatedAt:   created,
		StartedAt:   &started,
	}
	dto := FromTask(task)
	if dto.CreatedAt != "2026-03-01T10:00:00.000Z" {
		t.Fatalf("unexpected createdAt %q", dto.CreatedAt)
	}
	if dto.StartedAt != "2026-03-01T10:01:00.000Z" {
		t.Fatalf("unexpected startedAt %q", dto.StartedAt)
	}
	if dto.NextRetryAt != "" {
		t.Fatalf("nextRetryAt should only be set for pending tasks, got %q", dto.NextRetryAt)
	}
	if dto.CompletedAt != "" {
		t.Fatalf("expected empty completedAt, got %q", dto.CompletedAt)
	}
	if string(dto.Payload) != `{"external_id":"603"}` {
		t.Fatalf("unexpected payload %s", dto.Payload)
	}
}

func TestMergeQueueStatsFillsEveryStatus(t *testing.T) {
	out := MergeQueueStats(map[queue.Status]int{queue.StatusFailed: 2})
	if len(out) != len(queue.AllStatuses) {
		t.Fatalf("expected %d statuses, got %d", len(queue.AllStatuses), len(out))
	}
	if out["failed"] != 2 || out["pending"] != 0 {
		t.Fatalf("unexpected counts %v", out)
	}
}

func TestFromRecordKeepsMetadata(t *testing.T) {
	lib := int64(3)
	rec := classification.Record{
		ID:         11,
		ExternalID: "603",
		MediaType:  media.TypeMovie,
		Title:      "The Matrix",
		Metadata:   media.Metadata{ExternalID: "603", Title: "The Matrix", Year: 1999},
		LibraryID:  &lib,
		Confidence: 85,
		Method:     classification.MethodRuleMatch,
	}
	dto := FromRecord(rec)
	if dto.Method != "rule_match" || *dto.LibraryID != 3 {
		t.Fatalf("unexpected dto %+v", dto)
	}
	var md media.Metadata
	if err := json.Unmarshal(dto.Metadata, &md); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if md.Year != 1999 {
		t.Fatalf("metadata lost: %+v", md)
	}
}

func TestFromReassignRoute(t *testing.T) {
	res := classification.ReassignResult{
		Correction: classification.Correction{ID: 1, ClassificationID: 2, CorrectedLibraryID: 3},
	}
	if FromReassign(res).Route != nil {
		t.Fatal("expected nil route when nothing was routed")
	}
	res.Route = &arr.Result{Router: "radarr", Action: arr.ActionMoved, RemoteID: 42}
	dto := FromReassign(res)
	if dto.Route == nil || dto.Route.Router != "radarr" || dto.Route.RemoteID != 42 {
		t.Fatalf("unexpected route %+v", dto.Route)
	}
}

func TestFromDetailAndProgress(t *testing.T) {
	paused := 2
	detail := batch.Detail{
		Batch: batch.Batch{ID: 5, Status: batch.StatusPaused, TotalItems: 3, CompletedItems: 1, FailedItems: 1, PausedAtItem: &paused},
		Items: []batch.Item{
			{ID: 1, Status: batch.ItemCompleted, ExecutionOrder: 1},
			{ID: 2, Status: batch.ItemFailed, ExecutionOrder: 2, ErrorMessage: "boom"},
		},
	}
	dto := FromDetail(detail)
	if dto.Batch.Status != "paused" || *dto.Batch.PausedAtItem != 2 {
		t.Fatalf("unexpected batch %+v", dto.Batch)
	}
	if len(dto.Items) != 2 || dto.Items[1].ErrorMessage != "boom" {
		t.Fatalf("unexpected items %+v", dto.Items)
	}

	progress := FromProgress(batch.Progress{BatchID: 5, Status: batch.StatusPaused, TotalItems: 3, CompletedItems: 1, Percent: 33})
	if progress.Percent != 33 || progress.BatchID != 5 {
		t.Fatalf("unexpected progress %+v", progress)
	}
}

func TestFromWorkerSnapshot(t *testing.T) {
	snap := worker.Snapshot{
		Running:   true,
		Available: false,
		LastError: "ai backend unreachable",
		LastTask:  &worker.TaskRef{ID: 9, Type: "classify", Result: "completed"},
	}
	dto := FromWorkerSnapshot(snap)
	if !dto.Running || dto.Available || dto.LastTask == nil || dto.LastTask.TaskID != 9 {
		t.Fatalf("unexpected status %+v", dto)
	}
	if dto.StartedAt != "" {
		t.Fatalf("zero start time should be omitted, got %q", dto.StartedAt)
	}
}
