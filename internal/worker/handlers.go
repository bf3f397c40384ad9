package worker

import (
	"context"
	"fmt"

	"shelver/internal/batch"
	"shelver/internal/classification"
	"shelver/internal/queue"
	"shelver/internal/services"
)

// Task types.
const (
	TaskClassify     = "classify"
	TaskExecuteBatch = "execute_batch"
)

// ClassifyPayload is the payload of a classify task.
type ClassifyPayload struct {
	ExternalID string `json:"external_id"`
	MediaType  string `json:"media_type"`
	Title      string `json:"title,omitempty"`
}

// ClassifyResult is merged into a completed classify task.
type ClassifyResult struct {
	ClassificationID int64  `json:"classification_id"`
	LibraryID        *int64 `json:"library_id"`
	Library          string `json:"library,omitempty"`
	Confidence       int    `json:"confidence"`
	Method           string `json:"method"`
	Routed           bool   `json:"routed"`
	RouteError       string `json:"route_error,omitempty"`
}

// BatchPayload is the payload of an execute_batch task.
type BatchPayload struct {
	BatchID int64 `json:"batch_id"`
	Resume  bool  `json:"resume,omitempty"`
}

// Classifier runs the decision engine for one item.
type Classifier interface {
	Classify(ctx context.Context, req classification.Request) (classification.Outcome, error)
}

// BatchRunner executes reclassification batches.
type BatchRunner interface {
	Execute(ctx context.Context, id int64) (batch.Progress, error)
	Resume(ctx context.Context, id int64) (batch.Progress, error)
}

func decode(task *queue.Task, dst any) error {
	if err := task.DecodePayload(dst); err != nil {
		return services.Wrap(services.ErrValidation, "worker", "decode payload", "malformed task payload", err)
	}
	return nil
}

// ClassifyHandler runs classify tasks.
func ClassifyHandler(c Classifier) Handler {
	return HandlerFunc(func(ctx context.Context, task *queue.Task) (any, error) {
		var payload ClassifyPayload
		if err := decode(task, &payload); err != nil {
			return nil, err
		}
		outcome, err := c.Classify(ctx, classification.Request{
			ExternalID: payload.ExternalID,
			MediaType:  payload.MediaType,
			Title:      payload.Title,
			TaskID:     task.ID,
		})
		if err != nil {
			return nil, err
		}
		return ClassifyResult{
			ClassificationID: outcome.Record.ID,
			LibraryID:        outcome.Decision.LibraryID,
			Library:          outcome.Decision.LibraryName,
			Confidence:       outcome.Decision.Confidence,
			Method:           string(outcome.Decision.Method),
			Routed:           outcome.Record.Routed,
			RouteError:       outcome.Record.RouteError,
		}, nil
	})
}

// BatchHandler runs execute_batch tasks. Item failures are part of the
// batch state; only store errors and refused transitions fail the task.
func BatchHandler(r BatchRunner) Handler {
	return HandlerFunc(func(ctx context.Context, task *queue.Task) (any, error) {
		var payload BatchPayload
		if err := decode(task, &payload); err != nil {
			return nil, err
		}
		if payload.BatchID <= 0 {
			return nil, services.Wrap(services.ErrValidation, "worker", "execute batch", fmt.Sprintf("invalid batch id %d", payload.BatchID), nil)
		}
		ctx = services.WithBatchID(ctx, payload.BatchID)
		if payload.Resume {
			return r.Resume(ctx, payload.BatchID)
		}
		return r.Execute(ctx, payload.BatchID)
	})
}
