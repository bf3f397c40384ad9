package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"shelver/internal/database"
)

// Status represents the lifecycle of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// AllStatuses lists every task status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// ParseStatus converts a string to a Status, reporting whether it is known.
func ParseStatus(value string) (Status, bool) {
	for _, s := range AllStatuses {
		if string(s) == value {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transitions happen without an operator.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// DefaultMaxAttempts applies when EnqueueOptions.MaxAttempts is unset.
const DefaultMaxAttempts = 5

// Backoff is the delay before retry N (1-based), clamped to the last entry.
var Backoff = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
	600 * time.Second,
}

// BackoffFor returns the delay applied after the attempt-th failure.
func BackoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(Backoff) {
		idx = len(Backoff) - 1
	}
	return Backoff[idx]
}

// Task is one unit of queued work.
type Task struct {
	ID           int64           `json:"id"`
	Type         string          `json:"task_type"`
	Payload      json.RawMessage `json:"payload"`
	Status       Status          `json:"status"`
	Priority     int             `json:"priority"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	NextRetryAt  time.Time       `json:"next_retry_at"`
	Source       string          `json:"source,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// DecodePayload unmarshals the task payload into dst.
func (t *Task) DecodePayload(dst any) error {
	if t == nil || len(t.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Type, err)
	}
	return nil
}

// EnqueueOptions tunes a new task.
type EnqueueOptions struct {
	Priority    int
	MaxAttempts int
	Source      string
}

// FailResult describes where a failed task ended up.
type FailResult struct {
	Terminal    bool      `json:"terminal"`
	Attempts    int       `json:"attempts"`
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`
}

// ListFilter narrows List results.
type ListFilter struct {
	Statuses []Status
	TaskType string
	Limit    int
}

// HealthSummary aggregates queue counts for diagnostics.
type HealthSummary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Retrying   int `json:"retrying"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

const taskColumns = "id, task_type, payload, status, priority, attempts, max_attempts, next_retry_at, source, error_message, created_at, started_at, completed_at, updated_at"

type taskRow struct {
	ID           int64          `db:"id"`
	TaskType     string         `db:"task_type"`
	Payload      string         `db:"payload"`
	Status       string         `db:"status"`
	Priority     int            `db:"priority"`
	Attempts     int            `db:"attempts"`
	MaxAttempts  int            `db:"max_attempts"`
	NextRetryAt  string         `db:"next_retry_at"`
	Source       sql.NullString `db:"source"`
	ErrorMessage sql.NullString `db:"error_message"`
	CreatedAt    string         `db:"created_at"`
	StartedAt    sql.NullString `db:"started_at"`
	CompletedAt  sql.NullString `db:"completed_at"`
	UpdatedAt    string         `db:"updated_at"`
}

func (r taskRow) toTask() *Task {
	task := &Task{
		ID:           r.ID,
		Type:         r.TaskType,
		Payload:      json.RawMessage(r.Payload),
		Status:       Status(r.Status),
		Priority:     r.Priority,
		Attempts:     r.Attempts,
		MaxAttempts:  r.MaxAttempts,
		Source:       r.Source.String,
		ErrorMessage: r.ErrorMessage.String,
		StartedAt:    database.ParseNullTime(r.StartedAt),
		CompletedAt:  database.ParseNullTime(r.CompletedAt),
	}
	if t, err := database.ParseTime(r.NextRetryAt); err == nil {
		task.NextRetryAt = t
	}
	if t, err := database.ParseTime(r.CreatedAt); err == nil {
		task.CreatedAt = t
	}
	if t, err := database.ParseTime(r.UpdatedAt); err == nil {
		task.UpdatedAt = t
	}
	return task
}
