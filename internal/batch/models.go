package batch

import (
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"shelver/internal/database"
)

// Status is the lifecycle state of a batch.
type Status string

const (
	StatusPending          Status = "pending"
	StatusValidating       Status = "validating"
	StatusValidated        Status = "validated"
	StatusValidationFailed Status = "validation_failed"
	StatusExecuting        Status = "executing"
	StatusPaused           Status = "paused"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"
)

// IsTerminal reports whether the batch accepts no further actions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ItemStatus is the lifecycle state of a batch item.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemValidated ItemStatus = "validated"
	ItemInvalid   ItemStatus = "invalid"
	ItemExecuting ItemStatus = "executing"
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
	ItemCancelled ItemStatus = "cancelled"
)

// IsTerminal reports whether the item will not be executed again without an
// operator action.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemCompleted, ItemFailed, ItemSkipped, ItemCancelled:
		return true
	default:
		return false
	}
}

// Runnable reports whether Execute picks the item up.
func (s ItemStatus) Runnable() bool {
	return s == ItemPending || s == ItemValidated
}

// Batch is a bulk reclassification job.
type Batch struct {
	ID             int64      `json:"id"`
	Status         Status     `json:"status"`
	TotalItems     int        `json:"total_items"`
	CompletedItems int        `json:"completed_items"`
	FailedItems    int        `json:"failed_items"`
	SkippedItems   int        `json:"skipped_items"`
	PausedAtItem   *int       `json:"paused_at_item,omitempty"`
	PauseOnError   bool       `json:"pause_on_error"`
	CreatedBy      string     `json:"created_by,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Item is one reassignment inside a batch.
type Item struct {
	ID               int64           `json:"id"`
	BatchID          int64           `json:"batch_id"`
	ClassificationID int64           `json:"classification_id"`
	TargetLibraryID  int64           `json:"target_library_id"`
	Status           ItemStatus      `json:"status"`
	ValidationResult json.RawMessage `json:"validation_result,omitempty"`
	ExecutionResult  json.RawMessage `json:"execution_result,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	ExecutionOrder   int             `json:"execution_order"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ItemInput describes one requested reassignment.
type ItemInput struct {
	ClassificationID int64 `json:"classification_id"`
	TargetLibraryID  int64 `json:"target_library_id"`
}

// CreateOptions tunes a new batch. A nil PauseOnError uses the configured
// default.
type CreateOptions struct {
	PauseOnError *bool
	CreatedBy    string
}

// Detail is the full status of a batch.
type Detail struct {
	Batch Batch  `json:"batch"`
	Items []Item `json:"items"`
}

// Progress is the polling projection of a batch.
type Progress struct {
	BatchID        int64  `json:"batch_id"`
	Status         Status `json:"status"`
	TotalItems     int    `json:"total_items"`
	CompletedItems int    `json:"completed_items"`
	FailedItems    int    `json:"failed_items"`
	SkippedItems   int    `json:"skipped_items"`
	PausedAtItem   *int   `json:"paused_at_item,omitempty"`
	Percent        int    `json:"percent"`
}

// PercentComplete is completed/total rounded to a whole percent.
func PercentComplete(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

const batchColumns = "id, status, total_items, completed_items, failed_items, skipped_items, paused_at_item, pause_on_error, created_by, error_message, created_at, started_at, completed_at, updated_at"

const itemColumns = "id, batch_id, classification_id, target_library_id, status, validation_result, execution_result, error_message, execution_order, created_at, updated_at"

type batchRow struct {
	ID             int64          `db:"id"`
	Status         string         `db:"status"`
	TotalItems     int            `db:"total_items"`
	CompletedItems int            `db:"completed_items"`
	FailedItems    int            `db:"failed_items"`
	SkippedItems   int            `db:"skipped_items"`
	PausedAtItem   sql.NullInt64  `db:"paused_at_item"`
	PauseOnError   int            `db:"pause_on_error"`
	CreatedBy      sql.NullString `db:"created_by"`
	ErrorMessage   sql.NullString `db:"error_message"`
	CreatedAt      string         `db:"created_at"`
	StartedAt      sql.NullString `db:"started_at"`
	CompletedAt    sql.NullString `db:"completed_at"`
	UpdatedAt      string         `db:"updated_at"`
}

func (r batchRow) toBatch() Batch {
	b := Batch{
		ID:             r.ID,
		Status:         Status(r.Status),
		TotalItems:     r.TotalItems,
		CompletedItems: r.CompletedItems,
		FailedItems:    r.FailedItems,
		SkippedItems:   r.SkippedItems,
		PauseOnError:   r.PauseOnError != 0,
		CreatedBy:      r.CreatedBy.String,
		ErrorMessage:   r.ErrorMessage.String,
		StartedAt:      database.ParseNullTime(r.StartedAt),
		CompletedAt:    database.ParseNullTime(r.CompletedAt),
	}
	if r.PausedAtItem.Valid {
		at := int(r.PausedAtItem.Int64)
		b.PausedAtItem = &at
	}
	b.CreatedAt, _ = database.ParseTime(r.CreatedAt)
	b.UpdatedAt, _ = database.ParseTime(r.UpdatedAt)
	return b
}

func (b Batch) progress() Progress {
	return Progress{
		BatchID:        b.ID,
		Status:         b.Status,
		TotalItems:     b.TotalItems,
		CompletedItems: b.CompletedItems,
		FailedItems:    b.FailedItems,
		SkippedItems:   b.SkippedItems,
		PausedAtItem:   b.PausedAtItem,
		Percent:        PercentComplete(b.CompletedItems, b.TotalItems),
	}
}

type itemRow struct {
	ID               int64          `db:"id"`
	BatchID          int64          `db:"batch_id"`
	ClassificationID int64          `db:"classification_id"`
	TargetLibraryID  int64          `db:"target_library_id"`
	Status           string         `db:"status"`
	ValidationResult sql.NullString `db:"validation_result"`
	ExecutionResult  sql.NullString `db:"execution_result"`
	ErrorMessage     sql.NullString `db:"error_message"`
	ExecutionOrder   int            `db:"execution_order"`
	CreatedAt        string         `db:"created_at"`
	UpdatedAt        string         `db:"updated_at"`
}

func (r itemRow) toItem() Item {
	it := Item{
		ID:               r.ID,
		BatchID:          r.BatchID,
		ClassificationID: r.ClassificationID,
		TargetLibraryID:  r.TargetLibraryID,
		Status:           ItemStatus(r.Status),
		ErrorMessage:     r.ErrorMessage.String,
		ExecutionOrder:   r.ExecutionOrder,
	}
	if r.ValidationResult.Valid && r.ValidationResult.String != "" {
		it.ValidationResult = json.RawMessage(r.ValidationResult.String)
	}
	if r.ExecutionResult.Valid && r.ExecutionResult.String != "" {
		it.ExecutionResult = json.RawMessage(r.ExecutionResult.String)
	}
	it.CreatedAt, _ = database.ParseTime(r.CreatedAt)
	it.UpdatedAt, _ = database.ParseTime(r.UpdatedAt)
	return it
}
