package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"shelver/internal/database"
	"shelver/internal/services"
)

// Store persists batches and their items. Every write that changes item
// states recomputes the batch counters in the same transaction.
type Store struct {
	db  *database.DB
	now func() time.Time
}

// NewStore binds a batch store to an open database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) timestamp() string {
	return database.FormatTime(s.now())
}

func notFound(op string, what string, id int64) error {
	return services.Wrap(services.ErrNotFound, "batch", op, fmt.Sprintf("%s %d", what, id), nil)
}

// Create persists a batch and its items in submitted order, all pending.
func (s *Store) Create(ctx context.Context, items []ItemInput, pauseOnError bool, createdBy string) (int64, error) {
	now := s.timestamp()
	var id int64
	err := s.db.InTx(ctx, func(tx *database.Tx) error {
		var err error
		id, err = tx.InsertReturningID(ctx,
			`INSERT INTO reclassification_batches (status, total_items, pause_on_error, created_by, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
			StatusPending, len(items), database.BoolToInt(pauseOnError), database.NullableString(strings.TrimSpace(createdBy)), now, now)
		if err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		for i, item := range items {
			if _, err := tx.Exec(ctx,
				`INSERT INTO reclassification_batch_items (batch_id, classification_id, target_library_id, status, execution_order, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				id, item.ClassificationID, item.TargetLibraryID, ItemPending, i+1, now, now); err != nil {
				return fmt.Errorf("insert batch item %d: %w", i+1, err)
			}
		}
		return nil
	})
	return id, err
}

// Get returns a batch, or nil when the id is unknown.
func (s *Store) Get(ctx context.Context, id int64) (*Batch, error) {
	var row batchRow
	if err := s.db.GetWithRetry(ctx, &row, `SELECT `+batchColumns+` FROM reclassification_batches WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get batch %d: %w", id, err)
	}
	b := row.toBatch()
	return &b, nil
}

// List returns the most recent batches first.
func (s *Store) List(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []batchRow
	if err := s.db.SelectWithRetry(ctx, &rows,
		`SELECT `+batchColumns+` FROM reclassification_batches ORDER BY created_at DESC, id DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	out := make([]Batch, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toBatch())
	}
	return out, nil
}

// Items returns the items of a batch in execution order.
func (s *Store) Items(ctx context.Context, batchID int64) ([]Item, error) {
	var rows []itemRow
	if err := s.db.SelectWithRetry(ctx, &rows,
		`SELECT `+itemColumns+` FROM reclassification_batch_items WHERE batch_id = ? ORDER BY execution_order ASC`, batchID); err != nil {
		return nil, fmt.Errorf("list batch items: %w", err)
	}
	out := make([]Item, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toItem())
	}
	return out, nil
}

// Item returns one item of a batch, or nil.
func (s *Store) Item(ctx context.Context, batchID, itemID int64) (*Item, error) {
	var row itemRow
	if err := s.db.GetWithRetry(ctx, &row,
		`SELECT `+itemColumns+` FROM reclassification_batch_items WHERE batch_id = ? AND id = ?`, batchID, itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get batch item %d: %w", itemID, err)
	}
	it := row.toItem()
	return &it, nil
}

// NextRunnable returns the first pending or validated item, or nil.
func (s *Store) NextRunnable(ctx context.Context, batchID int64) (*Item, error) {
	var row itemRow
	err := s.db.GetWithRetry(ctx, &row,
		`SELECT `+itemColumns+` FROM reclassification_batch_items
         WHERE batch_id = ? AND status IN (?, ?)
         ORDER BY execution_order ASC LIMIT 1`, batchID, ItemPending, ItemValidated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next batch item: %w", err)
	}
	it := row.toItem()
	return &it, nil
}

// Transition moves a batch to status when its current status is one of from.
// It reports ErrNotFound for unknown batches and ErrConflict otherwise.
func (s *Store) Transition(ctx context.Context, id int64, action Action, to Status) error {
	from := allowedFrom[action]
	query := `UPDATE reclassification_batches SET status = ?, updated_at = ? WHERE id = ? AND status IN (` + database.Placeholders(len(from)) + `)`
	args := append([]any{to, s.timestamp(), id}, statusArgs(from)...)
	res, err := s.db.ExecWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s batch %d: %w", action, id, err)
	}
	return s.requireTransition(ctx, res, id, action)
}

func (s *Store) requireTransition(ctx context.Context, res sql.Result, id int64, action Action) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	b, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if b == nil {
		return notFound(string(action), "batch", id)
	}
	return Check(*b, action)
}

// StartExecution moves the batch to executing, clears any pause marker and
// returns items an interrupted run left executing to validated.
func (s *Store) StartExecution(ctx context.Context, id int64) error {
	now := s.timestamp()
	return s.db.InTx(ctx, func(tx *database.Tx) error {
		from := allowedFrom[ActionExecute]
		args := append([]any{StatusExecuting, now, now, id}, statusArgs(from)...)
		res, err := tx.Exec(ctx,
			`UPDATE reclassification_batches
             SET status = ?, started_at = COALESCE(started_at, ?), paused_at_item = NULL, error_message = NULL, updated_at = ?
             WHERE id = ? AND status IN (`+database.Placeholders(len(from))+`)`, args...)
		if err != nil {
			return fmt.Errorf("start batch %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var row batchRow
			if err := tx.Get(ctx, &row, `SELECT `+batchColumns+` FROM reclassification_batches WHERE id = ?`, id); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return notFound("execute", "batch", id)
				}
				return err
			}
			return Check(row.toBatch(), ActionExecute)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE reclassification_batch_items SET status = ?, updated_at = ? WHERE batch_id = ? AND status = ?`,
			ItemValidated, now, id, ItemExecuting); err != nil {
			return fmt.Errorf("recover executing items: %w", err)
		}
		return nil
	})
}

// MarkExecuting flags an item as in progress.
func (s *Store) MarkExecuting(ctx context.Context, itemID int64) error {
	res, err := s.db.ExecWithRetry(ctx,
		`UPDATE reclassification_batch_items SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		ItemExecuting, s.timestamp(), itemID, ItemPending, ItemValidated)
	if err != nil {
		return fmt.Errorf("mark item %d executing: %w", itemID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrConflict, "batch", "execute item", fmt.Sprintf("item %d is no longer runnable", itemID), nil)
	}
	return nil
}

// FinishItem records the outcome of an executed item and refreshes the batch
// counters.
func (s *Store) FinishItem(ctx context.Context, it Item, status ItemStatus, result any, errorMessage string) error {
	encoded, err := encodeResult(result)
	if err != nil {
		return err
	}
	now := s.timestamp()
	return s.db.InTx(ctx, func(tx *database.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE reclassification_batch_items SET status = ?, execution_result = ?, error_message = ?, updated_at = ? WHERE id = ?`,
			status, encoded, database.NullableString(errorMessage), now, it.ID); err != nil {
			return fmt.Errorf("finish item %d: %w", it.ID, err)
		}
		return recount(ctx, tx, it.BatchID, now)
	})
}

// SetValidation records the preview outcome of an item.
func (s *Store) SetValidation(ctx context.Context, itemID int64, status ItemStatus, result any, errorMessage string) error {
	encoded, err := encodeResult(result)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecWithRetry(ctx,
		`UPDATE reclassification_batch_items SET status = ?, validation_result = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status, encoded, database.NullableString(errorMessage), s.timestamp(), itemID); err != nil {
		return fmt.Errorf("record validation of item %d: %w", itemID, err)
	}
	return nil
}

// FinishValidation sets the batch to validated or validation_failed.
func (s *Store) FinishValidation(ctx context.Context, id int64, invalid int) error {
	status, msg := StatusValidated, ""
	if invalid > 0 {
		status, msg = StatusValidationFailed, fmt.Sprintf("%d item(s) failed validation", invalid)
	}
	_, err := s.db.ExecWithRetry(ctx,
		`UPDATE reclassification_batches SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status, database.NullableString(msg), s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("finish validation of batch %d: %w", id, err)
	}
	return nil
}

// AbortValidation moves a batch stuck in validating to validation_failed and
// records why.
func (s *Store) AbortValidation(ctx context.Context, id int64, errorMessage string) error {
	_, err := s.db.ExecWithRetry(ctx,
		`UPDATE reclassification_batches SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusValidationFailed, database.NullableString(errorMessage), s.timestamp(), id, StatusValidating)
	if err != nil {
		return fmt.Errorf("abort validation of batch %d: %w", id, err)
	}
	return nil
}

// Pause stops a running batch at the given item order.
func (s *Store) Pause(ctx context.Context, id int64, atOrder int, errorMessage string) error {
	_, err := s.db.ExecWithRetry(ctx,
		`UPDATE reclassification_batches SET status = ?, paused_at_item = ?, error_message = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusPaused, atOrder, database.NullableString(errorMessage), s.timestamp(), id, StatusExecuting)
	if err != nil {
		return fmt.Errorf("pause batch %d: %w", id, err)
	}
	return nil
}

// Complete marks a running batch completed.
func (s *Store) Complete(ctx context.Context, id int64) error {
	now := s.timestamp()
	_, err := s.db.ExecWithRetry(ctx,
		`UPDATE reclassification_batches SET status = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusCompleted, now, now, id, StatusExecuting)
	if err != nil {
		return fmt.Errorf("complete batch %d: %w", id, err)
	}
	return nil
}

// Cancel cancels the batch and every item that has not run. Items already
// executing finish normally; completed work is kept.
func (s *Store) Cancel(ctx context.Context, id int64) error {
	now := s.timestamp()
	return s.db.InTx(ctx, func(tx *database.Tx) error {
		from := allowedFrom[ActionCancel]
		args := append([]any{StatusCancelled, now, now, id}, statusArgs(from)...)
		res, err := tx.Exec(ctx,
			`UPDATE reclassification_batches SET status = ?, completed_at = ?, updated_at = ?
             WHERE id = ? AND status IN (`+database.Placeholders(len(from))+`)`, args...)
		if err != nil {
			return fmt.Errorf("cancel batch %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var row batchRow
			if err := tx.Get(ctx, &row, `SELECT `+batchColumns+` FROM reclassification_batches WHERE id = ?`, id); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return notFound("cancel", "batch", id)
				}
				return err
			}
			return Check(row.toBatch(), ActionCancel)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE reclassification_batch_items SET status = ?, updated_at = ? WHERE batch_id = ? AND status IN (?, ?, ?)`,
			ItemCancelled, now, id, ItemPending, ItemValidated, ItemInvalid); err != nil {
			return fmt.Errorf("cancel batch items: %w", err)
		}
		return nil
	})
}

// SetItemStatus moves an item from the status it was read with to status and
// refreshes the counters. Moving back to validated clears the error and
// execution result.
func (s *Store) SetItemStatus(ctx context.Context, it Item, status ItemStatus) error {
	now := s.timestamp()
	return s.db.InTx(ctx, func(tx *database.Tx) error {
		query := `UPDATE reclassification_batch_items SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
		args := []any{status, now, it.ID, it.Status}
		if status == ItemValidated {
			query = `UPDATE reclassification_batch_items SET status = ?, error_message = NULL, execution_result = NULL, updated_at = ? WHERE id = ? AND status = ?`
		}
		res, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update item %d: %w", it.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return services.Wrap(services.ErrConflict, "batch", "update item", fmt.Sprintf("item %d is no longer %s", it.ID, it.Status), nil)
		}
		return recount(ctx, tx, it.BatchID, now)
	})
}

// recount derives the batch counters from its items.
func recount(ctx context.Context, tx *database.Tx, batchID int64, now string) error {
	_, err := tx.Exec(ctx,
		`UPDATE reclassification_batches SET
             completed_items = (SELECT COUNT(*) FROM reclassification_batch_items WHERE batch_id = ? AND status = ?),
             failed_items    = (SELECT COUNT(*) FROM reclassification_batch_items WHERE batch_id = ? AND status = ?),
             skipped_items   = (SELECT COUNT(*) FROM reclassification_batch_items WHERE batch_id = ? AND status = ?),
             updated_at = ?
         WHERE id = ?`,
		batchID, ItemCompleted, batchID, ItemFailed, batchID, ItemSkipped, now, batchID)
	if err != nil {
		return fmt.Errorf("recount batch %d: %w", batchID, err)
	}
	return nil
}

func encodeResult(result any) (any, error) {
	if result == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode item result: %w", err)
	}
	return string(encoded), nil
}
