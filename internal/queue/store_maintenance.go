package queue

import (
	"context"
	"fmt"
	"time"

	"shelver/internal/database"
	"shelver/internal/services"
)

// ResetStaleProcessing moves every processing task back to pending. It runs
// once at startup, before the worker claims anything, to recover tasks a
// crashed process left claimed.
func (s *Store) ResetStaleProcessing(ctx context.Context) (int64, error) {
	_, now := s.timestamp()
	res, err := s.db.ExecWithRetry(ctx,
		`UPDATE task_queue SET status = ?, started_at = NULL, updated_at = ? WHERE status = ?`,
		StatusPending, now, StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stale tasks: %w", err)
	}
	return res.RowsAffected()
}

// Cancel cancels a pending task. Tasks already claimed by a worker cannot be cancelled.
func (s *Store) Cancel(ctx context.Context, id int64) error {
	_, now := s.timestamp()
	res, err := s.db.ExecWithRetry(ctx,
		`UPDATE task_queue SET status = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusCancelled, now, now, id, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("cancel task %d: %w", id, err)
	}
	return s.requireAffected(ctx, res, id, "cancel")
}

// Retry moves failed tasks back to pending with a fresh attempt budget. With no
// ids every failed task is retried.
func (s *Store) Retry(ctx context.Context, ids ...int64) (int64, error) {
	_, now := s.timestamp()
	query := `UPDATE task_queue
        SET status = ?, attempts = 0, next_retry_at = ?, error_message = NULL,
            started_at = NULL, completed_at = NULL, updated_at = ?
        WHERE status = ?`
	args := []any{StatusPending, now, now, StatusFailed}
	if len(ids) > 0 {
		query += " AND id IN (" + database.Placeholders(len(ids)) + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.db.ExecWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed tasks: %w", err)
	}
	return res.RowsAffected()
}

// PurgeFinished deletes completed and cancelled tasks that finished before cutoff.
// Failed tasks are kept so they stay visible until an operator acts on them.
func (s *Store) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecWithRetry(ctx,
		`DELETE FROM task_queue WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		StatusCompleted, StatusCancelled, database.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("purge finished tasks: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of tasks grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectWithRetry(ctx, &rows, `SELECT status, COUNT(1) AS count FROM task_queue GROUP BY status`); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	stats := make(map[Status]int, len(rows))
	for _, row := range rows {
		stats[Status(row.Status)] = row.Count
	}
	return stats, nil
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusProcessing:
			health.Processing += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		case StatusCancelled:
			health.Cancelled += count
		}
	}
	if err := s.db.GetWithRetry(ctx, &health.Retrying,
		`SELECT COUNT(1) FROM task_queue WHERE status = ? AND attempts > 0`, StatusPending); err != nil {
		return HealthSummary{}, fmt.Errorf("count retrying tasks: %w", err)
	}
	return health, nil
}

// ValidateStatus rejects unknown status names supplied by callers.
func ValidateStatus(value string) (Status, error) {
	status, ok := ParseStatus(value)
	if !ok {
		return "", services.Wrap(services.ErrValidation, "queue", "filter", fmt.Sprintf("unknown status %q", value), nil)
	}
	return status, nil
}
