package queue

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

// Store manages task persistence.
type Store struct {
	db                 *database.DB
	now                func() time.Time
	defaultMaxAttempts int
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used for scheduling.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaultMaxAttempts sets the attempt budget used when a caller does not pass one.
func WithDefaultMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.defaultMaxAttempts = n
		}
	}
}

// NewStore binds a task store to an open database.
func NewStore(db *database.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now, defaultMaxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) timestamp() (time.Time, string) {
	now := s.now().UTC()
	return now, database.FormatTime(now)
}

// Enqueue inserts a pending task that is immediately eligible for claiming.
func (s *Store) Enqueue(ctx context.Context, taskType string, payload any, opts EnqueueOptions) (int64, error) {
	taskType = strings.TrimSpace(taskType)
	if taskType == "" {
		return 0, services.Wrap(services.ErrValidation, "queue", "enqueue", "task type is required", nil)
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return 0, services.Wrap(services.ErrValidation, "queue", "enqueue", "encode payload", err)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.defaultMaxAttempts
	}
	_, now := s.timestamp()
	id, err := s.db.InsertReturningID(ctx,
		`INSERT INTO task_queue (task_type, payload, status, priority, attempts, max_attempts, next_retry_at, source, created_at, updated_at)
         VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?) RETURNING id`,
		taskType, encoded, StatusPending, opts.Priority, maxAttempts, now, database.NullableString(opts.Source), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue task: %w", err)
	}
	return id, nil
}

// Dequeue claims the highest priority eligible task, or returns nil when none is due.
func (s *Store) Dequeue(ctx context.Context) (*Task, error) {
	_, now := s.timestamp()
	candidate := `SELECT id FROM task_queue
             WHERE status = 'pending' AND next_retry_at <= ?
             ORDER BY priority DESC, created_at ASC, id ASC
             LIMIT 1`
	if s.db.Dialect() == database.DialectPostgres {
		candidate += " FOR UPDATE SKIP LOCKED"
	}
	query := `UPDATE task_queue
        SET status = 'processing', started_at = ?, updated_at = ?
        WHERE id = (` + candidate + `) AND status = 'pending'
        RETURNING ` + taskColumns

	var row taskRow
	if err := s.db.GetWithRetry(ctx, &row, query, now, now, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue task: %w", err)
	}
	return row.toTask(), nil
}

// Complete marks a claimed task completed and merges result into its payload under "result".
func (s *Store) Complete(ctx context.Context, id int64, result any) error {
	return s.db.InTx(ctx, func(tx *database.Tx) error {
		var current taskRow
		if err := tx.Get(ctx, &current, "SELECT "+taskColumns+" FROM task_queue WHERE id = ?", id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return services.Wrap(services.ErrNotFound, "queue", "complete", fmt.Sprintf("task %d", id), nil)
			}
			return fmt.Errorf("load task %d: %w", id, err)
		}
		if Status(current.Status) != StatusProcessing {
			return services.Wrap(services.ErrConflict, "queue", "complete",
				fmt.Sprintf("task %d is %s, not processing", id, current.Status), nil)
		}
		merged, err := mergeResult(current.Payload, result)
		if err != nil {
			return services.Wrap(services.ErrValidation, "queue", "complete", "encode result", err)
		}
		_, now := s.timestamp()
		if _, err := tx.Exec(ctx,
			`UPDATE task_queue SET status = ?, payload = ?, completed_at = ?, error_message = NULL, updated_at = ? WHERE id = ?`,
			StatusCompleted, merged, now, now, id,
		); err != nil {
			return fmt.Errorf("complete task %d: %w", id, err)
		}
		return nil
	})
}

// Fail records a failed attempt. The task is rescheduled on the backoff table
// unless attempts+1 reaches maxAttempts, in which case it becomes terminally failed.
func (s *Store) Fail(ctx context.Context, id int64, errorMessage string, attempts, maxAttempts int) (FailResult, error) {
	nowTime, now := s.timestamp()
	newAttempts := attempts + 1
	if maxAttempts > 0 && newAttempts > maxAttempts {
		newAttempts = maxAttempts
	}
	errorMessage = strings.TrimSpace(errorMessage)
	if errorMessage == "" {
		errorMessage = "task failed"
	}

	if attempts+1 >= maxAttempts {
		res, err := s.db.ExecWithRetry(ctx,
			`UPDATE task_queue SET status = ?, attempts = ?, error_message = ?, completed_at = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusFailed, newAttempts, errorMessage, now, now, id, StatusProcessing,
		)
		if err != nil {
			return FailResult{}, fmt.Errorf("fail task %d: %w", id, err)
		}
		if err := s.requireAffected(ctx, res, id, "fail"); err != nil {
			return FailResult{}, err
		}
		return FailResult{Terminal: true, Attempts: newAttempts}, nil
	}

	next := nowTime.Add(BackoffFor(newAttempts))
	res, err := s.db.ExecWithRetry(ctx,
		`UPDATE task_queue SET status = ?, attempts = ?, next_retry_at = ?, started_at = NULL, error_message = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusPending, newAttempts, database.FormatTime(next), errorMessage, now, id, StatusProcessing,
	)
	if err != nil {
		return FailResult{}, fmt.Errorf("reschedule task %d: %w", id, err)
	}
	if err := s.requireAffected(ctx, res, id, "fail"); err != nil {
		return FailResult{}, err
	}
	return FailResult{Attempts: newAttempts, NextRetryAt: next}, nil
}

// FailTerminal fails a claimed task without scheduling a retry. Used for
// errors that retrying cannot fix.
func (s *Store) FailTerminal(ctx context.Context, id int64, errorMessage string) error {
	_, now := s.timestamp()
	res, err := s.db.ExecWithRetry(ctx,
		`UPDATE task_queue
         SET status = ?, error_message = ?, completed_at = ?, updated_at = ?,
             attempts = CASE WHEN attempts + 1 > max_attempts THEN max_attempts ELSE attempts + 1 END
         WHERE id = ? AND status = ?`,
		StatusFailed, strings.TrimSpace(errorMessage), now, now, id, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("fail task %d: %w", id, err)
	}
	return s.requireAffected(ctx, res, id, "fail")
}

func (s *Store) requireAffected(ctx context.Context, res sql.Result, id int64, operation string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s task %d: rows affected: %w", operation, id, err)
	}
	if affected > 0 {
		return nil
	}
	task, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return services.Wrap(services.ErrNotFound, "queue", operation, fmt.Sprintf("task %d", id), nil)
	}
	return services.Wrap(services.ErrConflict, "queue", operation,
		fmt.Sprintf("task %d is %s", id, task.Status), nil)
}

// GetByID fetches a task by identifier. It returns nil when the task does not exist.
func (s *Store) GetByID(ctx context.Context, id int64) (*Task, error) {
	var row taskRow
	if err := s.db.GetWithRetry(ctx, &row, "SELECT "+taskColumns+" FROM task_queue WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return row.toTask(), nil
}

// List returns tasks newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Task, error) {
	query := "SELECT " + taskColumns + " FROM task_queue WHERE 1 = 1"
	args := make([]any, 0, 3)
	if len(filter.Statuses) > 0 {
		query += " AND status IN (?)"
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
	}
	if taskType := strings.TrimSpace(filter.TaskType); taskType != "" {
		query += " AND task_type = ?"
		args = append(args, taskType)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var rows []taskRow
	if err := s.db.SelectIn(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks := make([]*Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, row.toTask())
	}
	return tasks, nil
}

func encodePayload(payload any) (string, error) {
	switch v := payload.(type) {
	case nil:
		return "{}", nil
	case json.RawMessage:
		if len(v) == 0 {
			return "{}", nil
		}
		if !json.Valid(v) {
			return "", errors.New("payload is not valid JSON")
		}
		return string(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func mergeResult(payload string, result any) (string, error) {
	if result == nil {
		return payload, nil
	}
	fields := map[string]any{}
	if strings.TrimSpace(payload) != "" {
		if err := json.Unmarshal([]byte(payload), &fields); err != nil {
			var raw any
			if rawErr := json.Unmarshal([]byte(payload), &raw); rawErr != nil {
				return "", err
			}
			fields = map[string]any{"input": raw}
		}
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["result"] = result
	data, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
