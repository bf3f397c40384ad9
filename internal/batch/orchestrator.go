package batch

import (
	"context"
	"fmt"
	"log/slog"

	"shelver/internal/classification"
	"shelver/internal/logging"
	"shelver/internal/metrics"
	"shelver/internal/notifications"
	"shelver/internal/services"
)

// Reassigner is the execution primitive shared with live reclassification.
type Reassigner interface {
	Reassign(ctx context.Context, classificationID, libraryID int64, correctedBy string) (classification.ReassignResult, error)
	PreviewReassign(ctx context.Context, classificationID, libraryID int64) (classification.PreviewResult, error)
}

// Orchestrator drives batches through validation and sequential execution.
type Orchestrator struct {
	store        *Store
	reassigner   Reassigner
	notifier     notifications.Service
	logger       *slog.Logger
	pauseOnError bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sets the notification sink for pause and completion events.
func WithNotifier(n notifications.Service) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDefaultPauseOnError sets the policy for batches created without one.
func WithDefaultPauseOnError(pause bool) Option {
	return func(o *Orchestrator) { o.pauseOnError = pause }
}

// NewOrchestrator wires an orchestrator. Batches pause on error unless told
// otherwise.
func NewOrchestrator(store *Store, reassigner Reassigner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		reassigner:   reassigner,
		notifier:     notifications.NewService(nil),
		logger:       logging.NewNop(),
		pauseOnError: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.NewComponentLogger(o.logger, "batch")
	return o
}

// Create persists a batch without validating or executing it.
func (o *Orchestrator) Create(ctx context.Context, items []ItemInput, opts CreateOptions) (Detail, error) {
	if len(items) == 0 {
		return Detail{}, services.Wrap(services.ErrValidation, "batch", "create", "a batch needs at least one item", nil)
	}
	for i, item := range items {
		if item.ClassificationID <= 0 || item.TargetLibraryID <= 0 {
			return Detail{}, services.Wrap(services.ErrValidation, "batch", "create",
				fmt.Sprintf("item %d needs a classification id and a target library id", i+1), nil)
		}
	}
	pause := o.pauseOnError
	if opts.PauseOnError != nil {
		pause = *opts.PauseOnError
	}
	id, err := o.store.Create(ctx, items, pause, opts.CreatedBy)
	if err != nil {
		return Detail{}, err
	}
	o.logger.Info("batch created",
		logging.Int64(logging.FieldBatchID, id),
		logging.Int("items", len(items)),
		logging.Bool("pause_on_error", pause))
	return o.Status(ctx, id)
}

// Status returns the batch with every item.
func (o *Orchestrator) Status(ctx context.Context, id int64) (Detail, error) {
	b, err := o.load(ctx, "status", id)
	if err != nil {
		return Detail{}, err
	}
	items, err := o.store.Items(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Batch: b, Items: items}, nil
}

// Progress returns counts and the completion percentage only.
func (o *Orchestrator) Progress(ctx context.Context, id int64) (Progress, error) {
	b, err := o.load(ctx, "progress", id)
	if err != nil {
		return Progress{}, err
	}
	return b.progress(), nil
}

// List returns recent batches, newest first.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]Batch, error) {
	return o.store.List(ctx, limit)
}

// CheckAction reports whether action is currently allowed for the batch.
func (o *Orchestrator) CheckAction(ctx context.Context, id int64, action Action) error {
	b, err := o.load(ctx, string(action), id)
	if err != nil {
		return err
	}
	return Check(b, action)
}

func (o *Orchestrator) load(ctx context.Context, op string, id int64) (Batch, error) {
	b, err := o.store.Get(ctx, id)
	if err != nil {
		return Batch{}, err
	}
	if b == nil {
		return Batch{}, notFound(op, "batch", id)
	}
	return *b, nil
}

// Validate previews every item that has not run yet and marks it validated
// or invalid. Nothing is routed or written outside the batch tables. The
// run is detached from ctx cancellation; if it still fails part way, the
// batch is left validation_failed with the error rather than validating.
func (o *Orchestrator) Validate(ctx context.Context, id int64) (_ Detail, err error) {
	ctx = context.WithoutCancel(ctx)
	if err := o.store.Transition(ctx, id, ActionValidate, StatusValidating); err != nil {
		return Detail{}, err
	}
	ctx = services.WithBatchID(ctx, id)
	logger := logging.WithContext(ctx, o.logger)
	defer func() {
		if err == nil {
			return
		}
		if abortErr := o.store.AbortValidation(ctx, id, err.Error()); abortErr != nil {
			logger.Error("batch left validating", logging.Error(abortErr))
			return
		}
		logging.WarnWithContext(logger, "batch validation aborted", "batch_validation_aborted",
			logging.Error(err),
			logging.String(logging.FieldImpact, "items not yet previewed keep their previous status"),
			logging.String(logging.FieldErrorHint, "validate the batch again"))
	}()

	items, err := o.store.Items(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	invalid := 0
	for _, it := range items {
		if it.Status.IsTerminal() || it.Status == ItemExecuting {
			continue
		}
		preview, err := o.reassigner.PreviewReassign(ctx, it.ClassificationID, it.TargetLibraryID)
		if err != nil {
			invalid++
			logger.Info("batch item invalid",
				logging.Int64(logging.FieldItemID, it.ID),
				logging.Int("order", it.ExecutionOrder),
				logging.ErrorKind(services.Kind(err)),
				logging.Error(err))
			if err := o.store.SetValidation(ctx, it.ID, ItemInvalid, nil, err.Error()); err != nil {
				return Detail{}, err
			}
			continue
		}
		if err := o.store.SetValidation(ctx, it.ID, ItemValidated, preview, ""); err != nil {
			return Detail{}, err
		}
	}
	if err := o.store.FinishValidation(ctx, id, invalid); err != nil {
		return Detail{}, err
	}
	logger.Info("batch validated",
		logging.Int("items", len(items)),
		logging.Int("invalid", invalid))
	return o.Status(ctx, id)
}

// Execute runs runnable items one at a time in execution order. A failing
// item pauses the batch when pause-on-error is set; otherwise execution
// continues. Pausing or cancelling from outside takes effect before the next
// item. Item failures are not returned as errors.
func (o *Orchestrator) Execute(ctx context.Context, id int64) (Progress, error) {
	if err := o.store.StartExecution(ctx, id); err != nil {
		return Progress{}, err
	}
	ctx = services.WithBatchID(ctx, id)
	logger := logging.WithContext(ctx, o.logger)
	logger.Info("batch execution started")

	for {
		b, err := o.load(ctx, "execute", id)
		if err != nil {
			return Progress{}, err
		}
		if b.Status != StatusExecuting {
			logger.Info("batch execution stopped", logging.String("status", string(b.Status)))
			return b.progress(), nil
		}
		it, err := o.store.NextRunnable(ctx, id)
		if err != nil {
			return Progress{}, err
		}
		if it == nil {
			return o.complete(ctx, logger, id)
		}
		failed, err := o.runItem(ctx, logger, b, *it)
		if err != nil {
			return Progress{}, err
		}
		if failed != nil && b.PauseOnError {
			if err := o.store.Pause(ctx, id, it.ExecutionOrder, failed.Error()); err != nil {
				return Progress{}, err
			}
			logging.WarnWithContext(logger, "batch paused on item failure", "batch_paused",
				logging.Int64(logging.FieldItemID, it.ID),
				logging.Int("paused_at_item", it.ExecutionOrder),
				logging.Error(failed),
				logging.String(logging.FieldImpact, "remaining items were not executed"),
				logging.String(logging.FieldErrorHint, "skip or retry the failed item, then resume the batch"))
			o.publish(ctx, notifications.EventBatchPaused, notifications.Payload{
				"batchID": id, "item": it.ExecutionOrder, "error": failed.Error(),
			})
			return o.Progress(ctx, id)
		}
	}
}

// runItem executes one item. itemErr is the item's own failure; err reports
// store failures only.
func (o *Orchestrator) runItem(ctx context.Context, logger *slog.Logger, b Batch, it Item) (itemErr, err error) {
	if err = o.store.MarkExecuting(ctx, it.ID); err != nil {
		return nil, err
	}
	result, execErr := o.reassigner.Reassign(ctx, it.ClassificationID, it.TargetLibraryID, b.CreatedBy)
	if execErr != nil {
		metrics.BatchItemsTotal.WithLabelValues(string(ItemFailed)).Inc()
		logger.Info("batch item failed",
			logging.Int64(logging.FieldItemID, it.ID),
			logging.Int("order", it.ExecutionOrder),
			logging.Int64(logging.FieldClassificationID, it.ClassificationID),
			logging.ErrorKind(services.Kind(execErr)),
			logging.Error(execErr))
		if err := o.store.FinishItem(ctx, it, ItemFailed, nil, execErr.Error()); err != nil {
			return nil, err
		}
		return execErr, nil
	}
	metrics.BatchItemsTotal.WithLabelValues(string(ItemCompleted)).Inc()
	logger.Debug("batch item completed",
		logging.Int64(logging.FieldItemID, it.ID),
		logging.Int("order", it.ExecutionOrder))
	if err := o.store.FinishItem(ctx, it, ItemCompleted, result, ""); err != nil {
		return nil, err
	}
	return nil, nil
}

func (o *Orchestrator) complete(ctx context.Context, logger *slog.Logger, id int64) (Progress, error) {
	if err := o.store.Complete(ctx, id); err != nil {
		return Progress{}, err
	}
	progress, err := o.Progress(ctx, id)
	if err != nil || progress.Status != StatusCompleted {
		return progress, err
	}
	logger.Info("batch completed",
		logging.Int("completed_items", progress.CompletedItems),
		logging.Int("failed_items", progress.FailedItems),
		logging.Int("skipped_items", progress.SkippedItems))
	o.publish(ctx, notifications.EventBatchCompleted, notifications.Payload{
		"batchID":   id,
		"completed": progress.CompletedItems,
		"failed":    progress.FailedItems,
		"skipped":   progress.SkippedItems,
	})
	return progress, nil
}

// Pause asks a running batch to stop before its next item.
func (o *Orchestrator) Pause(ctx context.Context, id int64) (Batch, error) {
	if err := o.store.Transition(ctx, id, ActionPause, StatusPaused); err != nil {
		return Batch{}, err
	}
	o.logger.Info("batch paused by operator", logging.Int64(logging.FieldBatchID, id))
	return o.load(ctx, "pause", id)
}

// Resume re-runs Execute on a paused batch, continuing from the first item
// that has not run.
func (o *Orchestrator) Resume(ctx context.Context, id int64) (Progress, error) {
	if err := o.CheckAction(ctx, id, ActionResume); err != nil {
		return Progress{}, err
	}
	return o.Execute(ctx, id)
}

// Cancel cancels every item that has not run. Completed items are not
// rolled back.
func (o *Orchestrator) Cancel(ctx context.Context, id int64) (Batch, error) {
	if err := o.store.Cancel(ctx, id); err != nil {
		return Batch{}, err
	}
	o.logger.Info("batch cancelled", logging.Int64(logging.FieldBatchID, id))
	return o.load(ctx, "cancel", id)
}

// SkipItem gives up on a failed or invalid item.
func (o *Orchestrator) SkipItem(ctx context.Context, batchID, itemID int64) (Item, error) {
	return o.changeItem(ctx, "skip", batchID, itemID, ItemSkipped)
}

// RetryItem makes a failed item runnable again on the next Execute.
func (o *Orchestrator) RetryItem(ctx context.Context, batchID, itemID int64) (Item, error) {
	return o.changeItem(ctx, "retry", batchID, itemID, ItemValidated)
}

func (o *Orchestrator) changeItem(ctx context.Context, action string, batchID, itemID int64, to ItemStatus) (Item, error) {
	it, err := o.store.Item(ctx, batchID, itemID)
	if err != nil {
		return Item{}, err
	}
	if it == nil {
		return Item{}, notFound(action, "batch item", itemID)
	}
	if err := checkItem(*it, action); err != nil {
		return Item{}, err
	}
	if err := o.store.SetItemStatus(ctx, *it, to); err != nil {
		return Item{}, err
	}
	o.logger.Info("batch item updated",
		logging.Int64(logging.FieldBatchID, batchID),
		logging.Int64(logging.FieldItemID, itemID),
		logging.String("action", action))
	updated, err := o.store.Item(ctx, batchID, itemID)
	if err != nil {
		return Item{}, err
	}
	return *updated, nil
}

func (o *Orchestrator) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := o.notifier.Publish(ctx, event, payload); err != nil {
		o.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
