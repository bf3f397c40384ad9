package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldTaskID is the standardized key for queue task identifiers.
	FieldTaskID = "task_id"
	// FieldTaskType is the standardized key for queue task types.
	FieldTaskType = "task_type"
	// FieldBatchID is the standardized key for reclassification batch identifiers.
	FieldBatchID = "batch_id"
	// FieldItemID is the standardized key for batch item identifiers.
	FieldItemID = "item_id"
	// FieldClassificationID is the standardized key for classification record identifiers.
	FieldClassificationID = "classification_id"
	// FieldLibraryID is the standardized key for destination library identifiers.
	FieldLibraryID = "library_id"
	// FieldCorrelationID is the standardized key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType names the kind of event a log line describes.
	FieldEventType = "event_type"
	// FieldErrorHint carries an operator-facing next step for warnings and errors.
	FieldErrorHint = "error_hint"
	// FieldErrorKind carries the error classification (validation, transient, ...).
	FieldErrorKind = "error_kind"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldDecisionType names the decision being logged.
	FieldDecisionType = "decision_type"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)
