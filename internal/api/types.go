package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Task describes a queue entry in a transport-friendly format.
type Task struct {
	ID           int64           `json:"id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Priority     int             `json:"priority"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"maxAttempts"`
	Source       string          `json:"source,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	NextRetryAt  string          `json:"nextRetryAt,omitempty"`
	CreatedAt    string          `json:"createdAt,omitempty"`
	StartedAt    string          `json:"startedAt,omitempty"`
	CompletedAt  string          `json:"completedAt,omitempty"`
	UpdatedAt    string          `json:"updatedAt,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// TaskListResponse wraps a collection of tasks.
type TaskListResponse struct {
	Items []Task `json:"items"`
}

// TaskResponse wraps a single task.
type TaskResponse struct {
	Item Task `json:"item"`
}

// EnqueueRequest is the body of POST /api/tasks.
type EnqueueRequest struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority,omitempty"`
	MaxAttempts int             `json:"maxAttempts,omitempty"`
	Source      string          `json:"source,omitempty"`
}

// EnqueueResponse reports the id of a newly queued task.
type EnqueueResponse struct {
	TaskID int64 `json:"taskId"`
}

// RetryRequest selects failed tasks to retry. An empty list retries all.
type RetryRequest struct {
	IDs []int64 `json:"ids,omitempty"`
}

// CountResponse reports how many rows an action touched.
type CountResponse struct {
	Updated int64 `json:"updated"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Counts   map[string]int `json:"counts"`
	Retrying int            `json:"retrying"`
	Total    int            `json:"total"`
}

// ClassifyRequest is the body of POST /api/classify.
type ClassifyRequest struct {
	ExternalID string `json:"externalId"`
	MediaType  string `json:"mediaType"`
	Title      string `json:"title,omitempty"`
	Priority   int    `json:"priority,omitempty"`
}

// Classification is a persisted classification record.
type Classification struct {
	ID         int64           `json:"id"`
	ExternalID string          `json:"externalId"`
	MediaType  string          `json:"mediaType"`
	Title      string          `json:"title"`
	LibraryID  *int64          `json:"libraryId"`
	Confidence int             `json:"confidence"`
	Method     string          `json:"method"`
	Reason     string          `json:"reason"`
	Routed     bool            `json:"routed"`
	RouteError string          `json:"routeError,omitempty"`
	TaskID     *int64          `json:"taskId,omitempty"`
	CreatedAt  string          `json:"createdAt,omitempty"`
	UpdatedAt  string          `json:"updatedAt,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// ClassificationResponse wraps a single record.
type ClassificationResponse struct {
	Item Classification `json:"item"`
}

// ReassignRequest is the body of POST /api/classifications/{id}/reassign.
type ReassignRequest struct {
	LibraryID   int64  `json:"libraryId"`
	CorrectedBy string `json:"correctedBy,omitempty"`
}

// Correction is the audit entry of a manual override.
type Correction struct {
	ID                 int64  `json:"id"`
	ClassificationID   int64  `json:"classificationId"`
	OriginalLibraryID  *int64 `json:"originalLibraryId"`
	CorrectedLibraryID int64  `json:"correctedLibraryId"`
	CorrectedBy        string `json:"correctedBy,omitempty"`
	CreatedAt          string `json:"createdAt,omitempty"`
}

// RouteResult describes a completed routing call.
type RouteResult struct {
	Router   string `json:"router"`
	Action   string `json:"action"`
	RemoteID int64  `json:"remoteId,omitempty"`
	Path     string `json:"path,omitempty"`
}

// ReassignResponse reports an applied correction.
type ReassignResponse struct {
	Correction Correction   `json:"correction"`
	Route      *RouteResult `json:"route,omitempty"`
}

// ClarifyRequest is the body of POST /api/classifications/{id}/clarify.
type ClarifyRequest struct {
	Question         string `json:"question"`
	Answer           string `json:"answer"`
	ConfidenceBefore int    `json:"confidenceBefore"`
	Boost            int    `json:"boost"`
}

// Clarification is an operator answer that adjusted a record's confidence.
type Clarification struct {
	ID               int64  `json:"id"`
	ClassificationID int64  `json:"classificationId"`
	Question         string `json:"question"`
	Answer           string `json:"answer"`
	ConfidenceBefore int    `json:"confidenceBefore"`
	ConfidenceAfter  int    `json:"confidenceAfter"`
	Boost            int    `json:"boost"`
	CreatedAt        string `json:"createdAt,omitempty"`
}

// CreateBatchRequest is the body of POST /api/batches.
type CreateBatchRequest struct {
	Items        []BatchItemInput `json:"items"`
	PauseOnError *bool            `json:"pauseOnError,omitempty"`
	CreatedBy    string           `json:"createdBy,omitempty"`
}

// BatchItemInput is one requested reassignment.
type BatchItemInput struct {
	ClassificationID int64 `json:"classificationId"`
	TargetLibraryID  int64 `json:"targetLibraryId"`
}

// Batch describes a reclassification batch.
type Batch struct {
	ID             int64  `json:"id"`
	Status         string `json:"status"`
	TotalItems     int    `json:"totalItems"`
	CompletedItems int    `json:"completedItems"`
	FailedItems    int    `json:"failedItems"`
	SkippedItems   int    `json:"skippedItems"`
	PausedAtItem   *int   `json:"pausedAtItem,omitempty"`
	PauseOnError   bool   `json:"pauseOnError"`
	CreatedBy      string `json:"createdBy,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
	StartedAt      string `json:"startedAt,omitempty"`
	CompletedAt    string `json:"completedAt,omitempty"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
}

// BatchItem describes one item of a batch.
type BatchItem struct {
	ID               int64           `json:"id"`
	ClassificationID int64           `json:"classificationId"`
	TargetLibraryID  int64           `json:"targetLibraryId"`
	Status           string          `json:"status"`
	ExecutionOrder   int             `json:"executionOrder"`
	ErrorMessage     string          `json:"errorMessage,omitempty"`
	ValidationResult json.RawMessage `json:"validationResult,omitempty"`
	ExecutionResult  json.RawMessage `json:"executionResult,omitempty"`
	UpdatedAt        string          `json:"updatedAt,omitempty"`
}

// BatchDetail is the full status of a batch.
type BatchDetail struct {
	Batch Batch       `json:"batch"`
	Items []BatchItem `json:"items"`
}

// BatchProgress is the lightweight polling view of a batch.
type BatchProgress struct {
	BatchID        int64  `json:"batchId"`
	Status         string `json:"status"`
	TotalItems     int    `json:"totalItems"`
	CompletedItems int    `json:"completedItems"`
	FailedItems    int    `json:"failedItems"`
	SkippedItems   int    `json:"skippedItems"`
	PausedAtItem   *int   `json:"pausedAtItem,omitempty"`
	Percent        int    `json:"percent"`
}

// BatchListResponse wraps recent batches.
type BatchListResponse struct {
	Items []Batch `json:"items"`
}

// BatchExecuteResponse reports the task queued to run a batch.
type BatchExecuteResponse struct {
	BatchID int64 `json:"batchId"`
	TaskID  int64 `json:"taskId"`
}

// WorkerStatus summarizes the worker loop state.
type WorkerStatus struct {
	Running   bool       `json:"running"`
	Available bool       `json:"available"`
	InFlight  int        `json:"inFlight"`
	SessionID string     `json:"sessionId,omitempty"`
	StartedAt string     `json:"startedAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
	LastTask  *WorkerRef `json:"lastTask,omitempty"`
}

// WorkerRef identifies the last task the worker touched.
type WorkerRef struct {
	TaskID     int64  `json:"taskId"`
	Type       string `json:"type"`
	Result     string `json:"result,omitempty"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	Database     string         `json:"database"`
	LockFilePath string         `json:"lockFilePath"`
	Worker       WorkerStatus   `json:"worker"`
	QueueStats   map[string]int `json:"queueStats"`
	Libraries    int            `json:"libraries"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
