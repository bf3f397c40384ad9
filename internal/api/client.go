package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"
)

// ErrUnavailable reports that no daemon answered at the configured bind.
var ErrUnavailable = errors.New("shelver daemon unavailable")

// StatusError is a non-2xx answer from the daemon.
type StatusError struct {
	Code    int
	Message string
	Kind    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned status %d", e.Code)
	}
	return e.Message
}

// Client is the HTTP client the CLI uses to talk to a running daemon.
type Client struct {
	http *resty.Client
}

// NewClient builds a client for the daemon listening on bind. A token, when
// set, is sent as a bearer credential.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, fmt.Errorf("%w: api bind not configured", ErrUnavailable)
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api bind: %w", err)
	}
	base.Path, base.RawQuery, base.Fragment = "", "", ""

	rc := resty.New().
		SetBaseURL(base.String()).
		SetHeader("Accept", "application/json").
		SetTimeout(30 * time.Second)
	if token = strings.TrimSpace(token); token != "" {
		rc.SetAuthToken(token)
	}
	return &Client{http: rc}, nil
}

// Close releases idle connections.
func (c *Client) Close() error { return c.http.Close() }

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	return out, c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
}

// Enqueue queues an arbitrary task.
func (c *Client) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResponse, error) {
	var out EnqueueResponse
	return out, c.do(ctx, http.MethodPost, "/api/tasks", nil, req, &out)
}

// Tasks lists tasks, optionally filtered by status and type.
func (c *Client) Tasks(ctx context.Context, statuses []string, taskType string, limit int) ([]Task, error) {
	query := url.Values{}
	for _, status := range statuses {
		if status = strings.TrimSpace(status); status != "" {
			query.Add("status", status)
		}
	}
	if taskType != "" {
		query.Set("type", taskType)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out TaskListResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Task fetches one task.
func (c *Client) Task(ctx context.Context, id int64) (Task, error) {
	var out TaskResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/tasks/%d", id), nil, nil, &out)
	return out.Item, err
}

// CancelTask cancels a pending task.
func (c *Client) CancelTask(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/tasks/%d/cancel", id), nil, nil, nil)
}

// RetryTasks moves failed tasks back to pending.
func (c *Client) RetryTasks(ctx context.Context, ids []int64) (int64, error) {
	var out CountResponse
	err := c.do(ctx, http.MethodPost, "/api/tasks/retry", nil, RetryRequest{IDs: ids}, &out)
	return out.Updated, err
}

// QueueStats fetches per-status counts.
func (c *Client) QueueStats(ctx context.Context) (QueueStatsResponse, error) {
	var out QueueStatsResponse
	return out, c.do(ctx, http.MethodGet, "/api/queue/stats", nil, nil, &out)
}

// Classify queues a classify task.
func (c *Client) Classify(ctx context.Context, req ClassifyRequest) (EnqueueResponse, error) {
	var out EnqueueResponse
	return out, c.do(ctx, http.MethodPost, "/api/classify", nil, req, &out)
}

// Classification fetches a classification record.
func (c *Client) Classification(ctx context.Context, id int64) (Classification, error) {
	var out ClassificationResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/classifications/%d", id), nil, nil, &out)
	return out.Item, err
}

// Reassign moves a classified item to another library.
func (c *Client) Reassign(ctx context.Context, id int64, req ReassignRequest) (ReassignResponse, error) {
	var out ReassignResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/classifications/%d/reassign", id), nil, req, &out)
	return out, err
}

// Clarify records an operator answer for a classification.
func (c *Client) Clarify(ctx context.Context, id int64, req ClarifyRequest) (Clarification, error) {
	var out Clarification
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/classifications/%d/clarify", id), nil, req, &out)
	return out, err
}

// CreateBatch creates a reclassification batch.
func (c *Client) CreateBatch(ctx context.Context, req CreateBatchRequest) (BatchDetail, error) {
	var out BatchDetail
	return out, c.do(ctx, http.MethodPost, "/api/batches", nil, req, &out)
}

// Batches lists recent batches.
func (c *Client) Batches(ctx context.Context, limit int) ([]Batch, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out BatchListResponse
	if err := c.do(ctx, http.MethodGet, "/api/batches", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Batch fetches the full status of a batch.
func (c *Client) Batch(ctx context.Context, id int64) (BatchDetail, error) {
	var out BatchDetail
	return out, c.do(ctx, http.MethodGet, fmt.Sprintf("/api/batches/%d", id), nil, nil, &out)
}

// BatchProgress fetches the polling view of a batch.
func (c *Client) BatchProgress(ctx context.Context, id int64) (BatchProgress, error) {
	var out BatchProgress
	return out, c.do(ctx, http.MethodGet, fmt.Sprintf("/api/batches/%d/progress", id), nil, nil, &out)
}

// ValidateBatch previews every item without mutating anything.
func (c *Client) ValidateBatch(ctx context.Context, id int64) (BatchDetail, error) {
	var out BatchDetail
	return out, c.do(ctx, http.MethodPost, fmt.Sprintf("/api/batches/%d/validate", id), nil, nil, &out)
}

// ExecuteBatch queues execution of a batch.
func (c *Client) ExecuteBatch(ctx context.Context, id int64) (BatchExecuteResponse, error) {
	var out BatchExecuteResponse
	return out, c.do(ctx, http.MethodPost, fmt.Sprintf("/api/batches/%d/execute", id), nil, nil, &out)
}

// ResumeBatch queues continuation of a paused batch.
func (c *Client) ResumeBatch(ctx context.Context, id int64) (BatchExecuteResponse, error) {
	var out BatchExecuteResponse
	return out, c.do(ctx, http.MethodPost, fmt.Sprintf("/api/batches/%d/resume", id), nil, nil, &out)
}

// PauseBatch pauses an executing batch.
func (c *Client) PauseBatch(ctx context.Context, id int64) (Batch, error) {
	var out Batch
	return out, c.do(ctx, http.MethodPost, fmt.Sprintf("/api/batches/%d/pause", id), nil, nil, &out)
}

// CancelBatch cancels a batch.
func (c *Client) CancelBatch(ctx context.Context, id int64) (Batch, error) {
	var out Batch
	return out, c.do(ctx, http.MethodPost, fmt.Sprintf("/api/batches/%d/cancel", id), nil, nil, &out)
}

// SkipBatchItem marks a failed item as skipped.
func (c *Client) SkipBatchItem(ctx context.Context, batchID, itemID int64) (BatchItem, error) {
	var out BatchItem
	return out, c.do(ctx, http.MethodPost, fmt.Sprintf("/api/batches/%d/items/%d/skip", batchID, itemID), nil, nil, &out)
}

// RetryBatchItem makes a failed item runnable again.
func (c *Client) RetryBatchItem(ctx context.Context, batchID, itemID int64) (BatchItem, error) {
	var out BatchItem
	return out, c.do(ctx, http.MethodPost, fmt.Sprintf("/api/batches/%d/items/%d/retry", batchID, itemID), nil, nil, &out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	var apiErr ErrorResponse
	req := c.http.R().SetContext(ctx).SetError(&apiErr).SetForceResponseContentType("application/json")
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil && (resp == nil || !resp.IsError()) {
		if IsUnavailable(err) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}
	if resp.IsError() {
		return &StatusError{Code: resp.StatusCode(), Message: apiErr.Error, Kind: apiErr.Kind}
	}
	return nil
}

// IsUnavailable reports whether err means the daemon could not be reached.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
