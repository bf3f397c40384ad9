package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shelver/internal/api"
	"shelver/internal/batch"
	"shelver/internal/classification"
	"shelver/internal/config"
	"shelver/internal/logging"
	"shelver/internal/metrics"
	"shelver/internal/queue"
	"shelver/internal/services"
	"shelver/internal/worker"
)

const (
	defaultTaskListLimit = 50
	maxRequestBody       = 1 << 20
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(strings.TrimSpace(cfg.Paths.APIToken)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, authMiddleware(token, s.withRequestID(h)))
	}

	handle("GET /api/status", s.handleStatus)

	handle("POST /api/tasks", s.handleEnqueue)
	handle("GET /api/tasks", s.handleListTasks)
	handle("GET /api/tasks/{id}", s.handleGetTask)
	handle("POST /api/tasks/{id}/cancel", s.handleCancelTask)
	handle("POST /api/tasks/retry", s.handleRetryTasks)
	handle("GET /api/queue/stats", s.handleQueueStats)

	handle("POST /api/classify", s.handleClassify)
	handle("GET /api/classifications/{id}", s.handleGetClassification)
	handle("POST /api/classifications/{id}/reassign", s.handleReassign)
	handle("POST /api/classifications/{id}/clarify", s.handleClarify)

	handle("POST /api/batches", s.handleCreateBatch)
	handle("GET /api/batches", s.handleListBatches)
	handle("GET /api/batches/{id}", s.handleGetBatch)
	handle("GET /api/batches/{id}/progress", s.handleBatchProgress)
	handle("POST /api/batches/{id}/validate", s.handleValidateBatch)
	handle("POST /api/batches/{id}/execute", s.handleExecuteBatch)
	handle("POST /api/batches/{id}/pause", s.handlePauseBatch)
	handle("POST /api/batches/{id}/resume", s.handleResumeBatch)
	handle("POST /api/batches/{id}/cancel", s.handleCancelBatch)
	handle("POST /api/batches/{id}/items/{itemID}/skip", s.handleSkipItem)
	handle("POST /api/batches/{id}/items/{itemID}/retry", s.handleRetryItem)

	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func (s *apiServer) withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, id := services.EnsureRequestID(r.Context())
		w.Header().Set("X-Request-ID", id)
		next(w, r.WithContext(ctx))
	}
}

func (s *apiServer) listen() error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// serve blocks until ctx is done or the server fails.
func (s *apiServer) serve(ctx context.Context) error {
	if s == nil || s.listener == nil {
		return nil
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Serve(s.listener) }()
	select {
	case <-ctx.Done():
		s.shutdown()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	}
}

func (s *apiServer) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.shutdown()
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.Status(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		Database:     status.Database,
		LockFilePath: status.LockFilePath,
		Worker:       api.FromWorkerSnapshot(status.Worker),
		QueueStats:   api.FromHealth(status.QueueStats).Counts,
		Libraries:    status.Libraries,
	})
}

func (s *apiServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req api.EnqueueRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.daemon.comp.Queue.Enqueue(r.Context(), req.Type, req.Payload, queue.EnqueueOptions{
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
		Source:      sourceOr(req.Source, "api"),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.EnqueueResponse{TaskID: id})
}

func (s *apiServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := queue.ListFilter{
		TaskType: strings.TrimSpace(query.Get("type")),
		Limit:    defaultTaskListLimit,
	}
	for _, value := range query["status"] {
		if value = strings.TrimSpace(value); value == "" {
			continue
		}
		status, err := queue.ValidateStatus(value)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit", "validation")
			return
		}
		filter.Limit = limit
	}
	tasks, err := s.daemon.comp.Queue.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.TaskListResponse{Items: api.FromTasks(tasks)})
}

func (s *apiServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	task, err := s.daemon.comp.Queue.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if task == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("task %d not found", id), "not_found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.TaskResponse{Item: api.FromTask(task)})
}

func (s *apiServer) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.daemon.comp.Queue.Cancel(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.CountResponse{Updated: 1})
}

func (s *apiServer) handleRetryTasks(w http.ResponseWriter, r *http.Request) {
	var req api.RetryRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	n, err := s.daemon.comp.Queue.Retry(r.Context(), req.IDs...)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.CountResponse{Updated: n})
}

func (s *apiServer) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	health, err := s.daemon.comp.Queue.Health(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromHealth(health))
}

func (s *apiServer) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req api.ClassifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	creq := classification.Request{ExternalID: req.ExternalID, MediaType: req.MediaType, Title: req.Title}.Normalize()
	if err := creq.Validate(); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	id, err := s.daemon.comp.Queue.Enqueue(r.Context(), worker.TaskClassify, worker.ClassifyPayload{
		ExternalID: creq.ExternalID,
		MediaType:  creq.MediaType,
		Title:      creq.Title,
	}, queue.EnqueueOptions{Priority: req.Priority, Source: "api"})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.EnqueueResponse{TaskID: id})
}

func (s *apiServer) handleGetClassification(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	rec, err := s.daemon.comp.Records.Record(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("classification %d not found", id), "not_found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.ClassificationResponse{Item: api.FromRecord(*rec)})
}

func (s *apiServer) handleReassign(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req api.ReassignRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.daemon.comp.Engine.Reassign(r.Context(), id, req.LibraryID, sourceOr(req.CorrectedBy, "api"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromReassign(res))
}

func (s *apiServer) handleClarify(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req api.ClarifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	cl, err := s.daemon.comp.Engine.RecordResponse(r.Context(), id, req.Question, req.Answer, req.ConfidenceBefore, req.Boost)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromClarification(cl))
}

func (s *apiServer) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req api.CreateBatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	detail, err := s.daemon.comp.Batches.Create(r.Context(), api.ToItemInputs(req.Items), batch.CreateOptions{
		PauseOnError: req.PauseOnError,
		CreatedBy:    sourceOr(req.CreatedBy, "api"),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.FromDetail(detail))
}

func (s *apiServer) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit", "validation")
			return
		}
		limit = parsed
	}
	batches, err := s.daemon.comp.Batches.List(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.BatchListResponse{Items: api.FromBatches(batches)})
}

func (s *apiServer) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	s.batchDetail(w, r, s.daemon.comp.Batches.Status)
}

func (s *apiServer) handleValidateBatch(w http.ResponseWriter, r *http.Request) {
	s.batchDetail(w, r, s.daemon.comp.Batches.Validate)
}

func (s *apiServer) batchDetail(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) (batch.Detail, error)) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	detail, err := fn(services.WithBatchID(r.Context(), id), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromDetail(detail))
}

func (s *apiServer) handleBatchProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	progress, err := s.daemon.comp.Batches.Progress(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromProgress(progress))
}

func (s *apiServer) handleExecuteBatch(w http.ResponseWriter, r *http.Request) {
	s.enqueueBatch(w, r, batch.ActionExecute, false)
}

func (s *apiServer) handleResumeBatch(w http.ResponseWriter, r *http.Request) {
	s.enqueueBatch(w, r, batch.ActionResume, true)
}

// enqueueBatch checks the action against the current batch status, then hands
// the run to the worker so long batches obey the concurrency cap.
func (s *apiServer) enqueueBatch(w http.ResponseWriter, r *http.Request, action batch.Action, resume bool) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := services.WithBatchID(r.Context(), id)
	if err := s.daemon.comp.Batches.CheckAction(ctx, id, action); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	taskID, err := s.daemon.comp.Queue.Enqueue(ctx, worker.TaskExecuteBatch,
		worker.BatchPayload{BatchID: id, Resume: resume},
		queue.EnqueueOptions{Source: "api"})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Info("batch run queued",
		logging.Int64(logging.FieldBatchID, id),
		logging.Int64(logging.FieldTaskID, taskID),
		logging.String("action", string(action)))
	s.writeJSON(w, http.StatusAccepted, api.BatchExecuteResponse{BatchID: id, TaskID: taskID})
}

func (s *apiServer) handlePauseBatch(w http.ResponseWriter, r *http.Request) {
	s.batchHeader(w, r, s.daemon.comp.Batches.Pause)
}

func (s *apiServer) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	s.batchHeader(w, r, s.daemon.comp.Batches.Cancel)
}

func (s *apiServer) batchHeader(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) (batch.Batch, error)) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := fn(services.WithBatchID(r.Context(), id), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromBatch(b))
}

func (s *apiServer) handleSkipItem(w http.ResponseWriter, r *http.Request) {
	s.batchItem(w, r, s.daemon.comp.Batches.SkipItem)
}

func (s *apiServer) handleRetryItem(w http.ResponseWriter, r *http.Request) {
	s.batchItem(w, r, s.daemon.comp.Batches.RetryItem)
}

func (s *apiServer) batchItem(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64, int64) (batch.Item, error)) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := s.pathID(w, r, "itemID")
	if !ok {
		return
	}
	item, err := fn(services.WithBatchID(r.Context(), id), id, itemID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromBatchItem(item))
}

func (s *apiServer) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid "+name, "validation")
		return 0, false
	}
	return id, true
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "validation")
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (s *apiServer) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "validation")
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, services.ErrTransient), errors.Is(err, services.ErrExternalTool):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Error("api request failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
			logging.ErrorKind(services.Kind(err)))
	}
	s.writeError(w, code, err.Error(), services.Kind(err))
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message, kind string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Kind: kind})
}

func sourceOr(value, fallback string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return fallback
}
