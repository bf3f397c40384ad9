package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(DaemonStatus{Running: true, PID: 42})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "s3cret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.PID != 42 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestClientDecodesErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "batch is completed", Kind: "conflict"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	_, err = client.PauseBatch(context.Background(), 3)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusConflict || statusErr.Kind != "conflict" || statusErr.Message != "batch is completed" {
		t.Fatalf("unexpected error %+v", statusErr)
	}
}

func TestClientPassesQueryFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/api/tasks" || len(q["status"]) != 2 || q.Get("type") != "classify" || q.Get("limit") != "5" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TaskListResponse{Items: []Task{{ID: 1, Type: "classify"}}})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	tasks, err := client.Tasks(context.Background(), []string{"pending", "failed"}, "classify", 5)
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != 1 {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}

func TestClientUnavailable(t *testing.T) {
	if _, err := NewClient("", ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for empty bind, got %v", err)
	}

	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.Listener.Addr().String()
	server.Close()

	client, err := NewClient(addr, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()
	if _, err := client.Status(context.Background()); !IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestClientDecodesSniffedContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"batchId":4,"status":"executing","totalItems":2,"completedItems":1,"percent":50}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	progress, err := client.BatchProgress(context.Background(), 4)
	if err != nil {
		t.Fatalf("BatchProgress: %v", err)
	}
	if progress.BatchID != 4 || progress.Percent != 50 {
		t.Fatalf("unexpected progress %+v", progress)
	}
}

func TestClientReportsPlainTextNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client, err := NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	_, err = client.BatchProgress(context.Background(), 4)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
}
