package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shelver/internal/app"
	"shelver/internal/queue"
	"shelver/internal/testsupport"
	"shelver/internal/worker"
)

const movieBody = `{"title":"Toy Story","original_title":"Toy Story","release_date":"1995-11-22",
"genres":[{"name":"Animation"},{"name":"Family"}],"original_language":"en","runtime":81}`

func TestBuildClassifiesQueuedItem(t *testing.T) {
	tmdbServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(movieBody))
	}))
	t.Cleanup(tmdbServer.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithLibraries(
		testsupport.Movie(1, "Movies"),
		testsupport.Show(2, "Shows"),
	))
	cfg.TMDB.BaseURL = tmdbServer.URL
	cfg.Worker.PollInterval = 1
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(a.Close)

	if err := a.Daemon.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status, err := a.Daemon.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.Libraries != 2 || status.Database != "sqlite" {
		t.Fatalf("unexpected status %+v", status)
	}

	id, err := a.Queue.Enqueue(ctx, worker.TaskClassify, worker.ClassifyPayload{ExternalID: "862", MediaType: "movie"}, queue.EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	var task *queue.Task
	for time.Now().Before(deadline) {
		task, err = a.Queue.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if task.Status.IsTerminal() {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if task.Status != queue.StatusCompleted {
		t.Fatalf("expected completed task, got %s (%s)", task.Status, task.ErrorMessage)
	}

	var payload struct {
		Result worker.ClassifyResult `json:"result"`
	}
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Result.ClassificationID == 0 || payload.Result.LibraryID == nil || *payload.Result.LibraryID != 1 {
		t.Fatalf("unexpected classify result %+v", payload.Result)
	}
}

func TestBuildFallsBackToMemoryCache(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisURL = "not a url"
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	a, err := app.Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build should fall back to memory cache: %v", err)
	}
	a.Close()
}
