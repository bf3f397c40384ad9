package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"shelver/internal/services"
)

func completionHandler(t *testing.T, content string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": content}},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}
}

func TestClientHealthCheck(t *testing.T) {
	server := httptest.NewServer(completionHandler(t, "```json\n{\"ok\":true}\n```"))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Model: "demo"}, WithSleeper(func(time.Duration) {}))
	err := client.HealthCheck(context.Background())
	if err == nil {
		t.Fatal("expected health check to fail")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single probe request, got %d", got)
	}
}

func TestAuthorizationHeaderOnlyWithKey(t *testing.T) {
	var header atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header.Store(r.Header.Get("Authorization"))
		completionHandler(t, `{"ok":true}`)(w, r)
	}))
	defer server.Close()

	if err := NewClient(Config{BaseURL: server.URL}).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if got := header.Load().(string); got != "" {
		t.Fatalf("expected no Authorization header, got %q", got)
	}
	if err := NewClient(Config{BaseURL: server.URL, APIKey: "secret"}).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if got := header.Load().(string); got != "Bearer secret" {
		t.Fatalf("unexpected Authorization header %q", got)
	}
}

func TestChooseLibrary(t *testing.T) {
	var userPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		userPrompt = req.Messages[1].Content
		completionHandler(t, `{"library_index":2,"confidence":0.82,"reason":"animated family film"}`)(w, r)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Model: "demo"})
	choice, err := client.ChooseLibrary(context.Background(), "Title: Coco (2017)", []Candidate{
		{ID: 1, Name: "Movies"},
		{ID: 2, Name: "Kids Movies", Description: "family and animation"},
	})
	if err != nil {
		t.Fatalf("ChooseLibrary: %v", err)
	}
	if choice.Index != 1 || choice.Confidence != 82 || choice.Reason != "animated family film" {
		t.Fatalf("unexpected choice %+v", choice)
	}
	if !strings.Contains(userPrompt, "2. Kids Movies - family and animation") {
		t.Fatalf("candidate list missing from prompt:\n%s", userPrompt)
	}
}

func TestChooseLibraryMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "prose", content: "I think the second one"},
		{name: "missing index", content: `{"confidence":90}`},
		{name: "out of range", content: `{"library_index":5,"confidence":90}`},
		{name: "zero index", content: `{"library_index":0}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(completionHandler(t, tc.content))
			defer server.Close()
			client := NewClient(Config{BaseURL: server.URL})
			_, err := client.ChooseLibrary(context.Background(), "item", []Candidate{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}})
			if !errors.Is(err, ErrMalformedResponse) {
				t.Fatalf("expected ErrMalformedResponse, got %v", err)
			}
		})
	}
}

func TestCompleteJSONRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		completionHandler(t, `{"ok":true}`)(w, r)
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(Config{BaseURL: server.URL}, WithSleeper(func(d time.Duration) { slept = append(slept, d) }))
	content, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if content != `{"ok":true}` {
		t.Fatalf("unexpected content %q", content)
	}
	if len(slept) != 2 || slept[0] != time.Second {
		t.Fatalf("unexpected sleeps %v", slept)
	}
}

func TestCompleteJSONUnauthorizedIsConfiguration(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "bad"})
	_, err := client.CompleteJSON(context.Background(), "system", "user")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration marker, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no retries, got %d calls", calls.Load())
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	client := NewClient(Config{}, WithRetryBackoff(time.Second, 5*time.Second))
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, expected := range want {
		if got := client.backoffDelay(i + 1); got != expected {
			t.Fatalf("attempt %d: got %s want %s", i+1, got, expected)
		}
	}
}

func TestDecodeLLMJSONExtractsObject(t *testing.T) {
	var out struct {
		A int `json:"a"`
	}
	if err := DecodeLLMJSON("Sure! Here you go: {\"a\": 3} hope that helps", &out); err != nil {
		t.Fatalf("DecodeLLMJSON: %v", err)
	}
	if out.A != 3 {
		t.Fatalf("unexpected value %d", out.A)
	}
}

func TestNormalizeConfidence(t *testing.T) {
	cases := map[float64]float64{0.5: 50, 87: 87, 150: 100, -3: 0, 1: 1}
	for in, want := range cases {
		if got := normalizeConfidence(in); got != want {
			t.Fatalf("normalizeConfidence(%v) = %v, want %v", in, got, want)
		}
	}
}
