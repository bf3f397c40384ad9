package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"shelver/internal/config"
	"shelver/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "classified",
			event: notifications.EventClassified,
			payload: notifications.Payload{
				"title": "Coco (2017)", "library": "Kids Movies", "confidence": 85, "method": "rule_match", "mediaType": "movie",
			},
			expectTitle:   "Shelver - Classified",
			expectMessage: "Coco (2017) → Kids Movies (85%, rule_match)",
			expectTags:    "shelver,classified,movie",
		},
		{
			name:          "route failed",
			event:         notifications.EventRouteFailed,
			payload:       notifications.Payload{"title": "Coco", "library": "Kids Movies", "error": "radarr unreachable"},
			expectTitle:   "Shelver - Routing Failed",
			expectMessage: "Routing Coco to Kids Movies failed: radarr unreachable",
			expectTags:    "shelver,route,warning",
		},
		{
			name:           "task failed",
			event:          notifications.EventTaskFailed,
			payload:        notifications.Payload{"taskID": int64(12), "taskType": "classify", "attempts": 5, "error": "boom"},
			expectTitle:    "Shelver - Task Failed",
			expectMessage:  "Task 12 (classify) failed after 5 attempts: boom",
			expectTags:     "shelver,error,alert",
			expectPriority: "high",
		},
		{
			name:           "batch paused",
			event:          notifications.EventBatchPaused,
			payload:        notifications.Payload{"batchID": 3, "item": 2, "error": "no mapping"},
			expectTitle:    "Shelver - Batch Paused",
			expectMessage:  "Batch 3 paused at item 2: no mapping",
			expectTags:     "shelver,batch,paused",
			expectPriority: "high",
		},
		{
			name:          "batch completed",
			event:         notifications.EventBatchCompleted,
			payload:       notifications.Payload{"batchID": 3, "completed": 4, "failed": 1, "skipped": 0},
			expectTitle:   "Shelver - Batch Complete",
			expectMessage: "Batch 3 complete: 4 moved, 1 failed, 0 skipped",
			expectTags:    "shelver,batch,completed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, _ := io.ReadAll(r.Body)
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.Classification = true

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}
			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresDisabledEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for disabled event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Classification = false
	cfg.Notifications.Batches = false

	svc := notifications.NewService(&cfg)
	for _, event := range []notifications.Event{notifications.EventClassified, notifications.EventBatchPaused, notifications.Event("unknown")} {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"title": "ignored"}); err != nil {
			t.Fatalf("expected no error for disabled event %s, got %v", event, err)
		}
	}
}
