package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveDecision(t *testing.T) {
	before := testutil.ToFloat64(ClassificationsTotal.WithLabelValues("rule_match", "movie"))
	ObserveDecision("rule_match", "movie", 85)
	if got := testutil.ToFloat64(ClassificationsTotal.WithLabelValues("rule_match", "movie")); got != before+1 {
		t.Fatalf("expected counter to grow by one, got %v -> %v", before, got)
	}
}

func TestSetAvailableAndHandler(t *testing.T) {
	SetAvailable(false)
	if got := testutil.ToFloat64(WorkerAvailable); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	SetAvailable(true)
	SetQueueDepth(map[string]int{"pending": 3})

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "shelver_worker_available 1") || !strings.Contains(body, `shelver_queue_tasks{status="pending"} 3`) {
		t.Fatalf("metrics output missing expected series:\n%s", body)
	}
}
