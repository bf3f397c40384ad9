package worker

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"shelver/internal/metrics"
)

// State is the worker loop's lifecycle record. It changes only through
// Start, Stop, MarkAvailable and MarkUnavailable, plus the in-flight
// bookkeeping done by the loop itself.
type State struct {
	mu        sync.RWMutex
	running   bool
	available bool
	inFlight  int
	sessionID string
	startedAt time.Time
	lastErr   string
	lastTask  *TaskRef
}

// TaskRef identifies the most recently dispatched task.
type TaskRef struct {
	ID         int64     `json:"id"`
	Type       string    `json:"task_type"`
	Result     string    `json:"result,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Snapshot is a copy of the state for status reporting.
type Snapshot struct {
	Running   bool      `json:"running"`
	Available bool      `json:"available"`
	InFlight  int       `json:"in_flight"`
	SessionID string    `json:"session_id,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	LastTask  *TaskRef  `json:"last_task,omitempty"`
}

// NewState returns a stopped state that is available until a probe says
// otherwise.
func NewState() *State {
	metrics.SetAvailable(true)
	return &State{available: true}
}

func (s *State) start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.sessionID = uuid.NewString()
	s.startedAt = time.Now()
	return true
}

func (s *State) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.running = false
	return true
}

// MarkAvailable lets the loop dequeue again.
func (s *State) MarkAvailable() {
	s.setAvailable(true)
}

// MarkUnavailable makes the loop skip dequeuing until MarkAvailable.
func (s *State) MarkUnavailable(reason string) {
	s.setAvailable(false)
	s.mu.Lock()
	s.lastErr = reason
	s.mu.Unlock()
}

func (s *State) setAvailable(available bool) {
	s.mu.Lock()
	s.available = available
	s.mu.Unlock()
	metrics.SetAvailable(available)
}

// Available reports the backpressure flag.
func (s *State) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

// Running reports whether the loop is started.
func (s *State) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// InFlight returns the number of dispatched tasks still executing.
func (s *State) InFlight() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight
}

func (s *State) acquire(ref TaskRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight++
	s.lastTask = &ref
	metrics.WorkerInFlight.Set(float64(s.inFlight))
}

func (s *State) release(ref TaskRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		s.inFlight--
	}
	ref.FinishedAt = time.Now()
	s.lastTask = &ref
	metrics.WorkerInFlight.Set(float64(s.inFlight))
}

func (s *State) setLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.lastErr = ""
		return
	}
	s.lastErr = err.Error()
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Running:   s.running,
		Available: s.available,
		InFlight:  s.inFlight,
		SessionID: s.sessionID,
		StartedAt: s.startedAt,
		LastError: s.lastErr,
	}
	if s.lastTask != nil {
		ref := *s.lastTask
		snap.LastTask = &ref
	}
	return snap
}
