package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

type memStore struct {
	mu    sync.Mutex
	execs map[uuid.UUID]*Execution
}

func newMemStore() *memStore {
	return &memStore{execs: make(map[uuid.UUID]*Execution)}
}

func cloneExec(exec *Execution) *Execution {
	cp := *exec
	cp.State = append([]byte(nil), exec.State...)
	if exec.SingletonKey != nil {
		key := *exec.SingletonKey
		cp.SingletonKey = &key
	}
	if exec.ResumeAt != nil {
		at := *exec.ResumeAt
		cp.ResumeAt = &at
	}
	return &cp
}

func (s *memStore) Insert(ctx context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exec.SingletonKey != nil {
		for _, other := range s.execs {
			if other.SingletonKey != nil && *other.SingletonKey == *exec.SingletonKey {
				return ErrAlreadyRunning
			}
		}
	}
	s.execs[exec.ID] = cloneExec(exec)
	return nil
}

func (s *memStore) Update(ctx context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.execs[exec.ID]; !ok {
		return ErrNotFound
	}
	s.execs[exec.ID] = cloneExec(exec)
	return nil
}

func (s *memStore) Get(ctx context.Context, id uuid.UUID) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneExec(exec), nil
}

func (s *memStore) ListRunning(ctx context.Context, definition string) ([]*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Execution
	for _, exec := range s.execs {
		if exec.Definition == definition && exec.Status == StatusRunning {
			out = append(out, cloneExec(exec))
		}
	}
	return out, nil
}

type traceState struct {
	Visited []string `json:"visited"`
}

func TestRunnerSequencing(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	def := Definition[traceState]{
		Name:  "trace",
		Start: "A",
		Steps: map[string]Step[traceState]{
			"A": Pass[traceState]{
				Apply: func(ctx context.Context, s *traceState) error {
					s.Visited = append(s.Visited, "A")
					return nil
				},
				Next: "B",
			},
			"B": Choice[traceState]{
				Decide: func(s *traceState) string { return "C" },
			},
			"C": Invoke[traceState]{
				Run: func(ctx context.Context, s *traceState) error {
					s.Visited = append(s.Visited, "C")
					return nil
				},
				End: true,
			},
		},
	}

	r := NewRunner(def, store)
	id, err := r.Start(ctx, traceState{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Run(ctx, id); err != nil {
		t.Fatalf("Run: %v", err)
	}

	exec, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if exec.Status != StatusSucceeded {
		t.Fatalf("status = %q, want %q", exec.Status, StatusSucceeded)
	}

	var s traceState
	if err := json.Unmarshal(exec.State, &s); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	want := []string{"A", "C"}
	if len(s.Visited) != len(want) || s.Visited[0] != "A" || s.Visited[1] != "C" {
		t.Fatalf("visited = %v, want %v", s.Visited, want)
	}
}

func TestRunnerResumesAfterInterruption(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	var applied, invoked int32
	interrupt := true
	def := Definition[traceState]{
		Name:  "resume",
		Start: "A",
		Steps: map[string]Step[traceState]{
			"A": Pass[traceState]{
				Apply: func(ctx context.Context, s *traceState) error {
					atomic.AddInt32(&applied, 1)
					return nil
				},
				Next: "B",
			},
			"B": Invoke[traceState]{
				Run: func(ctx context.Context, s *traceState) error {
					if interrupt {
						return context.Canceled
					}
					atomic.AddInt32(&invoked, 1)
					return nil
				},
				End: true,
			},
		},
	}

	r := NewRunner(def, store)
	id, err := r.Start(ctx, traceState{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := r.Run(ctx, id); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	// Cancellation is not terminal: the checkpoint stays RUNNING at the
	// interrupted step.
	exec, _ := store.Get(ctx, id)
	if exec.Status != StatusRunning {
		t.Fatalf("status after interruption = %q, want %q", exec.Status, StatusRunning)
	}
	if exec.Step != "B" {
		t.Fatalf("step after interruption = %q, want %q", exec.Step, "B")
	}

	ids, err := r.Interrupted(ctx)
	if err != nil {
		t.Fatalf("Interrupted: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("Interrupted = %v, want [%s]", ids, id)
	}

	interrupt = false
	if err := r.Run(ctx, id); err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	exec, _ = store.Get(ctx, id)
	if exec.Status != StatusSucceeded {
		t.Fatalf("status after resume = %q, want %q", exec.Status, StatusSucceeded)
	}
	if got := atomic.LoadInt32(&applied); got != 1 {
		t.Fatalf("step A ran %d times, want 1", got)
	}
	if got := atomic.LoadInt32(&invoked); got != 1 {
		t.Fatalf("step B ran %d times, want 1", got)
	}
}

func TestWaitCheckpointsAbsoluteResumeTime(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var slept []time.Duration
	clock := WithClock[traceState](
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	)

	def := Definition[traceState]{
		Name:  "waiting",
		Start: "W",
		Steps: map[string]Step[traceState]{
			"W": Wait[traceState]{
				Delay: func(s *traceState) time.Duration { return 5 * time.Second },
				Next:  "End",
			},
			"End": Pass[traceState]{End: true},
		},
	}

	r := NewRunner(def, store, clock)
	id, err := r.Start(ctx, traceState{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Run(ctx, id); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(slept) != 1 || slept[0] != 5*time.Second {
		t.Fatalf("slept = %v, want [5s]", slept)
	}
	exec, _ := store.Get(ctx, id)
	if exec.ResumeAt != nil {
		t.Fatalf("ResumeAt not cleared after wait")
	}

	// A resumed execution sleeps only the remaining portion of the
	// checkpointed resume time.
	slept = nil
	resumeAt := now.Add(3 * time.Second)
	resumed := &Execution{
		ID:         uuid.New(),
		Definition: "waiting",
		Status:     StatusRunning,
		Step:       "W",
		State:      []byte("{}"),
		ResumeAt:   &resumeAt,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.Insert(ctx, resumed); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := r.Run(ctx, resumed.ID); err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if len(slept) != 1 || slept[0] != 3*time.Second {
		t.Fatalf("resumed slept = %v, want [3s]", slept)
	}
}

type fanState struct {
	Failures int `json:"failures"`
}

func TestMapBoundsConcurrencyAndIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	const branches = 8
	var ran, inFlight, peak int32
	def := Definition[fanState]{
		Name:  "fanout",
		Start: "M",
		Steps: map[string]Step[fanState]{
			"M": Map[fanState]{
				Len:            func(s *fanState) int { return branches },
				MaxConcurrency: 2,
				Branch: func(ctx context.Context, s *fanState, index int) error {
					cur := atomic.AddInt32(&inFlight, 1)
					for {
						prev := atomic.LoadInt32(&peak)
						if cur <= prev || atomic.CompareAndSwapInt32(&peak, prev, cur) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&inFlight, -1)
					atomic.AddInt32(&ran, 1)
					if index == 3 {
						return fmt.Errorf("branch %d failed", index)
					}
					return nil
				},
				Collect: func(s *fanState, errs []error) error {
					for _, err := range errs {
						if err != nil {
							s.Failures++
						}
					}
					return nil
				},
				Next: "End",
			},
			"End": Pass[fanState]{End: true},
		},
	}

	r := NewRunner(def, store)
	id, err := r.Start(ctx, fanState{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Run(ctx, id); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := atomic.LoadInt32(&ran); got != branches {
		t.Fatalf("ran %d branches, want %d", got, branches)
	}
	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", got)
	}

	exec, _ := store.Get(ctx, id)
	if exec.Status != StatusSucceeded {
		t.Fatalf("status = %q, want %q", exec.Status, StatusSucceeded)
	}
	var s fanState
	if err := json.Unmarshal(exec.State, &s); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if s.Failures != 1 {
		t.Fatalf("failures = %d, want 1", s.Failures)
	}
}

func TestSingleFlightStart(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	def := Definition[traceState]{
		Name:         "solo",
		Start:        "End",
		SingleFlight: true,
		Steps: map[string]Step[traceState]{
			"End": Pass[traceState]{End: true},
		},
	}

	r := NewRunner(def, store)
	id, err := r.Start(ctx, traceState{})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}

	if _, err := r.Start(ctx, traceState{}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}

	if err := r.Run(ctx, id); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Termination releases the singleton slot.
	if _, err := r.Start(ctx, traceState{}); err != nil {
		t.Fatalf("Start after completion: %v", err)
	}
}

func TestStepErrorIsTerminal(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	var runs int32
	def := Definition[traceState]{
		Name:  "failing",
		Start: "Boom",
		Steps: map[string]Step[traceState]{
			"Boom": Invoke[traceState]{
				Run: func(ctx context.Context, s *traceState) error {
					atomic.AddInt32(&runs, 1)
					return errors.New("upstream exploded")
				},
				End: true,
			},
		},
	}

	r := NewRunner(def, store)
	id, err := r.Start(ctx, traceState{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Run(ctx, id); err == nil {
		t.Fatal("Run succeeded, want error")
	}

	exec, _ := store.Get(ctx, id)
	if exec.Status != StatusFailed {
		t.Fatalf("status = %q, want %q", exec.Status, StatusFailed)
	}
	if exec.ErrorMessage == "" {
		t.Fatal("error message not recorded")
	}

	// A terminated execution is a no-op to run again.
	if err := r.Run(ctx, id); err != nil {
		t.Fatalf("Run on failed execution = %v, want nil", err)
	}
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("step ran %d times, want 1", got)
	}
}

func TestExecutionTimeoutIsTerminal(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	def := Definition[traceState]{
		Name:    "slow",
		Start:   "Stall",
		Timeout: 20 * time.Millisecond,
		Steps: map[string]Step[traceState]{
			"Stall": Invoke[traceState]{
				Run: func(ctx context.Context, s *traceState) error {
					<-ctx.Done()
					return ctx.Err()
				},
				End: true,
			},
		},
	}

	r := NewRunner(def, store)
	id, err := r.Start(ctx, traceState{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Run(ctx, id); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v, want context.DeadlineExceeded", err)
	}

	exec, _ := store.Get(ctx, id)
	if exec.Status != StatusFailed {
		t.Fatalf("status = %q, want %q", exec.Status, StatusFailed)
	}
}
