// Package workflow runs durable, resumable state machines. A Definition is a
// directed graph of steps (Pass, Choice, Wait, Map, Invoke) interpreted by a
// small stepping loop; after every step the execution's position and state
// are checkpointed through a Store so a restarted process can pick up an
// interrupted run at the exact step it stopped on.
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// ErrAlreadyRunning is returned by Start for single-flight definitions when
// another execution of the same definition is active. Store implementations
// must return it from Insert on a singleton key conflict.
var ErrAlreadyRunning = errors.New("workflow execution already running")

// ErrNotFound is returned by Store implementations when no execution exists
// for the requested id.
var ErrNotFound = errors.New("workflow execution not found")

// Execution is the persisted checkpoint of one workflow run.
type Execution struct {
	ID           uuid.UUID
	Definition   string
	SingletonKey *string
	Status       string
	Step         string
	State        []byte
	ResumeAt     *time.Time
	ErrorMessage string
	StartedAt    time.Time
	UpdatedAt    time.Time
}

// Store persists execution checkpoints. Insert must be atomic with respect
// to the singleton key: two concurrent inserts carrying the same key must
// resolve to one success and one ErrAlreadyRunning.
type Store interface {
	Insert(ctx context.Context, exec *Execution) error
	Update(ctx context.Context, exec *Execution) error
	Get(ctx context.Context, id uuid.UUID) (*Execution, error)
	ListRunning(ctx context.Context, definition string) ([]*Execution, error)
}

// Definition is a named step graph over a serializable state type S.
type Definition[S any] struct {
	Name  string
	Start string
	Steps map[string]Step[S]

	// SingleFlight allows at most one running execution of this definition.
	SingleFlight bool

	// Timeout bounds the whole execution, measured from StartedAt so a
	// resumed run does not get a fresh budget. Zero means no cap.
	Timeout time.Duration
}

// Step is one node of the graph. Implementations are the tagged union
// Pass | Choice | Wait | Map | Invoke defined in steps.go.
type Step[S any] interface {
	run(ctx context.Context, rt *runtime, s *S) (next string, done bool, err error)
}

// runtime gives steps access to the checkpoint row and the clock, so Wait
// can persist its absolute resume time before sleeping.
type runtime struct {
	store Store
	exec  *Execution
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}
