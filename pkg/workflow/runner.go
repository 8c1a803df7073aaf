package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Runner drives executions of one definition against a Store.
type Runner[S any] struct {
	def   Definition[S]
	store Store
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option[S any] func(*Runner[S])

// WithClock replaces the runner's clock and sleeper, used by tests to make
// Wait steps instantaneous.
func WithClock[S any](now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option[S] {
	return func(r *Runner[S]) {
		r.now = now
		r.sleep = sleep
	}
}

func NewRunner[S any](def Definition[S], store Store, opts ...Option[S]) *Runner[S] {
	r := &Runner[S]{
		def:   def,
		store: store,
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Start registers a new execution and returns its id without running it.
// For single-flight definitions the insert carries the definition name as
// singleton key; a concurrent starter loses the unique-index race and gets
// ErrAlreadyRunning.
func (r *Runner[S]) Start(ctx context.Context, state S) (uuid.UUID, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal workflow state: %w", err)
	}

	exec := &Execution{
		ID:         uuid.New(),
		Definition: r.def.Name,
		Status:     StatusRunning,
		Step:       r.def.Start,
		State:      raw,
		StartedAt:  r.now(),
		UpdatedAt:  r.now(),
	}
	if r.def.SingleFlight {
		key := r.def.Name
		exec.SingletonKey = &key
	}

	if err := r.store.Insert(ctx, exec); err != nil {
		return uuid.Nil, err
	}
	return exec.ID, nil
}

// Run drives the execution until it terminates. Calling Run on an execution
// checkpointed by a dead process resumes it at the persisted step; already
// terminated executions are a no-op.
func (r *Runner[S]) Run(ctx context.Context, id uuid.UUID) error {
	exec, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if exec.Definition != r.def.Name {
		return fmt.Errorf("execution %s belongs to definition %q, not %q", id, exec.Definition, r.def.Name)
	}
	if exec.Status != StatusRunning {
		return nil
	}

	var s S
	if err := json.Unmarshal(exec.State, &s); err != nil {
		return r.fail(ctx, exec, fmt.Errorf("unmarshal workflow state: %w", err))
	}

	if r.def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, exec.StartedAt.Add(r.def.Timeout))
		defer cancel()
	}

	rt := &runtime{store: r.store, exec: exec, now: r.now, sleep: r.sleep}

	for {
		step, ok := r.def.Steps[exec.Step]
		if !ok {
			return r.fail(ctx, exec, fmt.Errorf("unknown step %q", exec.Step))
		}

		zerolog.Ctx(ctx).Debug().
			Str("definition", r.def.Name).
			Str("execution_id", exec.ID.String()).
			Str("step", exec.Step).
			Msg("running workflow step")

		next, done, err := step.run(ctx, rt, &s)
		if err != nil {
			return r.fail(ctx, exec, fmt.Errorf("step %q: %w", exec.Step, err))
		}

		raw, err := json.Marshal(s)
		if err != nil {
			return r.fail(ctx, exec, fmt.Errorf("marshal workflow state: %w", err))
		}
		exec.State = raw
		exec.Step = next
		if done {
			exec.Status = StatusSucceeded
			exec.SingletonKey = nil
		}
		exec.UpdatedAt = r.now()
		if err := r.store.Update(ctx, exec); err != nil {
			return err
		}
		if done {
			zerolog.Ctx(ctx).Info().
				Str("definition", r.def.Name).
				Str("execution_id", exec.ID.String()).
				Msg("workflow execution succeeded")
			return nil
		}
	}
}

// fail records a terminal failure. Plain context cancellation is not
// terminal: the checkpoint stays RUNNING so the next process can resume it.
func (r *Runner[S]) fail(ctx context.Context, exec *Execution, cause error) error {
	if errors.Is(cause, context.Canceled) {
		return cause
	}

	exec.Status = StatusFailed
	exec.ErrorMessage = cause.Error()
	exec.SingletonKey = nil
	exec.UpdatedAt = r.now()
	if updateErr := r.store.Update(context.WithoutCancel(ctx), exec); updateErr != nil {
		return errors.Join(cause, updateErr)
	}

	zerolog.Ctx(ctx).Error().Err(cause).
		Str("definition", r.def.Name).
		Str("execution_id", exec.ID.String()).
		Msg("workflow execution failed")
	return cause
}

// Interrupted lists executions of this definition checkpointed as RUNNING,
// typically called at boot to hand each one back to Run.
func (r *Runner[S]) Interrupted(ctx context.Context) ([]uuid.UUID, error) {
	execs, err := r.store.ListRunning(ctx, r.def.Name)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(execs))
	for _, exec := range execs {
		ids = append(ids, exec.ID)
	}
	return ids, nil
}
