package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Pass applies a pure transform to the state. Apply may be nil, which makes
// the step a plain transition (or, with End set, a terminal marker).
type Pass[S any] struct {
	Apply func(ctx context.Context, s *S) error
	Next  string
	End   bool
}

func (p Pass[S]) run(ctx context.Context, rt *runtime, s *S) (string, bool, error) {
	if p.Apply != nil {
		if err := p.Apply(ctx, s); err != nil {
			return "", false, err
		}
	}
	return p.Next, p.End, nil
}

// Choice picks the next step as a pure function of state.
type Choice[S any] struct {
	Decide func(s *S) string
}

func (c Choice[S]) run(ctx context.Context, rt *runtime, s *S) (string, bool, error) {
	next := c.Decide(s)
	if next == "" {
		return "", false, fmt.Errorf("choice step returned no next step")
	}
	return next, false, nil
}

// Wait suspends the execution for a state-derived duration. The absolute
// resume time is checkpointed before sleeping, so a process restart resumes
// the remaining wait instead of starting it over.
type Wait[S any] struct {
	Delay func(s *S) time.Duration
	Next  string
}

func (w Wait[S]) run(ctx context.Context, rt *runtime, s *S) (string, bool, error) {
	if rt.exec.ResumeAt == nil {
		at := rt.now().Add(w.Delay(s))
		rt.exec.ResumeAt = &at
		rt.exec.UpdatedAt = rt.now()
		if err := rt.store.Update(ctx, rt.exec); err != nil {
			return "", false, err
		}
	}
	if d := rt.exec.ResumeAt.Sub(rt.now()); d > 0 {
		if err := rt.sleep(ctx, d); err != nil {
			return "", false, err
		}
	}
	rt.exec.ResumeAt = nil
	return w.Next, false, nil
}

// Map fans out over Len(s) branches with bounded concurrency. Every branch
// runs to its own terminal state; a failing branch never interrupts its
// siblings. With FailFast unset, branch errors are handed to Collect and the
// step itself succeeds; the orchestration decides what a partial failure
// means. Branches must only touch state belonging to their own index.
type Map[S any] struct {
	Len            func(s *S) int
	MaxConcurrency int
	Branch         func(ctx context.Context, s *S, index int) error
	Collect        func(s *S, errs []error) error
	FailFast       bool
	Next           string
}

func (m Map[S]) run(ctx context.Context, rt *runtime, s *S) (string, bool, error) {
	n := m.Len(s)
	width := m.MaxConcurrency
	if width < 1 {
		width = 1
	}

	sem := make(chan struct{}, width)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = m.Branch(ctx, s, i)
		}(i)
	}
	wg.Wait()

	if m.FailFast {
		for i, err := range errs {
			if err != nil {
				return "", false, fmt.Errorf("map branch %d: %w", i, err)
			}
		}
	}
	if m.Collect != nil {
		if err := m.Collect(s, errs); err != nil {
			return "", false, err
		}
	}
	return m.Next, false, nil
}

// Invoke runs an effectful step, typically a job submission followed by an
// await on its terminal result.
type Invoke[S any] struct {
	Run  func(ctx context.Context, s *S) error
	Next string
	End  bool
}

func (i Invoke[S]) run(ctx context.Context, rt *runtime, s *S) (string, bool, error) {
	if err := i.Run(ctx, s); err != nil {
		return "", false, err
	}
	return i.Next, i.End, nil
}
