// Package saga records compensating actions and runs them newest first when
// a multi-step operation has to be undone.
package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrCompensationFailed = errors.New("saga: compensation failed")

// StepFailure is a compensation that returned an error.
type StepFailure struct {
	Step string
	Err  error
}

// CompensationError reports every compensation that could not be applied.
// State touched by those steps needs reconciliation.
type CompensationError struct {
	Saga     string
	Failures []StepFailure
}

func (e *CompensationError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Step, f.Err)
	}
	return fmt.Sprintf("saga %s: compensation failed: %s", e.Saga, strings.Join(parts, "; "))
}

func (e *CompensationError) Is(target error) bool { return target == ErrCompensationFailed }

func (e *CompensationError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

type compensation struct {
	name string
	fn   func(ctx context.Context) error
}

type Saga struct {
	name  string
	mu    sync.Mutex
	steps []compensation
}

func New(name string) *Saga {
	return &Saga{name: name}
}

// Add records the compensation for a step that has just succeeded.
func (s *Saga) Add(step string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	s.steps = append(s.steps, compensation{name: step, fn: fn})
	s.mu.Unlock()
}

func (s *Saga) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

// Forget drops every recorded compensation once the operation has committed.
func (s *Saga) Forget() {
	s.mu.Lock()
	s.steps = nil
	s.mu.Unlock()
}

// Compensate runs the recorded compensations newest first. A failing step
// does not stop the remaining ones. The saga is empty afterwards.
func (s *Saga) Compensate(ctx context.Context) error {
	s.mu.Lock()
	steps := s.steps
	s.steps = nil
	s.mu.Unlock()

	// rollback must outlive a canceled request
	ctx = context.WithoutCancel(ctx)

	var failures []StepFailure
	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i].fn(ctx); err != nil {
			failures = append(failures, StepFailure{Step: steps[i].name, Err: err})
		}
	}
	if len(failures) > 0 {
		return &CompensationError{Saga: s.name, Failures: failures}
	}
	return nil
}
