package order

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrOrderFinalized    = errors.New("order: order is finalized")
	ErrNoOpTransition    = errors.New("order: order is already in the requested status")
	ErrIllegalTransition = errors.New("order: illegal status transition")
)

// transitions is the lifecycle table. Statuses without an entry are terminal.
var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCanceled, StatusPaid, StatusProcessing},
	StatusConfirmed:  {StatusShipping, StatusCanceled},
	StatusPaid:       {StatusConfirmed, StatusShipping},
	StatusProcessing: {StatusConfirmed, StatusShipping, StatusCanceled},
	StatusShipping:   {StatusCompleted},
}

// TransitionError reports a rejected transition together with the legal next states.
type TransitionError struct {
	From    Status
	To      Status
	Allowed []Status
}

func (e *TransitionError) Error() string {
	names := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		names[i] = string(s)
	}
	return fmt.Sprintf("order: cannot move from %s to %s; allowed next: [%s]",
		e.From, e.To, strings.Join(names, ", "))
}

func (e *TransitionError) Is(target error) bool { return target == ErrIllegalTransition }

func (s Status) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// Next returns a copy of the statuses reachable from s.
func (s Status) Next() []Status {
	return append([]Status(nil), transitions[s]...)
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, n := range transitions[s] {
		if n == to {
			return true
		}
	}
	return false
}

// CheckTransition validates from -> to without mutating anything.
func CheckTransition(from, to Status) error {
	if from.Terminal() {
		return fmt.Errorf("%w: status %s", ErrOrderFinalized, from)
	}
	if from == to {
		return fmt.Errorf("%w: %s", ErrNoOpTransition, to)
	}
	if !from.CanTransitionTo(to) {
		return &TransitionError{From: from, To: to, Allowed: from.Next()}
	}
	return nil
}

// Effect is the inventory side effect a transition carries.
type Effect int

const (
	EffectNone Effect = iota
	EffectRelease
	EffectConfirm
)

func (e Effect) String() string {
	switch e {
	case EffectRelease:
		return "release"
	case EffectConfirm:
		return "confirm"
	default:
		return "none"
	}
}
