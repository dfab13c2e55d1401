package router

import (
	"errors"
	"fmt"
	"strings"
)

// State is a step of the per-turn routing state machine:
//
//	Idle -> Classifying -> Delegated -> AwaitingAgentResult -> Idle
//	                ^                          |
//	                +------- incomplete -------+
//
// Any step can move to Failed.
type State string

const (
	StateIdle                State = "idle"
	StateClassifying         State = "classifying"
	StateDelegated           State = "delegated"
	StateAwaitingAgentResult State = "awaiting_agent_result"
	StateFailed              State = "failed"
)

// Transition is reported to an Observer on every state change.
type Transition struct {
	ThreadID string
	From     State
	To       State

	// Agent is the worker involved, if any.
	Agent string

	// Hop is the number of re-routes so far in this turn.
	Hop int
}

// Observer watches routing transitions.
type Observer interface {
	OnTransition(t Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(t Transition)

// OnTransition calls f.
func (f ObserverFunc) OnTransition(t Transition) { f(t) }

// ErrRoutingLoop matches every *RoutingLoopError.
var ErrRoutingLoop = errors.New("router: routing loop")

// RoutingLoopError is returned when a turn needs more re-routes than the
// configured bound.
type RoutingLoopError struct {
	ThreadID string
	MaxHops  int
	Attempts []Attempt
}

func (e *RoutingLoopError) Error() string {
	names := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		names[i] = a.Agent
	}
	return fmt.Sprintf("router: routing loop in thread %s: exceeded %d hops (%s)",
		e.ThreadID, e.MaxHops, strings.Join(names, " -> "))
}

// Is makes errors.Is(err, ErrRoutingLoop) work.
func (e *RoutingLoopError) Is(target error) bool {
	return target == ErrRoutingLoop
}
