// Package registry tracks model versions, their lifecycle state, and the
// promotion/rollback history. It is the only component that mutates a
// version's state.
package registry

import "fmt"

// LifecycleState is the lifecycle state of a model version.
type LifecycleState string

const (
	StateDraft    LifecycleState = "draft"
	StateTested   LifecycleState = "tested"
	StateActive   LifecycleState = "active"
	StateArchived LifecycleState = "archived"
)

// Valid reports whether s is a known lifecycle state.
func (s LifecycleState) Valid() bool {
	switch s {
	case StateDraft, StateTested, StateActive, StateArchived:
		return true
	}
	return false
}

// TransitionRule is one permitted edge in the lifecycle graph.
type TransitionRule struct {
	From LifecycleState
	To   LifecycleState
}

// Transitions is the complete edge set. There are no self-loops: promoting
// the already-active version is an invalid transition, and archived
// versions leave that state only through the rollback/promote path.
var Transitions = []TransitionRule{
	{From: StateDraft, To: StateTested},
	{From: StateTested, To: StateActive},
	{From: StateActive, To: StateArchived},
	{From: StateArchived, To: StateActive},
}

// TransitionError reports an attempted lifecycle transition outside the
// rule table.
type TransitionError struct {
	From LifecycleState
	To   LifecycleState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid lifecycle transition %s -> %s", e.From, e.To)
}

// Lifecycle validates state transitions against the rule table.
type Lifecycle struct {
	rules []TransitionRule
}

// NewLifecycle returns a machine over the default transition table.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{rules: Transitions}
}

// ValidateTransition returns nil when from -> to is a permitted edge, and a
// *TransitionError otherwise.
func (m *Lifecycle) ValidateTransition(from, to LifecycleState) error {
	for _, r := range m.rules {
		if r.From == from && r.To == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}
