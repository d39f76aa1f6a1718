// Package transcription runs the primary and fallback STT engines under a
// retry policy and scores the winning transcript.
package transcription

import (
	"errors"
	"fmt"
)

// State represents the lifecycle state of one transcription run.
type State int

const (
	// StateInit - nothing attempted yet.
	StateInit State = iota
	// StateTryPrimary - primary engine attempts in progress (with retries).
	StateTryPrimary
	// StateTryFallback - primary exhausted, fallback running once.
	StateTryFallback
	// StateSuccess - an engine produced non-empty text. Terminal.
	StateSuccess
	// StateFailed - no engine produced text. Terminal.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateTryPrimary:
		return "TRY_PRIMARY"
	case StateTryFallback:
		return "TRY_FALLBACK"
	case StateSuccess:
		return "SUCCESS"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (SUCCESS or FAILED).
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFailed
}

// ErrInvalidTransition is returned when a transition is not allowed from the current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// Lifecycle manages the state machine for a single run. It is owned by one
// Transcribe call and is not safe for concurrent use.
//
// State transitions:
//
//	INIT → TRY_PRIMARY → SUCCESS
//	            │
//	            └──→ TRY_FALLBACK → SUCCESS
//	                      │
//	                      └──→ FAILED
//
// TRY_PRIMARY may also go straight to FAILED when no fallback is configured.
type Lifecycle struct {
	state   State
	history []State
}

var transitions = map[State][]State{
	StateInit:        {StateTryPrimary},
	StateTryPrimary:  {StateSuccess, StateTryFallback, StateFailed},
	StateTryFallback: {StateSuccess, StateFailed},
}

// NewLifecycle creates a new lifecycle in INIT state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateInit, history: []State{StateInit}}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	return l.state
}

// History returns every state visited, in order.
func (l *Lifecycle) History() []State {
	return append([]State(nil), l.history...)
}

// Transition moves to next if the edge is allowed.
func (l *Lifecycle) Transition(next State) error {
	for _, allowed := range transitions[l.state] {
		if allowed == next {
			l.state = next
			l.history = append(l.history, next)
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, l.state, next)
}

// Path renders the visited states, e.g. ["INIT", "TRY_PRIMARY", "SUCCESS"].
func (l *Lifecycle) Path() []string {
	out := make([]string, len(l.history))
	for i, s := range l.history {
		out[i] = s.String()
	}
	return out
}
