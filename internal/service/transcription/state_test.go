package transcription

import (
	"errors"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle()

	if lc.State() != StateInit {
		t.Errorf("expected StateInit, got %v", lc.State())
	}
	if lc.State().IsTerminal() {
		t.Error("expected INIT to be non-terminal")
	}
}

func TestLifecycle_ValidPaths(t *testing.T) {
	tests := []struct {
		name string
		path []State
	}{
		{"primary success", []State{StateTryPrimary, StateSuccess}},
		{"fallback success", []State{StateTryPrimary, StateTryFallback, StateSuccess}},
		{"both fail", []State{StateTryPrimary, StateTryFallback, StateFailed}},
		{"no fallback", []State{StateTryPrimary, StateFailed}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewLifecycle()
			for _, s := range tt.path {
				if err := lc.Transition(s); err != nil {
					t.Fatalf("transition to %v: %v", s, err)
				}
			}
			if !lc.State().IsTerminal() {
				t.Errorf("expected terminal state, got %v", lc.State())
			}
			if got := len(lc.History()); got != len(tt.path)+1 {
				t.Errorf("expected %d history entries, got %d", len(tt.path)+1, got)
			}
		})
	}
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []State
		bad  State
	}{
		{"skip primary", nil, StateTryFallback},
		{"init to success", nil, StateSuccess},
		{"fallback back to primary", []State{StateTryPrimary, StateTryFallback}, StateTryPrimary},
		{"fallback twice", []State{StateTryPrimary, StateTryFallback}, StateTryFallback},
		{"leave success", []State{StateTryPrimary, StateSuccess}, StateTryFallback},
		{"leave failed", []State{StateTryPrimary, StateFailed}, StateSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewLifecycle()
			for _, s := range tt.path {
				if err := lc.Transition(s); err != nil {
					t.Fatalf("setup transition to %v: %v", s, err)
				}
			}
			before := lc.State()
			if err := lc.Transition(tt.bad); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
			if lc.State() != before {
				t.Errorf("state changed on invalid transition: %v → %v", before, lc.State())
			}
		})
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateInit, "INIT"},
		{StateTryPrimary, "TRY_PRIMARY"},
		{StateTryFallback, "TRY_FALLBACK"},
		{StateSuccess, "SUCCESS"},
		{StateFailed, "FAILED"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.expected)
		}
	}
}

func TestLifecycle_Path(t *testing.T) {
	lc := NewLifecycle()
	for _, s := range []State{StateTryPrimary, StateTryFallback, StateSuccess} {
		if err := lc.Transition(s); err != nil {
			t.Fatalf("transition to %v: %v", s, err)
		}
	}

	want := []string{"INIT", "TRY_PRIMARY", "TRY_FALLBACK", "SUCCESS"}
	got := lc.Path()
	if len(got) != len(want) {
		t.Fatalf("Path() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Path()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
