package model

import (
	"errors"
	"testing"
)

func TestStateFolderMapping(t *testing.T) {
	tests := []struct {
		state  State
		folder string
	}{
		{StateEntry, "Entry"},
		{StateReady, "Ready"},
		{StatePlanning, "Planning"},
		{StatePendingApproval, "Pending-Approval"},
		{StateApproved, "Approved"},
		{StateRejected, "Rejected"},
		{StateComplete, "Complete"},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.Folder(); got != tt.folder {
				t.Errorf("Folder() = %q, want %q", got, tt.folder)
			}
			s, ok := StateFromFolder(tt.folder)
			if !ok || s != tt.state {
				t.Errorf("StateFromFolder(%q) = %q, %v", tt.folder, s, ok)
			}
		})
	}
}

func TestStateFromFolder_CaseSensitive(t *testing.T) {
	for _, name := range []string{"entry", "ENTRY", "pending-approval", "complete "} {
		if _, ok := StateFromFolder(name); ok {
			t.Errorf("StateFromFolder(%q) matched, want no match", name)
		}
	}
}

func TestValidateTransition_Allowed(t *testing.T) {
	tests := []struct {
		from, to State
		actor    Actor
	}{
		{StateEntry, StateReady, ActorSystem},
		{StateReady, StatePlanning, ActorSystem},
		{StatePlanning, StatePendingApproval, ActorSystem},
		{StatePlanning, StateReady, ActorSystem},
		{StatePendingApproval, StateApproved, ActorHuman},
		{StatePendingApproval, StateRejected, ActorHuman},
		{StateApproved, StateComplete, ActorSystem},
		{StateApproved, StateRejected, ActorSystem},
		{StateRejected, StateEntry, ActorHuman},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			if err := ValidateTransition(tt.from, tt.to); err != nil {
				t.Fatalf("ValidateTransition(%q, %q) = %v, want nil", tt.from, tt.to, err)
			}
			actor, ok := RequiredActor(tt.from, tt.to)
			if !ok || actor != tt.actor {
				t.Errorf("RequiredActor(%q, %q) = %q, %v; want %q", tt.from, tt.to, actor, ok, tt.actor)
			}
		})
	}
}

// Every (from, to) pair not in the matrix must be rejected — including jumps
// to Approved/Complete bypassing Pending-Approval and anything out of Complete.
func TestValidateTransition_NegativeSpace(t *testing.T) {
	allowed := map[State]map[State]bool{
		StateEntry:           {StateReady: true},
		StateReady:           {StatePlanning: true},
		StatePlanning:        {StatePendingApproval: true, StateReady: true},
		StatePendingApproval: {StateApproved: true, StateRejected: true},
		StateApproved:        {StateComplete: true, StateRejected: true},
		StateRejected:        {StateEntry: true},
	}
	for _, from := range AllStates() {
		for _, to := range AllStates() {
			if from == to || allowed[from][to] {
				continue
			}
			err := ValidateTransition(from, to)
			if err == nil {
				t.Errorf("ValidateTransition(%q, %q) = nil, want error", from, to)
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("ValidateTransition(%q, %q) error %v not ErrInvalidTransition", from, to, err)
			}
		}
	}
}

func TestValidateTransition_SameStateAlwaysPermitted(t *testing.T) {
	for _, s := range AllStates() {
		if err := ValidateTransition(s, s); err != nil {
			t.Errorf("ValidateTransition(%q, %q) = %v, want nil", s, s, err)
		}
	}
}

func TestValidateTransition_UnknownState(t *testing.T) {
	if err := ValidateTransition(State("archived"), StateReady); err == nil {
		t.Error("expected error for unknown from-state")
	}
	if err := ValidateTransition(StateReady, State("archived")); err == nil {
		t.Error("expected error for unknown to-state")
	}
}

func TestHumanRequired(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StatePendingApproval, StateApproved, true},
		{StatePendingApproval, StateRejected, true},
		{StateRejected, StateEntry, true},
		{StateEntry, StateReady, false},
		{StateApproved, StateComplete, false},
	}
	for _, tt := range tests {
		if got := HumanRequired(tt.from, tt.to); got != tt.want {
			t.Errorf("HumanRequired(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range AllStates() {
		want := s == StateComplete
		if got := IsTerminal(s); got != want {
			t.Errorf("IsTerminal(%q) = %v, want %v", s, got, want)
		}
	}
}
