package model

import (
	"errors"
	"fmt"
)

// State is the closed set of workflow states. A task's authoritative state is
// the folder it physically lives in; the declared state in its header must
// agree at all quiescent times.
type State string

const (
	StateEntry           State = "entry"
	StateReady           State = "ready"
	StatePlanning        State = "planning"
	StatePendingApproval State = "pending_approval"
	StateApproved        State = "approved"
	StateRejected        State = "rejected"
	StateComplete        State = "complete"
)

// Actor identifies who drives a transition.
type Actor string

const (
	ActorSystem Actor = "system"
	ActorHuman  Actor = "human"
)

var ErrInvalidTransition = errors.New("invalid transition")

// stateFolders binds each state 1:1 to its on-disk folder name. The mapping
// is exact-match and case-sensitive; no state may be added at runtime.
var stateFolders = map[State]string{
	StateEntry:           "Entry",
	StateReady:           "Ready",
	StatePlanning:        "Planning",
	StatePendingApproval: "Pending-Approval",
	StateApproved:        "Approved",
	StateRejected:        "Rejected",
	StateComplete:        "Complete",
}

var folderStates = func() map[string]State {
	m := make(map[string]State, len(stateFolders))
	for s, f := range stateFolders {
		m[f] = s
	}
	return m
}()

// allStates is the stable enumeration order used for folder scans and reports.
var allStates = []State{
	StateEntry,
	StateReady,
	StatePlanning,
	StatePendingApproval,
	StateApproved,
	StateRejected,
	StateComplete,
}

// transitionMatrix is the complete set of permitted (from, to) pairs and the
// actor each pair requires. Pairs absent from the matrix are forbidden,
// including any jump to Approved/Complete that bypasses Pending-Approval and
// any transition out of Complete.
var transitionMatrix = map[State]map[State]Actor{
	StateEntry: {
		StateReady: ActorSystem, // validation passes
	},
	StateReady: {
		StatePlanning: ActorSystem, // planning begins
	},
	StatePlanning: {
		StatePendingApproval: ActorSystem, // sensitive action detected
		StateReady:           ActorSystem, // missing requirements found
	},
	StatePendingApproval: {
		StateApproved: ActorHuman, // human grants
		StateRejected: ActorHuman, // human denies
	},
	StateApproved: {
		StateComplete: ActorSystem, // execution succeeds
		StateRejected: ActorSystem, // execution hard-fails
	},
	StateRejected: {
		StateEntry: ActorHuman, // retry with revised approach
	},
}

func AllStates() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

func ValidState(s State) bool {
	_, ok := stateFolders[s]
	return ok
}

// Folder returns the on-disk folder name bound to the state.
func (s State) Folder() string {
	return stateFolders[s]
}

// StateFromFolder derives the state bound to a folder name. Exact-match,
// case-sensitive.
func StateFromFolder(name string) (State, bool) {
	s, ok := folderStates[name]
	return s, ok
}

// IsTerminal reports whether no transition may leave the state.
func IsTerminal(s State) bool {
	return s == StateComplete
}

// ValidateTransition reports whether (from, to) appears in the transition
// matrix. A same-state pair is always permitted (metadata-only update, no
// physical move). Pure: no I/O, no mutation.
func ValidateTransition(from, to State) error {
	if !ValidState(from) {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, from)
	}
	if !ValidState(to) {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, to)
	}
	if from == to {
		return nil
	}
	if IsTerminal(from) {
		return fmt.Errorf("%w: %q is terminal", ErrInvalidTransition, from)
	}
	if _, ok := transitionMatrix[from][to]; !ok {
		return fmt.Errorf("%w: %q → %q", ErrInvalidTransition, from, to)
	}
	return nil
}

// RequiredActor returns the actor the matrix demands for (from, to).
func RequiredActor(from, to State) (Actor, bool) {
	actor, ok := transitionMatrix[from][to]
	return actor, ok
}

// HumanRequired reports whether (from, to) mandates a human actor.
// Human-required pairs reject system callers before any filesystem I/O.
func HumanRequired(from, to State) bool {
	actor, ok := RequiredActor(from, to)
	return ok && actor == ActorHuman
}
