package model

import (
	"time"

	"github.com/google/uuid"
)

// Transition is an immutable record of one state change. It is constructed by
// the state machine around the atomic move and persisted only inside the
// audit log — never mutated after creation.
type Transition struct {
	ID        string `yaml:"id" json:"id"`
	TaskID    string `yaml:"task_id" json:"task_id"`
	From      State  `yaml:"from" json:"from"`
	To        State  `yaml:"to" json:"to"`
	Timestamp string `yaml:"timestamp" json:"timestamp"`
	Reason    string `yaml:"reason" json:"reason"`
	Actor     Actor  `yaml:"actor" json:"actor"`
	Logged    bool   `yaml:"logged" json:"logged"`
	Error     string `yaml:"error,omitempty" json:"error,omitempty"`
}

// NewTransition builds a transition record with a fresh UUID and the current
// UTC timestamp.
func NewTransition(taskID string, from, to State, actor Actor, reason string) Transition {
	return Transition{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		From:      from,
		To:        to,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Reason:    reason,
		Actor:     actor,
	}
}
