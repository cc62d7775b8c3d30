package model

import (
	"fmt"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

const (
	CurrentSchemaVersion = 1
	TaskFileType         = "task"
)

// Task is the file-backed unit of work. The folder a task file lives in is
// its authoritative state; the header duplicates that state for fast reads
// and is reconciled by the verifier whenever the two diverge.
type Task struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
	ID            string `yaml:"id"`
	State         State  `yaml:"state"`
	Priority      int    `yaml:"priority"`
	CreatedAt     string `yaml:"created_at"`
	UpdatedAt     string `yaml:"updated_at"`

	Metadata map[string]string `yaml:"metadata,omitempty"`
	Approval *ApprovalRequest  `yaml:"approval,omitempty"`

	// LastError carries full context for the most recent failure that touched
	// this task, so an operator can answer "what happened" from the file alone.
	LastError *string `yaml:"last_error,omitempty"`

	// UnloggedTransition marks a committed move whose audit append failed.
	// Set so a human can reconcile the audit trail later.
	UnloggedTransition bool `yaml:"unlogged_transition,omitempty"`

	Body string `yaml:"body,omitempty"`
}

// NewTask builds a task record in the given state with a fresh ID.
func NewTask(state State, priority int, body string) (*Task, error) {
	id, err := GenerateTaskID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	return &Task{
		SchemaVersion: CurrentSchemaVersion,
		FileType:      TaskFileType,
		ID:            id,
		State:         state,
		Priority:      priority,
		CreatedAt:     now,
		UpdatedAt:     now,
		Body:          body,
	}, nil
}

// Validate checks the required header fields. A task failing validation is
// rejected at the intake boundary, never silently dropped.
func (t *Task) Validate() error {
	if t.SchemaVersion < 1 {
		return fmt.Errorf("invalid schema_version %d (must be >= 1)", t.SchemaVersion)
	}
	if t.SchemaVersion > CurrentSchemaVersion {
		return fmt.Errorf("unsupported schema_version %d (max supported: %d)", t.SchemaVersion, CurrentSchemaVersion)
	}
	if t.FileType != TaskFileType {
		return fmt.Errorf("file_type mismatch: got %q, expected %q", t.FileType, TaskFileType)
	}
	if !ValidTaskID(t.ID) {
		return fmt.Errorf("invalid task id: %q", t.ID)
	}
	if !ValidState(t.State) {
		return fmt.Errorf("unknown state: %q", t.State)
	}
	created, err := time.Parse(time.RFC3339, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("parse created_at: %w", err)
	}
	updated, err := time.Parse(time.RFC3339, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("parse updated_at: %w", err)
	}
	if updated.Before(created) {
		return fmt.Errorf("updated_at %s before created_at %s", t.UpdatedAt, t.CreatedAt)
	}
	return nil
}

// Bytes serializes the task to its canonical YAML file form.
func (t *Task) Bytes() ([]byte, error) {
	data, err := yamlv3.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("yaml marshal task: %w", err)
	}
	return data, nil
}

// TaskFromBytes parses and validates a task file's content.
func TaskFromBytes(data []byte) (*Task, error) {
	var t Task
	if err := yamlv3.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse task yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Touch bumps updated_at to now.
func (t *Task) Touch() {
	t.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// SetError records failure context on the task header.
func (t *Task) SetError(msg string) {
	t.LastError = &msg
	t.Touch()
}

// Filename returns the task's on-disk file name within a state folder.
func (t *Task) Filename() string {
	return t.ID + ".yaml"
}
