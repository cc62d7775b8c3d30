// Package audit provides the append-only, hash-chained audit trail. One JSONL
// file per calendar day; each entry's hash covers the previous entry's hash
// plus its own content, so tampering anywhere breaks the chain from that
// point forward.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"foldergate/internal/model"
)

type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPending Result = "pending"
)

// Action names the event category an entry records.
const (
	ActionTransition        = "transition"
	ActionMetadataUpdate    = "metadata_update"
	ActionApprovalRequested = "approval_requested"
	ActionApprovalResolved  = "approval_resolved"
	ActionBypassAttempt     = "approval_bypass_attempt"
	ActionInconsistency     = "state_inconsistency_resolved"
	ActionIntakeRejected    = "intake_rejected"
	ActionIntegrityFailure  = "log_integrity_violation"
	ActionError             = "error"
	ActionHaltRaised        = "halt_raised"
	ActionHaltCleared       = "halt_cleared"
)

// Entry is the atomic unit of the audit trail. Append-only: once written it
// is never modified.
type Entry struct {
	Timestamp      string            `json:"timestamp"`
	Severity       Severity          `json:"severity"`
	Action         string            `json:"action"`
	TaskID         string            `json:"task_id,omitempty"`
	From           model.State       `json:"from,omitempty"`
	To             model.State       `json:"to,omitempty"`
	Actor          model.Actor       `json:"actor,omitempty"`
	Result         Result            `json:"result"`
	ApprovalStatus string            `json:"approval_status,omitempty"`
	Error          string            `json:"error,omitempty"`
	Context        map[string]string `json:"context,omitempty"`
	PrevHash       string            `json:"prev_hash"`
	Hash           string            `json:"hash"`
}

// computeHash returns the chain hash for an entry: SHA-256 over the canonical
// JSON of the entry with its own hash field blanked. PrevHash is part of the
// hashed content, which is what links the chain.
func computeHash(e Entry) (string, error) {
	e.Hash = ""
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal entry for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// TransitionEntry builds the audit entry for a committed state transition.
func TransitionEntry(tr model.Transition, result Result) Entry {
	e := Entry{
		Timestamp: tr.Timestamp,
		Severity:  SeverityInfo,
		Action:    ActionTransition,
		TaskID:    tr.TaskID,
		From:      tr.From,
		To:        tr.To,
		Actor:     tr.Actor,
		Result:    result,
		Error:     tr.Error,
		Context:   map[string]string{"transition_id": tr.ID, "reason": tr.Reason},
	}
	if result == ResultFailure {
		e.Severity = SeverityError
	}
	return e
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
