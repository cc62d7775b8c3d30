// Package machine executes workflow transitions. Every mutating path is
// ordered so the atomic rename is the last state-changing step: a failure at
// any earlier point leaves the task exactly where it was, and a failure after
// the rename degrades to a flagged, recoverable inconsistency rather than a
// rollback.
package machine

import (
	"errors"
	"fmt"
	"log"
	"time"

	"foldergate/internal/approval"
	"foldergate/internal/audit"
	"foldergate/internal/fsops"
	"foldergate/internal/lock"
	"foldergate/internal/model"
	"foldergate/internal/notify"
	"foldergate/internal/vault"
)

var (
	// ErrActorRequired is raised when a human-mandatory transition is
	// attempted by the system. Raised before any filesystem I/O.
	ErrActorRequired = errors.New("transition requires human actor")

	// ErrHalted is returned while the vault-wide halt latch is set. No
	// transition proceeds until a human clears it.
	ErrHalted = errors.New("transitions halted pending human investigation")

	// ErrNotSensitive rejects a forced Planning→Pending-Approval move for a
	// task whose content gates nothing; an approval request must never exist
	// for a task with nothing to approve.
	ErrNotSensitive = errors.New("no sensitive action detected")
)

// TransitionRequest describes one requested state change.
type TransitionRequest struct {
	TaskID   string
	To       model.State
	Actor    model.Actor
	Reason   string
	Approver string // identity recorded on human approval decisions
}

// Machine validates and executes transitions against one vault.
type Machine struct {
	root    string
	cfg     model.Config
	auditor *audit.Logger
	locks   *lock.MutexMap
	logger  *log.Logger
}

func New(root string, cfg model.Config, auditor *audit.Logger, locks *lock.MutexMap, logger *log.Logger) *Machine {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &Machine{
		root:    root,
		cfg:     cfg,
		auditor: auditor,
		locks:   locks,
		logger:  logger,
	}
}

// ValidateTransition reports whether (from, to) is permitted. Pure.
func (m *Machine) ValidateTransition(from, to model.State) error {
	return model.ValidateTransition(from, to)
}

// GetCurrentState derives a task's state from its physical location by
// scanning the state folders. Cached metadata is never trusted here.
func (m *Machine) GetCurrentState(taskID string) (model.State, error) {
	state, _, err := vault.FindTask(m.root, taskID)
	return state, err
}

// ListTasksInState enumerates the tasks physically present in one state's
// folder.
func (m *Machine) ListTasksInState(state model.State) ([]*model.Task, error) {
	return vault.ListTasks(m.root, state)
}

// CreateTask writes a new task file into the Entry folder and logs the birth
// of the record.
func (m *Machine) CreateTask(priority int, body string, metadata map[string]string) (*model.Task, error) {
	if halted, reason := audit.Halted(vault.LogsDir(m.root)); halted {
		return nil, fmt.Errorf("%w: %s", ErrHalted, reason)
	}
	task, err := model.NewTask(model.StateEntry, priority, body)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		task.Metadata = metadata
	}
	if err := vault.SaveTask(vault.TaskPath(m.root, model.StateEntry, task.ID), task); err != nil {
		return nil, err
	}
	m.appendBestEffort(audit.Entry{
		Severity: audit.SeverityInfo,
		Action:   audit.ActionTransition,
		TaskID:   task.ID,
		To:       model.StateEntry,
		Actor:    model.ActorSystem,
		Result:   audit.ResultSuccess,
		Context:  map[string]string{"reason": "task created"},
	})
	m.logf("created task=%s", task.ID)
	return task, nil
}

// Execute performs one transition end to end: validate, check actorship,
// check the halt latch, verify the modification signature, move atomically,
// update metadata, log, and re-read the new location. On any failure before
// the move the task is untouched; after the move, metadata and log failures
// are flagged for the verifier instead of rolled back.
func (m *Machine) Execute(req TransitionRequest) (*model.Transition, error) {
	m.locks.Lock(req.TaskID)
	defer m.locks.Unlock(req.TaskID)

	if halted, reason := audit.Halted(vault.LogsDir(m.root)); halted {
		return nil, fmt.Errorf("%w: %s", ErrHalted, reason)
	}

	from, srcPath, err := vault.FindTask(m.root, req.TaskID)
	if err != nil {
		return nil, err
	}

	if err := model.ValidateTransition(from, req.To); err != nil {
		m.appendBestEffort(audit.Entry{
			Severity: audit.SeverityCritical,
			Action:   audit.ActionTransition,
			TaskID:   req.TaskID,
			From:     from,
			To:       req.To,
			Actor:    req.Actor,
			Result:   audit.ResultFailure,
			Error:    err.Error(),
		})
		return nil, err
	}

	if from == req.To {
		return nil, m.metadataUpdate(req, srcPath)
	}

	if model.HumanRequired(from, req.To) && req.Actor != model.ActorHuman {
		err := fmt.Errorf("%w: %q → %q attempted by %q", ErrActorRequired, from, req.To, req.Actor)
		m.appendBestEffort(audit.Entry{
			Severity: audit.SeverityCritical,
			Action:   audit.ActionTransition,
			TaskID:   req.TaskID,
			From:     from,
			To:       req.To,
			Actor:    req.Actor,
			Result:   audit.ResultFailure,
			Error:    err.Error(),
		})
		return nil, err
	}

	task, sig, err := vault.LoadTask(srcPath)
	if err != nil {
		return nil, err
	}
	if task.ID != req.TaskID {
		return nil, fmt.Errorf("task file %s declares id %q, expected %q", srcPath, task.ID, req.TaskID)
	}

	requestedApproval, err := m.intercept(task, from, req)
	if err != nil {
		return nil, err
	}

	dstPath := vault.TaskPath(m.root, req.To, task.ID)
	if err := fsops.Move(srcPath, dstPath, &sig); err != nil {
		m.recordMoveFailure(srcPath, from, req, err)
		return nil, err
	}

	// The move is committed. Everything below degrades instead of rolling back.
	task.State = req.To
	task.Touch()

	tr := model.NewTransition(task.ID, from, req.To, req.Actor, req.Reason)

	if err := vault.SaveTask(dstPath, task); err != nil {
		m.logf("metadata_update_failed task=%s error=%v", task.ID, err)
		m.appendBestEffort(audit.Entry{
			Severity: audit.SeverityError,
			Action:   audit.ActionError,
			TaskID:   task.ID,
			From:     from,
			To:       req.To,
			Result:   audit.ResultFailure,
			Error:    fmt.Sprintf("moved but metadata update failed: %v", err),
		})
		return nil, fmt.Errorf("task moved to %s but metadata update failed (verifier will reconcile): %w", req.To.Folder(), err)
	}

	tr.Logged = true
	if err := m.auditor.Append(audit.TransitionEntry(tr, audit.ResultSuccess)); err != nil {
		// A failed audit append never rolls back the committed move: flag the
		// task and raise an out-of-band alert so a human can reconcile.
		tr.Logged = false
		task.UnloggedTransition = true
		if saveErr := vault.SaveTask(dstPath, task); saveErr != nil {
			m.logf("unlogged_flag_write_failed task=%s error=%v", task.ID, saveErr)
		}
		if alertErr := notify.Alert(vault.LogsDir(m.root), "Audit Append Failed",
			fmt.Sprintf("transition %s → %s for task %s committed but not logged: %v", from, req.To, task.ID, err)); alertErr != nil {
			m.logf("alert_failed task=%s error=%v", task.ID, alertErr)
		}
	} else {
		m.appendApprovalEntries(task, from, req, requestedApproval)
	}

	// Re-read the new location before reporting success.
	verified, _, err := vault.LoadTask(dstPath)
	if err != nil {
		return &tr, fmt.Errorf("post-transition verification failed: %w", err)
	}
	if verified.State != req.To {
		return &tr, fmt.Errorf("post-transition verification: declared state %q does not match folder %q", verified.State, req.To)
	}

	m.logf("transition task=%s from=%s to=%s actor=%s", task.ID, from, req.To, req.Actor)
	return &tr, nil
}

// intercept applies the approval-gate rules that hang off specific matrix
// edges, mutating the in-memory task before the move. Returns whether a new
// approval request was attached.
func (m *Machine) intercept(task *model.Task, from model.State, req TransitionRequest) (bool, error) {
	switch {
	case from == model.StatePlanning && req.To == model.StatePendingApproval:
		c, required := approval.RequiresApproval(task)
		if !required {
			return false, fmt.Errorf("%w: task %s", ErrNotSensitive, task.ID)
		}
		task.Approval = approval.NewRequest(task, c)
		return true, nil

	case from == model.StatePendingApproval && req.To == model.StateApproved:
		if task.Approval == nil {
			return false, fmt.Errorf("task %s has no approval request to grant", task.ID)
		}
		now := time.Now().UTC().Format(time.RFC3339)
		task.Approval.Decision = model.DecisionApproved
		task.Approval.ApprovedAt = &now
		if req.Approver != "" {
			a := req.Approver
			task.Approval.Approver = &a
		}
		return false, nil

	case from == model.StatePendingApproval && req.To == model.StateRejected:
		if task.Approval != nil {
			task.Approval.Decision = model.DecisionRejected
			if req.Approver != "" {
				a := req.Approver
				task.Approval.Approver = &a
			}
		}
		return false, nil

	case from == model.StateApproved && req.To == model.StateComplete:
		if err := approval.CheckApproved(task, from); err != nil {
			m.recordBypassAttempt(task, from, req)
			return false, fmt.Errorf("%w: task %s is not fully approved", err, task.ID)
		}
		return false, nil
	}
	return false, nil
}

// appendApprovalEntries records the approval-lifecycle events that ride on
// top of a committed transition.
func (m *Machine) appendApprovalEntries(task *model.Task, from model.State, req TransitionRequest, requested bool) {
	switch {
	case requested:
		m.appendBestEffort(audit.Entry{
			Severity:       audit.SeverityInfo,
			Action:         audit.ActionApprovalRequested,
			TaskID:         task.ID,
			From:           from,
			To:             req.To,
			Actor:          req.Actor,
			Result:         audit.ResultPending,
			ApprovalStatus: string(model.DecisionPending),
			Context:        map[string]string{"action_type": string(task.Approval.ActionType), "risk_level": string(task.Approval.RiskLevel)},
		})

	case from == model.StatePendingApproval && (req.To == model.StateApproved || req.To == model.StateRejected):
		status := ""
		if task.Approval != nil {
			status = string(task.Approval.Decision)
		}
		ctx := map[string]string{}
		if req.Approver != "" {
			ctx["approver"] = req.Approver
		}
		m.appendBestEffort(audit.Entry{
			Severity:       audit.SeverityInfo,
			Action:         audit.ActionApprovalResolved,
			TaskID:         task.ID,
			From:           from,
			To:             req.To,
			Actor:          req.Actor,
			Result:         audit.ResultSuccess,
			ApprovalStatus: status,
			Context:        ctx,
		})
	}
}

// recordBypassAttempt flags the task and writes the critical audit entry for
// an attempted sensitive action without the approval gate holding.
func (m *Machine) recordBypassAttempt(task *model.Task, from model.State, req TransitionRequest) {
	if task.Metadata == nil {
		task.Metadata = make(map[string]string)
	}
	task.Metadata["bypass_attempt_at"] = time.Now().UTC().Format(time.RFC3339)
	if err := vault.SaveTask(vault.TaskPath(m.root, from, task.ID), task); err != nil {
		m.logf("bypass_flag_write_failed task=%s error=%v", task.ID, err)
	}

	status := ""
	if task.Approval != nil {
		status = string(task.Approval.Decision)
	}
	m.appendBestEffort(audit.Entry{
		Severity:       audit.SeverityCritical,
		Action:         audit.ActionBypassAttempt,
		TaskID:         task.ID,
		From:           from,
		To:             req.To,
		Actor:          req.Actor,
		Result:         audit.ResultFailure,
		ApprovalStatus: status,
		Error:          "sensitive action attempted without full approval",
	})
}

// recordMoveFailure leaves the task in its pre-transition folder with the
// error attached, so no failure path ever produces a "missing" task. The
// record is reloaded from disk first: mutations staged for after the move (a
// fresh approval request, a granted decision) must never be persisted for a
// transition that did not happen.
func (m *Machine) recordMoveFailure(srcPath string, from model.State, req TransitionRequest, cause error) {
	task, _, err := vault.LoadTask(srcPath)
	if err != nil {
		m.logf("error_flag_reload_failed task=%s error=%v", req.TaskID, err)
	} else {
		task.SetError(fmt.Sprintf("transition to %s failed: %v", req.To, cause))
		if err := vault.SaveTask(srcPath, task); err != nil {
			m.logf("error_flag_write_failed task=%s error=%v", task.ID, err)
		}
	}
	m.appendBestEffort(audit.Entry{
		Severity: audit.SeverityError,
		Action:   audit.ActionTransition,
		TaskID:   req.TaskID,
		From:     from,
		To:       req.To,
		Actor:    req.Actor,
		Result:   audit.ResultFailure,
		Error:    cause.Error(),
	})
}

// metadataUpdate handles the always-permitted same-state "transition": a
// header touch with no physical move. Logged only when configured.
func (m *Machine) metadataUpdate(req TransitionRequest, path string) error {
	task, _, err := vault.LoadTask(path)
	if err != nil {
		return err
	}
	task.Touch()
	if err := vault.SaveTask(path, task); err != nil {
		return err
	}
	if m.cfg.Logging.LogMetadataUpdates {
		m.appendBestEffort(audit.Entry{
			Severity: audit.SeverityInfo,
			Action:   audit.ActionMetadataUpdate,
			TaskID:   req.TaskID,
			From:     req.To,
			To:       req.To,
			Actor:    req.Actor,
			Result:   audit.ResultSuccess,
			Context:  map[string]string{"reason": req.Reason},
		})
	}
	return nil
}

// CompletePlanning routes a task out of Planning: sensitive content goes to
// Pending-Approval with an approval request attached, clean content flows
// straight back to Ready and no request is ever created.
func (m *Machine) CompletePlanning(taskID, reason string) (model.State, error) {
	state, path, err := vault.FindTask(m.root, taskID)
	if err != nil {
		return "", err
	}
	if state != model.StatePlanning {
		return "", fmt.Errorf("%w: task %s is in %q, not %q", model.ErrInvalidTransition, taskID, state, model.StatePlanning)
	}
	task, _, err := vault.LoadTask(path)
	if err != nil {
		return "", err
	}

	to := model.StateReady
	if _, required := approval.RequiresApproval(task); required {
		to = model.StatePendingApproval
	}
	if _, err := m.Execute(TransitionRequest{
		TaskID: taskID,
		To:     to,
		Actor:  model.ActorSystem,
		Reason: reason,
	}); err != nil {
		return "", err
	}
	return to, nil
}

// IsApproved applies the two-condition approval gate against the task's
// current physical location.
func (m *Machine) IsApproved(taskID string) (bool, error) {
	state, path, err := vault.FindTask(m.root, taskID)
	if err != nil {
		return false, err
	}
	task, _, err := vault.LoadTask(path)
	if err != nil {
		return false, err
	}
	return approval.IsApproved(task, state), nil
}

// appendBestEffort writes an audit entry where failure to log must not mask
// the original control-flow error.
func (m *Machine) appendBestEffort(e audit.Entry) {
	if err := m.auditor.Append(e); err != nil {
		m.logf("audit_append_failed action=%s task=%s error=%v", e.Action, e.TaskID, err)
	}
}

func (m *Machine) logf(format string, args ...any) {
	m.logger.Printf(format, args...)
}
