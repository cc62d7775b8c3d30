package machine

import (
	"errors"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foldergate/internal/approval"
	"foldergate/internal/audit"
	"foldergate/internal/fsops"
	"foldergate/internal/lock"
	"foldergate/internal/model"
	"foldergate/internal/vault"
)

func newTestMachine(t *testing.T) (string, *Machine, *audit.Logger) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, vault.Init(root, "test"))

	auditor, err := audit.New(vault.LogsDir(root))
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditor.Close() })

	cfg := model.DefaultConfig()
	m := New(root, cfg, auditor, lock.NewMutexMap(), log.New(io.Discard, "", 0))
	return root, m, auditor
}

func mustAdvance(t *testing.T, m *Machine, taskID string, to model.State, actor model.Actor) {
	t.Helper()
	_, err := m.Execute(TransitionRequest{TaskID: taskID, To: to, Actor: actor, Reason: "test"})
	require.NoError(t, err)
}

// Clean content flows Entry → Ready → Planning → Ready without ever creating
// an approval request.
func TestLifecycle_CleanContent(t *testing.T) {
	root, m, _ := newTestMachine(t)

	task, err := m.CreateTask(1, "summarize the weekly report", nil)
	require.NoError(t, err)

	mustAdvance(t, m, task.ID, model.StateReady, model.ActorSystem)
	mustAdvance(t, m, task.ID, model.StatePlanning, model.ActorSystem)

	to, err := m.CompletePlanning(task.ID, "plan drafted")
	require.NoError(t, err)
	assert.Equal(t, model.StateReady, to)

	state, path, err := vault.FindTask(root, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateReady, state)

	loaded, _, err := vault.LoadTask(path)
	require.NoError(t, err)
	assert.Nil(t, loaded.Approval, "clean content must never grow an approval request")
	assert.Equal(t, model.StateReady, loaded.State)
}

// Sensitive content is diverted into Pending-Approval with an embedded
// request, granted by a human, and only then allowed through to Complete.
func TestLifecycle_SensitiveApprovedAndCompleted(t *testing.T) {
	root, m, _ := newTestMachine(t)

	task, err := m.CreateTask(1, "make a payment of $500 to the vendor", nil)
	require.NoError(t, err)
	mustAdvance(t, m, task.ID, model.StateReady, model.ActorSystem)
	mustAdvance(t, m, task.ID, model.StatePlanning, model.ActorSystem)

	to, err := m.CompletePlanning(task.ID, "plan ready for review")
	require.NoError(t, err)
	assert.Equal(t, model.StatePendingApproval, to)

	_, path, err := vault.FindTask(root, task.ID)
	require.NoError(t, err)
	pending, _, err := vault.LoadTask(path)
	require.NoError(t, err)
	require.NotNil(t, pending.Approval)
	assert.Equal(t, model.ActionMakePayment, pending.Approval.ActionType)
	assert.Equal(t, model.RiskHigh, pending.Approval.RiskLevel)
	assert.Equal(t, model.DecisionPending, pending.Approval.Decision)

	_, err = m.Execute(TransitionRequest{
		TaskID:   task.ID,
		To:       model.StateApproved,
		Actor:    model.ActorHuman,
		Reason:   "reviewed and cleared",
		Approver: "alex",
	})
	require.NoError(t, err)

	ok, err := m.IsApproved(task.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	mustAdvance(t, m, task.ID, model.StateComplete, model.ActorSystem)

	state, path, err := vault.FindTask(root, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateComplete, state)

	done, _, err := vault.LoadTask(path)
	require.NoError(t, err)
	require.NotNil(t, done.Approval)
	assert.Equal(t, model.DecisionApproved, done.Approval.Decision)
	require.NotNil(t, done.Approval.Approver)
	assert.Equal(t, "alex", *done.Approval.Approver)
}

// A file sitting in Approved without a recorded decision fails the
// two-condition gate: the transition is refused, the task flagged, and a
// critical bypass entry logged.
func TestBypassAttempt_FileInApprovedWithoutDecision(t *testing.T) {
	root, m, auditor := newTestMachine(t)

	task, err := model.NewTask(model.StateApproved, 1, "make a payment of $10")
	require.NoError(t, err)
	require.NoError(t, vault.SaveTask(vault.TaskPath(root, model.StateApproved, task.ID), task))

	_, err = m.Execute(TransitionRequest{TaskID: task.ID, To: model.StateComplete, Actor: model.ActorSystem})
	require.Error(t, err)
	assert.ErrorIs(t, err, approval.ErrApprovalBypass)

	// Task stays in Approved, flagged.
	state, path, err := vault.FindTask(root, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateApproved, state)
	flagged, _, err := vault.LoadTask(path)
	require.NoError(t, err)
	assert.Contains(t, flagged.Metadata, "bypass_attempt_at")

	entries, err := audit.Query(auditor.Dir(), time.Time{}, time.Now().UTC(), task.ID)
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if e.Action == audit.ActionBypassAttempt {
			found = true
			assert.Equal(t, audit.SeverityCritical, e.Severity)
			assert.Equal(t, audit.ResultFailure, e.Result)
		}
	}
	assert.True(t, found, "bypass attempt must be logged")
}

// Editing metadata to decision=approved while the file sits outside Approved
// still fails the gate.
func TestBypassAttempt_MetadataOnly(t *testing.T) {
	root, m, _ := newTestMachine(t)

	task, err := model.NewTask(model.StatePendingApproval, 1, "delete all records from staging")
	require.NoError(t, err)
	task.Approval = &model.ApprovalRequest{
		TaskID:      task.ID,
		ActionType:  model.ActionDeleteData,
		RiskLevel:   model.RiskHigh,
		RequestedAt: task.CreatedAt,
		Decision:    model.DecisionApproved, // forged
	}
	require.NoError(t, vault.SaveTask(vault.TaskPath(root, model.StatePendingApproval, task.ID), task))

	ok, err := m.IsApproved(task.ID)
	require.NoError(t, err)
	assert.False(t, ok, "decision metadata alone must not satisfy the gate")
}

// Human-only matrix edges reject system callers before any filesystem change.
func TestActorEnforcement(t *testing.T) {
	root, m, _ := newTestMachine(t)

	task, err := model.NewTask(model.StatePendingApproval, 1, "send an email to the customer")
	require.NoError(t, err)
	task.Approval = &model.ApprovalRequest{
		TaskID:      task.ID,
		ActionType:  model.ActionSendMessage,
		RiskLevel:   model.RiskMedium,
		RequestedAt: task.CreatedAt,
		Decision:    model.DecisionPending,
	}
	require.NoError(t, vault.SaveTask(vault.TaskPath(root, model.StatePendingApproval, task.ID), task))

	_, err = m.Execute(TransitionRequest{TaskID: task.ID, To: model.StateApproved, Actor: model.ActorSystem})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrActorRequired)

	state, _, err := vault.FindTask(root, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatePendingApproval, state, "file must not move on actor rejection")
}

func TestInvalidTransition_NoFileTouched(t *testing.T) {
	root, m, _ := newTestMachine(t)

	task, err := m.CreateTask(0, "hello", nil)
	require.NoError(t, err)

	_, err = m.Execute(TransitionRequest{TaskID: task.ID, To: model.StateComplete, Actor: model.ActorSystem})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	state, _, err := vault.FindTask(root, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateEntry, state)
}

// A failed move leaves the task in its pre-transition folder with the error
// recorded in its header.
func TestMoveFailure_TaskStaysWithErrorContext(t *testing.T) {
	root, m, _ := newTestMachine(t)

	task, err := m.CreateTask(0, "routine cleanup", nil)
	require.NoError(t, err)

	// Occupy the destination path so the rename is refused.
	dst := vault.TaskPath(root, model.StateReady, task.ID)
	require.NoError(t, os.WriteFile(dst, []byte("squatter"), 0644))

	_, err = m.Execute(TransitionRequest{TaskID: task.ID, To: model.StateReady, Actor: model.ActorSystem})
	require.Error(t, err)
	assert.ErrorIs(t, err, fsops.ErrDestinationExists)

	// Still in Entry, with error context attached.
	path := vault.TaskPath(root, model.StateEntry, task.ID)
	stayed, _, err := vault.LoadTask(path)
	require.NoError(t, err)
	require.NotNil(t, stayed.LastError)
	assert.Contains(t, *stayed.LastError, "transition to ready failed")
}

// A failed Planning → Pending-Approval move must not leave the Planning file
// carrying an approval request it never earned.
func TestMoveFailure_NoApprovalRequestPersisted(t *testing.T) {
	root, m, _ := newTestMachine(t)

	task, err := model.NewTask(model.StatePlanning, 1, "make a payment of $500 to the vendor")
	require.NoError(t, err)
	require.NoError(t, vault.SaveTask(vault.TaskPath(root, model.StatePlanning, task.ID), task))

	dst := vault.TaskPath(root, model.StatePendingApproval, task.ID)
	require.NoError(t, os.WriteFile(dst, []byte("squatter"), 0644))

	_, err = m.Execute(TransitionRequest{TaskID: task.ID, To: model.StatePendingApproval, Actor: model.ActorSystem})
	require.Error(t, err)
	assert.ErrorIs(t, err, fsops.ErrDestinationExists)

	stayed, _, err := vault.LoadTask(vault.TaskPath(root, model.StatePlanning, task.ID))
	require.NoError(t, err)
	assert.Nil(t, stayed.Approval, "approval request must not survive a failed move")
	require.NotNil(t, stayed.LastError)
	assert.Contains(t, *stayed.LastError, "transition to pending_approval failed")
}

// A failed human grant must not leave the Pending-Approval file claiming an
// approved decision.
func TestMoveFailure_NoDecisionPersisted(t *testing.T) {
	root, m, _ := newTestMachine(t)

	task, err := model.NewTask(model.StatePendingApproval, 1, "wire transfer to close the invoice")
	require.NoError(t, err)
	task.Approval = &model.ApprovalRequest{
		TaskID:      task.ID,
		ActionType:  model.ActionMakePayment,
		RiskLevel:   model.RiskHigh,
		RequestedAt: task.CreatedAt,
		Decision:    model.DecisionPending,
	}
	require.NoError(t, vault.SaveTask(vault.TaskPath(root, model.StatePendingApproval, task.ID), task))

	dst := vault.TaskPath(root, model.StateApproved, task.ID)
	require.NoError(t, os.WriteFile(dst, []byte("squatter"), 0644))

	_, err = m.Execute(TransitionRequest{
		TaskID:   task.ID,
		To:       model.StateApproved,
		Actor:    model.ActorHuman,
		Approver: "alex",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, fsops.ErrDestinationExists)

	stayed, _, err := vault.LoadTask(vault.TaskPath(root, model.StatePendingApproval, task.ID))
	require.NoError(t, err)
	require.NotNil(t, stayed.Approval)
	assert.Equal(t, model.DecisionPending, stayed.Approval.Decision, "decision must stay pending after a failed move")
	assert.Nil(t, stayed.Approval.ApprovedAt)
	assert.Nil(t, stayed.Approval.Approver)
	require.NotNil(t, stayed.LastError)
}

// While the halt latch is set, every transition and creation is refused.
func TestHaltLatch_RefusesTransitions(t *testing.T) {
	root, m, _ := newTestMachine(t)

	task, err := m.CreateTask(0, "before the halt", nil)
	require.NoError(t, err)

	require.NoError(t, audit.RaiseHalt(vault.LogsDir(root), "hash chain mismatch in audit-2026-08-27.jsonl"))

	_, err = m.Execute(TransitionRequest{TaskID: task.ID, To: model.StateReady, Actor: model.ActorSystem})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHalted)
	assert.Contains(t, err.Error(), "hash chain mismatch")

	_, err = m.CreateTask(0, "during the halt", nil)
	assert.ErrorIs(t, err, ErrHalted)

	require.NoError(t, audit.ClearHalt(vault.LogsDir(root)))
	mustAdvance(t, m, task.ID, model.StateReady, model.ActorSystem)
}

func TestForcedPendingApproval_CleanContentRejected(t *testing.T) {
	root, m, _ := newTestMachine(t)

	task, err := model.NewTask(model.StatePlanning, 0, "tidy the workspace notes")
	require.NoError(t, err)
	require.NoError(t, vault.SaveTask(vault.TaskPath(root, model.StatePlanning, task.ID), task))

	_, err = m.Execute(TransitionRequest{TaskID: task.ID, To: model.StatePendingApproval, Actor: model.ActorSystem})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotSensitive)
}

// Same-state request is a metadata-only touch: no move, updated_at bumped.
func TestSameState_MetadataUpdate(t *testing.T) {
	root, m, _ := newTestMachine(t)

	task, err := m.CreateTask(0, "note", nil)
	require.NoError(t, err)

	path := vault.TaskPath(root, model.StateEntry, task.ID)
	before, _, err := vault.LoadTask(path)
	require.NoError(t, err)

	_, err = m.Execute(TransitionRequest{TaskID: task.ID, To: model.StateEntry, Actor: model.ActorSystem, Reason: "touch"})
	require.NoError(t, err)

	after, _, err := vault.LoadTask(path)
	require.NoError(t, err)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
	assert.Equal(t, model.StateEntry, after.State)
}

// A human denial records the rejected decision and routes to Rejected; the
// human may then retry via Rejected → Entry.
func TestRejectionAndRetry(t *testing.T) {
	root, m, _ := newTestMachine(t)

	task, err := m.CreateTask(1, "post publicly about the launch", nil)
	require.NoError(t, err)
	mustAdvance(t, m, task.ID, model.StateReady, model.ActorSystem)
	mustAdvance(t, m, task.ID, model.StatePlanning, model.ActorSystem)

	to, err := m.CompletePlanning(task.ID, "draft ready")
	require.NoError(t, err)
	require.Equal(t, model.StatePendingApproval, to)

	_, err = m.Execute(TransitionRequest{
		TaskID:   task.ID,
		To:       model.StateRejected,
		Actor:    model.ActorHuman,
		Reason:   "tone is off",
		Approver: "sam",
	})
	require.NoError(t, err)

	_, path, err := vault.FindTask(root, task.ID)
	require.NoError(t, err)
	rejected, _, err := vault.LoadTask(path)
	require.NoError(t, err)
	require.NotNil(t, rejected.Approval)
	assert.Equal(t, model.DecisionRejected, rejected.Approval.Decision)

	mustAdvance(t, m, task.ID, model.StateEntry, model.ActorHuman)
	state, _, err := vault.FindTask(root, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateEntry, state)
}

func TestGetCurrentState_UnknownTask(t *testing.T) {
	_, m, _ := newTestMachine(t)
	_, err := m.GetCurrentState("task_1700000000_deadbeef")
	require.Error(t, err)
}

// Terminal state: nothing leaves Complete, not even back to Entry.
func TestCompleteIsTerminal(t *testing.T) {
	root, m, _ := newTestMachine(t)

	task, err := model.NewTask(model.StateComplete, 0, "done long ago")
	require.NoError(t, err)
	require.NoError(t, vault.SaveTask(vault.TaskPath(root, model.StateComplete, task.ID), task))

	for _, to := range model.AllStates() {
		if to == model.StateComplete {
			continue
		}
		_, err := m.Execute(TransitionRequest{TaskID: task.ID, To: to, Actor: model.ActorHuman})
		if !errors.Is(err, model.ErrInvalidTransition) {
			t.Errorf("complete → %s: got %v, want ErrInvalidTransition", to, err)
		}
	}
}

// Every successful transition appends a chained audit entry; the chain
// verifies end to end afterwards.
func TestAuditTrail_VerifiesAfterLifecycle(t *testing.T) {
	_, m, auditor := newTestMachine(t)

	task, err := m.CreateTask(1, "wire transfer to close the invoice", nil)
	require.NoError(t, err)
	mustAdvance(t, m, task.ID, model.StateReady, model.ActorSystem)
	mustAdvance(t, m, task.ID, model.StatePlanning, model.ActorSystem)
	_, err = m.CompletePlanning(task.ID, "ready for review")
	require.NoError(t, err)
	_, err = m.Execute(TransitionRequest{TaskID: task.ID, To: model.StateApproved, Actor: model.ActorHuman, Approver: "alex"})
	require.NoError(t, err)
	mustAdvance(t, m, task.ID, model.StateComplete, model.ActorSystem)

	failed, err := audit.VerifyAll(auditor.Dir())
	require.NoError(t, err)
	assert.Empty(t, failed)

	entries, err := audit.Query(auditor.Dir(), time.Time{}, time.Now().UTC(), task.ID)
	require.NoError(t, err)

	actions := make(map[string]int)
	for _, e := range entries {
		actions[e.Action]++
	}
	assert.GreaterOrEqual(t, actions[audit.ActionTransition], 5)
	assert.Equal(t, 1, actions[audit.ActionApprovalRequested])
	assert.Equal(t, 1, actions[audit.ActionApprovalResolved])
}

func TestListTasksInState(t *testing.T) {
	_, m, _ := newTestMachine(t)

	_, err := m.CreateTask(0, "a", nil)
	require.NoError(t, err)
	_, err = m.CreateTask(0, "b", nil)
	require.NoError(t, err)

	tasks, err := m.ListTasksInState(model.StateEntry)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}
