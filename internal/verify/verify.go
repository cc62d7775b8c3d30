// Package verify reconciles the two places a task's state is written down.
// The physical folder is authoritative: whenever a task's declared header
// state disagrees with the folder it lives in, the header is repaired to match
// and the resolution logged. The verifier also checks completion claims and
// the audit trail's hash chains, raising the vault-wide halt latch on
// integrity failure.
package verify

import (
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"foldergate/internal/audit"
	"foldergate/internal/lock"
	"foldergate/internal/model"
	"foldergate/internal/notify"
	"foldergate/internal/vault"
)

// Finding records one divergence the verifier observed, repaired or not.
type Finding struct {
	TaskID   string
	Path     string
	Folder   model.State
	Declared model.State
	Repaired bool
	Note     string
}

// Verifier runs consistency checks over one vault.
type Verifier struct {
	root    string
	auditor *audit.Logger
	locks   *lock.MutexMap
	group   singleflight.Group
	logger  *log.Logger
}

func New(root string, auditor *audit.Logger, locks *lock.MutexMap, logger *log.Logger) *Verifier {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &Verifier{
		root:    root,
		auditor: auditor,
		locks:   locks,
		logger:  logger,
	}
}

// VerifyStateConsistency checks one task's declared state against its
// physical location and repairs the header when they disagree. The location
// wins. Idempotent: a second run over a repaired task finds nothing.
func (v *Verifier) VerifyStateConsistency(taskID string) (*Finding, error) {
	v.locks.Lock(taskID)
	defer v.locks.Unlock(taskID)

	folder, path, err := vault.FindTask(v.root, taskID)
	if err != nil {
		return nil, err
	}
	task, _, err := vault.LoadTask(path)
	if err != nil {
		return nil, err
	}
	return v.reconcile(task, folder, path)
}

func (v *Verifier) reconcile(task *model.Task, folder model.State, path string) (*Finding, error) {
	if task.State == folder {
		return v.checkApproval(task, folder, path), nil
	}

	// A human approves or denies by dragging the file out of Pending-Approval;
	// the folder move IS the decision, so the verifier resolves the embedded
	// request to match.
	if task.State == model.StatePendingApproval &&
		(folder == model.StateApproved || folder == model.StateRejected) &&
		task.Approval != nil && task.Approval.Decision == model.DecisionPending {
		return v.resolveHumanMove(task, folder, path)
	}

	finding := &Finding{
		TaskID:   task.ID,
		Path:     path,
		Folder:   folder,
		Declared: task.State,
		Note:     "declared state repaired to match folder",
	}

	declared := task.State
	task.State = folder
	task.Touch()
	if err := vault.SaveTask(path, task); err != nil {
		finding.Note = "repair failed: " + err.Error()
		return finding, fmt.Errorf("repair task %s: %w", task.ID, err)
	}
	finding.Repaired = true

	if err := v.auditor.Append(audit.Entry{
		Severity: audit.SeverityWarn,
		Action:   audit.ActionInconsistency,
		TaskID:   task.ID,
		From:     declared,
		To:       folder,
		Actor:    model.ActorSystem,
		Result:   audit.ResultSuccess,
		Context:  map[string]string{"resolution": "folder is authoritative"},
	}); err != nil {
		v.logger.Printf("audit_append_failed action=%s task=%s error=%v", audit.ActionInconsistency, task.ID, err)
	}
	return finding, nil
}

// resolveHumanMove records the decision implied by a manual move out of
// Pending-Approval: decision set to match the folder, state header repaired,
// resolution logged with a human actor.
func (v *Verifier) resolveHumanMove(task *model.Task, folder model.State, path string) (*Finding, error) {
	decision := model.DecisionApproved
	if folder == model.StateRejected {
		decision = model.DecisionRejected
	}
	task.Approval.Decision = decision
	if decision == model.DecisionApproved {
		now := time.Now().UTC().Format(time.RFC3339)
		task.Approval.ApprovedAt = &now
	}
	declared := task.State
	task.State = folder
	task.Touch()

	finding := &Finding{
		TaskID:   task.ID,
		Path:     path,
		Folder:   folder,
		Declared: declared,
		Note:     fmt.Sprintf("human move resolved approval as %s", decision),
	}
	if err := vault.SaveTask(path, task); err != nil {
		finding.Note = "human move detected but repair failed: " + err.Error()
		return finding, fmt.Errorf("reconcile human decision on task %s: %w", task.ID, err)
	}
	finding.Repaired = true

	if err := v.auditor.Append(audit.Entry{
		Severity:       audit.SeverityInfo,
		Action:         audit.ActionApprovalResolved,
		TaskID:         task.ID,
		From:           declared,
		To:             folder,
		Actor:          model.ActorHuman,
		Result:         audit.ResultSuccess,
		ApprovalStatus: string(decision),
		Context:        map[string]string{"resolution": "manual folder move"},
	}); err != nil {
		v.logger.Printf("audit_append_failed action=%s task=%s error=%v", audit.ActionApprovalResolved, task.ID, err)
	}
	return finding, nil
}

// checkApproval flags a task whose approval decision disagrees with its
// folder — the signature of a manual move around the gate. Never repaired:
// the verifier does not fabricate or revoke human decisions, it reports them.
func (v *Verifier) checkApproval(task *model.Task, folder model.State, path string) *Finding {
	var note string
	switch {
	case folder == model.StateApproved && (task.Approval == nil || task.Approval.Decision != model.DecisionApproved):
		note = "task in Approved without an approved decision"
	case task.Approval != nil && task.Approval.Decision == model.DecisionApproved &&
		folder != model.StateApproved && folder != model.StateComplete:
		note = fmt.Sprintf("approved decision but task in %s", folder.Folder())
	default:
		return nil
	}

	if err := v.auditor.Append(audit.Entry{
		Severity: audit.SeverityWarn,
		Action:   audit.ActionInconsistency,
		TaskID:   task.ID,
		From:     folder,
		To:       folder,
		Actor:    model.ActorSystem,
		Result:   audit.ResultFailure,
		Error:    note,
	}); err != nil {
		v.logger.Printf("audit_append_failed action=%s task=%s error=%v", audit.ActionInconsistency, task.ID, err)
	}
	return &Finding{
		TaskID:   task.ID,
		Path:     path,
		Folder:   folder,
		Declared: task.State,
		Note:     note,
	}
}

// Sweep verifies every task in every state folder, repairing header
// divergence as it goes. Concurrent sweeps collapse into one run.
func (v *Verifier) Sweep() ([]Finding, error) {
	result, err, _ := v.group.Do("sweep", func() (any, error) {
		return v.sweep()
	})
	if err != nil {
		return nil, err
	}
	return result.([]Finding), nil
}

func (v *Verifier) sweep() ([]Finding, error) {
	var findings []Finding
	for _, state := range model.AllStates() {
		files, err := vault.ListTaskFiles(v.root, state)
		if err != nil {
			return findings, err
		}
		for _, path := range files {
			task, _, err := vault.LoadTask(path)
			if err != nil {
				findings = append(findings, Finding{
					Path:   path,
					Folder: state,
					Note:   "unreadable task file: " + err.Error(),
				})
				continue
			}
			v.locks.Lock(task.ID)
			f, err := v.reconcile(task, state, path)
			v.locks.Unlock(task.ID)
			if err != nil {
				v.logger.Printf("reconcile_failed task=%s error=%v", task.ID, err)
			}
			if f != nil {
				findings = append(findings, *f)
			}
		}
	}
	return findings, nil
}

// VerifyCompletion checks that a task claiming to be done actually is. All
// four conditions must hold: the file sits in Complete, the header agrees,
// any approval request carries an approved decision, and the audit trail
// holds a successful transition into Complete.
func (v *Verifier) VerifyCompletion(taskID string) error {
	folder, path, err := vault.FindTask(v.root, taskID)
	if err != nil {
		return err
	}
	task, _, err := vault.LoadTask(path)
	if err != nil {
		return err
	}

	var problems []string
	if folder != model.StateComplete {
		problems = append(problems, fmt.Sprintf("file is in %s, not %s", folder.Folder(), model.StateComplete.Folder()))
	}
	if task.State != model.StateComplete {
		problems = append(problems, fmt.Sprintf("declared state is %q", task.State))
	}
	if task.Approval != nil && task.Approval.Decision != model.DecisionApproved {
		problems = append(problems, fmt.Sprintf("approval decision is %q", task.Approval.Decision))
	}

	logged, err := v.completionLogged(taskID)
	if err != nil {
		return err
	}
	if !logged {
		problems = append(problems, "no successful transition into complete in the audit trail")
	}

	if len(problems) > 0 {
		return fmt.Errorf("task %s fails completion verification: %s", taskID, strings.Join(problems, "; "))
	}
	return nil
}

func (v *Verifier) completionLogged(taskID string) (bool, error) {
	entries, err := audit.Query(v.auditor.Dir(), time.Time{}, time.Now().UTC(), taskID)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Action == audit.ActionTransition && e.To == model.StateComplete && e.Result == audit.ResultSuccess {
			return true, nil
		}
	}
	return false, nil
}

// VerifyLogs recomputes every day file's hash chain. Any failure raises the
// vault-wide halt latch and fires an out-of-band alert; transitions stay
// refused until a human clears the latch.
func (v *Verifier) VerifyLogs() ([]string, error) {
	failed, err := audit.VerifyAll(v.auditor.Dir())
	if err != nil {
		return nil, err
	}
	if len(failed) == 0 {
		return nil, nil
	}

	reason := "log integrity violation: " + strings.Join(failed, ", ")
	if err := audit.RaiseHalt(v.auditor.Dir(), reason); err != nil {
		return failed, fmt.Errorf("raise halt latch: %w", err)
	}
	if err := notify.Alert(v.auditor.Dir(), "Vault Halted", reason); err != nil {
		v.logger.Printf("alert_failed error=%v", err)
	}
	v.logger.Printf("halt_raised reason=%q", reason)
	return failed, nil
}
