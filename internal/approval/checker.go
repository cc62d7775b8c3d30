package approval

import (
	"errors"

	"foldergate/internal/model"
)

// ErrApprovalBypass is raised when a code path attempts a sensitive action
// without the full approval gate holding. Never retried.
var ErrApprovalBypass = errors.New("approval bypass attempt")

// IsApproved is true only if the task's physical location is the Approved
// folder AND its embedded request decision is "approved". Either signal alone
// is insufficient or spoofable: metadata can be edited, and a file can be
// dropped into Approved without a recorded decision.
func IsApproved(task *model.Task, location model.State) bool {
	if location != model.StateApproved {
		return false
	}
	return task.Approval != nil && task.Approval.Decision == model.DecisionApproved
}

// CheckApproved returns ErrApprovalBypass with context when the gate does not
// hold. Callers must log the attempt as critical before propagating.
func CheckApproved(task *model.Task, location model.State) error {
	if IsApproved(task, location) {
		return nil
	}
	return ErrApprovalBypass
}
