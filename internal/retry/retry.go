// Package retry bounds recovery from transient filesystem failures. Transient
// errors (disk full, concurrent modification) get exponential backoff within a
// configured budget; structural errors (permission denied, invalid
// transition, bypass) abort immediately. When the budget runs out the task is
// diverted to Rejected with the full error context attached, so no failure
// mode ever strands a task outside a well-defined folder.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"foldergate/internal/audit"
	"foldergate/internal/fsops"
	"foldergate/internal/model"
	"foldergate/internal/vault"
)

// Transient reports whether an error may clear on its own and is therefore
// worth retrying. Concurrent-modification errors qualify only because every
// caller re-reads and re-validates the task before its next attempt.
func Transient(err error) bool {
	return errors.Is(err, fsops.ErrNoSpace) || errors.Is(err, fsops.ErrConcurrentModification)
}

// Do runs op under the configured exponential backoff. Non-transient errors
// abort immediately; transient ones retry until the attempt budget is spent.
func Do(ctx context.Context, cfg model.RetryConfig, op func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	b.MaxInterval = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !Transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// DivertToRejected moves a task whose retry budget is exhausted into the
// Rejected folder, recording the terminal cause on the task and in the audit
// trail. This is a recovery path, not a matrix transition: it exists so an
// operator finds the failure in Rejected instead of a stuck file.
func DivertToRejected(root string, auditor *audit.Logger, taskID string, cause error) error {
	from, path, err := vault.FindTask(root, taskID)
	if err != nil {
		return err
	}
	if from == model.StateRejected {
		return nil
	}

	task, sig, err := vault.LoadTask(path)
	if err != nil {
		return err
	}

	dst := vault.TaskPath(root, model.StateRejected, taskID)
	if err := fsops.Move(path, dst, &sig); err != nil {
		return fmt.Errorf("divert task %s to rejected: %w", taskID, err)
	}

	task.State = model.StateRejected
	task.SetError(fmt.Sprintf("retry budget exhausted in %s: %v", from, cause))
	if err := vault.SaveTask(dst, task); err != nil {
		return fmt.Errorf("record divert cause on task %s: %w", taskID, err)
	}

	if err := auditor.Append(audit.Entry{
		Severity: audit.SeverityError,
		Action:   audit.ActionError,
		TaskID:   taskID,
		From:     from,
		To:       model.StateRejected,
		Actor:    model.ActorSystem,
		Result:   audit.ResultFailure,
		Error:    cause.Error(),
		Context:  map[string]string{"reason": "retry budget exhausted"},
	}); err != nil {
		return fmt.Errorf("log divert of task %s: %w", taskID, err)
	}
	return nil
}
