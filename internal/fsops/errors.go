// Package fsops provides the atomic filesystem primitives the control plane
// is built on: rename-based moves with typed failure modes and atomic YAML
// writes. Every multi-step operation elsewhere is designed so that one of
// these renames is the last state-changing step.
package fsops

import (
	"errors"
	"syscall"
)

var (
	// ErrNoSpace maps ENOSPC — disk pressure, retryable.
	ErrNoSpace = errors.New("no space left on device")

	// ErrPermissionDenied maps EACCES/EPERM — never retried.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConcurrentModification is returned when a file's modification
	// signature changed between read and move. The caller must re-read and
	// re-validate before any retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrVolumeMismatch maps EXDEV. A cross-volume move would require
	// copy+delete, which is not atomic, so the operation fails closed.
	ErrVolumeMismatch = errors.New("source and destination on different volumes")

	// ErrDestinationExists guards the one-file-per-task invariant: a task file
	// must never appear in two state folders at once.
	ErrDestinationExists = errors.New("destination already exists")
)

// classify maps a raw syscall failure to the typed error surface. Unknown
// failures pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return err
	}
	switch errno {
	case syscall.ENOSPC:
		return errors.Join(ErrNoSpace, err)
	case syscall.EACCES, syscall.EPERM:
		return errors.Join(ErrPermissionDenied, err)
	case syscall.EXDEV:
		return errors.Join(ErrVolumeMismatch, err)
	default:
		return err
	}
}
