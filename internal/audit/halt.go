package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HaltMarker is the file whose presence in the log directory refuses all
// further transitions vault-wide. Raised on a log-integrity violation;
// cleared only by deliberate human action.
const HaltMarker = "HALTED"

// Halted reports whether the halt latch is set and the recorded reason.
func Halted(dir string) (bool, string) {
	content, err := os.ReadFile(filepath.Join(dir, HaltMarker))
	if err != nil {
		return false, ""
	}
	return true, strings.TrimSpace(string(content))
}

// RaiseHalt sets the halt latch. Fail-closed: if the marker cannot be
// written the error propagates so the caller does not proceed optimistically.
func RaiseHalt(dir, reason string) error {
	path := filepath.Join(dir, HaltMarker)
	content := fmt.Sprintf("%s %s\n", now(), reason)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("write halt marker: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("write halt marker: %w", err)
	}
	return f.Sync()
}

// ClearHalt releases the latch. Human-invoked only.
func ClearHalt(dir string) error {
	err := os.Remove(filepath.Join(dir, HaltMarker))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear halt marker: %w", err)
	}
	return nil
}
