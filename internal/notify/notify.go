// Package notify is the out-of-band alert side channel used when the audit
// trail itself cannot be trusted to carry the message (failed log appends,
// halt events). Alerts always land in an append-only file; a desktop
// notification is attempted on top, best-effort.
package notify

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const AlertsFileName = "ALERTS"

// Alert appends a line to logs/ALERTS and fires a desktop notification when
// available. The file append is the contract; the desktop part may fail
// silently on headless hosts.
func Alert(logsDir, title, message string) error {
	if err := appendAlert(logsDir, title, message); err != nil {
		return err
	}
	_ = sendDesktop(title, message)
	return nil
}

func appendAlert(logsDir, title, message string) error {
	path := filepath.Join(logsDir, AlertsFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open alerts file: %w", err)
	}
	defer func() { _ = f.Close() }()

	line := fmt.Sprintf("%s %s: %s\n", time.Now().UTC().Format(time.RFC3339), title, message)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append alert: %w", err)
	}
	return f.Sync()
}

// sendDesktop sends a macOS notification via osascript with sound.
func sendDesktop(title, message string) error {
	if runtime.GOOS != "darwin" {
		return nil
	}
	title = escapeAppleScript(title)
	message = escapeAppleScript(message)

	script := fmt.Sprintf(
		`display notification %q with title %q sound name "default"`,
		message, title,
	)

	cmd := exec.Command("osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
