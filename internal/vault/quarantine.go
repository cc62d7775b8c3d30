package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"foldergate/internal/fsops"
)

// RejectionReport accompanies every quarantined file so a malformed intake is
// never silently dropped: the operator gets the original bytes and a
// structured account of why they were refused.
type RejectionReport struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
	OriginalName  string `yaml:"original_name"`
	QuarantinedAs string `yaml:"quarantined_as"`
	Reason        string `yaml:"reason"`
	RejectedAt    string `yaml:"rejected_at"`
}

// Quarantine moves a malformed file into logs/quarantine/ with a timestamped
// name and writes a rejection report alongside it.
func Quarantine(root, filePath, reason string) (string, error) {
	qdir := QuarantineDir(root)
	if err := os.MkdirAll(qdir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	baseName := filepath.Base(filePath)
	timestamp := time.Now().UTC().Format("20060102T150405")
	quarantineName := fmt.Sprintf("%s.%s.rejected", baseName, timestamp)
	quarantinePath := filepath.Join(qdir, quarantineName)

	if err := os.Rename(filePath, quarantinePath); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}

	report := RejectionReport{
		SchemaVersion: 1,
		FileType:      "rejection_report",
		OriginalName:  baseName,
		QuarantinedAs: quarantineName,
		Reason:        reason,
		RejectedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	reportPath := quarantinePath + ".report.yaml"
	if err := fsops.AtomicWrite(reportPath, report); err != nil {
		return quarantinePath, fmt.Errorf("write rejection report: %w", err)
	}
	return quarantinePath, nil
}
