package fsops

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// Signature captures a file's modification state at read time. Re-checked
// immediately before a move, it converts concurrent-writer races into
// explicit ErrConcurrentModification failures instead of lost updates.
type Signature struct {
	Size    int64
	ModTime time.Time
	Sum     string
}

// Capture reads the file and records its modification signature.
func Capture(path string) (Signature, error) {
	_, sig, err := CaptureContent(path)
	return sig, err
}

// CaptureContent reads the file once, returning both its content and the
// signature of that content.
func CaptureContent(path string) ([]byte, Signature, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, Signature{}, fmt.Errorf("stat %s: %w", path, classify(err))
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, Signature{}, fmt.Errorf("read %s: %w", path, classify(err))
	}
	sum := sha256.Sum256(content)
	return content, Signature{
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Sum:     hex.EncodeToString(sum[:]),
	}, nil
}

func (s Signature) Equal(other Signature) bool {
	return s.Size == other.Size && s.ModTime.Equal(other.ModTime) && s.Sum == other.Sum
}

// Move relocates a file via os.Rename so that any observer sees it at exactly
// one of src or dst at all times — never both, never neither, never truncated.
// If expect is non-nil the file's current signature must still match it, or
// the move aborts with ErrConcurrentModification before touching anything.
// Cross-volume moves fail closed with ErrVolumeMismatch; there is no
// copy+delete fallback.
func Move(src, dst string, expect *Signature) error {
	if expect != nil {
		current, err := Capture(src)
		if err != nil {
			return err
		}
		if !current.Equal(*expect) {
			return fmt.Errorf("%w: %s changed since last read", ErrConcurrentModification, src)
		}
	}

	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat destination %s: %w", dst, classify(err))
	}

	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("move %s → %s: %w", src, dst, classify(err))
	}
	return nil
}
