package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var taskIDRegex = regexp.MustCompile(`^task_[0-9]{10}_[0-9a-f]{8}$`)

// GenerateTaskID returns a new task ID of the form task_<unix ts>_<8 hex>.
// The timestamp prefix keeps IDs roughly sortable by creation time.
func GenerateTaskID() (string, error) {
	timestamp := time.Now().Unix()
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return fmt.Sprintf("task_%010d_%s", timestamp, hex.EncodeToString(randomBytes)), nil
}

func ValidTaskID(id string) bool {
	return taskIDRegex.MatchString(id)
}

// ParseTaskIDTimestamp extracts the creation timestamp embedded in a task ID.
func ParseTaskIDTimestamp(id string) (time.Time, error) {
	if !ValidTaskID(id) {
		return time.Time{}, fmt.Errorf("invalid task ID format: %s", id)
	}
	tsStr := id[len("task_") : len("task_")+10]
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp from ID %s: %w", id, err)
	}
	return time.Unix(ts, 0), nil
}
