package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Query returns entries between from and to (inclusive, by calendar day),
// optionally filtered by task ID. This is the only supported read interface
// for reporting collaborators; they must not parse the files directly.
func Query(dir string, from, to time.Time, taskID string) ([]Entry, error) {
	files, err := listDayFiles(dir)
	if err != nil {
		return nil, err
	}

	fromDay := from.UTC().Format(dayFormat)
	toDay := to.UTC().Format(dayFormat)

	var out []Entry
	for _, path := range files {
		day := dayOfFile(path)
		if day < fromDay || day > toDay {
			continue
		}
		entries, err := readEntries(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if taskID != "" && e.TaskID != taskID {
				continue
			}
			out = append(out, e)
		}
	}
	return out, nil
}

func dayOfFile(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), FileExtension)
}

func readEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("malformed entry in %s: %w", path, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan log file: %w", err)
	}
	return entries, nil
}
