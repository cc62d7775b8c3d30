package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	FilePrefix    = "audit-"
	FileExtension = ".jsonl"
	dayFormat     = "2006-01-02"
)

// Logger is the single append point for the audit trail. Appends are
// serialized by an in-process mutex (single-writer-per-vault is assumed) and
// fsynced before returning. Files rotate per calendar day; each day file
// carries its own hash chain starting from an empty prev_hash.
type Logger struct {
	mu       sync.Mutex
	dir      string
	file     *os.File
	day      string
	lastHash string
}

// New creates a logger rooted at the given log directory. The current day
// file is opened lazily on first append.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &Logger{dir: dir}, nil
}

// FileForDay returns the path of the audit file covering the given day.
func (l *Logger) FileForDay(day time.Time) string {
	return filepath.Join(l.dir, FilePrefix+day.UTC().Format(dayFormat)+FileExtension)
}

// Append writes one entry to the current day's file, linking it into the hash
// chain. The entry's Timestamp is set if empty; PrevHash and Hash are always
// computed here. The caller must never mutate the entry afterwards.
func (l *Logger) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp == "" {
		e.Timestamp = now()
	}

	if err := l.ensureDayFile(); err != nil {
		return err
	}

	e.PrevHash = l.lastHash
	hash, err := computeHash(e)
	if err != nil {
		return err
	}
	e.Hash = hash

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("write log entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log file: %w", err)
	}

	l.lastHash = hash
	return nil
}

// ensureDayFile opens (or reopens after midnight) the current day's file and
// recovers the chain tail so appends continue the existing chain.
func (l *Logger) ensureDayFile() error {
	today := time.Now().UTC().Format(dayFormat)
	if l.file != nil && l.day == today {
		return nil
	}
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}

	path := filepath.Join(l.dir, FilePrefix+today+FileExtension)
	tail, err := lastHashInFile(path)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	l.file = file
	l.day = today
	l.lastHash = tail
	return nil
}

// lastHashInFile scans an existing day file for the final entry's hash so the
// chain resumes across process restarts. Missing file means a fresh chain.
func lastHashInFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open log file for tail scan: %w", err)
	}
	defer func() { _ = f.Close() }()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return "", fmt.Errorf("malformed entry in %s: %w", path, err)
		}
		last = e.Hash
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan log file: %w", err)
	}
	return last, nil
}

// Close flushes and closes the current day file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return err
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Dir returns the log directory the logger writes to.
func (l *Logger) Dir() string {
	return l.dir
}
