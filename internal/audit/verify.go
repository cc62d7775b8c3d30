package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// VerifyIntegrity recomputes the hash chain of one day file. It returns false
// on any broken link, altered entry, or unparseable line. A false result is
// critical: the caller must raise the system-wide halt latch.
func VerifyIntegrity(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// An absent file has nothing to have been tampered with.
			return true, nil
		}
		return false, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	prev := ""
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return false, nil
		}
		if e.PrevHash != prev {
			return false, nil
		}
		expected, err := computeHash(e)
		if err != nil {
			return false, err
		}
		if e.Hash != expected {
			return false, nil
		}
		prev = e.Hash
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("scan log file: %w", err)
	}
	return true, nil
}

// VerifyAll checks every day file in the log directory. It returns the paths
// that failed verification.
func VerifyAll(dir string) ([]string, error) {
	files, err := listDayFiles(dir)
	if err != nil {
		return nil, err
	}
	var failed []string
	for _, path := range files {
		ok, err := VerifyIntegrity(path)
		if err != nil {
			return nil, err
		}
		if !ok {
			failed = append(failed, path)
		}
	}
	return failed, nil
}

func listDayFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, FilePrefix) && strings.HasSuffix(name, FileExtension) {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}
