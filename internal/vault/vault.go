// Package vault owns the on-disk layout of a foldergate vault: exactly eight
// top-level directories — the seven workflow-state folders plus logs/ — with
// quarantine and alert markers tucked under logs/ so the top-level contract
// never grows.
package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"foldergate/internal/fsops"
	"foldergate/internal/model"
)

const (
	LogsDirName       = "logs"
	QuarantineDirName = "quarantine"
	ConfigFileName    = "foldergate.yaml"
	LockFileName      = "vault.lock"
)

func LogsDir(root string) string {
	return filepath.Join(root, LogsDirName)
}

func QuarantineDir(root string) string {
	return filepath.Join(root, LogsDirName, QuarantineDirName)
}

func ConfigPath(root string) string {
	return filepath.Join(root, ConfigFileName)
}

func LockPath(root string) string {
	return filepath.Join(root, LogsDirName, LockFileName)
}

// StateDir returns the folder bound to a workflow state.
func StateDir(root string, state model.State) string {
	return filepath.Join(root, state.Folder())
}

// TaskPath returns where a task file lives while in the given state.
func TaskPath(root string, state model.State, taskID string) string {
	return filepath.Join(StateDir(root, state), taskID+".yaml")
}

// Init creates the vault layout and writes the default config. Fails if the
// root already holds a vault.
func Init(root, name string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve vault root: %w", err)
	}

	if _, err := os.Stat(ConfigPath(absRoot)); err == nil {
		return fmt.Errorf("vault already initialized at %s", absRoot)
	}

	for _, state := range model.AllStates() {
		if err := os.MkdirAll(StateDir(absRoot, state), 0755); err != nil {
			return fmt.Errorf("create state folder %s: %w", state.Folder(), err)
		}
	}
	if err := os.MkdirAll(QuarantineDir(absRoot), 0755); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}

	cfg := model.DefaultConfig()
	if name == "" {
		name = filepath.Base(absRoot)
	}
	cfg.Vault.Name = name
	cfg.Vault.Created = time.Now().UTC().Format(time.RFC3339)

	if err := fsops.AtomicWrite(ConfigPath(absRoot), cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Check verifies the eight-directory layout is present.
func Check(root string) error {
	for _, state := range model.AllStates() {
		info, err := os.Stat(StateDir(root, state))
		if err != nil {
			return fmt.Errorf("state folder %s: %w", state.Folder(), err)
		}
		if !info.IsDir() {
			return fmt.Errorf("state folder %s is not a directory", state.Folder())
		}
	}
	info, err := os.Stat(LogsDir(root))
	if err != nil {
		return fmt.Errorf("logs directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("logs is not a directory")
	}
	return nil
}

// LoadTask reads and validates a task file, returning the modification
// signature of the bytes actually parsed so a later move can detect
// concurrent writers.
func LoadTask(path string) (*model.Task, fsops.Signature, error) {
	content, sig, err := fsops.CaptureContent(path)
	if err != nil {
		return nil, fsops.Signature{}, err
	}
	task, err := model.TaskFromBytes(content)
	if err != nil {
		return nil, fsops.Signature{}, fmt.Errorf("load task %s: %w", path, err)
	}
	return task, sig, nil
}

// SaveTask writes a task file atomically.
func SaveTask(path string, task *model.Task) error {
	content, err := task.Bytes()
	if err != nil {
		return err
	}
	return fsops.AtomicWriteRaw(path, content)
}

// FindTask scans the seven state folders for a task ID and derives its state
// from the containing folder. Cached metadata is never trusted for this.
func FindTask(root, taskID string) (model.State, string, error) {
	for _, state := range model.AllStates() {
		path := TaskPath(root, state, taskID)
		if _, err := os.Stat(path); err == nil {
			return state, path, nil
		} else if !os.IsNotExist(err) {
			return "", "", fmt.Errorf("stat %s: %w", path, err)
		}
	}
	return "", "", fmt.Errorf("task %s not found in any state folder", taskID)
}

// ListTaskFiles enumerates the task files physically present in one state's
// folder.
func ListTaskFiles(root string, state model.State) ([]string, error) {
	dir := StateDir(root, state)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state folder %s: %w", state.Folder(), err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".yaml" || name[0] == '.' {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	return files, nil
}

// ListTasks loads every task in one state's folder. Unparseable files are
// skipped; callers needing strictness use the verifier.
func ListTasks(root string, state model.State) ([]*model.Task, error) {
	files, err := ListTaskFiles(root, state)
	if err != nil {
		return nil, err
	}
	tasks := make([]*model.Task, 0, len(files))
	for _, path := range files {
		task, _, err := LoadTask(path)
		if err != nil {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// LoadConfig reads the vault config, applying defaults for absent fields.
func LoadConfig(root string) (model.Config, error) {
	cfg := model.DefaultConfig()
	content, err := os.ReadFile(ConfigPath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yamlv3.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
