// Package watch runs the intake daemon over the Entry folder. Files dropped
// in are admitted as tasks (id assigned, filename normalized, header
// repaired) or quarantined with a rejection report — nothing is ever silently
// dropped. Admitted tasks that pass validation advance Entry → Ready.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	yamlv3 "gopkg.in/yaml.v3"

	"foldergate/internal/audit"
	"foldergate/internal/fsops"
	"foldergate/internal/machine"
	"foldergate/internal/model"
	"foldergate/internal/retry"
	"foldergate/internal/vault"
)

type LogLevel int

const (
	LogQuiet LogLevel = iota
	LogInfo
	LogDebug
)

func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "quiet", "error":
		return LogQuiet
	case "debug":
		return LogDebug
	default:
		return LogInfo
	}
}

// ScanReport summarizes one pass over the Entry folder.
type ScanReport struct {
	Admitted    int
	Advanced    int
	Quarantined int
}

// Watcher is the intake daemon for one vault.
type Watcher struct {
	root      string
	cfg       model.Config
	machine   *machine.Machine
	auditor   *audit.Logger
	logger    *log.Logger
	level     LogLevel
	opTimeout time.Duration
}

func New(root string, cfg model.Config, m *machine.Machine, auditor *audit.Logger, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	opTimeout := time.Duration(cfg.Watcher.OperationTimeoutSec) * time.Second
	if opTimeout <= 0 {
		opTimeout = 30 * time.Second
	}
	return &Watcher{
		root:      root,
		cfg:       cfg,
		machine:   m,
		auditor:   auditor,
		logger:    logger,
		level:     ParseLogLevel(cfg.Logging.Level),
		opTimeout: opTimeout,
	}
}

// Run watches the Entry folder until the context ends. Filesystem events are
// debounced into scans; a periodic scan covers anything events missed.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	entryDir := vault.StateDir(w.root, model.StateEntry)
	if err := fsw.Add(entryDir); err != nil {
		return fmt.Errorf("watch %s: %w", entryDir, err)
	}

	debounce := time.Duration(w.cfg.Watcher.DebounceSec * float64(time.Second))
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	scanEvery := time.Duration(w.cfg.Watcher.ScanIntervalSec) * time.Second
	if scanEvery <= 0 {
		scanEvery = 10 * time.Second
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	ticker := time.NewTicker(scanEvery)
	defer ticker.Stop()

	w.runScan(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.logf(LogDebug, "event op=%s file=%s", ev.Op, filepath.Base(ev.Name))
			timer.Reset(debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logf(LogInfo, "watch_error error=%v", err)

		case <-timer.C:
			w.runScan(ctx)

		case <-ticker.C:
			w.runScan(ctx)
		}
	}
}

func (w *Watcher) runScan(ctx context.Context) {
	report, err := w.Scan(ctx)
	if err != nil {
		w.logf(LogInfo, "scan_failed error=%v", err)
		return
	}
	if report.Admitted+report.Advanced+report.Quarantined > 0 {
		w.logf(LogInfo, "scan admitted=%d advanced=%d quarantined=%d",
			report.Admitted, report.Advanced, report.Quarantined)
	}
}

// Scan processes every file currently in the Entry folder. Valid task files
// advance to Ready; recognizable drafts are admitted first; everything else
// is quarantined with a report.
func (w *Watcher) Scan(ctx context.Context) (ScanReport, error) {
	var report ScanReport

	entryDir := vault.StateDir(w.root, model.StateEntry)
	entries, err := os.ReadDir(entryDir)
	if err != nil {
		return report, fmt.Errorf("read entry folder: %w", err)
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		name := e.Name()
		if e.IsDir() || skipName(name) {
			continue
		}
		path := filepath.Join(entryDir, name)

		// Per-file processing is bounded: a stall on one file fails that file
		// instead of wedging the scan.
		fileCtx, cancel := context.WithTimeout(ctx, w.opTimeout)
		result := w.processFile(fileCtx, path, name)
		cancel()

		switch result {
		case outcomeAdmitted:
			report.Admitted++
		case outcomeAdvanced:
			report.Advanced++
		case outcomeQuarantined:
			report.Quarantined++
		}
	}
	return report, nil
}

// skipName filters the write machinery's own artifacts and hidden files.
func skipName(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, ".bak") ||
		strings.Contains(name, "-tmp-")
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeAdmitted
	outcomeAdvanced
	outcomeQuarantined
)

func (w *Watcher) processFile(ctx context.Context, path, name string) outcome {
	if ext := filepath.Ext(name); ext != ".yaml" && ext != ".yml" {
		return w.reject(path, name, "not a yaml task file")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		w.logf(LogInfo, "read_failed file=%s error=%v", name, err)
		return outcomeSkipped
	}

	task, err := model.TaskFromBytes(content)
	if err != nil {
		if claimsToBeTask(content) {
			return w.reject(path, name, err.Error())
		}
		return w.admitDraft(path, name, content)
	}

	// Already a valid task file. The Entry folder is authoritative for state;
	// a header declaring otherwise is repaired on admission.
	if task.State != model.StateEntry {
		task.State = model.StateEntry
		task.Touch()
		if err := vault.SaveTask(path, task); err != nil {
			w.logf(LogInfo, "header_repair_failed file=%s error=%v", name, err)
			return outcomeSkipped
		}
	}

	if canonical := task.Filename(); name != canonical {
		dst := filepath.Join(filepath.Dir(path), canonical)
		if err := fsops.Move(path, dst, nil); err != nil {
			return w.reject(path, name, "cannot normalize filename: "+err.Error())
		}
	}

	return w.advance(ctx, task.ID)
}

// claimsToBeTask reports whether the bytes carry task-schema fields. A file
// that claims the schema and fails validation is quarantined, not guessed at.
func claimsToBeTask(content []byte) bool {
	var probe map[string]any
	if err := yamlv3.Unmarshal(content, &probe); err != nil {
		return false
	}
	for _, key := range []string{"id", "file_type", "schema_version"} {
		if _, ok := probe[key]; ok {
			return true
		}
	}
	return false
}

// draft is the loose shape a human may drop into Entry: no id, no header,
// just intent.
type draft struct {
	Priority int               `yaml:"priority"`
	Metadata map[string]string `yaml:"metadata"`
	Body     string            `yaml:"body"`
}

func (w *Watcher) admitDraft(path, name string, content []byte) outcome {
	var d draft
	if err := yamlv3.Unmarshal(content, &d); err != nil {
		return w.reject(path, name, "unparseable yaml: "+err.Error())
	}
	if d.Body == "" {
		return w.reject(path, name, "draft has no body")
	}

	task, err := model.NewTask(model.StateEntry, d.Priority, d.Body)
	if err != nil {
		w.logf(LogInfo, "admit_failed file=%s error=%v", name, err)
		return outcomeSkipped
	}
	if len(d.Metadata) > 0 {
		task.Metadata = d.Metadata
	}
	task.Metadata = withOrigin(task.Metadata, name)

	if err := vault.SaveTask(vault.TaskPath(w.root, model.StateEntry, task.ID), task); err != nil {
		w.logf(LogInfo, "admit_write_failed file=%s error=%v", name, err)
		return outcomeSkipped
	}
	if err := os.Remove(path); err != nil {
		w.logf(LogInfo, "admit_cleanup_failed file=%s error=%v", name, err)
	}

	w.appendBestEffort(audit.Entry{
		Severity: audit.SeverityInfo,
		Action:   audit.ActionTransition,
		TaskID:   task.ID,
		To:       model.StateEntry,
		Actor:    model.ActorSystem,
		Result:   audit.ResultSuccess,
		Context:  map[string]string{"reason": "intake admitted", "original_name": name},
	})
	w.logf(LogInfo, "admitted file=%s task=%s", name, task.ID)
	return outcomeAdmitted
}

func withOrigin(md map[string]string, name string) map[string]string {
	if md == nil {
		md = make(map[string]string)
	}
	md["intake_origin"] = name
	return md
}

// advance moves a validated task Entry → Ready under the retry budget.
func (w *Watcher) advance(ctx context.Context, taskID string) outcome {
	err := retry.Do(ctx, w.cfg.Retry, func() error {
		_, err := w.machine.Execute(machine.TransitionRequest{
			TaskID: taskID,
			To:     model.StateReady,
			Actor:  model.ActorSystem,
			Reason: "intake validation passed",
		})
		return err
	})
	if err != nil {
		w.logf(LogInfo, "advance_failed task=%s error=%v", taskID, err)
		return outcomeSkipped
	}
	return outcomeAdvanced
}

// reject quarantines a file and logs the rejection.
func (w *Watcher) reject(path, name, reason string) outcome {
	qpath, err := vault.Quarantine(w.root, path, reason)
	if err != nil {
		w.logf(LogInfo, "quarantine_failed file=%s error=%v", name, err)
		return outcomeSkipped
	}
	w.appendBestEffort(audit.Entry{
		Severity: audit.SeverityWarn,
		Action:   audit.ActionIntakeRejected,
		Actor:    model.ActorSystem,
		Result:   audit.ResultFailure,
		Error:    reason,
		Context:  map[string]string{"file": name, "quarantined_as": filepath.Base(qpath)},
	})
	w.logf(LogInfo, "quarantined file=%s reason=%q", name, reason)
	return outcomeQuarantined
}

func (w *Watcher) appendBestEffort(e audit.Entry) {
	if err := w.auditor.Append(e); err != nil {
		w.logf(LogInfo, "audit_append_failed action=%s error=%v", e.Action, err)
	}
}

func (w *Watcher) logf(level LogLevel, format string, args ...any) {
	if w.level >= level {
		w.logger.Printf(format, args...)
	}
}
