package watch

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foldergate/internal/audit"
	"foldergate/internal/lock"
	"foldergate/internal/machine"
	"foldergate/internal/model"
	"foldergate/internal/vault"
)

func newTestWatcher(t *testing.T) (string, *Watcher) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, vault.Init(root, "test"))

	auditor, err := audit.New(vault.LogsDir(root))
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditor.Close() })

	cfg := model.DefaultConfig()
	cfg.Retry.InitialBackoffMs = 1
	cfg.Retry.MaxBackoffMs = 5
	quiet := log.New(io.Discard, "", 0)
	m := machine.New(root, cfg, auditor, lock.NewMutexMap(), quiet)
	return root, New(root, cfg, m, auditor, quiet)
}

func dropFile(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(vault.StateDir(root, model.StateEntry), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestScan_AdmitsDraftAndAdvances(t *testing.T) {
	root, w := newTestWatcher(t)

	dropFile(t, root, "expense-note.yaml", "priority: 2\nbody: file the expense report\n")

	report, err := w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Admitted)
	assert.Equal(t, 0, report.Quarantined)

	// The admitted task now sits in Entry under its canonical name; a second
	// scan validates and advances it to Ready.
	report, err = w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Advanced)

	tasks, err := vault.ListTasks(root, model.StateReady)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "file the expense report", tasks[0].Body)
	assert.Equal(t, 2, tasks[0].Priority)
	assert.Equal(t, "expense-note.yaml", tasks[0].Metadata["intake_origin"])

	// Original draft file is gone.
	entries, err := os.ReadDir(vault.StateDir(root, model.StateEntry))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "expense-note.yaml", e.Name())
	}
}

func TestScan_ValidTaskFileAdvancesDirectly(t *testing.T) {
	root, w := newTestWatcher(t)

	task, err := model.NewTask(model.StateEntry, 1, "routine work")
	require.NoError(t, err)
	require.NoError(t, vault.SaveTask(vault.TaskPath(root, model.StateEntry, task.ID), task))

	report, err := w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Advanced)

	state, _, err := vault.FindTask(root, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateReady, state)
}

func TestScan_QuarantinesMalformed(t *testing.T) {
	root, w := newTestWatcher(t)

	dropFile(t, root, "broken.yaml", "not: [valid yaml")
	dropFile(t, root, "empty-draft.yaml", "priority: 1\n")
	dropFile(t, root, "notes.txt", "just some text")

	report, err := w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Quarantined)
	assert.Equal(t, 0, report.Admitted)

	qdir := vault.QuarantineDir(root)
	entries, err := os.ReadDir(qdir)
	require.NoError(t, err)
	// Each rejection ships a report alongside the original bytes.
	assert.Len(t, entries, 6)
}

func TestScan_QuarantinesBrokenTaskSchema(t *testing.T) {
	root, w := newTestWatcher(t)

	// Claims the task schema (has file_type) but fails validation: never
	// admitted as a draft, always quarantined.
	dropFile(t, root, "bad-schema.yaml",
		"schema_version: 99\nfile_type: task\nid: task_1700000000_0a1b2c3d\nbody: hello\n")

	report, err := w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Quarantined)

	tasks, err := vault.ListTasks(root, model.StateReady)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestScan_RepairsHeaderStateOnIntake(t *testing.T) {
	root, w := newTestWatcher(t)

	// A valid task file dropped into Entry claiming to be complete: the
	// folder wins, and the task proceeds through normal intake.
	task, err := model.NewTask(model.StateComplete, 0, "claims too much")
	require.NoError(t, err)
	require.NoError(t, vault.SaveTask(vault.TaskPath(root, model.StateEntry, task.ID), task))

	report, err := w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Advanced)

	state, path, err := vault.FindTask(root, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateReady, state)
	loaded, _, err := vault.LoadTask(path)
	require.NoError(t, err)
	assert.Equal(t, model.StateReady, loaded.State)
}

func TestScan_SkipsWriteArtifacts(t *testing.T) {
	root, w := newTestWatcher(t)

	dropFile(t, root, ".hidden.yaml", "body: x")
	dropFile(t, root, "task_1700000000_0a1b2c3d.yaml.bak", "body: x")
	dropFile(t, root, ".foldergate-tmp-123.yaml", "body: x")

	report, err := w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ScanReport{}, report)
}

func TestNew_OperationTimeout(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, vault.Init(root, "test"))
	auditor, err := audit.New(vault.LogsDir(root))
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditor.Close() })
	quiet := log.New(io.Discard, "", 0)

	cfg := model.DefaultConfig()
	cfg.Watcher.OperationTimeoutSec = 7
	m := machine.New(root, cfg, auditor, lock.NewMutexMap(), quiet)
	w := New(root, cfg, m, auditor, quiet)
	assert.Equal(t, 7*time.Second, w.opTimeout)

	// Zero and negative fall back to the 30s default.
	cfg.Watcher.OperationTimeoutSec = 0
	w = New(root, cfg, m, auditor, quiet)
	assert.Equal(t, 30*time.Second, w.opTimeout)
}

func TestScan_NormalizesFilename(t *testing.T) {
	root, w := newTestWatcher(t)

	task, err := model.NewTask(model.StateEntry, 0, "misfiled")
	require.NoError(t, err)
	data, err := task.Bytes()
	require.NoError(t, err)
	dropFile(t, root, "wrong-name.yaml", string(data))

	report, err := w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Advanced)

	// File now lives under its canonical task-id name in Ready.
	assert.FileExists(t, vault.TaskPath(root, model.StateReady, task.ID))
}
