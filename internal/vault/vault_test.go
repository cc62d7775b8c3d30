package vault

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foldergate/internal/model"
)

func TestInit_CreatesLayout(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Init(root, "inbox"))

	// Exactly eight top-level directories: seven state folders plus logs/.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	assert.Len(t, dirs, 8)
	for _, state := range model.AllStates() {
		assert.Contains(t, dirs, state.Folder())
	}
	assert.Contains(t, dirs, LogsDirName)

	require.NoError(t, Check(root))

	cfg, err := LoadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, "inbox", cfg.Vault.Name)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestInit_RefusesExistingVault(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Init(root, ""))
	err := Init(root, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already initialized")
}

func TestCheck_MissingFolder(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Init(root, ""))
	require.NoError(t, os.RemoveAll(StateDir(root, model.StateApproved)))
	assert.Error(t, Check(root))
}

func TestSaveLoadTask(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Init(root, ""))

	task, err := model.NewTask(model.StateEntry, 2, "file the expense report")
	require.NoError(t, err)

	path := TaskPath(root, model.StateEntry, task.ID)
	require.NoError(t, SaveTask(path, task))

	loaded, sig, err := LoadTask(path)
	require.NoError(t, err)
	assert.Equal(t, task.ID, loaded.ID)
	assert.Equal(t, task.Body, loaded.Body)
	assert.NotEmpty(t, sig.Sum)
}

func TestFindTask(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Init(root, ""))

	task, err := model.NewTask(model.StatePlanning, 0, "")
	require.NoError(t, err)
	require.NoError(t, SaveTask(TaskPath(root, model.StatePlanning, task.ID), task))

	state, path, err := FindTask(root, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatePlanning, state)
	assert.Equal(t, TaskPath(root, model.StatePlanning, task.ID), path)

	_, _, err = FindTask(root, "task_1700000000_deadbeef")
	assert.Error(t, err)
}

func TestListTasks(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Init(root, ""))

	for i := 0; i < 3; i++ {
		task, err := model.NewTask(model.StateReady, i, "")
		require.NoError(t, err)
		require.NoError(t, SaveTask(TaskPath(root, model.StateReady, task.ID), task))
	}
	// An unparseable file in the folder is skipped by ListTasks.
	require.NoError(t, os.WriteFile(filepath.Join(StateDir(root, model.StateReady), "junk.yaml"), []byte(":\nbroken ["), 0644))

	tasks, err := ListTasks(root, model.StateReady)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)

	empty, err := ListTasks(root, model.StateComplete)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestQuarantine(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Init(root, ""))

	bad := filepath.Join(StateDir(root, model.StateEntry), "malformed.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("not: [valid"), 0644))

	qpath, err := Quarantine(root, bad, "parse task yaml: mapping values not allowed")
	require.NoError(t, err)

	_, statErr := os.Stat(bad)
	assert.True(t, os.IsNotExist(statErr), "original should be gone")
	assert.FileExists(t, qpath)
	assert.True(t, strings.HasSuffix(qpath, ".rejected"))
	assert.FileExists(t, qpath+".report.yaml")
}
