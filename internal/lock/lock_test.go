package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
)

func TestMutexMap_SerializesPerKey(t *testing.T) {
	m := NewMutexMap()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("task_a")
			counter++
			m.Unlock("task_a")
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
}

func TestMutexMap_IndependentKeys(t *testing.T) {
	m := NewMutexMap()

	m.Lock("task_a")
	done := make(chan struct{})
	go func() {
		m.Lock("task_b")
		m.Unlock("task_b")
		close(done)
	}()
	<-done // must not block on task_a's lock
	m.Unlock("task_a")
}

func TestVaultLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.lock")

	vl := NewVaultLock(path)
	if err := vl.TryLock(); err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil || pid != os.Getpid() {
		t.Errorf("lock file pid = %q, want %d", strings.TrimSpace(string(content)), os.Getpid())
	}

	if err := vl.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed after unlock")
	}

	// Reacquirable after release.
	vl2 := NewVaultLock(path)
	if err := vl2.TryLock(); err != nil {
		t.Fatalf("second TryLock failed: %v", err)
	}
	_ = vl2.Unlock()
}
