// Package lock provides per-task in-process mutexes and the flock-backed
// vault lock enforcing single-writer-per-vault.
package lock

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

// MutexMap hands out one mutex per task ID, serializing the transition
// critical section for a task within this process.
type MutexMap struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

func NewMutexMap() *MutexMap {
	return &MutexMap{
		mutexes: make(map[string]*sync.Mutex),
	}
}

func (m *MutexMap) Lock(key string) {
	m.getMutex(key).Lock()
}

func (m *MutexMap) Unlock(key string) {
	m.getMutex(key).Unlock()
}

func (m *MutexMap) getMutex(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mu, ok := m.mutexes[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	m.mutexes[key] = mu
	return mu
}

// VaultLock is an exclusive flock with the holder's PID recorded, taken by
// any process that mutates a vault. Concurrent writers from other processes
// fail fast at acquisition instead of racing on task files.
type VaultLock struct {
	path string
	file *os.File
}

func NewVaultLock(path string) *VaultLock {
	return &VaultLock{path: path}
}

func (vl *VaultLock) TryLock() error {
	f, err := os.OpenFile(vl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("acquire vault lock (another writer may be active): %w", err)
	}

	if err := f.Truncate(0); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("write PID to lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("sync lock file: %w", err)
	}

	vl.file = f
	return nil
}

func (vl *VaultLock) Unlock() error {
	if vl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(vl.file.Fd()), syscall.LOCK_UN); err != nil {
		vl.file.Close()
		return fmt.Errorf("release vault lock: %w", err)
	}

	if err := vl.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}

	os.Remove(vl.path)
	vl.file = nil
	return nil
}
