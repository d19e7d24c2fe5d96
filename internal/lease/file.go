package lease

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// File is a host-local lease backed by an advisory lock file.
type File struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
}

// NewFile returns the lease for stage under dir/<stage>.lock.
func NewFile(dir, stage string) *File {
	path := filepath.Join(dir, stage+".lock")
	return &File{path: path, lock: flock.New(path)}
}

func (f *File) Acquire(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lock.Locked() {
		return true, nil
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return false, fmt.Errorf("create lease dir: %w", err)
	}
	ok, err := f.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", f.path, err)
	}
	return ok, nil
}

func (f *File) Release(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.lock.Locked() {
		return nil
	}
	if err := f.lock.Unlock(); err != nil {
		return fmt.Errorf("release lease %s: %w", f.path, err)
	}
	return nil
}

func (f *File) Name() string { return "file:" + f.path }
