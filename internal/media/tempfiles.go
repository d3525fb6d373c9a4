package media

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// NewTempPath returns a fresh, unused path in dir with the given suffix.
func NewTempPath(dir, suffix string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "roundcast-"+uuid.NewString()+suffix)
}

// Remove deletes path, treating a missing file as success.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// TempFiles tracks the temporary files produced during one processing step so
// every exit path can release them.
type TempFiles struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// Track registers path for cleanup and returns it.
func (t *TempFiles) Track(path string) string {
	if path == "" {
		return path
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paths == nil {
		t.paths = make(map[string]struct{})
	}
	t.paths[path] = struct{}{}
	return path
}

// Cleanup removes every tracked file and returns the first failure.
func (t *TempFiles) Cleanup() error {
	t.mu.Lock()
	paths := t.paths
	t.paths = nil
	t.mu.Unlock()

	var firstErr error
	for path := range paths {
		if err := Remove(path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
