package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrTrainingLocked reports that another training run holds the lock.
var ErrTrainingLocked = errors.New("another training run holds the artifact lock")

// Lock is an exclusive hold on the artifact directory.
type Lock struct {
	path string
	fl   *flock.Flock
}

// LockTraining acquires <dir>/train.lock without blocking.
func (s *Store) LockTraining() (*Lock, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure artifact directory: %w", err)
	}
	path := filepath.Join(s.dir, "train.lock")
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrTrainingLocked, path)
	}
	return &Lock{path: path, fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
