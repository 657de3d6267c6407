package clean

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Both lock errors are reported and the run goes ahead unlocked.
var (
	// errLockUnavailable means the lock file itself could not be used.
	errLockUnavailable = errors.New("run lock unavailable")
	// errLocked means another run is already cleaning the same tree.
	errLocked = errors.New("another run is already cleaning this tree")
)

// lockAttempts bounds retries when a finishing run removes the lock file
// between our open and our lock.
const lockAttempts = 3

// runLock keeps two runs from cleaning the same tree at once, which would
// start duplicate commands (two "git gc" in one repository, for example).
type runLock struct {
	flock *flock.Flock
}

// lockPath derives a per-root lock file name inside dir. Symbolic links in
// root are resolved so every spelling of one tree shares a lock.
func lockPath(dir, root string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	sum := sha256.Sum256([]byte(root))
	return filepath.Join(dir, "codeclean-"+hex.EncodeToString(sum[:8])+".lock")
}

func acquireLock(dir, root string) (*runLock, error) {
	path := lockPath(dir, root)

	for range lockAttempts {
		fl := flock.New(path)
		acquired, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errLockUnavailable, path, err)
		}
		if !acquired {
			return nil, fmt.Errorf("%w: %s (lock %s)", errLocked, root, path)
		}
		if isCurrentLockFile(fl, path) {
			return &runLock{flock: fl}, nil
		}
		// The previous holder removed the file after we opened it.
		_ = fl.Close()
	}
	return nil, fmt.Errorf("%w: %s: lock file keeps being replaced", errLockUnavailable, path)
}

// isCurrentLockFile reports whether the locked file is still the one at path.
func isCurrentLockFile(fl *flock.Flock, path string) bool {
	held, err := fl.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	return err == nil && os.SameFile(held, current)
}

// release removes the lock file while still holding the lock, then unlocks.
func (l *runLock) release() {
	_ = os.Remove(l.flock.Path())
	_ = l.flock.Close()
}
