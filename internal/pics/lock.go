package pics

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// unitLock is an exclusive, process-wide lock on one processing unit. Lock
// files live in the system temp directory, keyed by the unit's absolute path.
type unitLock struct {
	lock *flock.Flock
	dir  string
}

func lockPathFor(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(os.TempDir(), "pixcanon-"+hex.EncodeToString(sum[:8])+".lock"), nil
}

// acquireUnitLock takes the lock for dir without blocking. It fails with
// ErrUnitLocked when another run holds it.
func acquireUnitLock(dir string) (*unitLock, error) {
	lockPath, err := lockPathFor(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve lock path: %w", err)
	}
	l := flock.New(lockPath)
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnitLocked, dir)
	}
	return &unitLock{lock: l, dir: dir}, nil
}

func (u *unitLock) release() error {
	return u.lock.Unlock()
}
