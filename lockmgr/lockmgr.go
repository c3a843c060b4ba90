// Package lockmgr provides advisory shared/exclusive locking over the
// scanner's state-database file, coordinating concurrent invocations
// (§4.3, §5 Multi-process coordination). Locking is local-only; there is
// no cross-host guarantee (explicit Non-goal in spec.md §1).
package lockmgr

import (
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// ErrLockFailed is returned when a lock could not be acquired; per §7 this
// is fatal to the invocation.
var ErrLockFailed = errors.New("lockmgr: failed to acquire lock")

// Unlocker releases a previously acquired lock. Callers must defer its
// Unlock immediately after a successful acquisition so the lock is
// released on every exit path, including panics (§4.3).
type Unlocker interface {
	Unlock() error
}

// Manager wraps a single advisory lock bound to one file descriptor for
// its entire lifetime, so that repeated acquisitions from the same
// process (e.g. an outer exclusive lock held across a whole scan, with
// narrower calls into Shared/Exclusive underneath) convert in place
// instead of deadlocking against themselves - see DESIGN.md "Locking
// discipline".
type Manager struct {
	fl *flock.Flock
}

// New returns a Manager for the lock file at path. The lock file is
// typically the state database file itself, or a sibling ".lock" file
// when the database format does not tolerate being opened for locking
// alone.
func New(path string) *Manager {
	return &Manager{fl: flock.New(path)}
}

// Exclusive blocks until the single-writer lock is held, or returns
// ErrLockFailed. The returned Unlocker must be deferred.
func (m *Manager) Exclusive() (Unlocker, error) {
	if err := m.fl.Lock(); err != nil {
		return nil, errors.Wrap(ErrLockFailed, err.Error())
	}
	return m.fl, nil
}

// Shared blocks until a read lock is held, allowing other readers to hold
// it concurrently but excluding any writer.
func (m *Manager) Shared() (Unlocker, error) {
	if err := m.fl.RLock(); err != nil {
		return nil, errors.Wrap(ErrLockFailed, err.Error())
	}
	return m.fl, nil
}

// TryExclusive attempts to acquire the exclusive lock without blocking,
// reporting false (not an error) if another Manager already holds it.
func (m *Manager) TryExclusive() (bool, error) {
	ok, err := m.fl.TryLock()
	if err != nil {
		return false, errors.Wrap(ErrLockFailed, err.Error())
	}
	return ok, nil
}

// Locked reports whether this Manager currently holds any lock (shared or
// exclusive), mainly useful in tests asserting release-on-panic behavior.
func (m *Manager) Locked() bool {
	return m.fl.Locked() || m.fl.RLocked()
}
