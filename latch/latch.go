package latch

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrLockConflict = errors.New("latch: lock conflict")
	ErrNotHeld      = errors.New("latch: nothing held")
)

// Latch is a shared/exclusive lock whose operations never wait: each either succeeds
// at once or fails with ErrLockConflict. Callers own retry, backoff, and deadlock
// avoidance.
type Latch interface {
	AcquireShared() error
	AcquireExclusive() error
	Upgrade() error
	Release() error
}

// XSLock is the default Latch. At most one of shared and exclusive is ever non-zero.
type XSLock struct {
	mutex     sync.Mutex
	shared    int
	exclusive int
}

func (xs *XSLock) AcquireShared() error {
	xs.mutex.Lock()
	defer xs.mutex.Unlock()

	if xs.exclusive > 0 {
		return ErrLockConflict
	}
	xs.shared += 1
	return nil
}

func (xs *XSLock) AcquireExclusive() error {
	xs.mutex.Lock()
	defer xs.mutex.Unlock()

	if xs.shared > 0 || xs.exclusive > 0 {
		return ErrLockConflict
	}
	xs.exclusive = 1
	return nil
}

// Upgrade converts the only shared hold into an exclusive one.
func (xs *XSLock) Upgrade() error {
	xs.mutex.Lock()
	defer xs.mutex.Unlock()

	if xs.shared != 1 || xs.exclusive != 0 {
		return fmt.Errorf("%w: upgrade with %d shared and %d exclusive holders",
			ErrLockConflict, xs.shared, xs.exclusive)
	}
	xs.shared = 0
	xs.exclusive = 1
	return nil
}

// Release drops one shared hold if there is one, otherwise the exclusive hold.
func (xs *XSLock) Release() error {
	xs.mutex.Lock()
	defer xs.mutex.Unlock()

	if xs.shared > 0 {
		xs.shared -= 1
	} else if xs.exclusive > 0 {
		xs.exclusive = 0
	} else {
		return ErrNotHeld
	}
	return nil
}

// Holders returns the current shared and exclusive counts.
func (xs *XSLock) Holders() (int, int) {
	xs.mutex.Lock()
	defer xs.mutex.Unlock()

	return xs.shared, xs.exclusive
}

func (xs *XSLock) String() string {
	shared, exclusive := xs.Holders()
	switch {
	case exclusive > 0:
		return "X"
	case shared > 0:
		return fmt.Sprintf("S%d", shared)
	default:
		return "-"
	}
}
