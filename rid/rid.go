package rid

import (
	"errors"
	"fmt"
	"sync"
)

// RID identifies one physical row slot. Bit 63 is never part of an address; it is
// the deletion flag carried by indirection values.
type RID uint64

const (
	// None is the indirection value of a base row that has never been updated, and
	// the sentinel for "no RID available".
	None RID = 0

	Deleted RID = 1 << 63

	FirstBase RID = 1
	FirstTail RID = 1 << 62

	// LastBase and LastTail are the highest RIDs each keyspace may issue. LastTail is
	// one below the deletion flag.
	LastBase RID = FirstTail - 1
	LastTail RID = Deleted - 1
)

var (
	ErrExhausted = errors.New("rid: keyspace exhausted")
)

func (r RID) IsDeleted() bool {
	return r&Deleted != 0
}

// Address strips the deletion flag.
func (r RID) Address() RID {
	return r &^ Deleted
}

func (r RID) IsTail() bool {
	a := r.Address()
	return a >= FirstTail && a <= LastTail
}

func (r RID) IsBase() bool {
	a := r.Address()
	return a >= FirstBase && a <= LastBase
}

func (r RID) String() string {
	switch {
	case r == None:
		return "none"
	case r.IsDeleted():
		return fmt.Sprintf("%s(deleted)", r.Address())
	case r.IsTail():
		return fmt.Sprintf("t%d", uint64(r-FirstTail))
	default:
		return fmt.Sprintf("b%d", uint64(r))
	}
}

// Allocator hands out non-overlapping windows of RIDs from the base and tail
// keyspaces. One Allocator is owned by a database and shared by all of its tables.
type Allocator struct {
	mutex    sync.Mutex
	nextBase RID
	nextTail RID
}

func NewAllocator() *Allocator {
	return &Allocator{
		nextBase: FirstBase,
		nextTail: FirstTail,
	}
}

func window(next *RID, last RID, n int) (RID, error) {
	if n <= 0 {
		panic(fmt.Sprintf("rid: window of %d", n))
	}
	first := *next
	if first > last || uint64(last-first) < uint64(n-1) {
		return None, ErrExhausted
	}
	*next = first + RID(n)
	return first, nil
}

// Base claims the next n base RIDs and returns the first one.
func (a *Allocator) Base(n int) (RID, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return window(&a.nextBase, LastBase, n)
}

// Tail claims the next n tail RIDs and returns the first one.
func (a *Allocator) Tail(n int) (RID, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return window(&a.nextTail, LastTail, n)
}

// Next returns the next unclaimed base and tail RIDs.
func (a *Allocator) Next() (RID, RID) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.nextBase, a.nextTail
}

// Reset moves both counters; it is used when loading a saved database.
func (a *Allocator) Reset(nextBase, nextTail RID) error {
	if nextBase < FirstBase || nextBase > LastBase+1 || nextTail < FirstTail ||
		nextTail > LastTail+1 {

		return fmt.Errorf("rid: reset: counters out of range: %d, %d", nextBase, nextTail)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.nextBase = nextBase
	a.nextTail = nextTail
	return nil
}
