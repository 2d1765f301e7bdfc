package txn

import (
	"fmt"
	"sync"

	"github.com/leftmike/lstore/latch"
)

type lockKey struct {
	table string
	key   int64
}

func (lk lockKey) String() string {
	return fmt.Sprintf("%s/%d", lk.table, lk.key)
}

// Locks maps records, by table and primary key, to their latches. Latches are made
// on first use and are never removed. Transactions sharing records must share a
// Locks.
type Locks struct {
	mutex sync.Mutex
	locks map[lockKey]*latch.XSLock
}

func NewLocks() *Locks {
	return &Locks{
		locks: map[lockKey]*latch.XSLock{},
	}
}

func (l *Locks) latch(lk lockKey) *latch.XSLock {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	xs, ok := l.locks[lk]
	if !ok {
		xs = &latch.XSLock{}
		l.locks[lk] = xs
	}
	return xs
}

// Holders returns the shared and exclusive holders of the latch on a record.
func (l *Locks) Holders(table string, key int64) (int, int) {
	return l.latch(lockKey{table, key}).Holders()
}
