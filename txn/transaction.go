// Package txn runs groups of table operations as transactions. Each transaction
// takes record latches as it goes, two phase style, and never waits for one: a
// latch it cannot get aborts it, undoing what it already did in reverse order.
// Workers retry aborted transactions.
package txn

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/leftmike/lstore/latch"
	"github.com/leftmike/lstore/rid"
	"github.com/leftmike/lstore/table"
)

var (
	ErrAborted  = errors.New("txn: transaction aborted")
	ErrFinished = errors.New("txn: transaction already run")
)

type Kind int

const (
	Select Kind = iota
	Insert
	Update
	Delete
	Increment
	Sum
)

func (k Kind) String() string {
	switch k {
	case Select:
		return "select"
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	case Increment:
		return "increment"
	case Sum:
		return "sum"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type op struct {
	kind    Kind
	tbl     *table.Table
	key     int64
	col     int
	end     int64
	mask    []bool
	values  []int64
	columns []table.Cell
}

// Result is what one operation of a committed transaction returned.
type Result struct {
	Kind    Kind
	Records []table.Record // Select
	RID     rid.RID        // Insert and Update
	Value   int64          // Increment and Sum
}

type Transaction struct {
	id      uuid.UUID
	locks   *Locks
	ops     []op
	held    map[lockKey]bool // true if exclusive
	order   []lockKey
	undo    []func() error
	results []Result
	done    bool
}

func New(locks *Locks) *Transaction {
	return &Transaction{
		id:    uuid.New(),
		locks: locks,
	}
}

func (tx *Transaction) ID() uuid.UUID {
	return tx.id
}

func (tx *Transaction) Len() int {
	return len(tx.ops)
}

// Select queues a select of the records whose column col holds keyword.
func (tx *Transaction) Select(tbl *table.Table, keyword int64, col int, mask []bool) {
	tx.ops = append(tx.ops, op{kind: Select, tbl: tbl, key: keyword, col: col, mask: mask})
}

func (tx *Transaction) Insert(tbl *table.Table, values ...int64) {
	tx.ops = append(tx.ops, op{kind: Insert, tbl: tbl, values: values})
}

func (tx *Transaction) Update(tbl *table.Table, key int64, columns []table.Cell) {
	tx.ops = append(tx.ops, op{kind: Update, tbl: tbl, key: key, columns: columns})
}

func (tx *Transaction) Delete(tbl *table.Table, key int64) {
	tx.ops = append(tx.ops, op{kind: Delete, tbl: tbl, key: key})
}

func (tx *Transaction) Increment(tbl *table.Table, key int64, col int) {
	tx.ops = append(tx.ops, op{kind: Increment, tbl: tbl, key: key, col: col})
}

// Sum queues a sum of column col over the primary keys in [start, end]. Sums take
// no latches.
func (tx *Transaction) Sum(tbl *table.Table, start, end int64, col int) {
	tx.ops = append(tx.ops, op{kind: Sum, tbl: tbl, key: start, end: end, col: col})
}

func (tx *Transaction) acquire(tbl *table.Table, key int64, exclusive bool) error {
	if tx.held == nil {
		tx.held = map[lockKey]bool{}
	}

	lk := lockKey{tbl.Name(), key}
	xs := tx.locks.latch(lk)
	held, ok := tx.held[lk]
	var err error
	if ok {
		if held || !exclusive {
			return nil
		}
		err = xs.Upgrade()
	} else if exclusive {
		err = xs.AcquireExclusive()
	} else {
		err = xs.AcquireShared()
	}
	if err != nil {
		return fmt.Errorf("%s: %w", lk, err)
	}

	if !ok {
		tx.order = append(tx.order, lk)
	}
	tx.held[lk] = exclusive
	return nil
}

func (tx *Transaction) releaseAll() {
	for _, lk := range tx.order {
		err := tx.locks.latch(lk).Release()
		if err != nil {
			panic(fmt.Sprintf("txn %s: release %s: %s", tx.id, lk, err))
		}
	}
	tx.held = nil
	tx.order = nil
}

func (tx *Transaction) execute(o op) (Result, error) {
	res := Result{Kind: o.kind}
	switch o.kind {
	case Select:
		if o.col == o.tbl.Key() {
			err := tx.acquire(o.tbl, o.key, false)
			if err != nil {
				return res, err
			}
		} else {
			recs, err := o.tbl.Select(o.key, o.col, table.Mask(o.tbl.NumColumns(), o.tbl.Key()))
			if err != nil {
				return res, err
			}
			for _, rec := range recs {
				key, _ := rec.Column(o.tbl.Key())
				err = tx.acquire(o.tbl, key, false)
				if err != nil {
					return res, err
				}
			}
		}
		recs, err := o.tbl.Select(o.key, o.col, o.mask)
		if err != nil {
			return res, err
		}
		res.Records = recs
	case Insert:
		if len(o.values) != o.tbl.NumColumns() {
			return res, fmt.Errorf("%w: got %d want %d", table.ErrColumnCount, len(o.values),
				o.tbl.NumColumns())
		}
		key := o.values[o.tbl.Key()]
		err := tx.acquire(o.tbl, key, true)
		if err != nil {
			return res, err
		}
		prior := o.tbl.Tombstone(key)
		res.RID, err = o.tbl.Insert(o.values)
		if err != nil {
			return res, err
		}
		tx.undo = append(tx.undo, func() error { return o.tbl.Discard(key, prior) })
	case Update:
		err := tx.acquire(o.tbl, o.key, true)
		if err != nil {
			return res, err
		}
		key := o.key
		if len(o.columns) == o.tbl.NumColumns() {
			if newKey, ok := o.columns[o.tbl.Key()].Get(); ok && newKey != key {
				err = tx.acquire(o.tbl, newKey, true)
				if err != nil {
					return res, err
				}
				key = newKey
			}
		}
		prior := rid.None
		if key != o.key {
			prior = o.tbl.Tombstone(key)
		}
		res.RID, err = o.tbl.Update(o.key, o.columns)
		if err != nil {
			return res, err
		}
		tx.undo = append(tx.undo, func() error { return o.tbl.Revert(key, prior) })
	case Delete:
		err := tx.acquire(o.tbl, o.key, true)
		if err != nil {
			return res, err
		}
		err = o.tbl.Delete(o.key)
		if err != nil {
			return res, err
		}
		tx.undo = append(tx.undo, func() error { return o.tbl.Restore(o.key) })
	case Increment:
		err := tx.acquire(o.tbl, o.key, true)
		if err != nil {
			return res, err
		}
		res.Value, err = o.tbl.Increment(o.key, o.col)
		if err != nil {
			return res, err
		}
		tx.undo = append(tx.undo, func() error { return o.tbl.Revert(o.key, rid.None) })
	case Sum:
		var err error
		res.Value, err = o.tbl.Sum(o.key, o.end, o.col)
		if err != nil {
			return res, err
		}
	default:
		panic(fmt.Sprintf("txn: unexpected operation: %s", o.kind))
	}
	return res, nil
}

// abort undoes, newest first, what the transaction has done and releases its
// latches, even when an undo fails.
func (tx *Transaction) abort() error {
	defer func() {
		tx.undo = nil
		tx.results = nil
		tx.releaseAll()
	}()

	for udx := len(tx.undo) - 1; udx >= 0; udx -= 1 {
		err := tx.undo[udx]()
		if err != nil {
			return fmt.Errorf("txn %s: undo failed: %w", tx.id, err)
		}
	}
	return nil
}

// Run executes the queued operations in order. If every one succeeds the
// transaction commits and its latches are released. Otherwise what was done is
// undone, the latches are released, and the returned error wraps both ErrAborted and
// the cause. A transaction may be run again after it aborts.
func (tx *Transaction) Run() error {
	if tx.done {
		return ErrFinished
	}

	for _, o := range tx.ops {
		res, err := tx.execute(o)
		if err != nil {
			uerr := tx.abort()
			if uerr != nil {
				return fmt.Errorf("%w: %s: %w", ErrAborted, o.kind, uerr)
			}
			return fmt.Errorf("%w: %s: %w", ErrAborted, o.kind, err)
		}
		tx.results = append(tx.results, res)
	}

	tx.undo = nil
	tx.releaseAll()
	tx.done = true
	return nil
}

// Results returns one Result per operation once the transaction has committed.
func (tx *Transaction) Results() []Result {
	return tx.results
}

// Conflict reports whether err is an abort caused by a latch that could not be
// acquired; only these are worth retrying.
func Conflict(err error) bool {
	return errors.Is(err, ErrAborted) && errors.Is(err, latch.ErrLockConflict)
}
