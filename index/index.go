package index

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/leftmike/lstore/rid"
)

var (
	ErrNotIndexed = errors.New("index: column not indexed")
)

// Indices holds one equality index per indexed column. Each index maps a value to
// the set of base RIDs whose current version holds that value.
type Indices struct {
	mutex   sync.RWMutex
	columns map[int]*columnIndex
}

type columnIndex struct {
	mutex sync.RWMutex
	tree  *btree.BTree
}

type entry struct {
	val int64
	rid rid.RID
}

func (e entry) Less(item btree.Item) bool {
	e2 := item.(entry)
	if e.val < e2.val {
		return true
	}
	return e.val == e2.val && e.rid < e2.rid
}

func NewIndices() *Indices {
	return &Indices{
		columns: map[int]*columnIndex{},
	}
}

func (ix *Indices) column(col int) (*columnIndex, error) {
	ix.mutex.RLock()
	defer ix.mutex.RUnlock()

	ci, ok := ix.columns[col]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotIndexed, col)
	}
	return ci, nil
}

// Create adds an empty index on col; it returns false if col is already indexed.
func (ix *Indices) Create(col int) bool {
	ix.mutex.Lock()
	defer ix.mutex.Unlock()

	if _, ok := ix.columns[col]; ok {
		return false
	}
	ix.columns[col] = &columnIndex{
		tree: btree.New(16),
	}
	return true
}

func (ix *Indices) Drop(col int) bool {
	ix.mutex.Lock()
	defer ix.mutex.Unlock()

	if _, ok := ix.columns[col]; !ok {
		return false
	}
	delete(ix.columns, col)
	return true
}

func (ix *Indices) Has(col int) bool {
	ix.mutex.RLock()
	defer ix.mutex.RUnlock()

	_, ok := ix.columns[col]
	return ok
}

// Columns returns the indexed columns in ascending order.
func (ix *Indices) Columns() []int {
	ix.mutex.RLock()
	defer ix.mutex.RUnlock()

	cols := make([]int, 0, len(ix.columns))
	for col := range ix.columns {
		cols = append(cols, col)
	}
	sort.Ints(cols)
	return cols
}

func (ix *Indices) Insert(col int, val int64, r rid.RID) error {
	ci, err := ix.column(col)
	if err != nil {
		return err
	}

	ci.mutex.Lock()
	defer ci.mutex.Unlock()

	ci.tree.ReplaceOrInsert(entry{val, r})
	return nil
}

// Delete removes r from the set for val; it is not an error if r is not present.
func (ix *Indices) Delete(col int, val int64, r rid.RID) error {
	ci, err := ix.column(col)
	if err != nil {
		return err
	}

	ci.mutex.Lock()
	defer ci.mutex.Unlock()

	ci.tree.Delete(entry{val, r})
	return nil
}

// Replace moves r from oldVal to newVal.
func (ix *Indices) Replace(col int, oldVal, newVal int64, r rid.RID) error {
	ci, err := ix.column(col)
	if err != nil {
		return err
	}

	ci.mutex.Lock()
	defer ci.mutex.Unlock()

	ci.tree.Delete(entry{oldVal, r})
	ci.tree.ReplaceOrInsert(entry{newVal, r})
	return nil
}

// Locate returns the RIDs mapped to val in ascending order; no RIDs and no such
// value are the same thing.
func (ix *Indices) Locate(col int, val int64) ([]rid.RID, error) {
	var rids []rid.RID
	err := ix.Range(col, val, val,
		func(_ int64, r rid.RID) bool {
			rids = append(rids, r)
			return true
		})
	if err != nil {
		return nil, err
	}
	return rids, nil
}

func (ix *Indices) Contains(col int, val int64) (bool, error) {
	ci, err := ix.column(col)
	if err != nil {
		return false, err
	}

	ci.mutex.RLock()
	defer ci.mutex.RUnlock()

	var found bool
	ci.tree.AscendGreaterOrEqual(entry{val, rid.None},
		func(item btree.Item) bool {
			found = item.(entry).val == val
			return false
		})
	return found, nil
}

// Range calls fn for every (value, RID) pair with lo <= value <= hi in ascending
// order until fn returns false. fn must not modify the index.
func (ix *Indices) Range(col int, lo, hi int64, fn func(val int64, r rid.RID) bool) error {
	ci, err := ix.column(col)
	if err != nil {
		return err
	}
	if lo > hi {
		return nil
	}

	ci.mutex.RLock()
	defer ci.mutex.RUnlock()

	ci.tree.AscendGreaterOrEqual(entry{lo, rid.None},
		func(item btree.Item) bool {
			e := item.(entry)
			if e.val > hi {
				return false
			}
			return fn(e.val, e.rid)
		})
	return nil
}

// Len returns the number of (value, RID) pairs in the index on col.
func (ix *Indices) Len(col int) (int, error) {
	ci, err := ix.column(col)
	if err != nil {
		return 0, err
	}

	ci.mutex.RLock()
	defer ci.mutex.RUnlock()

	return ci.tree.Len(), nil
}
