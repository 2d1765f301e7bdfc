package page

import (
	"fmt"
	"sync/atomic"

	"github.com/leftmike/lstore/rid"
)

// LogicalPage bundles one Page per column of a table and presents them as rows.
// The rows of a LogicalPage are addressed by a contiguous window of RIDs starting
// at First; a row becomes visible to readers only once every column is written.
type LogicalPage struct {
	first rid.RID
	pages []*Page
	count int32
}

func NewLogicalPage(first rid.RID, numColumns, capacity int) *LogicalPage {
	lp := &LogicalPage{
		first: first,
		pages: make([]*Page, numColumns),
	}
	for col := range lp.pages {
		lp.pages[col] = NewPage(capacity)
	}
	return lp
}

// RestoreLogicalPage rebuilds a LogicalPage from loaded column pages; every page
// must hold the same number of values.
func RestoreLogicalPage(first rid.RID, pages []*Page) (*LogicalPage, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("page: restore %s: no columns", first)
	}
	n := pages[0].Len()
	for col, p := range pages {
		if p.Len() != n || p.Cap() != pages[0].Cap() {
			return nil, fmt.Errorf("page: restore %s: column %d has %d of %d values; want %d of %d",
				first, col, p.Len(), p.Cap(), n, pages[0].Cap())
		}
	}

	return &LogicalPage{
		first: first,
		pages: pages,
		count: int32(n),
	}, nil
}

func (lp *LogicalPage) First() rid.RID {
	return lp.first
}

// Last is the highest RID in the page's window, whether or not it is written.
func (lp *LogicalPage) Last() rid.RID {
	return lp.first + rid.RID(lp.Cap()-1)
}

func (lp *LogicalPage) Len() int {
	return int(atomic.LoadInt32(&lp.count))
}

func (lp *LogicalPage) Cap() int {
	return lp.pages[0].Cap()
}

func (lp *LogicalPage) NumColumns() int {
	return len(lp.pages)
}

func (lp *LogicalPage) HasCapacity() bool {
	return lp.Len() < lp.Cap()
}

// FirstAvailable returns the RID the next Write will use, or rid.None if the page is
// full.
func (lp *LogicalPage) FirstAvailable() rid.RID {
	n := lp.Len()
	if n >= lp.Cap() {
		return rid.None
	}
	return lp.first + rid.RID(n)
}

// Offset converts r into an offset in this page.
func (lp *LogicalPage) Offset(r rid.RID) (int, bool) {
	if r < lp.first || r > lp.Last() {
		return 0, false
	}
	return int(r - lp.first), true
}

func (lp *LogicalPage) Column(col int) *Page {
	return lp.pages[col]
}

// Write appends row at the next free offset of every column and returns its RID.
// Writers must be serialized by the caller.
func (lp *LogicalPage) Write(row []uint64) (rid.RID, error) {
	if len(row) != len(lp.pages) {
		return rid.None, fmt.Errorf("%w: got %d want %d", ErrRowWidth, len(row), len(lp.pages))
	}
	off := lp.Len()
	if off >= lp.Cap() {
		return rid.None, fmt.Errorf("page %s: %w", lp.first, ErrCapacityExceeded)
	}

	for col, p := range lp.pages {
		poff, err := p.Append(row[col])
		if err != nil {
			return rid.None, fmt.Errorf("page %s: column %d: %w", lp.first, col, err)
		} else if poff != off {
			panic(fmt.Sprintf("page %s: column %d at offset %d; want %d", lp.first, col, poff,
				off))
		}
	}

	atomic.StoreInt32(&lp.count, int32(off+1))
	return lp.first + rid.RID(off), nil
}

func (lp *LogicalPage) checkOffset(off int) error {
	if off < 0 || off >= lp.Len() {
		return fmt.Errorf("page %s: offset %d: %w", lp.first, off, ErrOutOfRange)
	}
	return nil
}

// Read returns every column of the row at off.
func (lp *LogicalPage) Read(off int) ([]uint64, error) {
	err := lp.checkOffset(off)
	if err != nil {
		return nil, err
	}

	row := make([]uint64, len(lp.pages))
	for col, p := range lp.pages {
		row[col] = p.Get(off)
	}
	return row, nil
}

// Get returns a single column of the row at off.
func (lp *LogicalPage) Get(col, off int) (uint64, error) {
	err := lp.checkOffset(off)
	if err != nil {
		return 0, err
	}
	return lp.pages[col].Get(off), nil
}

// UpdateIndirection overwrites the indirection column of the row at off; it is the
// only in-place update a LogicalPage allows.
func (lp *LogicalPage) UpdateIndirection(off int, v rid.RID) error {
	err := lp.checkOffset(off)
	if err != nil {
		return err
	}
	lp.pages[IndirectionColumn].set(off, uint64(v))
	return nil
}

// SwapIndirection replaces the indirection column of the row at off with new if it
// still holds old.
func (lp *LogicalPage) SwapIndirection(off int, old, new rid.RID) (bool, error) {
	err := lp.checkOffset(off)
	if err != nil {
		return false, err
	}
	return lp.pages[IndirectionColumn].compareAndSwap(off, uint64(old), uint64(new)), nil
}
