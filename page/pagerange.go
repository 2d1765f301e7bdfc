package page

import (
	"errors"
	"fmt"

	"github.com/leftmike/lstore/rid"
)

// Range is a page range: a fixed number of base pages followed by the tail pages
// holding updates to the records in those base pages.
type Range struct {
	basePages int
	pages     []*LogicalPage
}

// MakeRange claims a base RID window for each base page from a.
func MakeRange(a *rid.Allocator, l Layout, numColumns int) (*Range, error) {
	pr := &Range{
		basePages: l.BasePages,
		pages:     make([]*LogicalPage, 0, l.BasePages+1),
	}
	for pdx := 0; pdx < l.BasePages; pdx += 1 {
		first, err := a.Base(l.Capacity())
		if err != nil {
			return nil, fmt.Errorf("page: make range: %w", err)
		}
		pr.pages = append(pr.pages, NewLogicalPage(first, numColumns, l.Capacity()))
	}
	return pr, nil
}

// MakeTailPage claims a tail RID window from a; the caller adds the page to the range
// that owns the records it versions.
func MakeTailPage(a *rid.Allocator, l Layout, numColumns int) (*LogicalPage, error) {
	first, err := a.Tail(l.Capacity())
	if err != nil {
		return nil, fmt.Errorf("page: make tail page: %w", err)
	}
	return NewLogicalPage(first, numColumns, l.Capacity()), nil
}

// RestoreRange rebuilds a Range from its pages, base pages first.
func RestoreRange(basePages int, pages []*LogicalPage) (*Range, error) {
	if len(pages) < basePages {
		return nil, fmt.Errorf("page: restore range: %d pages; want at least %d", len(pages),
			basePages)
	}
	for pdx, lp := range pages {
		if (pdx < basePages) != lp.First().IsBase() {
			return nil, fmt.Errorf("page: restore range: page %d: unexpected RID %s", pdx,
				lp.First())
		}
	}
	return &Range{
		basePages: basePages,
		pages:     pages,
	}, nil
}

func (pr *Range) Len() int {
	return len(pr.pages)
}

func (pr *Range) Page(pdx int) *LogicalPage {
	return pr.pages[pdx]
}

func (pr *Range) Pages() []*LogicalPage {
	return pr.pages
}

func (pr *Range) BasePages() []*LogicalPage {
	return pr.pages[:pr.basePages]
}

func (pr *Range) TailPages() []*LogicalPage {
	return pr.pages[pr.basePages:]
}

// FirstAvailableBase returns the RID the next base write will use, or rid.None if
// the base pages are full.
func (pr *Range) FirstAvailableBase() rid.RID {
	for _, lp := range pr.BasePages() {
		if r := lp.FirstAvailable(); r != rid.None {
			return r
		}
	}
	return rid.None
}

// FirstAvailableTail returns the RID the next tail write will use, or rid.None if
// a tail page must be added first.
func (pr *Range) FirstAvailableTail() rid.RID {
	if len(pr.pages) == pr.basePages {
		return rid.None
	}
	return pr.pages[len(pr.pages)-1].FirstAvailable()
}

// WriteBase writes row into the first base page with room.
func (pr *Range) WriteBase(row []uint64) (rid.RID, error) {
	for _, lp := range pr.BasePages() {
		if lp.HasCapacity() {
			return lp.Write(row)
		}
	}
	return rid.None, ErrCapacityExceeded
}

// WriteTail writes row into the newest tail page.
func (pr *Range) WriteTail(row []uint64) (rid.RID, error) {
	if len(pr.pages) == pr.basePages {
		return rid.None, ErrCapacityExceeded
	}
	return pr.pages[len(pr.pages)-1].Write(row)
}

func (pr *Range) AddTail(lp *LogicalPage) {
	if !lp.First().IsTail() {
		panic(fmt.Sprintf("page: add tail: %s is not a tail RID", lp.First()))
	}
	pr.pages = append(pr.pages, lp)
}

// IsFull reports whether err means the write target had no room.
func IsFull(err error) bool {
	return errors.Is(err, ErrCapacityExceeded)
}
