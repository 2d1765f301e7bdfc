package table

import (
	"fmt"

	"github.com/leftmike/lstore/page"
	"github.com/leftmike/lstore/rid"
)

// Location is where a RID lives in a table.
type Location struct {
	Range  int
	Page   int
	Offset int
}

// Directory maps the first RID of every LogicalPage in a table to its range and page.
type Directory struct {
	capacity int
	pages    map[rid.RID]Location
}

func NewDirectory(capacity int) *Directory {
	return &Directory{
		capacity: capacity,
		pages:    map[rid.RID]Location{},
	}
}

// Rebuild recomputes every mapping from ranges.
func (d *Directory) Rebuild(ranges []*page.Range) {
	pages := map[rid.RID]Location{}
	for rdx, pr := range ranges {
		for pdx, lp := range pr.Pages() {
			pages[lp.First()] = Location{Range: rdx, Page: pdx}
		}
	}
	d.pages = pages
}

// Resolve finds the page holding r by probing each RID that could be the first RID
// of its page; at most capacity slots are examined regardless of table size.
func (d *Directory) Resolve(r rid.RID) (Location, error) {
	r = r.Address()
	if r == rid.None {
		return Location{}, fmt.Errorf("%w: %s", ErrRecordNotFound, r)
	}

	lo := rid.FirstBase
	if r > rid.RID(d.capacity-1) {
		lo = r - rid.RID(d.capacity-1)
	}
	for first := lo; first <= r; first += 1 {
		if loc, ok := d.pages[first]; ok {
			loc.Offset = int(r - first)
			return loc, nil
		}
	}
	return Location{}, fmt.Errorf("%w: %s", ErrRecordNotFound, r)
}

func (d *Directory) Len() int {
	return len(d.pages)
}
