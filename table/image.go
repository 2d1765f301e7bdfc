package table

import (
	"fmt"
	"sort"

	"github.com/leftmike/lstore/page"
	"github.com/leftmike/lstore/rid"
)

// Image is everything needed to rebuild a table. The pages are shared with the
// table, not copied, so the table must not change while an Image is in use.
type Image struct {
	Name       string
	NumColumns int
	Key        int
	Indexed    []int
	Layout     page.Layout
	Ranges     [][]*page.LogicalPage
	Tombstones map[int64]rid.RID
}

func (t *Table) Image() *Image {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	img := &Image{
		Name:       t.name,
		NumColumns: t.numColumns,
		Key:        t.key,
		Indexed:    t.indices.Columns(),
		Layout:     t.layout,
		Ranges:     make([][]*page.LogicalPage, 0, len(t.ranges)),
		Tombstones: map[int64]rid.RID{},
	}
	for _, pr := range t.ranges {
		img.Ranges = append(img.Ranges, append([]*page.LogicalPage(nil), pr.Pages()...))
	}

	t.tombMutex.Lock()
	for key, r := range t.tombstones {
		img.Tombstones[key] = r
	}
	t.tombMutex.Unlock()
	return img
}

// TombstoneKeys returns the deleted primary keys of the image in ascending order.
func (img *Image) TombstoneKeys() []int64 {
	keys := make([]int64, 0, len(img.Tombstones))
	for key := range img.Tombstones {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// FromImage rebuilds a table from img; the indices are rebuilt from the current
// version of every live record.
func FromImage(img *Image, alloc *rid.Allocator, opts Options) (*Table, error) {
	opts.Layout = img.Layout
	opts.Indexed = img.Indexed
	t, err := newTable(img.Name, img.NumColumns, img.Key, alloc, opts)
	if err != nil {
		return nil, err
	}
	if len(img.Ranges) == 0 {
		return nil, fmt.Errorf("table %s: image has no page ranges", img.Name)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	for rdx, pages := range img.Ranges {
		for _, lp := range pages {
			if lp.NumColumns() != internal(img.NumColumns) || lp.Cap() != img.Layout.Capacity() {
				return nil, fmt.Errorf("table %s: range %d: page %s does not fit the layout",
					img.Name, rdx, lp.First())
			}
		}
		pr, err := page.RestoreRange(img.Layout.BasePages, pages)
		if err != nil {
			return nil, fmt.Errorf("table %s: range %d: %s", img.Name, rdx, err)
		}
		t.ranges = append(t.ranges, pr)
	}
	t.directory.Rebuild(t.ranges)

	cols := t.indices.Columns()
	err = t.scan(
		func(baseRID rid.RID, row []uint64) error {
			for _, col := range cols {
				err := t.indices.Insert(col, int64(row[internal(col)]), baseRID)
				if err != nil {
					return err
				}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	for key, r := range img.Tombstones {
		t.tombstones[key] = r
	}
	return t, nil
}
