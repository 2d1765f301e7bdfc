package page

import (
	"fmt"
)

const (
	// ValueWidth is the width in bytes of every stored value.
	ValueWidth = 8

	IndirectionColumn = 0
	TimestampColumn   = 1
	MetadataColumns   = 2
)

// Layout fixes the geometry of pages and page ranges.
type Layout struct {
	PageSize  int // bytes per Page
	BasePages int // base LogicalPages per Range
}

var (
	DefaultLayout = Layout{
		PageSize:  4096,
		BasePages: 16,
	}
)

// Capacity is the number of values (and so rows) a page holds.
func (l Layout) Capacity() int {
	return l.PageSize / ValueWidth
}

// RangeCapacity is the number of base records a page range holds.
func (l Layout) RangeCapacity() int {
	return l.Capacity() * l.BasePages
}

func (l Layout) Validate() error {
	if l.PageSize < ValueWidth || l.PageSize%ValueWidth != 0 {
		return fmt.Errorf("page: page size must be a positive multiple of %d: %d", ValueWidth,
			l.PageSize)
	}
	if l.BasePages < 1 {
		return fmt.Errorf("page: base pages must be at least 1: %d", l.BasePages)
	}
	return nil
}
