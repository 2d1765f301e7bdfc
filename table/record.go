package table

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/leftmike/lstore/rid"
)

// Cell is an optional column value. The zero Cell is unset: in a Record it is a
// column that was masked out, and in an update it leaves the column unchanged.
type Cell struct {
	value int64
	set   bool
}

var (
	Unchanged = Cell{}
)

func Value(v int64) Cell {
	return Cell{value: v, set: true}
}

// Cells returns a set Cell for every value.
func Cells(vals ...int64) []Cell {
	cells := make([]Cell, len(vals))
	for i, v := range vals {
		cells[i] = Value(v)
	}
	return cells
}

func (c Cell) Get() (int64, bool) {
	return c.value, c.set
}

func (c Cell) IsSet() bool {
	return c.set
}

func (c Cell) String() string {
	if !c.set {
		return "_"
	}
	return strconv.FormatInt(c.value, 10)
}

// Record is a read-only view of the requested columns of the current version of one
// record.
type Record struct {
	RID     rid.RID // base RID
	Columns []Cell
}

func (rec Record) Column(col int) (int64, bool) {
	return rec.Columns[col].Get()
}

func (rec Record) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, c := range rec.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.String())
	}
	b.WriteByte(']')
	return b.String()
}

// Version is one entry in the version chain of a record.
type Version struct {
	RID       rid.RID
	Timestamp time.Time
	Columns   []int64
}

func (ver Version) String() string {
	return fmt.Sprintf("%s@%s %v", ver.RID, ver.Timestamp.Format(time.RFC3339Nano),
		ver.Columns)
}

// AllColumns returns a mask selecting every one of n columns.
func AllColumns(n int) []bool {
	mask := make([]bool, n)
	for i := range mask {
		mask[i] = true
	}
	return mask
}

// Mask returns a mask selecting only the listed columns of n.
func Mask(n int, cols ...int) []bool {
	mask := make([]bool, n)
	for _, col := range cols {
		mask[col] = true
	}
	return mask
}
