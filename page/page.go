package page

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	ErrCapacityExceeded = errors.New("page: capacity exceeded")
	ErrRowWidth         = errors.New("page: row width does not match columns")
	ErrOutOfRange       = errors.New("page: offset out of range")
)

// Page is an append-only array of fixed-width values for one column. Values are
// read and written atomically so that a row published by a LogicalPage may be read
// while later rows are being appended.
type Page struct {
	vals  []uint64
	count int32
}

func NewPage(capacity int) *Page {
	return &Page{
		vals: make([]uint64, capacity),
	}
}

func (p *Page) Len() int {
	return int(atomic.LoadInt32(&p.count))
}

func (p *Page) Cap() int {
	return len(p.vals)
}

func (p *Page) HasCapacity() bool {
	return p.Len() < len(p.vals)
}

// Append stores v at the next free offset and returns that offset.
func (p *Page) Append(v uint64) (int, error) {
	off := p.Len()
	if off >= len(p.vals) {
		return 0, ErrCapacityExceeded
	}
	atomic.StoreUint64(&p.vals[off], v)
	atomic.StoreInt32(&p.count, int32(off+1))
	return off, nil
}

func (p *Page) Get(off int) uint64 {
	return atomic.LoadUint64(&p.vals[off])
}

func (p *Page) set(off int, v uint64) {
	atomic.StoreUint64(&p.vals[off], v)
}

func (p *Page) compareAndSwap(off int, old, new uint64) bool {
	return atomic.CompareAndSwapUint64(&p.vals[off], old, new)
}

// Bytes returns the filled values encoded big-endian, ValueWidth bytes each.
func (p *Page) Bytes() []byte {
	n := p.Len()
	buf := make([]byte, n*ValueWidth)
	for off := 0; off < n; off += 1 {
		binary.BigEndian.PutUint64(buf[off*ValueWidth:], p.Get(off))
	}
	return buf
}

// LoadPage is the inverse of Bytes.
func LoadPage(buf []byte, capacity int) (*Page, error) {
	if len(buf)%ValueWidth != 0 {
		return nil, fmt.Errorf("page: load: length %d is not a multiple of %d", len(buf),
			ValueWidth)
	}
	n := len(buf) / ValueWidth
	if n > capacity {
		return nil, fmt.Errorf("page: load: %d values: %w", n, ErrCapacityExceeded)
	}

	p := NewPage(capacity)
	for off := 0; off < n; off += 1 {
		p.vals[off] = binary.BigEndian.Uint64(buf[off*ValueWidth:])
	}
	p.count = int32(n)
	return p, nil
}
