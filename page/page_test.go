package page_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leftmike/lstore/page"
	"github.com/leftmike/lstore/rid"
)

func TestLayout(t *testing.T) {
	require.Equal(t, 512, page.DefaultLayout.Capacity())
	require.Equal(t, 8192, page.DefaultLayout.RangeCapacity())
	require.NoError(t, page.DefaultLayout.Validate())

	require.Error(t, page.Layout{PageSize: 12, BasePages: 1}.Validate())
	require.Error(t, page.Layout{PageSize: 0, BasePages: 1}.Validate())
	require.Error(t, page.Layout{PageSize: 64, BasePages: 0}.Validate())
}

func TestPage(t *testing.T) {
	p := page.NewPage(4)
	require.Equal(t, 0, p.Len())
	require.Equal(t, 4, p.Cap())

	for i := 0; i < 4; i += 1 {
		off, err := p.Append(uint64(i * 10))
		require.NoError(t, err)
		require.Equal(t, i, off)
	}
	require.False(t, p.HasCapacity())

	_, err := p.Append(99)
	require.True(t, errors.Is(err, page.ErrCapacityExceeded))

	for i := 0; i < 4; i += 1 {
		require.Equal(t, uint64(i*10), p.Get(i))
	}

	buf := p.Bytes()
	require.Len(t, buf, 4*page.ValueWidth)
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 10}, buf[8:16])

	lp, err := page.LoadPage(buf, 8)
	require.NoError(t, err)
	require.Equal(t, 4, lp.Len())
	require.Equal(t, 8, lp.Cap())
	require.Equal(t, uint64(30), lp.Get(3))

	_, err = page.LoadPage(buf, 2)
	require.True(t, errors.Is(err, page.ErrCapacityExceeded))
	_, err = page.LoadPage(buf[:7], 8)
	require.Error(t, err)
}

func TestLogicalPage(t *testing.T) {
	lp := page.NewLogicalPage(101, 4, 3)
	require.Equal(t, rid.RID(101), lp.First())
	require.Equal(t, rid.RID(103), lp.Last())
	require.Equal(t, rid.RID(101), lp.FirstAvailable())

	_, err := lp.Write([]uint64{1, 2, 3})
	require.True(t, errors.Is(err, page.ErrRowWidth))

	for i := 0; i < 3; i += 1 {
		r, err := lp.Write([]uint64{0, 100, uint64(i), uint64(i * i)})
		require.NoError(t, err)
		require.Equal(t, rid.RID(101+i), r)
		for col := 0; col < lp.NumColumns(); col += 1 {
			require.Equal(t, lp.Len(), lp.Column(col).Len())
		}
	}
	require.Equal(t, rid.None, lp.FirstAvailable())

	_, err = lp.Write([]uint64{0, 0, 0, 0})
	require.True(t, page.IsFull(err))

	row, err := lp.Read(2)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 100, 2, 4}, row)

	v, err := lp.Get(3, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)

	_, err = lp.Read(3)
	require.True(t, errors.Is(err, page.ErrOutOfRange))

	require.NoError(t, lp.UpdateIndirection(1, rid.FirstTail+5))
	v, err = lp.Get(page.IndirectionColumn, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(rid.FirstTail+5), v)

	ok, err := lp.SwapIndirection(1, rid.FirstTail, rid.Deleted)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = lp.SwapIndirection(1, rid.FirstTail+5, (rid.FirstTail+5)|rid.Deleted)
	require.NoError(t, err)
	require.True(t, ok)

	off, ok := lp.Offset(103)
	require.True(t, ok)
	require.Equal(t, 2, off)
	_, ok = lp.Offset(104)
	require.False(t, ok)
	_, ok = lp.Offset(100)
	require.False(t, ok)
}

func TestRestoreLogicalPage(t *testing.T) {
	lp := page.NewLogicalPage(1, 3, 8)
	for i := 0; i < 5; i += 1 {
		_, err := lp.Write([]uint64{0, uint64(i), uint64(i + 1)})
		require.NoError(t, err)
	}

	var pages []*page.Page
	for col := 0; col < lp.NumColumns(); col += 1 {
		p, err := page.LoadPage(lp.Column(col).Bytes(), 8)
		require.NoError(t, err)
		pages = append(pages, p)
	}
	rlp, err := page.RestoreLogicalPage(lp.First(), pages)
	require.NoError(t, err)
	require.Equal(t, 5, rlp.Len())
	row, err := rlp.Read(4)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 4, 5}, row)

	short, err := page.LoadPage(lp.Column(0).Bytes()[:8], 8)
	require.NoError(t, err)
	_, err = page.RestoreLogicalPage(1, []*page.Page{pages[0], short})
	require.Error(t, err)
}

func TestRange(t *testing.T) {
	a := rid.NewAllocator()
	l := page.Layout{PageSize: 32, BasePages: 2}

	pr, err := page.MakeRange(a, l, 3)
	require.NoError(t, err)
	require.Len(t, pr.BasePages(), 2)
	require.Len(t, pr.TailPages(), 0)
	require.Equal(t, rid.RID(1), pr.FirstAvailableBase())
	require.Equal(t, rid.None, pr.FirstAvailableTail())

	for i := 0; i < l.RangeCapacity(); i += 1 {
		require.Equal(t, rid.RID(i+1), pr.FirstAvailableBase())
		r, err := pr.WriteBase([]uint64{0, 0, uint64(i)})
		require.NoError(t, err)
		require.Equal(t, rid.RID(i+1), r)
	}
	require.Equal(t, rid.None, pr.FirstAvailableBase())
	_, err = pr.WriteBase([]uint64{0, 0, 0})
	require.True(t, page.IsFull(err))

	_, err = pr.WriteTail([]uint64{0, 0, 0})
	require.True(t, page.IsFull(err))

	tp, err := page.MakeTailPage(a, l, 3)
	require.NoError(t, err)
	pr.AddTail(tp)
	require.Equal(t, rid.FirstTail, pr.FirstAvailableTail())
	r, err := pr.WriteTail([]uint64{0, 0, 7})
	require.NoError(t, err)
	require.Equal(t, rid.FirstTail, r)
	require.Equal(t, 3, pr.Len())

	_, err = page.RestoreRange(2, pr.Pages())
	require.NoError(t, err)
	_, err = page.RestoreRange(3, pr.Pages())
	require.Error(t, err)

	require.Panics(t, func() { pr.AddTail(page.NewLogicalPage(1, 3, 4)) })
}

func TestConcurrentReaders(t *testing.T) {
	lp := page.NewLogicalPage(1, 2, 1024)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		for i := 0; i < 1024; i += 1 {
			_, err := lp.Write([]uint64{uint64(i), uint64(i)})
			if err != nil {
				t.Errorf("Write() failed with %s", err)
				return
			}
		}
	}()

	for i := 0; i < 4; i += 1 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for lp.HasCapacity() {
				n := lp.Len()
				if n == 0 {
					continue
				}
				row, err := lp.Read(n - 1)
				if err != nil {
					t.Errorf("Read(%d) failed with %s", n-1, err)
					return
				}
				if row[0] != row[1] {
					t.Errorf("Read(%d) got torn row %v", n-1, row)
					return
				}
			}
		}()
	}
	wg.Wait()
}
