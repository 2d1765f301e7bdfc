package rid_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/leftmike/lstore/rid"
)

func TestKeyspaces(t *testing.T) {
	cases := []struct {
		r          rid.RID
		base, tail bool
		deleted    bool
		address    rid.RID
		s          string
	}{
		{r: rid.None, address: rid.None, s: "none"},
		{r: 1, base: true, address: 1, s: "b1"},
		{r: rid.LastBase, base: true, address: rid.LastBase},
		{r: rid.FirstTail, tail: true, address: rid.FirstTail, s: "t0"},
		{r: rid.LastTail, tail: true, address: rid.LastTail},
		{r: 7 | rid.Deleted, base: true, deleted: true, address: 7, s: "b7(deleted)"},
		{r: (rid.FirstTail + 3) | rid.Deleted, tail: true, deleted: true,
			address: rid.FirstTail + 3, s: "t3(deleted)"},
	}

	for _, c := range cases {
		if c.r.IsBase() != c.base {
			t.Errorf("%d.IsBase() got %v want %v", uint64(c.r), c.r.IsBase(), c.base)
		}
		if c.r.IsTail() != c.tail {
			t.Errorf("%d.IsTail() got %v want %v", uint64(c.r), c.r.IsTail(), c.tail)
		}
		if c.r.IsDeleted() != c.deleted {
			t.Errorf("%d.IsDeleted() got %v want %v", uint64(c.r), c.r.IsDeleted(), c.deleted)
		}
		if c.r.Address() != c.address {
			t.Errorf("%d.Address() got %d want %d", uint64(c.r), c.r.Address(), c.address)
		}
		if c.s != "" && c.r.String() != c.s {
			t.Errorf("%d.String() got %s want %s", uint64(c.r), c.r.String(), c.s)
		}
	}

	if rid.LastTail+1 != rid.Deleted {
		t.Errorf("LastTail is not one below the deletion flag")
	}
}

func TestAllocator(t *testing.T) {
	a := rid.NewAllocator()

	r, err := a.Base(512)
	if err != nil {
		t.Fatalf("Base(512) failed with %s", err)
	}
	if r != rid.FirstBase {
		t.Errorf("Base(512) got %d want %d", r, rid.FirstBase)
	}
	r, err = a.Base(512)
	if err != nil {
		t.Fatalf("Base(512) failed with %s", err)
	}
	if r != rid.FirstBase+512 {
		t.Errorf("Base(512) got %d want %d", r, rid.FirstBase+512)
	}

	r, err = a.Tail(512)
	if err != nil {
		t.Fatalf("Tail(512) failed with %s", err)
	}
	if r != rid.FirstTail {
		t.Errorf("Tail(512) got %d want %d", r, rid.FirstTail)
	}

	nb, nt := a.Next()
	if nb != rid.FirstBase+1024 || nt != rid.FirstTail+512 {
		t.Errorf("Next() got %d, %d", nb, nt)
	}
}

func TestAllocatorExhausted(t *testing.T) {
	a := rid.NewAllocator()
	err := a.Reset(rid.FirstBase, rid.LastTail-9)
	if err != nil {
		t.Fatalf("Reset() failed with %s", err)
	}

	r, err := a.Tail(10)
	if err != nil {
		t.Fatalf("Tail(10) failed with %s", err)
	}
	if r+9 != rid.LastTail {
		t.Errorf("Tail(10) got %d want %d", r, rid.LastTail-9)
	}
	_, err = a.Tail(1)
	if !errors.Is(err, rid.ErrExhausted) {
		t.Errorf("Tail(1) got %v want %s", err, rid.ErrExhausted)
	}

	err = a.Reset(rid.LastBase-1, rid.FirstTail)
	if err != nil {
		t.Fatalf("Reset() failed with %s", err)
	}
	_, err = a.Base(3)
	if !errors.Is(err, rid.ErrExhausted) {
		t.Errorf("Base(3) got %v want %s", err, rid.ErrExhausted)
	}
	_, err = a.Base(2)
	if err != nil {
		t.Errorf("Base(2) failed with %s", err)
	}

	if a.Reset(0, rid.FirstTail) == nil {
		t.Errorf("Reset(0, FirstTail) did not fail")
	}
}

func TestAllocatorParallel(t *testing.T) {
	a := rid.NewAllocator()

	var mutex sync.Mutex
	seen := map[rid.RID]struct{}{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for j := 0; j < 100; j++ {
				r, err := a.Base(16)
				if err != nil {
					t.Errorf("Base(16) failed with %s", err)
					return
				}
				mutex.Lock()
				if _, ok := seen[r]; ok {
					t.Errorf("Base(16) returned %d twice", r)
				}
				seen[r] = struct{}{}
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 800 {
		t.Errorf("got %d windows want 800", len(seen))
	}
}
