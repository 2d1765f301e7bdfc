package txn

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/leftmike/lstore/latch"
	"github.com/leftmike/lstore/rid"
	"github.com/leftmike/lstore/table"
	"github.com/leftmike/lstore/testutil"
)

func newTable(t *testing.T, name string, rows int) *table.Table {
	t.Helper()

	tbl, err := table.New(name, 5, 0, rid.NewAllocator(), table.Options{})
	if err != nil {
		t.Fatalf("New() failed with %s", err)
	}
	for key := 0; key < rows; key += 1 {
		_, err = tbl.Insert([]int64{int64(key), 0, 0, 0, 0})
		if err != nil {
			t.Fatalf("Insert(%d) failed with %s", key, err)
		}
	}
	return tbl
}

func column(t *testing.T, tbl *table.Table, key int64, col int) int64 {
	t.Helper()

	recs, err := tbl.Select(key, tbl.Key(), nil)
	if err != nil {
		t.Fatalf("Select(%d) failed with %s", key, err)
	}
	val, _ := recs[0].Column(col)
	return val
}

func checkReleased(t *testing.T, locks *Locks, name string, keys ...int64) {
	t.Helper()

	for _, key := range keys {
		if s, x := locks.Holders(name, key); s != 0 || x != 0 {
			t.Errorf("Holders(%s, %d) got %d, %d want 0, 0", name, key, s, x)
		}
	}
}

func TestCommit(t *testing.T) {
	tbl := newTable(t, "grades", 10)
	locks := NewLocks()

	tx := New(locks)
	tx.Select(tbl, 3, 0, nil)
	tx.Update(tbl, 3, []table.Cell{table.Unchanged, table.Value(7), table.Unchanged,
		table.Unchanged, table.Unchanged})
	tx.Insert(tbl, 10, 1, 2, 3, 4)
	tx.Increment(tbl, 3, 1)
	tx.Delete(tbl, 4)
	tx.Sum(tbl, 0, 10, 1)
	tx.Select(tbl, 8, 1, table.Mask(5, 0))

	err := tx.Run()
	if err != nil {
		t.Fatalf("Run() failed with %s", err)
	}
	res := tx.Results()
	if len(res) != tx.Len() {
		t.Fatalf("Results() got %d results want %d", len(res), tx.Len())
	}
	if len(res[0].Records) != 1 || res[0].Records[0].String() != "[3, 0, 0, 0, 0]" {
		t.Errorf("Results()[0] got %v", res[0].Records)
	}
	if !res[1].RID.IsTail() || !res[2].RID.IsBase() {
		t.Errorf("Results() got RIDs %s and %s", res[1].RID, res[2].RID)
	}
	if res[3].Value != 8 {
		t.Errorf("Results()[3] got %d want 8", res[3].Value)
	}
	if res[5].Value != 9 {
		t.Errorf("Results()[5] got %d want 9", res[5].Value)
	}
	if len(res[6].Records) != 1 || res[6].Records[0].String() != "[3, _, _, _, _]" {
		t.Errorf("Results()[6] got %v", res[6].Records)
	}
	checkReleased(t, locks, "grades", 3, 4, 10)

	if err := tx.Run(); !errors.Is(err, ErrFinished) {
		t.Errorf("Run() twice got %v want %s", err, ErrFinished)
	}
}

func TestAbort(t *testing.T) {
	tbl := newTable(t, "grades", 10)
	locks := NewLocks()

	xs := locks.latch(lockKey{"grades", 1})
	err := xs.AcquireExclusive()
	if err != nil {
		t.Fatalf("AcquireExclusive() failed with %s", err)
	}

	tx := New(locks)
	tx.Insert(tbl, 20, 0, 0, 0, 0)
	tx.Update(tbl, 2, []table.Cell{table.Value(30), table.Value(5), table.Unchanged,
		table.Unchanged, table.Unchanged})
	tx.Increment(tbl, 3, 4)
	tx.Delete(tbl, 5)
	tx.Select(tbl, 1, 0, nil)

	err = tx.Run()
	if !errors.Is(err, ErrAborted) || !Conflict(err) {
		t.Fatalf("Run() got %v want conflict", err)
	}
	checkReleased(t, locks, "grades", 2, 3, 5, 20, 30)

	if _, err := tbl.Select(20, 0, nil); !errors.Is(err, table.ErrKeyNotFound) {
		t.Errorf("Select(20) got %v want %s", err, table.ErrKeyNotFound)
	}
	if _, err := tbl.Select(30, 0, nil); !errors.Is(err, table.ErrKeyNotFound) {
		t.Errorf("Select(30) got %v want %s", err, table.ErrKeyNotFound)
	}
	if v := column(t, tbl, 2, 1); v != 0 {
		t.Errorf("Select(2) column 1 got %d want 0", v)
	}
	if v := column(t, tbl, 3, 4); v != 0 {
		t.Errorf("Select(3) column 4 got %d want 0", v)
	}
	if v := column(t, tbl, 5, 0); v != 5 {
		t.Errorf("Select(5) column 0 got %d want 5", v)
	}
	if tbl.Len() != 10 {
		t.Errorf("Len() got %d want 10", tbl.Len())
	}

	err = xs.Release()
	if err != nil {
		t.Fatalf("Release() failed with %s", err)
	}
	err = tx.Run()
	if err != nil {
		t.Fatalf("Run() failed with %s", err)
	}
	if v := column(t, tbl, 30, 1); v != 5 {
		t.Errorf("Select(30) column 1 got %d want 5", v)
	}
}

func TestAbortNotFound(t *testing.T) {
	tbl := newTable(t, "grades", 3)
	locks := NewLocks()

	tx := New(locks)
	tx.Increment(tbl, 1, 1)
	tx.Update(tbl, 99, table.Cells(99, 1, 1, 1, 1))

	err := tx.Run()
	if !errors.Is(err, ErrAborted) || !errors.Is(err, table.ErrKeyNotFound) || Conflict(err) {
		t.Errorf("Run() got %v want aborted with %s", err, table.ErrKeyNotFound)
	}
	if v := column(t, tbl, 1, 1); v != 0 {
		t.Errorf("Select(1) column 1 got %d want 0", v)
	}
	checkReleased(t, locks, "grades", 1, 99)
}

func TestAbortReinsert(t *testing.T) {
	tbl := newTable(t, "grades", 10)
	locks := NewLocks()

	for _, key := range []int64{4, 7} {
		err := tbl.Delete(key)
		if err != nil {
			t.Fatalf("Delete(%d) failed with %s", key, err)
		}
	}

	tx := New(locks)
	tx.Insert(tbl, 7, 2, 2, 2, 2)
	tx.Update(tbl, 8, table.Cells(4, 8, 8, 8, 8))
	tx.Update(tbl, 99, table.Cells(99, 1, 1, 1, 1))

	err := tx.Run()
	if !errors.Is(err, ErrAborted) || !errors.Is(err, table.ErrKeyNotFound) {
		t.Fatalf("Run() got %v want aborted with %s", err, table.ErrKeyNotFound)
	}
	checkReleased(t, locks, "grades", 4, 7, 8, 99)

	for _, key := range []int64{4, 7} {
		if _, err := tbl.Select(key, 0, nil); !errors.Is(err, table.ErrRecordDeleted) {
			t.Errorf("Select(%d) got %v want %s", key, err, table.ErrRecordDeleted)
		}
	}
	if v := column(t, tbl, 8, 1); v != 0 {
		t.Errorf("Select(8) column 1 got %d want 0", v)
	}
}

func TestAbortUndoFails(t *testing.T) {
	tbl := newTable(t, "grades", 5)
	locks := NewLocks()
	errUndo := errors.New("undo failed")

	tx := New(locks)
	tx.Update(tbl, 2, table.Cells(2, 5, 5, 5, 5))
	tx.Update(tbl, 99, table.Cells(99, 1, 1, 1, 1))
	tx.undo = append(tx.undo, func() error { return errUndo })

	err := tx.Run()
	if !errors.Is(err, ErrAborted) || !errors.Is(err, errUndo) || Conflict(err) {
		t.Errorf("Run() got %v want aborted with %s", err, errUndo)
	}
	checkReleased(t, locks, "grades", 2, 99)
	if v := column(t, tbl, 2, 1); v != 0 {
		t.Errorf("Select(2) column 1 got %d want 0", v)
	}
}

func TestUpgrade(t *testing.T) {
	tbl := newTable(t, "grades", 3)
	locks := NewLocks()

	xs := locks.latch(lockKey{"grades", 2})
	err := xs.AcquireShared()
	if err != nil {
		t.Fatalf("AcquireShared() failed with %s", err)
	}

	tx := New(locks)
	tx.Select(tbl, 2, 0, nil)
	err = tx.Run()
	if err != nil {
		t.Errorf("Run() with shared reader failed with %s", err)
	}

	tx = New(locks)
	tx.Select(tbl, 2, 0, nil)
	tx.Increment(tbl, 2, 1)
	err = tx.Run()
	if !Conflict(err) || !errors.Is(err, latch.ErrLockConflict) {
		t.Errorf("Run() with shared reader got %v want conflict", err)
	}
	if s, x := locks.Holders("grades", 2); s != 1 || x != 0 {
		t.Errorf("Holders(grades, 2) got %d, %d want 1, 0", s, x)
	}

	xs.Release()
	err = tx.Run()
	if err != nil {
		t.Errorf("Run() failed with %s", err)
	}
}

func TestWorkers(t *testing.T) {
	const (
		numRecords = 1000
		numTxns    = 2000
		numWorkers = 8
		numOps     = 5
	)

	tbl := newTable(t, "grades", numRecords)
	locks := NewLocks()
	logger := testutil.SetupLogger(filepath.Join("testdata", "txn.log"))

	r := rand.New(rand.NewSource(3562901))
	workers := make([]*Worker, numWorkers)
	for wdx := range workers {
		workers[wdx] = NewWorker(WorkerOptions{Retries: -1, Logger: logger})
	}
	for tdx := 0; tdx < numTxns; tdx += 1 {
		key := int64(r.Intn(numRecords))
		tx := New(locks)
		for odx := 0; odx < numOps; odx += 1 {
			tx.Select(tbl, key, 0, table.AllColumns(5))
			tx.Increment(tbl, key, 1)
		}
		workers[tdx%numWorkers].Add(tx)
	}

	ctx := context.Background()
	for _, w := range workers {
		w.Start(ctx)
	}
	var committed int
	for _, w := range workers {
		n, err := w.Join()
		if err != nil {
			t.Errorf("Join() failed with %s", err)
		}
		committed += n
	}
	if committed != numTxns {
		t.Errorf("committed %d transactions want %d", committed, numTxns)
	}

	sum, err := tbl.Sum(0, numRecords, 1)
	if err != nil {
		t.Fatalf("Sum() failed with %s", err)
	}
	if sum != numTxns*numOps {
		t.Errorf("Sum() got %d want %d", sum, numTxns*numOps)
	}
}

func TestWorkerRetries(t *testing.T) {
	tbl := newTable(t, "grades", 3)
	locks := NewLocks()

	xs := locks.latch(lockKey{"grades", 0})
	err := xs.AcquireExclusive()
	if err != nil {
		t.Fatalf("AcquireExclusive() failed with %s", err)
	}

	w := NewWorker(WorkerOptions{Retries: 3, Backoff: time.Microsecond})
	for key := int64(0); key < 3; key += 1 {
		tx := New(locks)
		tx.Increment(tbl, key, 1)
		w.Add(tx)
	}
	err = w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed with %s", err)
	}
	if committed, aborted := w.Stats(); committed != 2 || aborted != 1 {
		t.Errorf("Stats() got %d, %d want 2, 1", committed, aborted)
	}

	w = NewWorker(WorkerOptions{Retries: -1, Backoff: time.Millisecond})
	tx := New(locks)
	tx.Increment(tbl, 0, 1)
	w.Add(tx)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = w.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() got %v want %s", err, context.DeadlineExceeded)
	}
}
