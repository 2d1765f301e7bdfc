package db_test

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/leftmike/lstore/db"
	"github.com/leftmike/lstore/kv"
	"github.com/leftmike/lstore/page"
	"github.com/leftmike/lstore/table"
	"github.com/leftmike/lstore/testutil"
)

func TestTables(t *testing.T) {
	d, err := db.Open(db.Options{})
	if err != nil {
		t.Fatalf("Open() failed with %s", err)
	}

	for _, name := range []string{"grades", "accounts", "orders"} {
		_, err = d.CreateTable(name, 3, 0, nil)
		if err != nil {
			t.Errorf("CreateTable(%s) failed with %s", name, err)
		}
	}
	_, err = d.CreateTable("grades", 2, 0, nil)
	if !errors.Is(err, db.ErrTableExists) {
		t.Errorf("CreateTable(grades) got %v want %s", err, db.ErrTableExists)
	}
	_, err = d.CreateTable("", 2, 0, nil)
	if err == nil {
		t.Errorf("CreateTable(\"\") did not fail")
	}
	_, err = d.CreateTable("bad", 2, 2, nil)
	if err == nil {
		t.Errorf("CreateTable(bad) with key out of range did not fail")
	}

	if names := d.Tables(); !reflect.DeepEqual(names, []string{"accounts", "grades", "orders"}) {
		t.Errorf("Tables() got %v", names)
	}

	err = d.DropTable("orders")
	if err != nil {
		t.Errorf("DropTable(orders) failed with %s", err)
	}
	err = d.DropTable("orders")
	if !errors.Is(err, db.ErrNoTable) {
		t.Errorf("DropTable(orders) got %v want %s", err, db.ErrNoTable)
	}
	_, err = d.Table("orders")
	if !errors.Is(err, db.ErrNoTable) {
		t.Errorf("Table(orders) got %v want %s", err, db.ErrNoTable)
	}

	// Tables share one allocator, so their RIDs never overlap.
	a, err := d.Table("accounts")
	if err != nil {
		t.Fatalf("Table(accounts) failed with %s", err)
	}
	g, err := d.Table("grades")
	if err != nil {
		t.Fatalf("Table(grades) failed with %s", err)
	}
	ra, err := a.Insert([]int64{1, 2, 3})
	if err != nil {
		t.Fatalf("Insert() failed with %s", err)
	}
	rg, err := g.Insert([]int64{1, 2, 3})
	if err != nil {
		t.Fatalf("Insert() failed with %s", err)
	}
	if ra == rg {
		t.Errorf("Insert() returned %s for both tables", ra)
	}

	err = d.Close()
	if err != nil {
		t.Errorf("Close() failed with %s", err)
	}
	_, err = d.Table("accounts")
	if !errors.Is(err, db.ErrClosed) {
		t.Errorf("Table(accounts) got %v want %s", err, db.ErrClosed)
	}
}

func testPersistence(t *testing.T, open func() (kv.KV, error), compress bool) {
	t.Helper()

	st, err := open()
	if err != nil {
		t.Fatal(err)
	}
	layout := page.Layout{PageSize: 128, BasePages: 4}
	d, err := db.Open(db.Options{Layout: layout, KV: st, Compress: compress})
	if err != nil {
		t.Fatalf("Open() failed with %s", err)
	}
	id := d.ID()

	tbl, err := d.CreateTable("grades", 5, 0, nil)
	if err != nil {
		t.Fatalf("CreateTable(grades) failed with %s", err)
	}
	for key := int64(0); key < 300; key += 1 {
		_, err = tbl.Insert([]int64{key, 90, 80, 70, 60})
		if err != nil {
			t.Fatalf("Insert(%d) failed with %s", key, err)
		}
	}
	for key := int64(0); key < 300; key += 5 {
		_, err = tbl.Update(key, []table.Cell{table.Unchanged, table.Unchanged,
			table.Unchanged, table.Value(key), table.Unchanged})
		if err != nil {
			t.Fatalf("Update(%d) failed with %s", key, err)
		}
	}
	err = tbl.Delete(42)
	if err != nil {
		t.Fatalf("Delete(42) failed with %s", err)
	}
	want, err := tbl.Sum(0, 299, 3)
	if err != nil {
		t.Fatalf("Sum() failed with %s", err)
	}

	err = d.Close()
	if err != nil {
		t.Fatalf("Close() failed with %s", err)
	}

	st, err = open()
	if err != nil {
		t.Fatal(err)
	}
	d, err = db.Open(db.Options{KV: st})
	if err != nil {
		t.Fatalf("Open() failed with %s", err)
	}
	defer d.Close()

	if d.ID() != id {
		t.Errorf("ID() got %s want %s", d.ID(), id)
	}
	if d.Layout() != layout {
		t.Errorf("Layout() got %v want %v", d.Layout(), layout)
	}
	tbl, err = d.Table("grades")
	if err != nil {
		t.Fatalf("Table(grades) failed with %s", err)
	}
	sum, err := tbl.Sum(0, 299, 3)
	if err != nil {
		t.Fatalf("Sum() failed with %s", err)
	}
	if sum != want {
		t.Errorf("Sum() got %d want %d", sum, want)
	}
	_, err = tbl.Select(42, 0, nil)
	if !errors.Is(err, table.ErrRecordDeleted) {
		t.Errorf("Select(42) got %v want %s", err, table.ErrRecordDeleted)
	}
	recs, err := tbl.Select(80, 2, nil)
	if err != nil || len(recs) != 299 {
		t.Errorf("Select(80, 2) got %d records, %v want 299", len(recs), err)
	}

	other, err := d.CreateTable("other", 2, 0, nil)
	if err != nil {
		t.Fatalf("CreateTable(other) failed with %s", err)
	}
	r, err := other.Insert([]int64{1, 1})
	if err != nil {
		t.Fatalf("Insert() failed with %s", err)
	}
	recs, err = tbl.Select(299, 0, nil)
	if err != nil {
		t.Fatalf("Select(299) failed with %s", err)
	}
	if r <= recs[0].RID {
		t.Errorf("Insert() got RID %s; want one after %s", r, recs[0].RID)
	}
}

func TestBTreePersistence(t *testing.T) {
	st, err := kv.MakeBTreeKV()
	if err != nil {
		t.Fatal(err)
	}
	testPersistence(t,
		func() (kv.KV, error) {
			return st, nil
		}, false)
}

func TestBBoltPersistence(t *testing.T) {
	dataDir, err := testutil.DataDir("bbolt")
	if err != nil {
		t.Fatal(err)
	}
	testPersistence(t,
		func() (kv.KV, error) {
			return kv.MakeBBoltKV(dataDir)
		}, true)
}

func TestPebblePersistence(t *testing.T) {
	dataDir, err := testutil.DataDir("pebble")
	if err != nil {
		t.Fatal(err)
	}
	logger := testutil.SetupLogger(filepath.Join("testdata", "pebble.log"))
	testPersistence(t,
		func() (kv.KV, error) {
			return kv.MakePebbleKV(dataDir, logger)
		}, false)
}
