package table

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/lstore/index"
	"github.com/leftmike/lstore/page"
	"github.com/leftmike/lstore/rid"
)

type Options struct {
	Layout page.Layout

	// Indexed lists the content columns to index; nil means every column. The
	// primary key column is always indexed.
	Indexed []int

	Logger *log.Logger
}

// Table stores records of a fixed number of int64 content columns in page ranges.
// Updates never overwrite a record: each writes a new tail row and moves the base
// row's indirection pointer to it.
//
// Table does not serialize conflicting operations on the same record; callers take
// a latch per record (see package txn). Growth of page ranges and tail pages is
// guarded internally.
type Table struct {
	name       string
	numColumns int
	key        int
	layout     page.Layout
	alloc      *rid.Allocator
	logger     *log.Logger

	mutex     sync.RWMutex
	ranges    []*page.Range
	directory *Directory

	indices *index.Indices

	tombMutex  sync.Mutex
	tombstones map[int64]rid.RID
}

// version is the result of resolving a base RID to its current version.
type version struct {
	baseRID rid.RID
	base    *page.LogicalPage
	baseOff int
	rng     int
	ind     rid.RID // indirection of the base row
	cur     *page.LogicalPage
	curOff  int
}

func newTable(name string, numColumns, key int, alloc *rid.Allocator,
	opts Options) (*Table, error) {

	if numColumns < 1 {
		return nil, fmt.Errorf("table %s: must have at least one column: %d", name, numColumns)
	}
	if key < 0 || key >= numColumns {
		return nil, fmt.Errorf("table %s: primary key column %d out of range", name, key)
	}
	if opts.Layout == (page.Layout{}) {
		opts.Layout = page.DefaultLayout
	}
	err := opts.Layout.Validate()
	if err != nil {
		return nil, fmt.Errorf("table %s: %s", name, err)
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}

	t := &Table{
		name:       name,
		numColumns: numColumns,
		key:        key,
		layout:     opts.Layout,
		alloc:      alloc,
		logger:     opts.Logger,
		directory:  NewDirectory(opts.Layout.Capacity()),
		indices:    index.NewIndices(),
		tombstones: map[int64]rid.RID{},
	}

	t.indices.Create(key)
	if opts.Indexed == nil {
		for col := 0; col < numColumns; col += 1 {
			t.indices.Create(col)
		}
	} else {
		for _, col := range opts.Indexed {
			if col < 0 || col >= numColumns {
				return nil, fmt.Errorf("table %s: indexed column %d out of range", name, col)
			}
			t.indices.Create(col)
		}
	}
	return t, nil
}

// New creates an empty table with numColumns content columns; key is the column
// holding the primary key.
func New(name string, numColumns, key int, alloc *rid.Allocator, opts Options) (*Table,
	error) {

	t, err := newTable(name, numColumns, key, alloc, opts)
	if err != nil {
		return nil, err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	err = t.addRange()
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) Name() string {
	return t.name
}

func (t *Table) NumColumns() int {
	return t.numColumns
}

func (t *Table) Key() int {
	return t.key
}

func (t *Table) Layout() page.Layout {
	return t.layout
}

// IndexedColumns returns the indexed content columns.
func (t *Table) IndexedColumns() []int {
	return t.indices.Columns()
}

// Len returns the number of live records.
func (t *Table) Len() int {
	n, err := t.indices.Len(t.key)
	if err != nil {
		panic(fmt.Sprintf("table %s: primary key not indexed: %s", t.name, err))
	}
	return n
}

// Ranges returns the number of page ranges.
func (t *Table) Ranges() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return len(t.ranges)
}

func internal(col int) int {
	return col + page.MetadataColumns
}

// addRange must be called with t.mutex held for writing.
func (t *Table) addRange() error {
	pr, err := page.MakeRange(t.alloc, t.layout, internal(t.numColumns))
	if err != nil {
		return fmt.Errorf("table %s: %w", t.name, err)
	}
	t.ranges = append(t.ranges, pr)
	t.directory.Rebuild(t.ranges)

	t.logger.WithFields(log.Fields{
		"table": t.name,
		"range": len(t.ranges) - 1,
		"first": pr.Page(0).First(),
	}).Debug("page range added")
	return nil
}

// addTail must be called with t.mutex held for writing.
func (t *Table) addTail(rng int) error {
	lp, err := page.MakeTailPage(t.alloc, t.layout, internal(t.numColumns))
	if err != nil {
		return fmt.Errorf("table %s: %w", t.name, err)
	}
	t.ranges[rng].AddTail(lp)
	t.directory.Rebuild(t.ranges)

	t.logger.WithFields(log.Fields{
		"table": t.name,
		"range": rng,
		"first": lp.First(),
	}).Trace("tail page added")
	return nil
}

func (t *Table) unexpected(err error, r rid.RID) error {
	t.logger.WithFields(log.Fields{
		"table": t.name,
		"rid":   r,
		"error": err.Error(),
	}).Error("storage corrupted")
	return fmt.Errorf("table %s: %w", t.name, err)
}

func (t *Table) locate(r rid.RID) (*page.LogicalPage, Location, error) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	loc, err := t.directory.Resolve(r)
	if err != nil {
		return nil, Location{}, t.unexpected(err, r)
	}
	return t.ranges[loc.Range].Page(loc.Page), loc, nil
}

func (t *Table) readRow(r rid.RID) ([]uint64, error) {
	lp, loc, err := t.locate(r)
	if err != nil {
		return nil, err
	}
	row, err := lp.Read(loc.Offset)
	if err != nil {
		return nil, t.unexpected(err, r)
	}
	return row, nil
}

// current resolves baseRID to its newest version. The base row's indirection always
// points directly at the newest tail row, so no chain is walked.
func (t *Table) current(baseRID rid.RID) (*version, error) {
	lp, loc, err := t.locate(baseRID)
	if err != nil {
		return nil, err
	}
	ind, err := lp.Get(page.IndirectionColumn, loc.Offset)
	if err != nil {
		return nil, t.unexpected(err, baseRID)
	}

	v := &version{
		baseRID: baseRID,
		base:    lp,
		baseOff: loc.Offset,
		rng:     loc.Range,
		ind:     rid.RID(ind),
	}
	if v.ind.IsDeleted() {
		return nil, fmt.Errorf("table %s: %s: %w", t.name, baseRID, ErrRecordDeleted)
	}
	if v.ind == rid.None {
		v.cur = lp
		v.curOff = loc.Offset
		return v, nil
	}

	cur, curLoc, err := t.locate(v.ind)
	if err != nil {
		return nil, err
	}
	v.cur = cur
	v.curOff = curLoc.Offset
	return v, nil
}

func (t *Table) isTombstone(key int64) bool {
	t.tombMutex.Lock()
	defer t.tombMutex.Unlock()

	_, ok := t.tombstones[key]
	return ok
}

func (t *Table) setTombstone(key int64, r rid.RID) {
	t.tombMutex.Lock()
	defer t.tombMutex.Unlock()

	t.tombstones[key] = r
}

func (t *Table) clearTombstone(key int64) {
	t.tombMutex.Lock()
	defer t.tombMutex.Unlock()

	delete(t.tombstones, key)
}

// Tombstone returns the base RID of the deleted record that last held primary key
// key, or rid.None if key is not marked deleted.
func (t *Table) Tombstone(key int64) rid.RID {
	r, ok := t.tombstone(key)
	if !ok {
		return rid.None
	}
	return r
}

func (t *Table) tombstone(key int64) (rid.RID, bool) {
	t.tombMutex.Lock()
	defer t.tombMutex.Unlock()

	r, ok := t.tombstones[key]
	return r, ok
}

// lookup returns the base RID of the live record with primary key key.
func (t *Table) lookup(key int64) (rid.RID, error) {
	rids, err := t.indices.Locate(t.key, key)
	if err != nil {
		return rid.None, err
	}
	if len(rids) == 0 {
		if t.isTombstone(key) {
			return rid.None, fmt.Errorf("table %s: key %d: %w", t.name, key, ErrRecordDeleted)
		}
		return rid.None, fmt.Errorf("table %s: key %d: %w", t.name, key, ErrKeyNotFound)
	} else if len(rids) > 1 {
		panic(fmt.Sprintf("table %s: key %d: %d live records", t.name, key, len(rids)))
	}
	return rids[0], nil
}

// Insert adds a new record; columns must hold a value for every content column.
func (t *Table) Insert(columns []int64) (rid.RID, error) {
	if len(columns) != t.numColumns {
		return rid.None, fmt.Errorf("table %s: insert: %w: got %d want %d", t.name,
			ErrColumnCount, len(columns), t.numColumns)
	}
	key := columns[t.key]

	row := make([]uint64, internal(t.numColumns))
	row[page.IndirectionColumn] = uint64(rid.None)
	row[page.TimestampColumn] = uint64(time.Now().UnixNano())
	for col, val := range columns {
		row[internal(col)] = uint64(val)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	found, err := t.indices.Contains(t.key, key)
	if err != nil {
		panic(fmt.Sprintf("table %s: primary key not indexed: %s", t.name, err))
	} else if found {
		return rid.None, fmt.Errorf("table %s: key %d: %w", t.name, key, ErrDuplicateKey)
	}

	pr := t.ranges[len(t.ranges)-1]
	r, err := pr.WriteBase(row)
	if page.IsFull(err) {
		err = t.addRange()
		if err != nil {
			return rid.None, err
		}
		r, err = t.ranges[len(t.ranges)-1].WriteBase(row)
	}
	if err != nil {
		return rid.None, t.unexpected(err, rid.None)
	}

	for _, col := range t.indices.Columns() {
		err = t.indices.Insert(col, columns[col], r)
		if err != nil {
			return rid.None, err
		}
	}
	t.clearTombstone(key)
	return r, nil
}

// appendTail writes row to the newest tail page of range rng, adding a tail page if
// there is none or it is full.
func (t *Table) appendTail(rng int, row []uint64) (rid.RID, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	r, err := t.ranges[rng].WriteTail(row)
	if page.IsFull(err) {
		err = t.addTail(rng)
		if err != nil {
			return rid.None, err
		}
		r, err = t.ranges[rng].WriteTail(row)
	}
	if err != nil {
		return rid.None, t.unexpected(err, rid.None)
	}
	return r, nil
}

func (t *Table) checkColumn(col int) error {
	if col < 0 || col >= t.numColumns {
		return fmt.Errorf("table %s: column %d: %w", t.name, col, ErrColumnNotIndexed)
	}
	return nil
}

// Select returns the current version of every record whose column col holds
// keyword. Columns not selected by mask are unset in the returned records; a nil mask
// selects every column.
func (t *Table) Select(keyword int64, col int, mask []bool) ([]Record, error) {
	err := t.checkColumn(col)
	if err != nil {
		return nil, err
	}
	if mask == nil {
		mask = AllColumns(t.numColumns)
	} else if len(mask) != t.numColumns {
		return nil, fmt.Errorf("table %s: select: mask: %w: got %d want %d", t.name,
			ErrColumnCount, len(mask), t.numColumns)
	}

	rids, err := t.indices.Locate(col, keyword)
	if errors.Is(err, index.ErrNotIndexed) {
		return nil, fmt.Errorf("table %s: column %d: %w", t.name, col, ErrColumnNotIndexed)
	} else if err != nil {
		return nil, err
	}
	if len(rids) == 0 {
		if col == t.key && t.isTombstone(keyword) {
			return nil, fmt.Errorf("table %s: key %d: %w", t.name, keyword, ErrRecordDeleted)
		}
		return nil, fmt.Errorf("table %s: column %d: %d: %w", t.name, col, keyword,
			ErrKeyNotFound)
	}

	recs := make([]Record, 0, len(rids))
	for _, baseRID := range rids {
		v, err := t.current(baseRID)
		if err != nil {
			return nil, err
		}
		row, err := v.cur.Read(v.curOff)
		if err != nil {
			return nil, t.unexpected(err, baseRID)
		}

		rec := Record{
			RID:     baseRID,
			Columns: make([]Cell, t.numColumns),
		}
		for col := range rec.Columns {
			if mask[col] {
				rec.Columns[col] = Value(int64(row[internal(col)]))
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Update writes a new version of the record with primary key key. columns must have
// a Cell for every content column; Unchanged cells keep the current value.
func (t *Table) Update(key int64, columns []Cell) (rid.RID, error) {
	if len(columns) != t.numColumns {
		return rid.None, fmt.Errorf("table %s: update: %w: got %d want %d", t.name,
			ErrColumnCount, len(columns), t.numColumns)
	}

	baseRID, err := t.lookup(key)
	if err != nil {
		return rid.None, err
	}
	v, err := t.current(baseRID)
	if err != nil {
		return rid.None, err
	}
	cur, err := v.cur.Read(v.curOff)
	if err != nil {
		return rid.None, t.unexpected(err, baseRID)
	}

	if newKey, ok := columns[t.key].Get(); ok && newKey != key {
		found, err := t.indices.Contains(t.key, newKey)
		if err != nil {
			return rid.None, err
		} else if found {
			return rid.None, fmt.Errorf("table %s: key %d: %w", t.name, newKey,
				ErrDuplicateKey)
		}
	}

	row := make([]uint64, internal(t.numColumns))
	row[page.IndirectionColumn] = uint64(v.ind)
	row[page.TimestampColumn] = uint64(time.Now().UnixNano())
	var changed []int
	for col, c := range columns {
		old := int64(cur[internal(col)])
		val, ok := c.Get()
		if !ok || val == old {
			row[internal(col)] = uint64(old)
			continue
		}
		row[internal(col)] = uint64(val)
		changed = append(changed, col)
	}

	// The tail row stays unreachable until the base row points at it, so nothing
	// needs undoing if it can't be written.
	tailRID, err := t.appendTail(v.rng, row)
	if err != nil {
		return rid.None, err
	}

	for _, col := range changed {
		val := int64(row[internal(col)])
		if t.indices.Has(col) {
			err = t.indices.Replace(col, int64(cur[internal(col)]), val, baseRID)
			if err != nil {
				return rid.None, err
			}
		}
		if col == t.key {
			t.clearTombstone(val)
		}
	}

	// Only now, with the tail row complete, is it made visible.
	err = v.base.UpdateIndirection(v.baseOff, tailRID)
	if err != nil {
		return rid.None, t.unexpected(err, baseRID)
	}
	return tailRID, nil
}

// Delete marks the record with primary key key as deleted and removes it from every
// index. Nothing is reclaimed.
func (t *Table) Delete(key int64) error {
	baseRID, err := t.lookup(key)
	if err != nil {
		return err
	}
	lp, loc, err := t.locate(baseRID)
	if err != nil {
		return err
	}

	var ind rid.RID
	for {
		v, err := lp.Get(page.IndirectionColumn, loc.Offset)
		if err != nil {
			return t.unexpected(err, baseRID)
		}
		ind = rid.RID(v)
		if ind.IsDeleted() {
			return fmt.Errorf("table %s: key %d: %w", t.name, key, ErrRecordDeleted)
		}
		ok, err := lp.SwapIndirection(loc.Offset, ind, ind|rid.Deleted)
		if err != nil {
			return t.unexpected(err, baseRID)
		} else if ok {
			break
		}
	}

	cur := baseRID
	if ind != rid.None {
		cur = ind
	}
	row, err := t.readRow(cur)
	if err != nil {
		return err
	}
	for _, col := range t.indices.Columns() {
		err = t.indices.Delete(col, int64(row[internal(col)]), baseRID)
		if err != nil {
			return err
		}
	}
	t.setTombstone(key, baseRID)
	return nil
}

// Sum adds column col of every live record whose primary key is in [start, end].
// A key that goes missing while the sum runs contributes zero.
func (t *Table) Sum(start, end int64, col int) (int64, error) {
	if col < 0 || col >= t.numColumns {
		return 0, fmt.Errorf("table %s: sum: column %d out of range", t.name, col)
	}

	var rids []rid.RID
	err := t.indices.Range(t.key, start, end,
		func(_ int64, r rid.RID) bool {
			rids = append(rids, r)
			return true
		})
	if err != nil {
		return 0, err
	}

	var sum int64
	for _, baseRID := range rids {
		v, err := t.current(baseRID)
		if Missing(err) {
			continue
		} else if err != nil {
			return 0, err
		}
		val, err := v.cur.Get(internal(col), v.curOff)
		if err != nil {
			return 0, t.unexpected(err, baseRID)
		}
		sum += int64(val)
	}
	return sum, nil
}

// Increment adds one to column col of the record with primary key key and returns
// the new value.
func (t *Table) Increment(key int64, col int) (int64, error) {
	if col < 0 || col >= t.numColumns {
		return 0, fmt.Errorf("table %s: increment: column %d out of range", t.name, col)
	}
	recs, err := t.Select(key, t.key, Mask(t.numColumns, col))
	if err != nil {
		return 0, err
	}
	val, _ := recs[0].Column(col)

	columns := make([]Cell, t.numColumns)
	columns[col] = Value(val + 1)
	_, err = t.Update(key, columns)
	if err != nil {
		return 0, err
	}
	return val + 1, nil
}

func (t *Table) version(r rid.RID, row []uint64) Version {
	ver := Version{
		RID:       r,
		Timestamp: time.Unix(0, int64(row[page.TimestampColumn])),
		Columns:   make([]int64, t.numColumns),
	}
	for col := range ver.Columns {
		ver.Columns[col] = int64(row[internal(col)])
	}
	return ver
}

// History returns every version of the record with primary key key, newest first;
// the last version is the base record.
func (t *Table) History(key int64) ([]Version, error) {
	baseRID, err := t.lookup(key)
	if err != nil {
		return nil, err
	}
	base, err := t.readRow(baseRID)
	if err != nil {
		return nil, err
	}

	var vers []Version
	r := rid.RID(base[page.IndirectionColumn]).Address()
	for r != rid.None {
		if !r.IsTail() {
			return nil, t.unexpected(fmt.Errorf("%w: bad version chain at %s",
				ErrRecordNotFound, r), baseRID)
		}
		row, err := t.readRow(r)
		if err != nil {
			return nil, err
		}
		vers = append(vers, t.version(r, row))
		r = rid.RID(row[page.IndirectionColumn]).Address()
	}
	return append(vers, t.version(baseRID, base)), nil
}

// Revert undoes the newest update to the record with primary key key: the base row
// points again at the version that update superseded and the indices follow. If the
// update moved the record to key, prior is what Tombstone(key) returned before the
// update; it is marked deleted again. The abandoned tail row is not reclaimed.
func (t *Table) Revert(key int64, prior rid.RID) error {
	baseRID, err := t.lookup(key)
	if err != nil {
		return err
	}
	v, err := t.current(baseRID)
	if err != nil {
		return err
	}
	if v.ind == rid.None {
		return fmt.Errorf("table %s: key %d: %w", t.name, key, ErrNoVersion)
	}

	cur, err := v.cur.Read(v.curOff)
	if err != nil {
		return t.unexpected(err, v.ind)
	}
	superseded := rid.RID(cur[page.IndirectionColumn])
	prev := baseRID
	if superseded != rid.None {
		prev = superseded
	}
	row, err := t.readRow(prev)
	if err != nil {
		return err
	}

	for _, col := range t.indices.Columns() {
		old := int64(cur[internal(col)])
		val := int64(row[internal(col)])
		if old != val {
			err = t.indices.Replace(col, old, val, baseRID)
			if err != nil {
				return err
			}
		}
	}

	err = v.base.UpdateIndirection(v.baseOff, superseded)
	if err != nil {
		return t.unexpected(err, baseRID)
	}
	if prior != rid.None && int64(row[internal(t.key)]) != key {
		t.setTombstone(key, prior)
	}
	return nil
}

// Restore undoes the deletion of the record with primary key key.
func (t *Table) Restore(key int64) error {
	baseRID, ok := t.tombstone(key)
	if !ok {
		return fmt.Errorf("table %s: key %d: %w", t.name, key, ErrKeyNotFound)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	found, err := t.indices.Contains(t.key, key)
	if err != nil {
		return err
	} else if found {
		return fmt.Errorf("table %s: key %d: %w", t.name, key, ErrDuplicateKey)
	}

	loc, err := t.directory.Resolve(baseRID)
	if err != nil {
		return t.unexpected(err, baseRID)
	}
	lp := t.ranges[loc.Range].Page(loc.Page)
	v, err := lp.Get(page.IndirectionColumn, loc.Offset)
	if err != nil {
		return t.unexpected(err, baseRID)
	}
	ind := rid.RID(v)
	ok, err = lp.SwapIndirection(loc.Offset, ind, ind.Address())
	if err != nil {
		return t.unexpected(err, baseRID)
	} else if !ok {
		return fmt.Errorf("table %s: key %d: %w", t.name, key, ErrRecordDeleted)
	}

	cur := baseRID
	if ind.Address() != rid.None {
		cur = ind.Address()
	}
	curLoc, err := t.directory.Resolve(cur)
	if err != nil {
		return t.unexpected(err, cur)
	}
	row, err := t.ranges[curLoc.Range].Page(curLoc.Page).Read(curLoc.Offset)
	if err != nil {
		return t.unexpected(err, cur)
	}
	for _, col := range t.indices.Columns() {
		err = t.indices.Insert(col, int64(row[internal(col)]), baseRID)
		if err != nil {
			return err
		}
	}
	t.clearTombstone(key)
	return nil
}

// Discard undoes an insert: it deletes the record with primary key key and puts back
// prior, what Tombstone(key) returned before the insert. With rid.None, later lookups
// report ErrKeyNotFound rather than ErrRecordDeleted.
func (t *Table) Discard(key int64, prior rid.RID) error {
	err := t.Delete(key)
	if err != nil {
		return err
	}
	if prior == rid.None {
		t.clearTombstone(key)
	} else {
		t.setTombstone(key, prior)
	}
	return nil
}

// scan calls fn with the base RID and current version of every live record. It must
// be called with t.mutex held.
func (t *Table) scan(fn func(baseRID rid.RID, row []uint64) error) error {
	for _, pr := range t.ranges {
		for _, lp := range pr.BasePages() {
			for off := 0; off < lp.Len(); off += 1 {
				ind, err := lp.Get(page.IndirectionColumn, off)
				if err != nil {
					return err
				}
				r := rid.RID(ind)
				if r.IsDeleted() {
					continue
				}

				var row []uint64
				if r == rid.None {
					row, err = lp.Read(off)
				} else {
					var loc Location
					loc, err = t.directory.Resolve(r)
					if err != nil {
						return t.unexpected(err, r)
					}
					row, err = t.ranges[loc.Range].Page(loc.Page).Read(loc.Offset)
				}
				if err != nil {
					return t.unexpected(err, r)
				}

				err = fn(lp.First()+rid.RID(off), row)
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Scan calls fn with the current version of every live record in RID order.
func (t *Table) Scan(fn func(rec Record) error) error {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.scan(
		func(baseRID rid.RID, row []uint64) error {
			rec := Record{
				RID:     baseRID,
				Columns: make([]Cell, t.numColumns),
			}
			for col := range rec.Columns {
				rec.Columns[col] = Value(int64(row[internal(col)]))
			}
			return fn(rec)
		})
}

// CreateIndex indexes column col, building the index from the current versions.
func (t *Table) CreateIndex(col int) error {
	if col < 0 || col >= t.numColumns {
		return fmt.Errorf("table %s: create index: column %d out of range", t.name, col)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.indices.Create(col) {
		return fmt.Errorf("table %s: column %d already indexed", t.name, col)
	}
	return t.scan(
		func(baseRID rid.RID, row []uint64) error {
			return t.indices.Insert(col, int64(row[internal(col)]), baseRID)
		})
}

func (t *Table) DropIndex(col int) error {
	if col == t.key {
		return fmt.Errorf("table %s: can't drop the primary key index", t.name)
	}
	if !t.indices.Drop(col) {
		return fmt.Errorf("table %s: column %d: %w", t.name, col, ErrColumnNotIndexed)
	}
	return nil
}
