// Package db owns the tables of one database: the RID allocator they share, the
// page layout new tables use, and the snapshot lifecycle.
package db

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/lstore/kv"
	"github.com/leftmike/lstore/page"
	"github.com/leftmike/lstore/persist"
	"github.com/leftmike/lstore/rid"
	"github.com/leftmike/lstore/table"
)

var (
	ErrTableExists = errors.New("db: table already exists")
	ErrNoTable     = errors.New("db: table not found")
	ErrClosed      = errors.New("db: database closed")
)

type Options struct {
	// Layout is used by tables created after Open; tables loaded from a snapshot
	// keep their own. If it is zero, the layout of the snapshot is used.
	Layout page.Layout

	// KV holds the snapshot; nil keeps the database in memory only.
	KV       kv.KV
	Compress bool
	Logger   *log.Logger
}

type Database struct {
	id       uuid.UUID
	layout   page.Layout
	alloc    *rid.Allocator
	st       kv.KV
	compress bool
	logger   *log.Logger

	mutex  sync.RWMutex
	tables map[string]*table.Table
	closed bool
}

// Open returns a database, loading the snapshot in opts.KV if there is one.
func Open(opts Options) (*Database, error) {
	defaultLayout := opts.Layout == (page.Layout{})
	if defaultLayout {
		opts.Layout = page.DefaultLayout
	}
	err := opts.Layout.Validate()
	if err != nil {
		return nil, fmt.Errorf("db: %s", err)
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}

	d := &Database{
		id:       uuid.New(),
		layout:   opts.Layout,
		alloc:    rid.NewAllocator(),
		st:       opts.KV,
		compress: opts.Compress,
		logger:   opts.Logger,
		tables:   map[string]*table.Table{},
	}
	if d.st == nil {
		return d, nil
	}

	snap, err := persist.Load(d.st, persist.Options{Logger: d.logger})
	if errors.Is(err, persist.ErrNoSnapshot) {
		return d, nil
	} else if err != nil {
		return nil, err
	}

	d.id = snap.ID
	if defaultLayout {
		d.layout = snap.Layout
	}
	err = d.alloc.Reset(snap.NextBase, snap.NextTail)
	if err != nil {
		return nil, fmt.Errorf("db: %s", err)
	}
	for _, img := range snap.Tables {
		tbl, err := table.FromImage(img, d.alloc, table.Options{Logger: d.logger})
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		d.tables[img.Name] = tbl
	}
	return d, nil
}

func (d *Database) ID() uuid.UUID {
	return d.id
}

func (d *Database) Layout() page.Layout {
	return d.layout
}

func validName(name string) error {
	if name == "" || strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("db: invalid table name: %q", name)
	}
	return nil
}

// CreateTable adds a table with numColumns columns and its primary key in column
// key; indexed lists the other columns to index, nil meaning all of them.
func (d *Database) CreateTable(name string, numColumns, key int, indexed []int) (*table.Table,
	error) {

	err := validName(name)
	if err != nil {
		return nil, err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if _, ok := d.tables[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, name)
	}
	tbl, err := table.New(name, numColumns, key, d.alloc, table.Options{
		Layout:  d.layout,
		Indexed: indexed,
		Logger:  d.logger,
	})
	if err != nil {
		return nil, err
	}
	d.tables[name] = tbl

	d.logger.WithFields(log.Fields{
		"table":   name,
		"columns": numColumns,
		"key":     key,
	}).Info("table created")
	return tbl, nil
}

func (d *Database) Table(name string) (*table.Table, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}
	tbl, ok := d.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, name)
	}
	return tbl, nil
}

// DropTable forgets a table; its RIDs are not reused.
func (d *Database) DropTable(name string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return ErrClosed
	}
	if _, ok := d.tables[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNoTable, name)
	}
	delete(d.tables, name)

	d.logger.WithField("table", name).Info("table dropped")
	return nil
}

// Tables returns the table names in order.
func (d *Database) Tables() []string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// save must be called with d.mutex held.
func (d *Database) save() error {
	if d.st == nil {
		return nil
	}

	nextBase, nextTail := d.alloc.Next()
	snap := &persist.Snapshot{
		ID:       d.id,
		NextBase: nextBase,
		NextTail: nextTail,
		Layout:   d.layout,
	}
	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		snap.Tables = append(snap.Tables, d.tables[name].Image())
	}
	return persist.Save(d.st, snap, persist.Options{
		Compress: d.compress,
		Logger:   d.logger,
	})
}

// Save writes a snapshot; no operations may be running on any table.
func (d *Database) Save() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return ErrClosed
	}
	return d.save()
}

// Close saves a snapshot and closes the store. No operations may be running.
func (d *Database) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return ErrClosed
	}
	d.closed = true

	if d.st == nil {
		return nil
	}
	err := d.save()
	cerr := d.st.Close()
	if err != nil {
		return err
	}
	return cerr
}
