// Package persist saves and loads snapshots of a database to a kv.KV.
//
// A snapshot is a set of keys: one metadata record, one record per table, and
// one record per logical page. Records are encoded in the protobuf wire format;
// every column of every page carries a blake3 checksum which is verified on load.
// Saving replaces the previous snapshot in a single update.
package persist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/lstore/kv"
	"github.com/leftmike/lstore/page"
	"github.com/leftmike/lstore/rid"
	"github.com/leftmike/lstore/table"
)

var (
	ErrChecksum   = errors.New("persist: checksum mismatch")
	ErrFormat     = errors.New("persist: bad snapshot format")
	ErrNoSnapshot = errors.New("persist: no snapshot")
)

var (
	metaKey     = []byte("lstore/meta")
	tablePrefix = []byte("lstore/table/")
	pagePrefix  = []byte("lstore/page/")
	rootPrefix  = []byte("lstore/")
)

type Snapshot struct {
	ID       uuid.UUID
	NextBase rid.RID
	NextTail rid.RID
	Layout   page.Layout
	Tables   []*table.Image
}

type Options struct {
	// Compress pages with xz.
	Compress bool
	Logger   *log.Logger
}

func tableRecordKey(name string) []byte {
	return append(append([]byte(nil), tablePrefix...), name...)
}

func pagesKey(name string) []byte {
	key := append(append([]byte(nil), pagePrefix...), name...)
	return append(key, 0)
}

func pageKey(name string, rng, pg int) []byte {
	key := pagesKey(name)
	key = binary.BigEndian.AppendUint32(key, uint32(rng))
	return binary.BigEndian.AppendUint32(key, uint32(pg))
}

func logger(opts Options) *log.Logger {
	if opts.Logger == nil {
		return log.StandardLogger()
	}
	return opts.Logger
}

func clearSnapshot(u kv.Updater) error {
	return u.DeletePrefix(rootPrefix)
}

// Save replaces any snapshot in st with snap. The tables must not change while
// Save runs.
func Save(st kv.KV, snap *Snapshot, opts Options) error {
	start := time.Now()

	u, err := st.Update()
	if err != nil {
		return err
	}
	err = save(u, snap, opts)
	if err != nil {
		u.Rollback()
		return fmt.Errorf("persist: save: %w", err)
	}
	err = u.Commit(true)
	if err != nil {
		return fmt.Errorf("persist: save: %w", err)
	}

	logger(opts).WithFields(log.Fields{
		"id":      snap.ID,
		"tables":  len(snap.Tables),
		"elapsed": time.Since(start),
	}).Info("snapshot saved")
	return nil
}

func save(u kv.Updater, snap *Snapshot, opts Options) error {
	err := clearSnapshot(u)
	if err != nil {
		return err
	}

	m := meta{
		id:       snap.ID[:],
		nextBase: snap.NextBase,
		nextTail: snap.NextTail,
		layout:   snap.Layout,
		compress: opts.Compress,
	}
	for _, img := range snap.Tables {
		m.tables = append(m.tables, img.Name)

		err = u.Set(tableRecordKey(img.Name), encodeTable(img))
		if err != nil {
			return err
		}
		for rdx, pages := range img.Ranges {
			for pdx, lp := range pages {
				buf, err := encodePage(lp, opts.Compress)
				if err != nil {
					return err
				}
				err = u.Set(pageKey(img.Name, rdx, pdx), buf)
				if err != nil {
					return err
				}
			}
		}
	}
	return u.Set(metaKey, encodeMeta(m))
}

// Load reads the snapshot in st; it returns ErrNoSnapshot if there is none.
func Load(st kv.KV, opts Options) (*Snapshot, error) {
	start := time.Now()

	var m meta
	err := st.Get(metaKey,
		func(val []byte) error {
			var err error
			m, err = decodeMeta(val)
			return err
		})
	if err == io.EOF {
		return nil, ErrNoSnapshot
	} else if err != nil {
		return nil, fmt.Errorf("persist: load: %w", err)
	}

	snap := &Snapshot{
		NextBase: m.nextBase,
		NextTail: m.nextTail,
		Layout:   m.layout,
	}
	snap.ID, err = uuid.FromBytes(m.id)
	if err != nil {
		return nil, fmt.Errorf("persist: load: %w: id: %s", ErrFormat, err)
	}

	for _, tn := range m.tables {
		img, err := loadTable(st, tn)
		if err != nil {
			return nil, fmt.Errorf("persist: load: table %s: %w", tn, err)
		}
		snap.Tables = append(snap.Tables, img)
	}

	logger(opts).WithFields(log.Fields{
		"id":      snap.ID,
		"tables":  len(snap.Tables),
		"elapsed": time.Since(start),
	}).Info("snapshot loaded")
	return snap, nil
}

func loadTable(st kv.KV, name string) (*table.Image, error) {
	var img *table.Image
	var ranges []int
	err := st.Get(tableRecordKey(name),
		func(val []byte) error {
			var err error
			img, ranges, err = decodeTable(val)
			return err
		})
	if err == io.EOF {
		return nil, fmt.Errorf("%w: missing table record", ErrFormat)
	} else if err != nil {
		return nil, err
	}
	err = img.Layout.Validate()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFormat, err)
	}

	img.Ranges = make([][]*page.LogicalPage, len(ranges))
	for rdx, n := range ranges {
		for pdx := 0; pdx < n; pdx += 1 {
			var lp *page.LogicalPage
			err = st.Get(pageKey(name, rdx, pdx),
				func(val []byte) error {
					var err error
					lp, err = decodePage(val, img.Layout.Capacity())
					return err
				})
			if err == io.EOF {
				return nil, fmt.Errorf("%w: range %d: missing page %d", ErrFormat, rdx, pdx)
			} else if err != nil {
				return nil, fmt.Errorf("range %d: %w", rdx, err)
			}
			img.Ranges[rdx] = append(img.Ranges[rdx], lp)
		}
	}
	return img, nil
}
