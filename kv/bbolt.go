package kv

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var (
	lstoreBucket = []byte("lstore")
)

// bboltKV keeps every key in one bucket of a single file.
type bboltKV struct {
	db *bbolt.DB
}

type bboltUpdater struct {
	tx  *bbolt.Tx
	bkt *bbolt.Bucket
}

func MakeBBoltKV(dataDir string) (KV, error) {
	err := os.MkdirAll(dataDir, 0755)
	if err != nil {
		return nil, err
	}
	db, err := bbolt.Open(filepath.Join(dataDir, "lstore.bbolt"), 0644, nil)
	if err != nil {
		return nil, err
	}
	db.NoFreelistSync = true

	err = db.Update(
		func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(lstoreBucket)
			return err
		})
	if err != nil {
		db.Close()
		return nil, err
	}
	return bboltKV{db}, nil
}

func (bkv bboltKV) begin(writable bool) (*bbolt.Tx, *bbolt.Bucket, error) {
	tx, err := bkv.db.Begin(writable)
	if err != nil {
		return nil, nil, fmt.Errorf("bbolt: begin failed: %s", err)
	}
	bkt := tx.Bucket(lstoreBucket)
	if bkt == nil {
		tx.Rollback()
		return nil, nil, errors.New("bbolt: missing lstore bucket")
	}
	return tx, bkt, nil
}

func (bkv bboltKV) Get(key []byte, fn func(val []byte) error) error {
	tx, bkt, err := bkv.begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// val is only valid until the transaction ends.
	val := bkt.Get(key)
	if val == nil {
		return io.EOF
	}
	return fn(val)
}

func (bkv bboltKV) Update() (Updater, error) {
	tx, bkt, err := bkv.begin(true)
	if err != nil {
		return nil, err
	}
	return bboltUpdater{tx, bkt}, nil
}

func (bkv bboltKV) Close() error {
	return bkv.db.Close()
}

func (bu bboltUpdater) Set(key, val []byte) error {
	return bu.bkt.Put(key, val)
}

func (bu bboltUpdater) Delete(key []byte) error {
	return bu.bkt.Delete(key)
}

func (bu bboltUpdater) DeletePrefix(prefix []byte) error {
	// Deleting under a moving cursor skips keys, so collect them first.
	cr := bu.bkt.Cursor()
	key, _ := cr.Seek(prefix)
	keys := prefixKeys(prefix,
		func() []byte {
			k := key
			if k != nil {
				key, _ = cr.Next()
			}
			return k
		})

	for _, k := range keys {
		err := bu.bkt.Delete(k)
		if err != nil {
			return err
		}
	}
	return nil
}

func (bu bboltUpdater) Commit(sync bool) error {
	bu.tx.DB().NoSync = !sync
	return bu.tx.Commit()
}

func (bu bboltUpdater) Rollback() {
	bu.tx.Rollback()
}
