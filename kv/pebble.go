package kv

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"
	log "github.com/sirupsen/logrus"
)

type pebbleKV struct {
	mutex sync.Mutex
	db    *pebble.DB
}

type pebbleUpdater struct {
	kv    *pebbleKV
	batch *pebble.Batch
}

func MakePebbleKV(dataDir string, logger *log.Logger) (KV, error) {
	err := os.MkdirAll(dataDir, 0755)
	if err != nil {
		return nil, err
	}

	db, err := pebble.Open(dataDir, &pebble.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	return &pebbleKV{db: db}, nil
}

func (pkv *pebbleKV) Get(key []byte, fn func(val []byte) error) error {
	val, closer, err := pkv.db.Get(key)
	if err == pebble.ErrNotFound {
		return io.EOF
	} else if err != nil {
		return err
	}
	defer closer.Close()

	return fn(val)
}

func (pkv *pebbleKV) Update() (Updater, error) {
	pkv.mutex.Lock()

	return pebbleUpdater{
		kv:    pkv,
		batch: pkv.db.NewBatch(),
	}, nil
}

func (pkv *pebbleKV) Close() error {
	return pkv.db.Close()
}

func (pu pebbleUpdater) Set(key, val []byte) error {
	return pu.batch.Set(key, val, nil)
}

func (pu pebbleUpdater) Delete(key []byte) error {
	return pu.batch.Delete(key, nil)
}

func (pu pebbleUpdater) DeletePrefix(prefix []byte) error {
	end := prefixEnd(prefix)
	if end == nil {
		return fmt.Errorf("pebble: no range ends prefix %q", prefix)
	}
	return pu.batch.DeleteRange(prefix, end, nil)
}

func (pu pebbleUpdater) Commit(sync bool) error {
	defer pu.kv.mutex.Unlock()

	opt := pebble.NoSync
	if sync {
		opt = pebble.Sync
	}
	return pu.batch.Commit(opt)
}

func (pu pebbleUpdater) Rollback() {
	pu.batch.Close()
	pu.kv.mutex.Unlock()
}
