package kv

import (
	"io"
	"os"
	"sync"

	"github.com/dgraph-io/badger"
	log "github.com/sirupsen/logrus"
)

type badgerKV struct {
	mutex sync.Mutex
	db    *badger.DB
}

type badgerUpdater struct {
	kv *badgerKV
	tx *badger.Txn
}

func MakeBadgerKV(dataDir string, logger *log.Logger) (KV, error) {
	err := os.MkdirAll(dataDir, 0755)
	if err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(dataDir).
		WithBypassLockGuard(true).
		WithLogger(logger).
		WithSyncWrites(false)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerKV{db: db}, nil
}

func (bkv *badgerKV) Get(key []byte, fn func(val []byte) error) error {
	return bkv.db.View(
		func(tx *badger.Txn) error {
			item, err := tx.Get(key)
			if err == badger.ErrKeyNotFound {
				return io.EOF
			} else if err != nil {
				return err
			}
			return item.Value(fn)
		})
}

// Update serializes updaters so that one snapshot save never conflicts with
// another.
func (bkv *badgerKV) Update() (Updater, error) {
	bkv.mutex.Lock()

	return badgerUpdater{
		kv: bkv,
		tx: bkv.db.NewTransaction(true),
	}, nil
}

func (bkv *badgerKV) Close() error {
	return bkv.db.Close()
}

func (bu badgerUpdater) Set(key, val []byte) error {
	return bu.tx.Set(append([]byte(nil), key...), append([]byte(nil), val...))
}

func (bu badgerUpdater) Delete(key []byte) error {
	return bu.tx.Delete(append([]byte(nil), key...))
}

func (bu badgerUpdater) DeletePrefix(prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := bu.tx.NewIterator(opts)
	it.Seek(prefix)
	keys := prefixKeys(prefix,
		func() []byte {
			if !it.Valid() {
				return nil
			}
			key := it.Item().KeyCopy(nil)
			it.Next()
			return key
		})
	it.Close()

	for _, key := range keys {
		err := bu.tx.Delete(key)
		if err != nil {
			return err
		}
	}
	return nil
}

func (bu badgerUpdater) Commit(sync bool) error {
	// sync is ignored: the store is opened with SyncWrites off.
	err := bu.tx.Commit()
	bu.kv.mutex.Unlock()
	return err
}

func (bu badgerUpdater) Rollback() {
	bu.tx.Discard()
	bu.kv.mutex.Unlock()
}
