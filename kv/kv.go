// Package kv is the key-value interface snapshots are saved to, with
// implementations on top of an in-memory btree, bbolt, badger, and pebble.
package kv

import (
	"bytes"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

var (
	ErrUnknownStore = errors.New("kv: unknown store")
)

// Updater batches changes; none of them are visible until Commit.
type Updater interface {
	Set(key, val []byte) error
	Delete(key []byte) error

	// DeletePrefix deletes every key starting with prefix.
	DeletePrefix(prefix []byte) error

	Commit(sync bool) error
	Rollback()
}

// KV is a store of byte keys and values. Get returns io.EOF if the key is not
// present. Only one Updater may be active at a time; Update blocks until the
// previous one is committed or rolled back.
type KV interface {
	Get(key []byte, fn func(val []byte) error) error
	Update() (Updater, error)
	Close() error
}

// Stores lists the names accepted by Open.
var Stores = []string{"btree", "bbolt", "badger", "pebble"}

// Open makes the store named by store; dataDir is ignored by btree.
func Open(store, dataDir string, logger *log.Logger) (KV, error) {
	switch store {
	case "btree":
		return MakeBTreeKV()
	case "bbolt":
		return MakeBBoltKV(dataDir)
	case "badger":
		return MakeBadgerKV(dataDir, logger)
	case "pebble":
		return MakePebbleKV(dataDir, logger)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStore, store)
}

// prefixKeys calls next for successive keys at or after prefix, collecting copies of
// those that start with prefix; next returns nil when there are no more keys.
func prefixKeys(prefix []byte, next func() []byte) [][]byte {
	var keys [][]byte
	for key := next(); key != nil && bytes.HasPrefix(key, prefix); key = next() {
		keys = append(keys, append([]byte(nil), key...))
	}
	return keys
}

// prefixEnd returns the first key after every key starting with prefix, or nil if
// there is none.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i -= 1 {
		if end[i] != 0xFF {
			end[i] += 1
			return end[:i+1]
		}
	}
	return nil
}
