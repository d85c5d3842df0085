// ABOUTME: BadgerDB-backed KV for the local replica, one directory per origin
// ABOUTME: Update runs in a badger transaction and retries on write conflicts
package replica

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v3"
)

const maxConflictRetries = 32

// BadgerKV stores the replica snapshot in an embedded BadgerDB.
type BadgerKV struct {
	db *badger.DB
}

// OpenBadger opens (creating if needed) the badger directory at dir.
func OpenBadger(dir string) (*BadgerKV, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create replica dir: %w", err)
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(nil) // badger's own logging is noisy on the terminal

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerKV{db: db}, nil
}

func (b *BadgerKV) Get(key []byte) ([]byte, error) {
	var result []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		result, err = item.ValueCopy(nil)
		return err
	})
	return result, err
}

func (b *BadgerKV) Update(key []byte, fn func(current []byte) ([]byte, error)) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = b.db.Update(func(txn *badger.Txn) error {
			var cur []byte
			item, err := txn.Get(key)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				if cur, err = item.ValueCopy(nil); err != nil {
					return err
				}
			}

			next, err := fn(cur)
			if err != nil {
				return err
			}
			return txn.Set(key, next)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (b *BadgerKV) Close() error {
	return b.db.Close()
}
