// Package sigcache remembers the signature set last deployed to
// clamd, so sigmgr's poll loop can diff against it instead of
// recomputing and rewriting the NDB file on every tick. Backed
// directly by github.com/dgraph-io/badger/v4 (the teacher depends on
// badger only through the badgerhold wrapper for structured records;
// a flat name-present set needs none of that, so this talks to badger
// directly rather than adding a second ORM-shaped dependency for one
// bucket of strings).
package sigcache

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Cache is a small persistent set of signature names.
type Cache struct {
	db *badger.DB
}

// Open opens (creating if absent) the badger store at path.
func Open(path string) (*Cache, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("sigcache: open %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Load returns the full set of signature names currently recorded as
// deployed.
func (c *Cache) Load() (map[string]bool, error) {
	out := make(map[string]bool)
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			out[string(it.Item().Key())] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sigcache: load: %w", err)
	}
	return out, nil
}

// Replace atomically swaps the recorded set for names, deleting any
// signature no longer present.
func (c *Cache) Replace(names []string) error {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	return c.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if !want[string(key)] {
				stale = append(stale, key)
			}
		}
		it.Close()
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for n := range want {
			if err := txn.Set([]byte(n), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
}
