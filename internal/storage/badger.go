package storage

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// filePrefix namespaces file entries inside the badger keyspace
var filePrefix = []byte("file/")

// BadgerStore implements Store on top of a badger database rooted at a
// storage node's directory. File bytes are kept as single values.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (creating if necessary) a badger database in dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func fileKey(name string) []byte {
	return append(append([]byte{}, filePrefix...), name...)
}

// Get retrieves a file by name
func (b *BadgerStore) Get(name string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fileKey(name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", name, err)
	}
	return data, nil
}

// Put stores a file under the given name
func (b *BadgerStore) Put(name string, data []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fileKey(name), data)
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

// Delete removes a file
func (b *BadgerStore) Delete(name string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		key := fileKey(name)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrFileNotFound
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// List returns all file names in key order
func (b *BadgerStore) List() ([]string, error) {
	var names []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = filePrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			names = append(names, string(key[len(filePrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return names, nil
}

// Stats walks the keyspace to count files and their value sizes
func (b *BadgerStore) Stats() (StoreStats, error) {
	var stats StoreStats
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = filePrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			stats.Files++
			stats.Bytes += it.Item().ValueSize()
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}

// Close flushes and closes the database
func (b *BadgerStore) Close() error {
	return b.db.Close()
}
