// Package storage holds the file bytes of a storage node behind a small
// interface, so a node can keep its files in memory or on disk without the
// rest of the node caring which.
//
// # Overview
//
// A storage node owns a flat namespace of files. Each file is an opaque
// byte slice addressed by its name; there are no directories, no partial
// writes and no versions. The Store interface captures exactly that:
//
//	Get(name)        the whole file, or ErrFileNotFound
//	Put(name, data)  create or overwrite
//	Delete(name)     remove, or ErrFileNotFound
//	List()           every name, sorted
//	Stats()          file count and total bytes
//	Close()          release resources
//
// # Implementations
//
// MemoryStore keeps files in a map guarded by a sync.RWMutex and keeps a
// running byte total, so Stats is constant time. Nothing
// survives a restart, which matches a node that rejoins empty. It is the
// default in tests.
//
// BadgerStore keeps files in an embedded badger database under a directory.
// Files are written in a single transaction each, so a crash leaves either
// the old contents or the new ones. Keys carry a fixed prefix so other data
// can share the database later.
//
//	┌─────────────────────────┐
//	│      dstore.Node        │
//	└────────────┬────────────┘
//	             │ storage.Store
//	     ┌───────┴────────┐
//	     ▼                ▼
//	┌──────────┐   ┌─────────────┐
//	│  Memory  │   │   Badger    │
//	│  Store   │   │   Store     │
//	└──────────┘   └─────────────┘
//
// # Concurrency and Thread Safety
//
// Every implementation is safe for concurrent use. Reads may run in
// parallel and concurrent Puts of one name leave the last writer's bytes.
// Returned byte slices are copies and may be modified by the caller.
//
// # Error Handling
//
// ErrFileNotFound is the only sentinel. Callers compare with errors.Is, as
// BadgerStore wraps lower level errors with context.
//
// # Usage Example
//
//	store := storage.NewMemoryStore()
//	if err := store.Put("report.pdf", data); err != nil {
//		return err
//	}
//	data, err := store.Get("report.pdf")
//	if errors.Is(err, storage.ErrFileNotFound) {
//		// not held here
//	}
package storage
