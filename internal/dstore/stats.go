package dstore

import (
	"sync/atomic"

	"github.com/dreamware/quorumfs/internal/storage"
)

// OperationStats counts the operations a node has served. Counters are
// updated atomically so handlers never contend on a lock.
type OperationStats struct {
	stores   atomic.Uint64
	loads    atomic.Uint64
	removes  atomic.Uint64
	sent     atomic.Uint64
	received atomic.Uint64
}

// Stats is a point-in-time copy of a node's counters and storage usage.
type Stats struct {
	Stores   uint64 // client STOREs persisted
	Loads    uint64 // LOAD_DATA requests served
	Removes  uint64 // files deleted by REMOVE or REBALANCE
	Sent     uint64 // files pushed to peers during rebalance
	Received uint64 // files received from peers during rebalance
	Storage  storage.StoreStats
}

func (o *OperationStats) snapshot(st storage.StoreStats) Stats {
	return Stats{
		Stores:   o.stores.Load(),
		Loads:    o.loads.Load(),
		Removes:  o.removes.Load(),
		Sent:     o.sent.Load(),
		Received: o.received.Load(),
		Storage:  st,
	}
}
