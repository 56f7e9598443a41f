// Package coordinator implements the controller of the replicated file store:
// the file index, the node registry, the store, remove and load coordinators
// and the rebalancer, together with the TCP server that routes protocol lines
// to them.
//
// # Overview
//
// The controller never touches file bytes. Clients ask it where to write or
// read, then talk to storage nodes directly; the nodes report back over their
// control connections. The controller's job is to keep an index that agrees
// with what the nodes actually hold, and to keep every stored file on exactly
// R distinct nodes.
//
// # Architecture
//
//	┌──────────────────────────────────────────┐
//	│               CONTROLLER                  │
//	├──────────────────────────────────────────┤
//	│  Server: accept loop, worker per conn    │
//	│     │                                    │
//	│     ▼                                    │
//	│  Router ──► Gate (FIFO while frozen)     │
//	│     │          │                         │
//	│     ▼          ▼                         │
//	│  Store / Remove / Load coordinators      │
//	│     │                                    │
//	│     ▼                                    │
//	│  FileIndex  ◄──────  Rebalancer          │
//	│  NodeRegistry ◄────┘  (survey, plan,     │
//	│                        dispatch, GC)     │
//	└──────────────────────────────────────────┘
//
// # File Lifecycle
//
//	           STORE                 R × STORE_ACK
//	  (none) ────────► Storing ───────────────────► Stored
//	                     │                            │
//	                     │ timeout T                  │ REMOVE
//	                     ▼                            ▼
//	                  deleted ◄───── all acks ──── Removing
//
// A record is deleted when it times out while storing, when its replica set
// becomes empty, or when a rebalance survey finds no node holding it. Only one
// record exists per name, so a name cannot be reused until the previous
// record is gone.
//
// # Store
//
// The store coordinator picks R random live nodes, inserts a Storing record
// and answers STORE_TO. Acks are counted under the record lock; the R-th ack
// moves the record to Stored and sends STORE_COMPLETE. A timer of T running
// on its own goroutine fails the store with ERROR_STORE if quorum was not
// reached. Both paths hold the same lock so the requester hears exactly one
// outcome.
//
// # Remove
//
// REMOVE is fire and forget: the controller marks the record Removing, sends
// REMOVE to every replica and answers REMOVE_COMPLETE right away. Each
// REMOVE_ACK shrinks the replica set. Replicas that stay silent for T are
// logged; the next rebalance makes them delete the file and clears the
// record.
//
// # Load
//
// Each client connection keeps, per file, the nodes it was already offered.
// LOAD starts a new sequence and RELOAD continues it. When every replica has
// been tried the controller answers ERROR_LOAD and forgets the sequence.
//
// # Rebalancing
//
// The rebalancer runs every RebalancePeriod and whenever a join leaves at
// least R nodes live. A cycle:
//
//  1. Freezes the gate. New requests are queued in arrival order.
//  2. Sends LIST to every node and waits up to T for the replies.
//  3. Computes an assignment where each stored file has min(R, N) replicas
//     and node loads differ by at most one, keeping existing copies where
//     possible.
//  4. Sends each affected node one REBALANCE line and waits up to T for
//     REBALANCE_COMPLETE. Nodes push every file before deleting any.
//  5. Rewrites replica sets from the outcome and deletes entries no node
//     reported.
//  6. Replays the queued requests and reopens the gate.
//
// Nodes that miss the survey or the deadline are skipped for the cycle;
// their entries in the index are kept as they were. Files that were still
// storing when the cycle began are never moved or deleted by it.
//
// # Concurrency Model
//
// Every connection has its own worker goroutine. Shared state is limited to
// the FileIndex and the NodeRegistry:
//   - The index and the registry each have a RWMutex for structural changes
//   - Each FileRecord has its own mutex guarding its state and port sets
//   - A record lock may be held while taking the index lock, never the
//     reverse
//
// Node replies that a coordinator or a running cycle waits on (acks, LIST
// replies, REBALANCE_COMPLETE) bypass the gate, otherwise a frozen cycle could
// never finish.
//
// # Failure Handling
//
// A node is live from its JOIN until its control connection closes or a write
// to it fails. Deregistration strips the node from every record; records that
// lose their last replica are deleted. Node failures are never fatal to the
// controller.
//
// # Usage Example
//
//	ctrl, err := coordinator.New(coordinator.Config{
//	    ReplicationFactor: 3,
//	    Timeout:           time.Second,
//	    RebalancePeriod:   30 * time.Second,
//	    Logger:            logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer ctrl.Stop()
//	return ctrl.ListenAndServe(ctx, ":12345")
package coordinator
