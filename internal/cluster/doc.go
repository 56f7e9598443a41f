// Package cluster defines the wire protocol spoken between the controller,
// the storage nodes and clients, together with the connection type every
// component uses to speak it.
//
// # Overview
//
// The system is a hub-and-spoke deployment: a single controller tracks which
// storage node holds which file, while file bytes travel directly between
// clients and storage nodes.
//
//	              ┌──────────────┐
//	              │  Controller  │
//	              │ - Registry   │
//	              │ - File index │
//	              │ - Rebalancer │
//	              └──────┬───────┘
//	                     │ control lines
//	      ┌──────────────┼──────────────┐
//	      │              │              │
//	┌─────▼─────┐ ┌─────▼─────┐ ┌─────▼─────┐
//	│  Dstore   │ │  Dstore   │ │  Dstore   │
//	│  :4001    │ │  :4002    │ │  :4003    │
//	└───────────┘ └───────────┘ └───────────┘
//	      ▲  raw bytes (STORE / LOAD_DATA / REBALANCE_STORE)
//	      └──── clients and peer nodes
//
// # Message Format
//
// Every message is one newline-terminated line of space-separated tokens. The
// first token is the command, the rest are its arguments:
//
//	STORE report.pdf 1048576
//	STORE_TO 4001 4002
//	LOAD_FROM 4002 1048576
//
// STORE and REBALANCE_STORE are followed, after the receiving node answers ACK,
// by exactly size raw bytes. LOAD_DATA is answered by the raw file bytes and a
// closed connection.
//
// REBALANCE carries a compact encoding of the work for one node:
//
//	REBALANCE 2 a.txt 1 4003 b.txt 2 4001 4003 1 c.txt
//	          │ └─ send a.txt to 4003 ┘ └─ send b.txt to 4001,4003 ┘ │ └ remove c.txt
//	          └ files to send                                        └ files to remove
//
// # Errors
//
// The error taxonomy shared by all components is declared here as sentinel
// errors. Those that clients observe have a protocol token; ErrorToken and
// ErrorFromToken convert between the two representations.
//
// # Concurrency Model
//
// Conn serialises writes with a mutex so coordinators, timers and the
// connection's own worker may all reply on the same connection. Reads are
// owned by exactly one goroutine per connection.
package cluster
