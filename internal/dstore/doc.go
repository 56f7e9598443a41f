// Package dstore implements a storage node.
//
// A node listens on a data port and opens one control connection to the
// controller, announcing itself with JOIN and its data port. Files are kept
// in a storage.Store, either in memory or in a badger database.
//
// # Data Port
//
// Every data connection carries exactly one request:
//
//	STORE name size            ACK, then size raw bytes; STORE_ACK name goes to the controller
//	REBALANCE_STORE name size  ACK, then size raw bytes
//	LOAD_DATA name             the raw bytes, or an immediate close if missing
//
// # Control Connection
//
//	REMOVE name     REMOVE_ACK name, or ERROR_FILE_DOES_NOT_EXIST name
//	LIST            LIST name...
//	REBALANCE ...   pushes, then deletes, then REBALANCE_COMPLETE
//
// Pushes to peers run concurrently and must all finish before the first
// local delete. A push that fails is logged and does not hold back
// REBALANCE_COMPLETE; the next survey shows the controller what really
// happened.
//
// When the control connection closes the node stops serving and Serve
// returns ErrControllerGone.
package dstore
