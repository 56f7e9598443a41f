package coordinator

import (
	"cmp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/dreamware/quorumfs/internal/cluster"
)

// StorageNode is a live storage node known to the controller.
//
// The node is addressed by the port it listens on for data transfers; the
// controller talks to it over the control connection the node opened when
// it joined.
type StorageNode struct {
	// Port is the node's data port and its identity in the cluster.
	Port int

	// Conn is the control connection the node joined over.
	Conn *cluster.Conn

	// JoinedAt records when the node registered.
	JoinedAt time.Time
}

// NodeRegistry tracks the live storage nodes of the cluster.
//
// Liveness is connection-based: a node is live from its JOIN until the read
// loop of its control connection observes EOF or an error. There is no
// graceful leave; a closed connection is treated as a crash.
//
// Concurrency Model:
//   - Read operations use RLock for parallel access
//   - Join and Deregister take the exclusive lock
//   - The deregistration callback runs after the lock is released
type NodeRegistry struct {
	mu           sync.RWMutex
	nodes        map[int]*StorageNode
	onDeregister func(port int)
	logger       zerolog.Logger
}

// NewNodeRegistry creates an empty registry.
func NewNodeRegistry(logger zerolog.Logger) *NodeRegistry {
	return &NodeRegistry{
		nodes:  make(map[int]*StorageNode),
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// SetOnDeregister sets the callback invoked synchronously after a node has
// been removed. The controller uses it to strip the node from file records.
func (r *NodeRegistry) SetOnDeregister(callback func(port int)) {
	r.onDeregister = callback
}

// Join registers a node. It is idempotent: if port is already registered the
// call is ignored and false is returned.
func (r *NodeRegistry) Join(port int, conn *cluster.Conn) bool {
	r.mu.Lock()
	if _, ok := r.nodes[port]; ok {
		r.mu.Unlock()
		r.logger.Warn().Int("port", port).Msg("ignoring JOIN for already registered port")
		return false
	}
	r.nodes[port] = &StorageNode{Port: port, Conn: conn, JoinedAt: time.Now()}
	live := len(r.nodes)
	r.mu.Unlock()

	r.logger.Info().Int("port", port).Int("live", live).Msg("storage node joined")
	return true
}

// Deregister removes the node on port. When conn is non-nil the node is only
// removed if it is still registered over that connection, so a stale
// connection cannot evict a node that re-joined. Returns whether a node was
// removed.
func (r *NodeRegistry) Deregister(port int, conn *cluster.Conn) bool {
	r.mu.Lock()
	node, ok := r.nodes[port]
	if !ok || (conn != nil && node.Conn != conn) {
		r.mu.Unlock()
		return false
	}
	delete(r.nodes, port)
	live := len(r.nodes)
	r.mu.Unlock()

	r.logger.Warn().Int("port", port).Int("live", live).Msg("storage node disconnected")
	if r.onDeregister != nil {
		r.onDeregister(port)
	}
	return true
}

// Get returns the node registered on port.
func (r *NodeRegistry) Get(port int) (*StorageNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[port]
	return node, ok
}

// LiveCount returns the number of registered nodes.
func (r *NodeRegistry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Snapshot returns the registered nodes sorted by port.
func (r *NodeRegistry) Snapshot() []*StorageNode {
	r.mu.RLock()
	out := make([]*StorageNode, 0, len(r.nodes))
	for _, node := range r.nodes {
		out = append(out, node)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *StorageNode) int { return cmp.Compare(a.Port, b.Port) })
	return out
}

// Ports returns the registered ports in ascending order.
func (r *NodeRegistry) Ports() []int {
	nodes := r.Snapshot()
	ports := make([]int, len(nodes))
	for i, n := range nodes {
		ports[i] = n.Port
	}
	return ports
}
