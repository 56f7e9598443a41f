package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/quorumfs/internal/cluster"
)

// Config holds the controller's tunables.
type Config struct {
	// ReplicationFactor is R, the number of distinct nodes holding each file.
	ReplicationFactor int

	// Timeout is T, the bound on quorum acks, removal acks, surveys and
	// rebalance completion.
	Timeout time.Duration

	// RebalancePeriod is the interval between rebalance cycles. Zero disables
	// periodic cycles; joins still trigger them.
	RebalancePeriod time.Duration

	// DisableJoinRebalance stops joins from triggering a cycle.
	DisableJoinRebalance bool

	// AcceptRate limits new connections per second. Zero means unlimited.
	AcceptRate float64

	// AcceptBurst is the limiter burst size (default 64).
	AcceptBurst int

	// LoadAttemptTTL bounds how long an idle load sequence is remembered
	// (default 10 minutes).
	LoadAttemptTTL time.Duration

	// Logger receives all controller logs. The zero value logs nothing.
	Logger zerolog.Logger
}

// ErrInvalidConfig is returned by New for unusable configurations.
var ErrInvalidConfig = errors.New("invalid controller config")

func (c *Config) setDefaults() {
	if c.AcceptBurst <= 0 {
		c.AcceptBurst = 64
	}
	if c.LoadAttemptTTL <= 0 {
		c.LoadAttemptTTL = 10 * time.Minute
	}
}

// Controller owns the node registry and file index and runs every
// coordinator against them. A single Controller is shared by all
// connection workers and the rebalancer.
type Controller struct {
	cfg        Config
	registry   *NodeRegistry
	index      *FileIndex
	attempts   *LoadAttempts
	gate       *Gate
	rebalancer *Rebalancer
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connsMu sync.Mutex
	conns   map[string]*cluster.Conn
}

// New creates a controller. It does not listen until Serve is called.
func New(cfg Config) (*Controller, error) {
	if cfg.ReplicationFactor < 1 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("replication factor must be at least 1"))
	}
	if cfg.Timeout <= 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("timeout must be positive"))
	}
	if cfg.RebalancePeriod < 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("rebalance period must not be negative"))
	}
	cfg.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:      cfg,
		registry: NewNodeRegistry(cfg.Logger),
		index:    NewFileIndex(),
		attempts: NewLoadAttempts(cfg.LoadAttemptTTL),
		gate:     NewGate(),
		logger:   cfg.Logger.With().Str("component", "controller").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[string]*cluster.Conn),
	}
	c.rebalancer = newRebalancer(c)
	c.registry.SetOnDeregister(c.pruneNode)
	return c, nil
}

// Registry exposes the node registry.
func (c *Controller) Registry() *NodeRegistry { return c.registry }

// Index exposes the file index.
func (c *Controller) Index() *FileIndex { return c.index }

// Rebalance runs one rebalance cycle immediately.
func (c *Controller) Rebalance(ctx context.Context) CycleReport {
	return c.rebalancer.RunCycle(ctx)
}

// pruneNode strips a departed node from every record. Records left without
// replicas are deleted.
func (c *Controller) pruneNode(port int) {
	for _, rec := range c.index.Records() {
		rec.mu.Lock()
		if !rec.deleted && rec.replicas.has(port) {
			rec.replicas.remove(port)
			rec.unusable.remove(port)
			rec.acked.remove(port)
			if len(rec.replicas) == 0 {
				c.logger.Warn().Str("file", rec.Name).Stringer("state", rec.state).
					Int("port", port).Msg("last replica disconnected, dropping file")
				c.index.deleteLocked(rec)
			}
		}
		rec.mu.Unlock()
	}
}

// dropNode deregisters a node after an I/O failure and closes its connection.
func (c *Controller) dropNode(node *StorageNode, err error) {
	c.logger.Warn().Err(errors.Join(cluster.ErrNodeUnreachable, err)).Int("port", node.Port).
		Msg("deregistering unreachable storage node")
	c.registry.Deregister(node.Port, node.Conn)
	node.Conn.Close()
}

// Stop cancels timers and background loops, closes every open connection
// and waits for workers to exit.
func (c *Controller) Stop() {
	c.cancel()
	c.connsMu.Lock()
	for _, conn := range c.conns {
		conn.Close()
	}
	c.connsMu.Unlock()
	c.wg.Wait()
}
