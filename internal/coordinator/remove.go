package coordinator

import (
	"fmt"
	"time"

	"github.com/dreamware/quorumfs/internal/cluster"
)

// Remove dispatches REMOVE to every replica of a stored file and returns
// without waiting for acknowledgments. Replicas that never acknowledge are
// logged after the timeout and reconciled by the next rebalance.
func (c *Controller) Remove(name string) error {
	r := c.cfg.ReplicationFactor
	if live := c.registry.LiveCount(); live < r {
		return fmt.Errorf("remove %s: %w (%d live, need %d)", name, cluster.ErrNotEnoughNodes, live, r)
	}
	rec := c.index.Get(name)
	if rec == nil {
		return fmt.Errorf("remove %s: %w", name, cluster.ErrFileDoesNotExist)
	}

	rec.mu.Lock()
	if rec.deleted || rec.state != StateStored {
		state := rec.state
		rec.mu.Unlock()
		return fmt.Errorf("remove %s: %w (state %s)", name, cluster.ErrFileDoesNotExist, state)
	}
	rec.state = StateRemoving
	targets := rec.replicas.sorted()
	rec.mu.Unlock()

	c.logger.Info().Str("file", name).Ints("nodes", targets).Msg("remove started")
	for _, port := range targets {
		node, ok := c.registry.Get(port)
		if !ok {
			continue
		}
		if err := node.Conn.Send(cluster.TokenRemove, name); err != nil {
			c.dropNode(node, err)
		}
	}

	c.wg.Add(1)
	go c.awaitRemoval(rec)
	return nil
}

// awaitRemoval logs replicas that have not acknowledged within the timeout.
func (c *Controller) awaitRemoval(rec *FileRecord) {
	defer c.wg.Done()
	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-rec.gone:
		c.logger.Info().Str("file", rec.Name).Msg("remove converged")
	case <-timer.C:
		rec.mu.Lock()
		if !rec.deleted && rec.state == StateRemoving {
			c.logger.Warn().Str("file", rec.Name).Ints("stragglers", rec.replicas.sorted()).
				Msg("remove not acknowledged in time, leaving to rebalance")
		}
		rec.mu.Unlock()
	case <-c.ctx.Done():
	}
}

// RemoveAck records that the node on port no longer holds name. A node
// answering that it never had the file counts as converged too.
func (c *Controller) RemoveAck(port int, name string) {
	rec := c.index.Get(name)
	if rec == nil {
		c.logger.Debug().Str("file", name).Int("port", port).Msg("REMOVE_ACK for unknown file")
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted || rec.state != StateRemoving {
		c.logger.Debug().Str("file", name).Int("port", port).Msg("unexpected REMOVE_ACK ignored")
		return
	}
	rec.replicas.remove(port)
	rec.unusable.remove(port)
	if len(rec.replicas) == 0 {
		c.index.deleteLocked(rec)
	}
}
