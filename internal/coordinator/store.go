package coordinator

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/dreamware/quorumfs/internal/cluster"
)

// Store starts the quorum protocol for a new file.
//
// On success the record is in the index in StateStoring, STORE_TO with the
// chosen ports has been sent to requester, and a goroutine waits up to the
// timeout for R acknowledgments. Exactly one of STORE_COMPLETE or
// ERROR_STORE is later sent to requester.
func (c *Controller) Store(requester *cluster.Conn, name string, size int64) ([]int, error) {
	r := c.cfg.ReplicationFactor
	live := c.registry.Ports()
	if len(live) < r {
		return nil, fmt.Errorf("store %s: %w (%d live, need %d)", name, cluster.ErrNotEnoughNodes, len(live), r)
	}
	if size < 0 {
		return nil, fmt.Errorf("store %s: %w: negative size", name, cluster.ErrMalformedRequest)
	}

	chosen := make([]int, r)
	for i, j := range rand.Perm(len(live))[:r] {
		chosen[i] = live[j]
	}
	rec := newFileRecord(name, size, requester, chosen)
	if err := c.index.Insert(rec); err != nil {
		return nil, fmt.Errorf("store %s: %w", name, err)
	}
	ports := rec.replicas.sorted()

	c.logger.Info().Str("file", name).Str("size", datasize.ByteSize(size).HumanReadable()).
		Ints("nodes", ports).Msg("store started")

	// STORE_TO goes out under the record lock so no ack can complete the
	// store before the client has been told where to write.
	rec.mu.Lock()
	err := requester.Send(cluster.TokenStoreTo, cluster.PortArgs(ports)...)
	rec.mu.Unlock()
	if err != nil {
		c.logger.Warn().Err(err).Str("file", name).Msg("could not send STORE_TO, waiting for timeout")
	}

	c.wg.Add(1)
	go c.awaitQuorum(rec)
	return ports, nil
}

// awaitQuorum blocks until the record is stored or the timeout elapses.
func (c *Controller) awaitQuorum(rec *FileRecord) {
	defer c.wg.Done()
	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-rec.stored:
		return
	case <-timer.C:
		c.expireStore(rec)
	case <-c.ctx.Done():
	}
}

// expireStore fails a store that did not reach quorum in time. It is a no-op
// when the store completed concurrently.
func (c *Controller) expireStore(rec *FileRecord) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.state == StateStored {
		return
	}
	c.logger.Warn().Str("file", rec.Name).Int("acks", len(rec.acked)).
		Int("need", c.cfg.ReplicationFactor).Err(cluster.ErrStoreQuorumTimeout).Msg("store failed")
	c.index.deleteLocked(rec)
	if err := rec.requester.Send(cluster.TokenErrorStore, rec.Name); err != nil {
		c.logger.Debug().Err(err).Str("file", rec.Name).Msg("requester gone before store failure notice")
	}
}

// StoreAck counts an acknowledgment from the node on port.
func (c *Controller) StoreAck(port int, name string) {
	rec := c.index.Get(name)
	if rec == nil {
		c.logger.Debug().Str("file", name).Int("port", port).Msg("STORE_ACK for unknown file")
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted || rec.state != StateStoring {
		c.logger.Debug().Str("file", name).Int("port", port).Stringer("state", rec.state).
			Msg("late STORE_ACK ignored")
		return
	}
	if !rec.replicas.has(port) {
		c.logger.Warn().Str("file", name).Int("port", port).Msg("STORE_ACK from node outside replica set")
		return
	}
	rec.acked.add(port)
	c.logger.Debug().Str("file", name).Int("port", port).Int("acks", len(rec.acked)).Msg("store ack")

	if len(rec.acked) < c.cfg.ReplicationFactor {
		return
	}
	rec.state = StateStored
	close(rec.stored)
	c.logger.Info().Str("file", name).Ints("nodes", rec.replicas.sorted()).Msg("store complete")
	if err := rec.requester.Send(cluster.TokenStoreComplete); err != nil {
		c.logger.Debug().Err(err).Str("file", name).Msg("requester gone before STORE_COMPLETE")
	}
}
