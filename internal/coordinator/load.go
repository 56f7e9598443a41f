package coordinator

import (
	"fmt"
	"math/rand/v2"

	"golang.org/x/exp/slices"

	"github.com/dreamware/quorumfs/internal/cluster"
)

// Load picks a replica for client to read name from.
//
// A fresh load (retry false) starts a new sequence for this client and file.
// A retry continues the sequence: nodes offered earlier are skipped, and so
// is the most recent one even if it was never reported as failed. When no
// candidate is left the sequence is cleared and ErrLoadUnavailable returned.
func (c *Controller) Load(client *cluster.Conn, name string, retry bool) (int, int64, error) {
	r := c.cfg.ReplicationFactor
	if live := c.registry.LiveCount(); live < r {
		return 0, 0, fmt.Errorf("load %s: %w (%d live, need %d)", name, cluster.ErrNotEnoughNodes, live, r)
	}
	rec := c.index.Get(name)
	if rec == nil {
		return 0, 0, fmt.Errorf("load %s: %w", name, cluster.ErrFileDoesNotExist)
	}

	rec.mu.Lock()
	if rec.deleted || rec.state != StateStored {
		rec.mu.Unlock()
		return 0, 0, fmt.Errorf("load %s: %w", name, cluster.ErrFileDoesNotExist)
	}
	var candidates []int
	for _, port := range rec.replicas.sorted() {
		if !rec.unusable.has(port) {
			candidates = append(candidates, port)
		}
	}
	rec.mu.Unlock()

	if !retry {
		c.attempts.Clear(client.ID(), name)
	}
	tried := c.attempts.Tried(client.ID(), name)
	candidates = slices.DeleteFunc(candidates, func(port int) bool {
		if slices.Contains(tried, port) {
			return true
		}
		_, live := c.registry.Get(port)
		return !live
	})

	if len(candidates) == 0 {
		c.attempts.Clear(client.ID(), name)
		c.logger.Warn().Str("file", name).Ints("tried", tried).Msg("no replica left to load from")
		return 0, 0, fmt.Errorf("load %s: %w", name, cluster.ErrLoadUnavailable)
	}

	port := candidates[rand.IntN(len(candidates))]
	c.attempts.Record(client.ID(), name, port)
	c.logger.Debug().Str("file", name).Int("port", port).Bool("retry", retry).Msg("load offered")
	return port, rec.Size, nil
}
