package dstore

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/dreamware/quorumfs/internal/cluster"
	"github.com/dreamware/quorumfs/internal/storage"
)

// handleRebalance executes a REBALANCE instruction: every push finishes
// before any local delete so the cluster never dips below its replica count.
// Failed pushes are logged; completion is reported regardless.
func (n *Node) handleRebalance(msg cluster.Message) {
	ins, err := cluster.ParseRebalance(msg)
	if err != nil {
		n.logger.Warn().Err(err).Msg("bad REBALANCE")
		return
	}

	var wg sync.WaitGroup
	for _, tr := range ins.Send {
		data, err := n.store.Get(tr.Filename)
		if err != nil {
			n.logger.Warn().Err(err).Str("file", tr.Filename).Msg("cannot push file we do not hold")
			continue
		}
		for _, port := range tr.Targets {
			wg.Add(1)
			go func(name string, port int) {
				defer wg.Done()
				if err := n.push(name, data, port); err != nil {
					n.logger.Warn().Err(err).Str("file", name).Int("target", port).Msg("rebalance push failed")
					return
				}
				n.stats.sent.Add(1)
			}(tr.Filename, port)
		}
	}
	wg.Wait()

	for _, name := range ins.Remove {
		if err := n.store.Delete(name); err != nil && !errors.Is(err, storage.ErrFileNotFound) {
			n.logger.Error().Err(err).Str("file", name).Msg("rebalance delete failed")
			continue
		}
		n.stats.removes.Add(1)
	}

	n.logger.Info().Int("sent", len(ins.Send)).Int("removed", len(ins.Remove)).Msg("rebalance done")
	n.reply(cluster.TokenRebalanceComplete)
}

// push copies one file to the node listening on port.
func (n *Node) push(name string, data []byte, port int) error {
	addr := net.JoinHostPort(n.cfg.PeerHost, strconv.Itoa(port))
	conn, err := cluster.Dial(addr, n.cfg.Timeout, n.cfg.Logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Send(cluster.TokenRebalanceStore, name, strconv.Itoa(len(data))); err != nil {
		return err
	}
	msg, err := conn.ReadMessageTimeout(n.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("waiting for ACK: %w", err)
	}
	if msg.Command != cluster.TokenAck {
		return fmt.Errorf("%w: expected ACK, got %q", cluster.ErrMalformedRequest, msg.String())
	}
	if err := conn.WritePayload(data); err != nil {
		return err
	}
	// the peer closes once the file is persisted
	_, err = conn.ReadAll(n.cfg.Timeout)
	return err
}
