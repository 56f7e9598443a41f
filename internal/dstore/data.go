package dstore

import (
	"errors"
	"fmt"

	"github.com/c2h5oh/datasize"

	"github.com/dreamware/quorumfs/internal/cluster"
	"github.com/dreamware/quorumfs/internal/storage"
)

// serveData handles one data connection. Every data connection carries a
// single operation and is closed afterwards.
func (n *Node) serveData(conn *cluster.Conn) {
	defer conn.Close()

	msg, err := conn.ReadMessageTimeout(n.cfg.Timeout)
	if err != nil {
		n.logger.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("data connection closed before a request")
		return
	}

	switch msg.Command {
	case cluster.TokenStore:
		name, data, err := n.receive(conn, msg)
		if err != nil {
			n.logger.Warn().Err(err).Msg("store failed")
			return
		}
		n.stats.stores.Add(1)
		n.reply(cluster.TokenStoreAck, name)
		n.logger.Info().Str("file", name).Str("size", datasize.ByteSize(len(data)).HumanReadable()).Msg("stored")

	case cluster.TokenRebalanceStore:
		name, data, err := n.receive(conn, msg)
		if err != nil {
			n.logger.Warn().Err(err).Msg("rebalance receive failed")
			return
		}
		n.stats.received.Add(1)
		n.logger.Info().Str("file", name).Str("size", datasize.ByteSize(len(data)).HumanReadable()).
			Msg("received rebalanced file")

	case cluster.TokenLoadData:
		n.sendFile(conn, msg)

	default:
		n.logger.Warn().Str("msg", msg.String()).Msg("unexpected data command")
	}
}

// receive acknowledges a STORE or REBALANCE_STORE header, reads the payload
// and writes it to the store.
func (n *Node) receive(conn *cluster.Conn, msg cluster.Message) (string, []byte, error) {
	if err := msg.Expect(2); err != nil {
		return "", nil, err
	}
	name := msg.Args[0]
	size, err := msg.Int(1)
	if err != nil {
		return "", nil, err
	}
	if size < 0 {
		return "", nil, fmt.Errorf("%w: negative size %d", cluster.ErrMalformedRequest, size)
	}
	if limit := n.cfg.MaxFileSize; limit > 0 && datasize.ByteSize(size) > limit {
		return "", nil, fmt.Errorf("%s is %s: %w (%s)", name,
			datasize.ByteSize(size).HumanReadable(), ErrFileTooLarge, limit.HumanReadable())
	}

	if err := conn.Send(cluster.TokenAck); err != nil {
		return "", nil, err
	}
	data, err := conn.ReadPayload(size, n.cfg.Timeout)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := n.store.Put(name, data); err != nil {
		return "", nil, fmt.Errorf("persist %s: %w", name, err)
	}
	return name, data, nil
}

// sendFile streams a file to a client. A missing file closes the connection
// without data, which the client reads as a failed load.
func (n *Node) sendFile(conn *cluster.Conn, msg cluster.Message) {
	if err := msg.Expect(1); err != nil {
		n.logger.Warn().Err(err).Msg("bad LOAD_DATA")
		return
	}
	name := msg.Args[0]
	n.stats.loads.Add(1)

	data, err := n.store.Get(name)
	if err != nil {
		if !errors.Is(err, storage.ErrFileNotFound) {
			n.logger.Error().Err(err).Str("file", name).Msg("load failed")
		} else {
			n.logger.Warn().Str("file", name).Msg("load of missing file")
		}
		return
	}
	if err := conn.WritePayload(data); err != nil {
		n.logger.Warn().Err(err).Str("file", name).Msg("load interrupted")
	}
}
