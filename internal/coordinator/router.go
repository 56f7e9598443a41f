package coordinator

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/dreamware/quorumfs/internal/cluster"
)

// session is the per-connection state of a worker. A connection becomes a
// node session once its JOIN is accepted; every other connection is a
// client.
type session struct {
	conn *cluster.Conn

	mu     sync.Mutex
	port   int
	closed bool
}

func (s *session) nodePort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// serveConn is the worker loop of one connection. It reads a line at a time
// and routes it until the peer goes away.
func (c *Controller) serveConn(conn *cluster.Conn) {
	defer c.wg.Done()
	s := &session{conn: conn}
	defer func() {
		s.mu.Lock()
		s.closed = true
		port := s.port
		s.mu.Unlock()
		if port != 0 {
			c.registry.Deregister(port, conn)
		}
		c.attempts.Forget(conn.ID())
		conn.Close()
		c.untrack(conn)
	}()

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, cluster.ErrMalformedRequest) {
				c.logger.Warn().Err(err).Str("conn", conn.ID()).Msg("ignoring malformed line")
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug().Err(err).Str("conn", conn.ID()).Msg("connection read failed")
			}
			return
		}
		c.route(s, msg)
	}
}

// route dispatches one message. Requests that mutate or observe the index
// pass through the gate; node replies that a running cycle or coordinator is
// waiting on are handled immediately.
func (c *Controller) route(s *session, msg cluster.Message) {
	port := s.nodePort()

	switch msg.Command {
	case cluster.TokenJoin:
		c.gated(s, msg, c.handleJoin)
	case cluster.TokenStore:
		c.gated(s, msg, c.handleStore)
	case cluster.TokenLoad, cluster.TokenReload:
		c.gated(s, msg, c.handleLoad)
	case cluster.TokenRemove:
		c.gated(s, msg, c.handleRemove)
	case cluster.TokenList:
		if port != 0 {
			if !c.rebalancer.HandleList(port, msg.Args) {
				c.logger.Debug().Int("port", port).Msg("unsolicited LIST reply dropped")
			}
			return
		}
		c.gated(s, msg, c.handleList)

	case cluster.TokenStoreAck, cluster.TokenRemoveAck, cluster.TokenErrorFileDoesNotExist:
		if port == 0 {
			c.malformed(s, msg, "node message from a connection that has not joined")
			return
		}
		if err := msg.Expect(1); err != nil {
			c.malformed(s, msg, err.Error())
			return
		}
		if msg.Command == cluster.TokenStoreAck {
			c.StoreAck(port, msg.Args[0])
		} else {
			c.RemoveAck(port, msg.Args[0])
		}
	case cluster.TokenRebalanceComplete:
		if port == 0 {
			c.malformed(s, msg, "node message from a connection that has not joined")
			return
		}
		if !c.rebalancer.HandleComplete(port) {
			c.logger.Warn().Int("port", port).Msg("late REBALANCE_COMPLETE ignored")
		}

	default:
		c.malformed(s, msg, "unknown command")
	}
}

// gated runs handler through the gate so it is queued during a rebalance.
func (c *Controller) gated(s *session, msg cluster.Message, handler func(*session, cluster.Message)) {
	if queued := c.gate.Do(func() { handler(s, msg) }); queued {
		c.logger.Debug().Str("conn", s.conn.ID()).Str("cmd", msg.Command).Msg("queued during rebalance")
	}
}

func (c *Controller) malformed(s *session, msg cluster.Message, reason string) {
	c.logger.Warn().Str("conn", s.conn.ID()).Str("msg", msg.String()).Str("reason", reason).
		Msg("ignoring malformed request")
}

// reply reports err to the peer when it has a protocol token and logs it
// otherwise.
func (c *Controller) reply(s *session, msg cluster.Message, err error) {
	token, ok := cluster.ErrorToken(err)
	if !ok {
		if errors.Is(err, cluster.ErrMalformedRequest) {
			c.malformed(s, msg, err.Error())
		} else {
			c.logger.Error().Err(err).Str("cmd", msg.Command).Msg("request failed")
		}
		return
	}
	c.logger.Info().Err(err).Str("conn", s.conn.ID()).Str("cmd", msg.Command).Msg("request rejected")
	c.send(s, token)
}

func (c *Controller) send(s *session, command string, args ...string) {
	if err := s.conn.Send(command, args...); err != nil {
		c.logger.Debug().Err(err).Str("conn", s.conn.ID()).Msg("reply not delivered")
	}
}

func (c *Controller) handleJoin(s *session, msg cluster.Message) {
	port, err := msg.Port(0)
	if err == nil {
		err = msg.Expect(1)
	}
	if err != nil {
		c.malformed(s, msg, err.Error())
		return
	}

	s.mu.Lock()
	if s.closed || s.port != 0 {
		s.mu.Unlock()
		return
	}
	joined := c.registry.Join(port, s.conn)
	if joined {
		s.port = port
	}
	s.mu.Unlock()

	if joined && !c.cfg.DisableJoinRebalance && c.registry.LiveCount() >= c.cfg.ReplicationFactor {
		c.rebalancer.Trigger()
	}
}

func (c *Controller) handleStore(s *session, msg cluster.Message) {
	if err := msg.Expect(2); err != nil {
		c.malformed(s, msg, err.Error())
		return
	}
	size, err := msg.Int(1)
	if err != nil {
		c.malformed(s, msg, err.Error())
		return
	}
	if _, err := c.Store(s.conn, msg.Args[0], size); err != nil {
		c.reply(s, msg, err)
	}
}

func (c *Controller) handleLoad(s *session, msg cluster.Message) {
	if err := msg.Expect(1); err != nil {
		c.malformed(s, msg, err.Error())
		return
	}
	port, size, err := c.Load(s.conn, msg.Args[0], msg.Command == cluster.TokenReload)
	if err != nil {
		c.reply(s, msg, err)
		return
	}
	c.send(s, cluster.TokenLoadFrom, strconv.Itoa(port), strconv.FormatInt(size, 10))
}

func (c *Controller) handleRemove(s *session, msg cluster.Message) {
	if err := msg.Expect(1); err != nil {
		c.malformed(s, msg, err.Error())
		return
	}
	if err := c.Remove(msg.Args[0]); err != nil {
		c.reply(s, msg, err)
		return
	}
	c.send(s, cluster.TokenRemoveComplete)
}

func (c *Controller) handleList(s *session, msg cluster.Message) {
	if err := msg.Expect(0); err != nil {
		c.malformed(s, msg, err.Error())
		return
	}
	c.send(s, cluster.TokenList, c.index.Names(StateStored)...)
}
