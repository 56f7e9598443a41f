package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/time/rate"

	"github.com/dreamware/quorumfs/internal/cluster"
)

// ListenAndServe binds addr and serves until ctx is canceled. Failing to bind
// is the only error that should abort the process.
func (c *Controller) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return c.Serve(ctx, ln)
}

// Serve accepts connections on ln and runs a worker per connection. It also
// runs the rebalancer. Serve returns when ctx is canceled, Stop is called or
// the listener fails; background work keeps running until Stop.
func (c *Controller) Serve(ctx context.Context, ln net.Listener) error {
	defer c.cancel()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-c.ctx.Done():
		}
		ln.Close()
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.rebalancer.Run(c.ctx)
	}()

	limit := rate.Inf
	if c.cfg.AcceptRate > 0 {
		limit = rate.Limit(c.cfg.AcceptRate)
	}
	limiter := rate.NewLimiter(limit, c.cfg.AcceptBurst)

	c.logger.Info().Str("addr", ln.Addr().String()).Int("replication", c.cfg.ReplicationFactor).
		Dur("timeout", c.cfg.Timeout).Dur("rebalance_period", c.cfg.RebalancePeriod).Msg("controller listening")

	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || c.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		conn := cluster.NewConn(raw, c.cfg.Logger)
		if !c.track(conn) {
			conn.Close()
			return nil
		}
		c.wg.Add(1)
		go c.serveConn(conn)
	}
}

func (c *Controller) track(conn *cluster.Conn) bool {
	c.connsMu.Lock()
	defer c.connsMu.Unlock()
	if c.ctx.Err() != nil {
		return false
	}
	c.conns[conn.ID()] = conn
	return true
}

func (c *Controller) untrack(conn *cluster.Conn) {
	c.connsMu.Lock()
	delete(c.conns, conn.ID())
	c.connsMu.Unlock()
}
