// Package client is a Go client for the replicated file store. It talks to
// the controller for placement and to storage nodes for the bytes.
package client

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/quorumfs/internal/cluster"
)

// ErrUnexpectedReply is returned when the controller answers with a line the
// client does not expect at that point.
var ErrUnexpectedReply = errors.New("unexpected reply")

// Config configures a Client.
type Config struct {
	// ControllerAddr is the controller's host:port.
	ControllerAddr string

	// NodeHost is the host storage nodes listen on (default "127.0.0.1").
	NodeHost string

	// Timeout bounds every wait. It should exceed the controller's timeout so
	// the outcome of a store is always observed.
	Timeout time.Duration

	Logger zerolog.Logger
}

// Client holds one controller connection. Requests are serialised.
type Client struct {
	cfg    Config
	conn   *cluster.Conn
	logger zerolog.Logger
	mu     sync.Mutex
}

// Dial connects to the controller.
func Dial(cfg Config) (*Client, error) {
	if cfg.NodeHost == "" {
		cfg.NodeHost = "127.0.0.1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	conn, err := cluster.Dial(cfg.ControllerAddr, cfg.Timeout, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("connect to controller: %w", err)
	}
	return &Client{
		cfg:    cfg,
		conn:   conn,
		logger: cfg.Logger.With().Str("component", "client").Logger(),
	}, nil
}

// Close closes the controller connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Store writes data under name on R storage nodes and returns once the
// controller confirms quorum.
func (c *Client) Store(name string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := c.call(cluster.TokenStore, name, strconv.Itoa(len(data)))
	if err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}
	if reply.Command != cluster.TokenStoreTo {
		return fmt.Errorf("store %s: %w: %q", name, ErrUnexpectedReply, reply.String())
	}
	ports, err := reply.Ports()
	if err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}

	var wg sync.WaitGroup
	for _, port := range ports {
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			if err := c.push(port, name, data); err != nil {
				// the controller reports the outcome, a failed push only
				// shows up as a missing ack there
				c.logger.Warn().Err(err).Str("file", name).Int("port", port).Msg("push failed")
			}
		}(port)
	}
	wg.Wait()

	done, err := c.read()
	if err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}
	if done.Command != cluster.TokenStoreComplete {
		return fmt.Errorf("store %s: %w: %q", name, ErrUnexpectedReply, done.String())
	}
	return nil
}

func (c *Client) push(port int, name string, data []byte) error {
	conn, err := c.dialNode(port)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Send(cluster.TokenStore, name, strconv.Itoa(len(data))); err != nil {
		return err
	}
	ack, err := conn.ReadMessageTimeout(c.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("waiting for ACK: %w", err)
	}
	if ack.Command != cluster.TokenAck {
		return fmt.Errorf("%w: %q", ErrUnexpectedReply, ack.String())
	}
	return conn.WritePayload(data)
}

// Load fetches name, retrying other replicas until one succeeds or the
// controller reports none is left.
func (c *Client) Load(name string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	command := cluster.TokenLoad
	for {
		reply, err := c.call(command, name)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		if reply.Command != cluster.TokenLoadFrom {
			return nil, fmt.Errorf("load %s: %w: %q", name, ErrUnexpectedReply, reply.String())
		}
		if err := reply.Expect(2); err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		port, err := reply.Port(0)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		size, err := reply.Int(1)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}

		data, err := c.fetch(port, name, size)
		if err == nil {
			return data, nil
		}
		c.logger.Warn().Err(err).Str("file", name).Int("port", port).Msg("load failed, asking for another replica")
		command = cluster.TokenReload
	}
}

func (c *Client) fetch(port int, name string, size int64) ([]byte, error) {
	conn, err := c.dialNode(port)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.Send(cluster.TokenLoadData, name); err != nil {
		return nil, err
	}
	return conn.ReadPayload(size, c.cfg.Timeout)
}

// Remove deletes name from the store.
func (c *Client) Remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := c.call(cluster.TokenRemove, name)
	if err != nil {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	if reply.Command != cluster.TokenRemoveComplete {
		return fmt.Errorf("remove %s: %w: %q", name, ErrUnexpectedReply, reply.String())
	}
	return nil
}

// List returns the names of all stored files, sorted.
func (c *Client) List() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := c.call(cluster.TokenList)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	if reply.Command != cluster.TokenList {
		return nil, fmt.Errorf("list: %w: %q", ErrUnexpectedReply, reply.String())
	}
	return reply.Args, nil
}

// call sends one request and reads its reply.
func (c *Client) call(command string, args ...string) (cluster.Message, error) {
	if err := c.conn.Send(command, args...); err != nil {
		return cluster.Message{}, err
	}
	return c.read()
}

// read returns the next controller line, turning error tokens into their
// sentinel errors.
func (c *Client) read() (cluster.Message, error) {
	msg, err := c.conn.ReadMessageTimeout(c.cfg.Timeout)
	if err != nil {
		return cluster.Message{}, err
	}
	if sentinel := cluster.ErrorFromToken(msg.Command); sentinel != nil {
		return msg, sentinel
	}
	return msg, nil
}

func (c *Client) dialNode(port int) (*cluster.Conn, error) {
	addr := net.JoinHostPort(c.cfg.NodeHost, strconv.Itoa(port))
	return cluster.Dial(addr, c.cfg.Timeout, c.cfg.Logger)
}
