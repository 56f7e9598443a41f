package dstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/rs/zerolog"

	"github.com/dreamware/quorumfs/internal/cluster"
	"github.com/dreamware/quorumfs/internal/storage"
)

// ErrControllerGone is returned by Serve when the control connection closes.
var ErrControllerGone = errors.New("controller connection closed")

// ErrFileTooLarge is returned for payloads above the configured maximum.
var ErrFileTooLarge = errors.New("file exceeds maximum size")

// Config holds a storage node's settings.
type Config struct {
	// Port is the data port the node listens on and its identity in the
	// cluster. When zero the port of the listener passed to Serve is used.
	Port int

	// ControllerAddr is the controller's host:port.
	ControllerAddr string

	// PeerHost is the host other nodes are reached on during a rebalance
	// (default "127.0.0.1").
	PeerHost string

	// Timeout bounds every network wait.
	Timeout time.Duration

	// MaxFileSize rejects larger payloads. Zero means unlimited.
	MaxFileSize datasize.ByteSize

	// Store holds the file contents. Required.
	Store storage.Store

	Logger zerolog.Logger
}

// Node is a storage node. It keeps file bytes in its Store, serves data
// connections from clients and peers, and obeys the controller.
type Node struct {
	cfg    Config
	store  storage.Store
	logger zerolog.Logger
	stats  OperationStats

	ctrl *cluster.Conn
	wg   sync.WaitGroup
}

// New creates a node. Call Serve to join the cluster.
func New(cfg Config) (*Node, error) {
	if cfg.Store == nil {
		return nil, errors.New("dstore: store is required")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("dstore: timeout must be positive")
	}
	if cfg.PeerHost == "" {
		cfg.PeerHost = "127.0.0.1"
	}
	return &Node{
		cfg:    cfg,
		store:  cfg.Store,
		logger: cfg.Logger.With().Str("component", "dstore").Logger(),
	}, nil
}

// Serve joins the controller and accepts data connections on ln until ctx is
// canceled or the controller connection closes, which returns
// ErrControllerGone.
func (n *Node) Serve(ctx context.Context, ln net.Listener) error {
	if n.cfg.Port == 0 {
		n.cfg.Port = ln.Addr().(*net.TCPAddr).Port
	}
	n.logger = n.logger.With().Int("port", n.cfg.Port).Logger()

	ctrl, err := cluster.Dial(n.cfg.ControllerAddr, n.cfg.Timeout, n.cfg.Logger)
	if err != nil {
		ln.Close()
		return fmt.Errorf("connect to controller: %w", err)
	}
	n.ctrl = ctrl
	if err := ctrl.Send(cluster.TokenJoin, strconv.Itoa(n.cfg.Port)); err != nil {
		ctrl.Close()
		ln.Close()
		return fmt.Errorf("join: %w", err)
	}
	n.logger.Info().Str("controller", n.cfg.ControllerAddr).Msg("joined controller")

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		n.controlLoop()
		cancel()
	}()
	go func() {
		<-ctx.Done()
		ln.Close()
		ctrl.Close()
	}()

	for {
		raw, err := ln.Accept()
		if err != nil {
			break
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.serveData(cluster.NewConn(raw, n.cfg.Logger))
		}()
	}
	cancel()
	<-ctrlDone
	n.wg.Wait()

	if parent.Err() != nil {
		n.logger.Info().Msg("storage node stopped")
		return nil
	}
	return ErrControllerGone
}

// Stats returns the operation counters.
func (n *Node) Stats() Stats {
	usage, err := n.store.Stats()
	if err != nil {
		n.logger.Warn().Err(err).Msg("storage stats incomplete")
	}
	return n.stats.snapshot(usage)
}

// controlLoop serves commands from the controller until the connection
// closes.
func (n *Node) controlLoop() {
	for {
		msg, err := n.ctrl.ReadMessage()
		if err != nil {
			if errors.Is(err, cluster.ErrMalformedRequest) {
				n.logger.Warn().Err(err).Msg("ignoring malformed controller line")
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				n.logger.Warn().Err(err).Msg("controller connection failed")
			}
			return
		}

		switch msg.Command {
		case cluster.TokenRemove:
			n.handleRemove(msg)
		case cluster.TokenList:
			n.handleList()
		case cluster.TokenRebalance:
			n.handleRebalance(msg)
		default:
			n.logger.Warn().Str("msg", msg.String()).Msg("unexpected controller command")
		}
	}
}

func (n *Node) handleRemove(msg cluster.Message) {
	if err := msg.Expect(1); err != nil {
		n.logger.Warn().Err(err).Msg("bad REMOVE")
		return
	}
	name := msg.Args[0]
	n.stats.removes.Add(1)
	err := n.store.Delete(name)
	switch {
	case errors.Is(err, storage.ErrFileNotFound):
		n.reply(cluster.TokenErrorFileDoesNotExist, name)
	case err != nil:
		n.logger.Error().Err(err).Str("file", name).Msg("remove failed")
	default:
		n.logger.Info().Str("file", name).Msg("removed")
		n.reply(cluster.TokenRemoveAck, name)
	}
}

func (n *Node) handleList() {
	names, err := n.store.List()
	if err != nil {
		n.logger.Error().Err(err).Msg("list failed")
		return
	}
	n.reply(cluster.TokenList, names...)
}

func (n *Node) reply(command string, args ...string) {
	if err := n.ctrl.Send(command, args...); err != nil {
		n.logger.Warn().Err(err).Str("cmd", command).Msg("controller reply failed")
	}
}
