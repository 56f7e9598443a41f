package coordinator

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"

	"github.com/dreamware/quorumfs/internal/cluster"
)

const replyWait = 2 * time.Second

// startController serves a controller on a loopback port for the duration of
// the test. Rebalancing only happens when the test asks for it.
func startController(t *testing.T, r int, timeout time.Duration) (*Controller, string) {
	t.Helper()
	return startControllerWith(t, Config{
		ReplicationFactor:    r,
		Timeout:              timeout,
		DisableJoinRebalance: true,
		Logger:               zerolog.Nop(),
	})
}

func startControllerWith(t *testing.T, cfg Config) (*Controller, string) {
	t.Helper()
	ctrl, err := New(cfg)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- ctrl.Serve(context.Background(), ln) }()
	t.Cleanup(func() {
		ctrl.Stop()
		<-done
	})
	return ctrl, ln.Addr().String()
}

func dialClient(t *testing.T, addr string) *cluster.Conn {
	t.Helper()
	conn, err := cluster.Dial(addr, time.Second, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// expect reads the next line and asserts its command.
func expect(t *testing.T, conn *cluster.Conn, command string) cluster.Message {
	t.Helper()
	msg, err := conn.ReadMessageTimeout(replyWait)
	require.NoError(t, err)
	require.Equal(t, command, msg.Command, "got %q", msg.String())
	return msg
}

func waitForNodes(t *testing.T, ctrl *Controller, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return ctrl.Registry().LiveCount() == n
	}, replyWait, 5*time.Millisecond)
}

// fleet lets fake nodes hand files to each other during a rebalance.
type fleet struct {
	mu    sync.Mutex
	nodes map[int]*fakeNode
}

func newFleet() *fleet {
	return &fleet{nodes: make(map[int]*fakeNode)}
}

func (f *fleet) get(port int) *fakeNode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes[port]
}

// fakeNode is a storage node stand-in that answers control traffic from its
// in-memory file set. It moves no bytes.
type fakeNode struct {
	t     *testing.T
	port  int
	conn  *cluster.Conn
	fleet *fleet

	mu    sync.Mutex
	files map[string]bool

	// ignoreRemove makes the node neither delete nor acknowledge on REMOVE.
	ignoreRemove atomic.Bool
	// silent makes the node ignore LIST and REBALANCE.
	silent atomic.Bool

	rebalances atomic.Int32
	other      chan cluster.Message
}

func (f *fleet) join(t *testing.T, addr string, port int) *fakeNode {
	t.Helper()
	conn, err := cluster.Dial(addr, time.Second, zerolog.Nop())
	require.NoError(t, err)
	n := &fakeNode{
		t:     t,
		port:  port,
		conn:  conn,
		fleet: f,
		files: make(map[string]bool),
		other: make(chan cluster.Message, 16),
	}
	f.mu.Lock()
	f.nodes[port] = n
	f.mu.Unlock()

	go n.loop()
	require.NoError(t, conn.Send(cluster.TokenJoin, cluster.PortArgs([]int{port})...))
	t.Cleanup(func() { conn.Close() })
	return n
}

func (n *fakeNode) loop() {
	for {
		msg, err := n.conn.ReadMessage()
		if err != nil {
			return
		}
		switch msg.Command {
		case cluster.TokenList:
			if !n.silent.Load() {
				n.conn.Send(cluster.TokenList, n.names()...)
			}
		case cluster.TokenRemove:
			name := msg.Args[0]
			if n.ignoreRemove.Load() {
				continue
			}
			if n.drop(name) {
				n.conn.Send(cluster.TokenRemoveAck, name)
			} else {
				n.conn.Send(cluster.TokenErrorFileDoesNotExist, name)
			}
		case cluster.TokenRebalance:
			if n.silent.Load() {
				continue
			}
			ins, err := cluster.ParseRebalance(msg)
			if err != nil {
				continue
			}
			for _, tr := range ins.Send {
				for _, p := range tr.Targets {
					if peer := n.fleet.get(p); peer != nil {
						peer.hold(tr.Filename)
					}
				}
			}
			for _, name := range ins.Remove {
				n.drop(name)
			}
			n.rebalances.Add(1)
			n.conn.Send(cluster.TokenRebalanceComplete)
		default:
			n.other <- msg
		}
	}
}

func (n *fakeNode) hold(name string) {
	n.mu.Lock()
	n.files[name] = true
	n.mu.Unlock()
}

func (n *fakeNode) drop(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	had := n.files[name]
	delete(n.files, name)
	return had
}

func (n *fakeNode) has(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.files[name]
}

func (n *fakeNode) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.files))
	for name := range n.files {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// storeAck records the file locally and acknowledges it.
func (n *fakeNode) storeAck(name string) {
	n.hold(name)
	require.NoError(n.t, n.conn.Send(cluster.TokenStoreAck, name))
}

// storeOn runs a full successful store of name through client using the
// fake nodes of f, returning the chosen ports.
func storeOn(t *testing.T, client *cluster.Conn, f *fleet, name string, size int) []int {
	t.Helper()
	require.NoError(t, client.Send(cluster.TokenStore, name, strconv.Itoa(size)))
	msg := expect(t, client, cluster.TokenStoreTo)
	ports, err := msg.Ports()
	require.NoError(t, err)
	for _, p := range ports {
		f.get(p).storeAck(name)
	}
	expect(t, client, cluster.TokenStoreComplete)
	return ports
}
