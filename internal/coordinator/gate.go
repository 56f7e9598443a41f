package coordinator

import "sync"

// Gate implements the rebalance freeze. While open, submitted requests run
// immediately on the caller's goroutine. While frozen they are queued and
// replayed in arrival order by Resume.
type Gate struct {
	mu     sync.Mutex
	frozen bool
	queue  []func()

	// inflight is read-held by requests executing through an open gate so
	// Freeze can wait for them to finish.
	inflight sync.RWMutex
}

// NewGate returns an open gate.
func NewGate() *Gate {
	return &Gate{}
}

// Do runs fn now, or queues it if the gate is frozen. It reports whether fn
// was queued.
func (g *Gate) Do(fn func()) bool {
	g.mu.Lock()
	if g.frozen {
		g.queue = append(g.queue, fn)
		g.mu.Unlock()
		return true
	}
	g.inflight.RLock()
	g.mu.Unlock()

	defer g.inflight.RUnlock()
	fn()
	return false
}

// Freeze closes the gate and waits for requests already running to return.
func (g *Gate) Freeze() {
	g.mu.Lock()
	g.frozen = true
	g.mu.Unlock()

	g.inflight.Lock()
	g.inflight.Unlock()
}

// Resume replays the backlog in FIFO order, including requests that arrive
// while draining, then reopens the gate. It returns the number replayed.
func (g *Gate) Resume() int {
	drained := 0
	g.mu.Lock()
	for len(g.queue) > 0 {
		batch := g.queue
		g.queue = nil
		g.mu.Unlock()
		for _, fn := range batch {
			fn()
			drained++
		}
		g.mu.Lock()
	}
	g.frozen = false
	g.mu.Unlock()
	return drained
}

// Frozen reports whether the gate is currently queueing.
func (g *Gate) Frozen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frozen
}

// Pending returns the queued request count.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}
