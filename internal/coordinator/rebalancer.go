package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/dreamware/quorumfs/internal/cluster"
)

// CycleReport summarises one rebalance cycle.
type CycleReport struct {
	// Skipped is set when fewer than R nodes were live and nothing ran.
	Skipped bool

	// Surveyed lists the nodes that answered the survey.
	Surveyed []int

	// Failed lists nodes that missed the survey or did not complete their
	// instruction in time. They are excluded for this cycle only.
	Failed []int

	// Dispatched lists nodes that were sent a REBALANCE instruction.
	Dispatched []int

	// Completed lists nodes that answered REBALANCE_COMPLETE in time.
	Completed []int

	// Orphans lists index entries deleted because no node reported them.
	Orphans []string

	// Drained is the number of queued requests replayed on resume.
	Drained int
}

// Rebalancer periodically re-evens replica placement across live nodes and
// garbage-collects index entries no node holds.
//
// A cycle freezes the request gate, surveys every live node with LIST,
// computes a balanced assignment, dispatches REBALANCE instructions, waits
// for REBALANCE_COMPLETE, folds the outcome into the file index and finally
// replays the queued requests. Cycles never overlap.
//
// Lifecycle:
//  1. Created by New with the controller's period
//  2. Run is started by Serve and exits when its context is canceled
//  3. Trigger requests an extra cycle, used when a join brings the live
//     count to R or above
type Rebalancer struct {
	c       *Controller
	period  time.Duration
	trigger chan struct{}
	logger  zerolog.Logger

	cycleMu sync.Mutex // serialises cycles

	mu        sync.Mutex
	lists     map[int]chan []string
	completes map[int]chan struct{}
}

func newRebalancer(c *Controller) *Rebalancer {
	return &Rebalancer{
		c:         c,
		period:    c.cfg.RebalancePeriod,
		trigger:   make(chan struct{}, 1),
		logger:    c.cfg.Logger.With().Str("component", "rebalancer").Logger(),
		lists:     make(map[int]chan []string),
		completes: make(map[int]chan struct{}),
	}
}

// Run executes cycles on every period tick and on every trigger until ctx is
// canceled. A zero period disables the ticker.
func (r *Rebalancer) Run(ctx context.Context) {
	var tick <-chan time.Time
	if r.period > 0 {
		ticker := time.NewTicker(r.period)
		defer ticker.Stop()
		tick = ticker.C
	}

	r.logger.Info().Dur("period", r.period).Msg("rebalancer started")
	for {
		select {
		case <-tick:
			r.RunCycle(ctx)
		case <-r.trigger:
			r.RunCycle(ctx)
		case <-ctx.Done():
			r.logger.Info().Msg("rebalancer stopping")
			return
		}
	}
}

// Trigger asks Run for a cycle as soon as possible. Requests made while one
// is already pending collapse into it.
func (r *Rebalancer) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// HandleList delivers a node's LIST reply to a running survey. It reports
// whether a survey was waiting for port.
func (r *Rebalancer) HandleList(port int, names []string) bool {
	r.mu.Lock()
	ch, ok := r.lists[port]
	delete(r.lists, port)
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- names
	return true
}

// HandleComplete delivers a node's REBALANCE_COMPLETE. It reports whether the
// current cycle was waiting for port.
func (r *Rebalancer) HandleComplete(port int) bool {
	r.mu.Lock()
	ch, ok := r.completes[port]
	delete(r.completes, port)
	r.mu.Unlock()
	if !ok {
		return false
	}
	close(ch)
	return true
}

// RunCycle runs one full cycle and blocks until it has finished, including
// the replay of requests queued while it ran.
func (r *Rebalancer) RunCycle(ctx context.Context) (report CycleReport) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	c := r.c
	rf := c.cfg.ReplicationFactor
	if live := c.registry.LiveCount(); live < rf {
		r.logger.Debug().Int("live", live).Int("need", rf).Msg("skipping rebalance, not enough nodes")
		report.Skipped = true
		return report
	}

	c.gate.Freeze()
	defer func() {
		report.Drained = c.gate.Resume()
		r.logger.Info().Ints("surveyed", report.Surveyed).Ints("failed", report.Failed).
			Ints("dispatched", report.Dispatched).Strs("orphans", report.Orphans).
			Int("drained", report.Drained).Msg("rebalance cycle finished")
	}()

	states := make(map[string]FileState)
	for _, info := range c.index.Snapshot() {
		states[info.Name] = info.State
	}

	holdings, missed := r.survey(ctx, c.registry.Snapshot())
	report.Failed = missed
	for port := range holdings {
		report.Surveyed = append(report.Surveyed, port)
	}
	slices.Sort(report.Surveyed)
	if len(holdings) == 0 {
		r.logger.Warn().Msg("no node answered the survey, leaving index untouched")
		return report
	}

	protected := make(map[string]bool)
	reported := make(map[string][]int)
	for _, port := range report.Surveyed {
		for _, name := range holdings[port] {
			reported[name] = append(reported[name], port)
		}
	}
	var files []string
	for name, state := range states {
		switch state {
		case StateStoring:
			protected[name] = true
		case StateStored:
			if len(reported[name]) > 0 {
				files = append(files, name)
			}
		}
	}

	// only Stored index files are planned; any other name a node reports
	// ends up on that node's remove list
	plan := ComputePlan(holdings, files, protected, rf)
	completed, failed := r.dispatch(ctx, plan)
	for port := range plan.Instructions {
		report.Dispatched = append(report.Dispatched, port)
	}
	slices.Sort(report.Dispatched)
	for port := range completed {
		report.Completed = append(report.Completed, port)
	}
	slices.Sort(report.Completed)
	report.Failed = append(report.Failed, failed...)
	slices.Sort(report.Failed)

	report.Orphans = r.apply(states, holdings, reported, plan, completed)
	return report
}

// survey sends LIST to every node and collects replies until the timeout.
// Nodes that cannot be written to are dropped from the registry.
func (r *Rebalancer) survey(ctx context.Context, nodes []*StorageNode) (map[int][]string, []int) {
	pending := make(map[int]chan []string, len(nodes))
	r.mu.Lock()
	for _, node := range nodes {
		ch := make(chan []string, 1)
		pending[node.Port] = ch
		r.lists[node.Port] = ch
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		for port, ch := range pending {
			if r.lists[port] == ch {
				delete(r.lists, port)
			}
		}
		r.mu.Unlock()
	}()

	var missed []int
	for _, node := range nodes {
		if err := node.Conn.Send(cluster.TokenList); err != nil {
			r.c.dropNode(node, err)
			delete(pending, node.Port)
			missed = append(missed, node.Port)
		}
	}

	holdings := make(map[int][]string, len(pending))
	timer := time.NewTimer(r.c.cfg.Timeout)
	defer timer.Stop()
	expired := false
	for _, node := range nodes {
		ch, ok := pending[node.Port]
		if !ok {
			continue
		}
		if !expired {
			select {
			case names := <-ch:
				holdings[node.Port] = names
				continue
			case <-timer.C:
				expired = true
			case <-ctx.Done():
				expired = true
			}
		}
		// After the deadline only replies already delivered count.
		select {
		case names := <-ch:
			holdings[node.Port] = names
		default:
			missed = append(missed, node.Port)
		}
	}
	if len(missed) > 0 {
		r.logger.Warn().Ints("ports", missed).Msg("nodes missed the survey, excluded from this cycle")
	}
	return holdings, missed
}

// dispatch sends each node its instruction and waits for completions until
// the timeout.
func (r *Rebalancer) dispatch(ctx context.Context, plan Plan) (map[int]bool, []int) {
	completed := make(map[int]bool)
	if len(plan.Instructions) == 0 {
		return completed, nil
	}

	pending := make(map[int]chan struct{}, len(plan.Instructions))
	r.mu.Lock()
	for port := range plan.Instructions {
		ch := make(chan struct{})
		pending[port] = ch
		r.completes[port] = ch
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		for port, ch := range pending {
			if r.completes[port] == ch {
				delete(r.completes, port)
			}
		}
		r.mu.Unlock()
	}()

	var failed []int
	ports := make([]int, 0, len(plan.Instructions))
	for port := range plan.Instructions {
		ports = append(ports, port)
	}
	slices.Sort(ports)
	for _, port := range ports {
		ins := plan.Instructions[port]
		node, ok := r.c.registry.Get(port)
		if !ok {
			delete(pending, port)
			failed = append(failed, port)
			continue
		}
		r.logger.Debug().Int("port", port).Int("send", len(ins.Send)).Strs("remove", ins.Remove).
			Msg("dispatching rebalance")
		if err := node.Conn.Send(cluster.TokenRebalance, ins.Args()...); err != nil {
			r.c.dropNode(node, err)
			delete(pending, port)
			failed = append(failed, port)
		}
	}

	timer := time.NewTimer(r.c.cfg.Timeout)
	defer timer.Stop()
	expired := false
	for _, port := range ports {
		ch, ok := pending[port]
		if !ok {
			continue
		}
		if !expired {
			select {
			case <-ch:
				completed[port] = true
				continue
			case <-timer.C:
				expired = true
			case <-ctx.Done():
				expired = true
			}
		}
		select {
		case <-ch:
			completed[port] = true
		default:
			failed = append(failed, port)
		}
	}
	if len(failed) > 0 {
		r.logger.Warn().Ints("ports", failed).Msg("rebalance not completed in time")
	}
	return completed, failed
}

// apply folds the survey and the instruction outcomes into the index and
// deletes orphans. Records that were storing when the cycle began are left
// alone.
func (r *Rebalancer) apply(states map[string]FileState, holdings map[int][]string, reported map[string][]int, plan Plan, completed map[int]bool) []string {
	scheduled := func(port int, name string) bool {
		return slices.Contains(plan.Instructions[port].Remove, name)
	}
	pushedBy := make(map[string]int)
	for port, ins := range plan.Instructions {
		for _, tr := range ins.Send {
			pushedBy[tr.Filename] = port
		}
	}

	var orphans []string
	for _, rec := range r.c.index.Records() {
		state, known := states[rec.Name]
		if !known || state == StateStoring {
			continue
		}

		rec.mu.Lock()
		if rec.deleted || rec.state != state {
			rec.mu.Unlock()
			continue
		}

		holders := reported[rec.Name]
		if len(holders) == 0 {
			r.logger.Warn().Str("file", rec.Name).Stringer("state", rec.state).Msg("orphaned index entry deleted")
			r.c.index.deleteLocked(rec)
			rec.mu.Unlock()
			orphans = append(orphans, rec.Name)
			continue
		}

		next := newPortSet()
		unusable := newPortSet()
		for _, port := range holders {
			if !scheduled(port, rec.Name) {
				next.add(port)
			} else if !completed[port] {
				next.add(port)
				unusable.add(port)
			}
		}
		if rec.state == StateStored {
			if src, ok := pushedBy[rec.Name]; ok && completed[src] {
				for _, port := range plan.Assignment[rec.Name] {
					next.add(port)
				}
			}
		}
		// Nodes that missed the survey keep what the index already says.
		for port := range rec.replicas {
			if _, surveyed := holdings[port]; surveyed {
				continue
			}
			if _, live := r.c.registry.Get(port); live {
				next.add(port)
				if rec.unusable.has(port) {
					unusable.add(port)
				}
			}
		}
		if rec.state != StateStored {
			unusable = newPortSet()
		}
		rec.replicas = next
		rec.unusable = unusable
		if len(next) == 0 {
			r.c.index.deleteLocked(rec)
		}
		rec.mu.Unlock()
	}
	return orphans
}
