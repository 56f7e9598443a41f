package coordinator

import (
	"cmp"

	"golang.org/x/exp/slices"

	"github.com/dreamware/quorumfs/internal/cluster"
)

// Plan is the output of one rebalance planning pass.
type Plan struct {
	// Assignment maps each placed file to the sorted ports that should hold it
	// once the cycle completes.
	Assignment map[string][]int

	// Instructions holds the non-empty REBALANCE instruction for each node.
	Instructions map[int]cluster.RebalanceInstruction
}

// Load returns the number of files assigned to port.
func (p Plan) Load(port int) int {
	n := 0
	for _, ports := range p.Assignment {
		if slices.Contains(ports, port) {
			n++
		}
	}
	return n
}

// ComputePlan assigns every file in files to min(r, len(holdings)) distinct
// nodes so that no two nodes' assigned counts differ by more than one, and
// derives the per-node instructions that move the cluster to that
// assignment.
//
// holdings is the survey result: port to the names that node physically
// holds. Reported names absent from files are deleted from their holders
// unless listed in protected. Protected names are never deleted.
//
// Placement keeps existing replicas where capacity allows so that a balanced
// cluster yields an empty plan.
//
// Algorithm:
//  1. Each node gets capacity q or q+1 where q = total/N; the extra slots go
//     to the nodes currently holding the most files
//  2. Holders keep their copy while they have capacity, least loaded first
//  3. Remaining slots go to the non-holders with the most free capacity
//  4. A file that cannot be completed is placed by swapping another file off
//     a node, and if that fails the whole assignment is recomputed round-robin
func ComputePlan(holdings map[int][]string, files []string, protected map[string]bool, r int) Plan {
	plan := Plan{
		Assignment:   make(map[string][]int),
		Instructions: make(map[int]cluster.RebalanceInstruction),
	}

	nodes := make([]int, 0, len(holdings))
	for port := range holdings {
		nodes = append(nodes, port)
	}
	slices.Sort(nodes)
	if len(nodes) == 0 {
		return plan
	}

	files = slices.Clone(files)
	slices.Sort(files)
	files = slices.Compact(files)

	holders := make(map[string][]int)
	for _, port := range nodes {
		for _, name := range holdings[port] {
			holders[name] = append(holders[name], port)
		}
	}

	k := min(r, len(nodes))
	capacity := planCapacity(nodes, files, holders, k)

	assigned, ok := placeGreedy(nodes, files, holders, capacity, k)
	if !ok {
		assigned = placeRoundRobin(nodes, files, capacity, k)
	}
	for _, name := range files {
		ports := make([]int, 0, k)
		for port := range assigned[name] {
			ports = append(ports, port)
		}
		slices.Sort(ports)
		plan.Assignment[name] = ports
	}

	// Removals: anything held that the assignment does not place there.
	for _, port := range nodes {
		for _, name := range holdings[port] {
			if protected[name] {
				continue
			}
			if target, placed := plan.Assignment[name]; placed && slices.Contains(target, port) {
				continue
			}
			ins := plan.Instructions[port]
			if !slices.Contains(ins.Remove, name) {
				ins.Remove = append(ins.Remove, name)
				plan.Instructions[port] = ins
			}
		}
	}

	// Sends: one current holder pushes to every new target of a file. The
	// holder with the fewest sends so far is chosen to spread the work.
	sends := make(map[int]int)
	for _, name := range files {
		var targets []int
		for _, port := range plan.Assignment[name] {
			if !slices.Contains(holders[name], port) {
				targets = append(targets, port)
			}
		}
		if len(targets) == 0 || len(holders[name]) == 0 {
			continue
		}
		src := holders[name][0]
		for _, h := range holders[name][1:] {
			if sends[h] < sends[src] || (sends[h] == sends[src] && h < src) {
				src = h
			}
		}
		sends[src]++
		ins := plan.Instructions[src]
		ins.Send = append(ins.Send, cluster.Transfer{Filename: name, Targets: targets})
		plan.Instructions[src] = ins
	}

	for port, ins := range plan.Instructions {
		if ins.Empty() {
			delete(plan.Instructions, port)
		}
	}
	return plan
}

// planCapacity returns the number of files each node should end up with.
func planCapacity(nodes []int, files []string, holders map[string][]int, k int) map[int]int {
	current := make(map[int]int, len(nodes))
	for _, name := range files {
		for _, port := range holders[name] {
			current[port]++
		}
	}

	order := slices.Clone(nodes)
	slices.SortStableFunc(order, func(a, b int) int {
		if c := cmp.Compare(current[b], current[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	total := len(files) * k
	q, rem := total/len(nodes), total%len(nodes)
	capacity := make(map[int]int, len(nodes))
	for i, port := range order {
		capacity[port] = q
		if i < rem {
			capacity[port]++
		}
	}
	return capacity
}

func placeGreedy(nodes []int, files []string, holders map[string][]int, capacity map[int]int, k int) (map[string]map[int]bool, bool) {
	assigned := make(map[string]map[int]bool, len(files))
	load := make(map[int]int, len(nodes))

	for _, name := range files {
		assigned[name] = make(map[int]bool, k)
		keep := slices.Clone(holders[name])
		slices.SortStableFunc(keep, func(a, b int) int {
			if c := cmp.Compare(load[a], load[b]); c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})
		for _, port := range keep {
			if len(assigned[name]) == k {
				break
			}
			if load[port] < capacity[port] {
				assigned[name][port] = true
				load[port]++
			}
		}
	}

	for _, name := range files {
		for len(assigned[name]) < k {
			best := -1
			for _, port := range nodes {
				if assigned[name][port] || load[port] >= capacity[port] {
					continue
				}
				if best == -1 || capacity[port]-load[port] > capacity[best]-load[best] {
					best = port
				}
			}
			if best == -1 {
				best = swapIn(name, nodes, files, assigned, load, capacity)
				if best == -1 {
					return nil, false
				}
			}
			assigned[name][best] = true
			load[best]++
		}
	}
	return assigned, true
}

// swapIn frees a slot for name on some node y not yet holding it by moving
// another file g from y to a node x that still has spare capacity. It returns
// y, whose load is left unchanged, or -1.
func swapIn(name string, nodes []int, files []string, assigned map[string]map[int]bool, load, capacity map[int]int) int {
	for _, x := range nodes {
		if load[x] >= capacity[x] {
			continue
		}
		for _, g := range files {
			if g == name || assigned[g][x] {
				continue
			}
			for _, y := range nodes {
				if !assigned[g][y] || assigned[name][y] {
					continue
				}
				delete(assigned[g], y)
				assigned[g][x] = true
				load[x]++
				load[y]--
				return y
			}
		}
	}
	return -1
}

// placeRoundRobin deals replica slots across nodes in capacity order. Slot s
// of the sequence goes to order[s mod N], which keeps each file's replicas
// distinct because k <= N.
func placeRoundRobin(nodes []int, files []string, capacity map[int]int, k int) map[string]map[int]bool {
	order := slices.Clone(nodes)
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(capacity[b], capacity[a])
	})

	assigned := make(map[string]map[int]bool, len(files))
	slot := 0
	for _, name := range files {
		assigned[name] = make(map[int]bool, k)
		for j := 0; j < k; j++ {
			assigned[name][order[slot%len(order)]] = true
			slot++
		}
	}
	return assigned
}
