package coordinator

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"
)

// applyPlan simulates nodes executing their instructions: every send lands
// before any delete.
func applyPlan(holdings map[int][]string, plan Plan) map[int][]string {
	next := make(map[int]map[string]bool, len(holdings))
	for port, names := range holdings {
		next[port] = make(map[string]bool)
		for _, n := range names {
			next[port][n] = true
		}
	}
	for _, ins := range plan.Instructions {
		for _, tr := range ins.Send {
			for _, p := range tr.Targets {
				next[p][tr.Filename] = true
			}
		}
	}
	for port, ins := range plan.Instructions {
		for _, n := range ins.Remove {
			delete(next[port], n)
		}
	}
	out := make(map[int][]string, len(next))
	for port, set := range next {
		out[port] = []string{}
		for n := range set {
			out[port] = append(out[port], n)
		}
		slices.Sort(out[port])
	}
	return out
}

func assertBalanced(t *testing.T, plan Plan, nodes []int, files []string, k int) {
	t.Helper()
	lo, hi := -1, -1
	for _, port := range nodes {
		load := plan.Load(port)
		if lo == -1 || load < lo {
			lo = load
		}
		if load > hi {
			hi = load
		}
	}
	assert.LessOrEqual(t, hi-lo, 1, "loads differ by more than one")
	for _, name := range files {
		ports := plan.Assignment[name]
		assert.Len(t, ports, k, name)
		assert.Equal(t, len(ports), len(slices.Compact(slices.Clone(ports))), "duplicate replica for %s", name)
	}
}

func TestComputePlanBalances(t *testing.T) {
	tests := []struct {
		name     string
		holdings map[int][]string
		files    []string
		r        int
	}{
		{
			name:     "everything on one node",
			holdings: map[int][]string{1: {"a", "b", "c", "d"}, 2: {}, 3: {}},
			files:    []string{"a", "b", "c", "d"},
			r:        1,
		},
		{
			name:     "under replicated after a crash",
			holdings: map[int][]string{1: {"a", "b"}, 2: {"c"}, 3: {}},
			files:    []string{"a", "b", "c"},
			r:        2,
		},
		{
			name:     "fewer nodes than R",
			holdings: map[int][]string{1: {"a"}, 2: {}},
			files:    []string{"a"},
			r:        3,
		},
		{
			name:     "new empty node",
			holdings: map[int][]string{1: {"a", "b", "c"}, 2: {"a", "b", "c"}, 3: {}},
			files:    []string{"a", "b", "c"},
			r:        2,
		},
		{
			name:     "no files",
			holdings: map[int][]string{1: {}, 2: {}},
			r:        2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := ComputePlan(tt.holdings, tt.files, nil, tt.r)
			nodes := make([]int, 0, len(tt.holdings))
			for p := range tt.holdings {
				nodes = append(nodes, p)
			}
			k := min(tt.r, len(nodes))
			assertBalanced(t, plan, nodes, tt.files, k)

			after := applyPlan(tt.holdings, plan)
			for _, name := range tt.files {
				for _, p := range plan.Assignment[name] {
					assert.Contains(t, after[p], name)
				}
			}
			for p, names := range after {
				for _, name := range names {
					assert.Contains(t, plan.Assignment[name], p, "%s left on %d", name, p)
				}
			}
		})
	}
}

func TestComputePlanBalancedClusterIsStable(t *testing.T) {
	holdings := map[int][]string{
		1: {"a", "b"},
		2: {"b", "c"},
		3: {"a", "c"},
	}
	plan := ComputePlan(holdings, []string{"a", "b", "c"}, nil, 2)
	assert.Empty(t, plan.Instructions)
}

func TestComputePlanRemovesUnplacedFiles(t *testing.T) {
	holdings := map[int][]string{
		1: {"keep", "removing", "storing"},
		2: {"keep", "removing"},
	}
	plan := ComputePlan(holdings, []string{"keep"}, map[string]bool{"storing": true}, 2)

	assert.Equal(t, []string{"removing"}, plan.Instructions[1].Remove)
	assert.Equal(t, []string{"removing"}, plan.Instructions[2].Remove)
	_, placed := plan.Assignment["storing"]
	assert.False(t, placed)
}

func TestComputePlanMovesOneFileToEmptyNodes(t *testing.T) {
	holdings := map[int][]string{
		1: {"a", "b"},
		2: {"a", "b"},
		3: {},
		4: {},
	}
	plan := ComputePlan(holdings, []string{"a", "b"}, nil, 2)
	assertBalanced(t, plan, []int{1, 2, 3, 4}, []string{"a", "b"}, 2)

	assert.Equal(t, []int{1, 2}, plan.Assignment["a"])
	assert.Equal(t, []int{3, 4}, plan.Assignment["b"])
	require.Len(t, plan.Instructions[1].Send, 1)
	assert.Equal(t, "b", plan.Instructions[1].Send[0].Filename)
	assert.Equal(t, []int{3, 4}, plan.Instructions[1].Send[0].Targets)
	assert.Equal(t, []string{"b"}, plan.Instructions[1].Remove)
	assert.Equal(t, []string{"b"}, plan.Instructions[2].Remove)
	assert.Empty(t, plan.Instructions[2].Send)
}

func TestComputePlanRandomised(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for round := 0; round < 200; round++ {
		n := 1 + rng.IntN(6)
		r := 1 + rng.IntN(4)
		fileCount := rng.IntN(12)

		holdings := make(map[int][]string, n)
		nodes := make([]int, n)
		for i := range nodes {
			nodes[i] = 1000 + i
			holdings[nodes[i]] = nil
		}
		files := make([]string, fileCount)
		for i := range files {
			files[i] = fmt.Sprintf("f%02d", i)
			for _, p := range nodes {
				if rng.IntN(3) == 0 {
					holdings[p] = append(holdings[p], files[i])
				}
			}
		}
		// every placed file has at least one holder
		for _, name := range files {
			held := false
			for _, p := range nodes {
				held = held || slices.Contains(holdings[p], name)
			}
			if !held {
				p := nodes[rng.IntN(n)]
				holdings[p] = append(holdings[p], name)
			}
		}

		plan := ComputePlan(holdings, files, nil, r)
		require.Len(t, plan.Assignment, fileCount)
		assertBalanced(t, plan, nodes, files, min(r, n))

		after := applyPlan(holdings, plan)
		for _, name := range files {
			for _, p := range plan.Assignment[name] {
				require.Contains(t, after[p], name, "round %d", round)
			}
		}
	}
}
