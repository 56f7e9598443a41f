package coordinator

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/quorumfs/internal/cluster"
)

func TestFileStateString(t *testing.T) {
	assert.Equal(t, "storing", StateStoring.String())
	assert.Equal(t, "stored", StateStored.String())
	assert.Equal(t, "removing", StateRemoving.String())
	assert.Equal(t, "unknown", FileState(42).String())
}

func TestFileIndexInsertRejectsDuplicates(t *testing.T) {
	x := NewFileIndex()
	require.NoError(t, x.Insert(newFileRecord("a", 1, nil, []int{1})))

	err := x.Insert(newFileRecord("a", 2, nil, []int{2}))
	assert.ErrorIs(t, err, cluster.ErrFileAlreadyExists)
	assert.Equal(t, int64(1), x.Get("a").Size)
	assert.Equal(t, 1, x.Len())
}

func TestFileIndexConcurrentInsertSingleWinner(t *testing.T) {
	x := NewFileIndex()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if x.Insert(newFileRecord("same", int64(i), nil, nil)) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, x.Len())
}

func TestFileIndexNamesByState(t *testing.T) {
	x := NewFileIndex()
	for i, state := range []FileState{StateStored, StateStoring, StateStored, StateRemoving} {
		rec := newFileRecord(fmt.Sprintf("f%d", i), 1, nil, []int{1})
		rec.state = state
		require.NoError(t, x.Insert(rec))
	}

	assert.Equal(t, []string{"f0", "f2"}, x.Names(StateStored))
	assert.Equal(t, []string{"f1"}, x.Names(StateStoring))
	assert.Equal(t, []string{"f3"}, x.Names(StateRemoving))

	snap := x.Snapshot()
	require.Len(t, snap, 4)
	assert.Equal(t, "f0", snap[0].Name)
	assert.Equal(t, []int{1}, snap[0].Replicas)
}

func TestFileIndexDeleteLocked(t *testing.T) {
	x := NewFileIndex()
	rec := newFileRecord("a", 1, nil, []int{1, 2})
	require.NoError(t, x.Insert(rec))

	rec.mu.Lock()
	x.deleteLocked(rec)
	x.deleteLocked(rec) // second call is a no-op
	rec.mu.Unlock()

	assert.Nil(t, x.Get("a"))
	_, ok := rec.Info()
	assert.False(t, ok)
	select {
	case <-rec.gone:
	default:
		t.Fatal("gone channel not closed")
	}

	// a stale record never evicts its successor
	next := newFileRecord("a", 2, nil, []int{3})
	require.NoError(t, x.Insert(next))
	stale := newFileRecord("a", 1, nil, nil)
	stale.mu.Lock()
	x.deleteLocked(stale)
	stale.mu.Unlock()
	assert.Same(t, next, x.Get("a"))
}

func TestPortSetSorted(t *testing.T) {
	s := newPortSet(9, 3, 5)
	s.add(1)
	s.remove(5)
	assert.True(t, s.has(9))
	assert.False(t, s.has(5))
	assert.Equal(t, []int{1, 3, 9}, s.sorted())
}
