package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadAttemptsSequence(t *testing.T) {
	a := NewLoadAttempts(time.Minute)

	assert.Empty(t, a.Tried("c1", "f"))
	a.Record("c1", "f", 7001)
	a.Record("c1", "f", 7002)
	a.Record("c1", "g", 7003)
	a.Record("c2", "f", 7004)

	assert.Equal(t, []int{7001, 7002}, a.Tried("c1", "f"))
	assert.Equal(t, []int{7003}, a.Tried("c1", "g"))
	assert.Equal(t, []int{7004}, a.Tried("c2", "f"))
	assert.Equal(t, 3, a.Len())

	a.Clear("c1", "f")
	assert.Empty(t, a.Tried("c1", "f"))

	a.Forget("c1")
	assert.Empty(t, a.Tried("c1", "g"))
	assert.Equal(t, []int{7004}, a.Tried("c2", "f"))
}

func TestLoadAttemptsIgnoreRecordAfterForget(t *testing.T) {
	a := NewLoadAttempts(time.Minute)
	a.Record("c1", "f", 7001)
	a.Forget("c1")

	// a load replayed from the rebalance queue after the disconnect
	a.Record("c1", "f", 7002)
	assert.Empty(t, a.Tried("c1", "f"))
	assert.Equal(t, 0, a.Len())

	a.Record("c2", "f", 7003)
	assert.Equal(t, []int{7003}, a.Tried("c2", "f"))
}

func TestLoadAttemptsTriedIsACopy(t *testing.T) {
	a := NewLoadAttempts(time.Minute)
	a.Record("c", "f", 1)
	tried := a.Tried("c", "f")
	a.Record("c", "f", 2)
	assert.Equal(t, []int{1}, tried)
}

func TestLoadAttemptsExpire(t *testing.T) {
	a := NewLoadAttempts(20 * time.Millisecond)
	a.Record("c", "f", 1)
	assert.Eventually(t, func() bool {
		return len(a.Tried("c", "f")) == 0
	}, time.Second, 5*time.Millisecond)
}
