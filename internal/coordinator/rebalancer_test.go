package coordinator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/quorumfs/internal/cluster"
)

func TestRebalanceSkippedBelowReplicationFactor(t *testing.T) {
	ctrl, addr := startController(t, 2, time.Second)
	f := newFleet()
	f.join(t, addr, 7001)
	waitForNodes(t, ctrl, 1)

	report := ctrl.Rebalance(context.Background())
	assert.True(t, report.Skipped)
	assert.Empty(t, report.Surveyed)
}

func TestRebalanceSpreadsFilesOntoNewNodes(t *testing.T) {
	ctrl, addr := startController(t, 1, time.Second)
	f := newFleet()
	a := f.join(t, addr, 7001)
	waitForNodes(t, ctrl, 1)

	client := dialClient(t, addr)
	files := []string{"a.txt", "b.txt", "c.txt", "d.txt"}
	for _, name := range files {
		storeOn(t, client, f, name, 1)
	}
	assert.Len(t, a.names(), 4)

	b := f.join(t, addr, 7002)
	c := f.join(t, addr, 7003)
	waitForNodes(t, ctrl, 3)

	report := ctrl.Rebalance(context.Background())
	assert.False(t, report.Skipped)
	assert.Equal(t, []int{7001, 7002, 7003}, report.Surveyed)
	assert.Empty(t, report.Failed)
	assert.Empty(t, report.Orphans)

	counts := []int{len(a.names()), len(b.names()), len(c.names())}
	assert.ElementsMatch(t, []int{2, 1, 1}, counts)

	// index agrees with what the nodes hold
	for _, name := range files {
		info, ok := ctrl.Index().Get(name).Info()
		require.True(t, ok, name)
		require.Len(t, info.Replicas, 1, name)
		assert.True(t, f.get(info.Replicas[0]).has(name), name)
	}

	// a balanced cluster needs no work
	again := ctrl.Rebalance(context.Background())
	assert.Empty(t, again.Dispatched)
}

func TestRebalanceRestoresReplicationFactor(t *testing.T) {
	ctrl, addr := startController(t, 2, time.Second)
	f := newFleet()
	f.join(t, addr, 7001)
	f.join(t, addr, 7002)
	f.join(t, addr, 7003)
	waitForNodes(t, ctrl, 3)

	client := dialClient(t, addr)
	ports := storeOn(t, client, f, "f.txt", 10)

	f.get(ports[0]).conn.Close()
	waitForNodes(t, ctrl, 2)

	ctrl.Rebalance(context.Background())

	info, ok := ctrl.Index().Get("f.txt").Info()
	require.True(t, ok)
	assert.Len(t, info.Replicas, 2)
	assert.NotContains(t, info.Replicas, ports[0])
	for _, p := range info.Replicas {
		assert.True(t, f.get(p).has("f.txt"))
	}
}

func TestRebalanceDeletesOrphans(t *testing.T) {
	ctrl, addr := startController(t, 1, time.Second)
	f := newFleet()
	a := f.join(t, addr, 7001)
	waitForNodes(t, ctrl, 1)

	client := dialClient(t, addr)
	storeOn(t, client, f, "lost.txt", 10)
	storeOn(t, client, f, "kept.txt", 10)
	a.drop("lost.txt")

	report := ctrl.Rebalance(context.Background())
	assert.Equal(t, []string{"lost.txt"}, report.Orphans)
	assert.Nil(t, ctrl.Index().Get("lost.txt"))
	assert.NotNil(t, ctrl.Index().Get("kept.txt"))

	require.NoError(t, client.Send(cluster.TokenList))
	msg := expect(t, client, cluster.TokenList)
	assert.Equal(t, []string{"kept.txt"}, msg.Args)
}

func TestRebalanceLeavesStoringFilesAlone(t *testing.T) {
	ctrl, addr := startController(t, 2, time.Second)
	f := newFleet()
	f.join(t, addr, 7001)
	f.join(t, addr, 7002)
	waitForNodes(t, ctrl, 2)

	client := dialClient(t, addr)
	require.NoError(t, client.Send(cluster.TokenStore, "slow.txt", "5"))
	msg := expect(t, client, cluster.TokenStoreTo)
	ports, err := msg.Ports()
	require.NoError(t, err)

	// one replica already has the bytes, the other does not yet
	f.get(ports[0]).hold("slow.txt")

	report := ctrl.Rebalance(context.Background())
	assert.Empty(t, report.Orphans)
	assert.Empty(t, report.Dispatched)
	require.NotNil(t, ctrl.Index().Get("slow.txt"))

	for _, p := range ports {
		f.get(p).storeAck("slow.txt")
	}
	expect(t, client, cluster.TokenStoreComplete)
}

func TestRebalanceKeepsReplicasOfSilentNodes(t *testing.T) {
	ctrl, addr := startController(t, 2, 150*time.Millisecond)
	f := newFleet()
	f.join(t, addr, 7001)
	f.join(t, addr, 7002)
	f.join(t, addr, 7003)
	waitForNodes(t, ctrl, 3)

	client := dialClient(t, addr)
	ports := storeOn(t, client, f, "f.txt", 10)
	silent := f.get(ports[0])
	silent.silent.Store(true)

	report := ctrl.Rebalance(context.Background())
	assert.Equal(t, []int{silent.port}, report.Failed)
	assert.NotContains(t, report.Surveyed, silent.port)

	info, ok := ctrl.Index().Get("f.txt").Info()
	require.True(t, ok)
	assert.Contains(t, info.Replicas, silent.port)
	assert.Contains(t, info.Replicas, ports[1])
}

func TestRebalanceQueuesRequestsUntilResume(t *testing.T) {
	ctrl, addr := startController(t, 1, 300*time.Millisecond)
	f := newFleet()
	node := f.join(t, addr, 7001)
	waitForNodes(t, ctrl, 1)
	node.silent.Store(true)

	done := make(chan CycleReport, 1)
	go func() { done <- ctrl.Rebalance(context.Background()) }()
	require.Eventually(t, ctrl.gate.Frozen, replyWait, time.Millisecond)

	client := dialClient(t, addr)
	require.NoError(t, client.Send(cluster.TokenStore, "q.txt", "1"))
	require.NoError(t, client.Send(cluster.TokenList))
	require.Eventually(t, func() bool { return ctrl.gate.Pending() == 2 }, replyWait, time.Millisecond)

	report := <-done
	assert.Equal(t, 2, report.Drained)
	assert.Equal(t, []int{7001}, report.Failed)

	// replayed in arrival order
	expect(t, client, cluster.TokenStoreTo)
	msg := expect(t, client, cluster.TokenList)
	assert.Empty(t, msg.Args)
}

func TestJoinTriggersRebalance(t *testing.T) {
	ctrl, addr := startControllerWith(t, Config{
		ReplicationFactor: 1,
		Timeout:           time.Second,
		Logger:            zerolog.Nop(),
	})
	f := newFleet()
	a := f.join(t, addr, 7001)
	waitForNodes(t, ctrl, 1)

	client := dialClient(t, addr)
	for i := 0; i < 4; i++ {
		storeOn(t, client, f, fmt.Sprintf("%d.bin", i), 1)
	}

	b := f.join(t, addr, 7002)
	require.Eventually(t, func() bool {
		return len(a.names()) == 2 && len(b.names()) == 2
	}, replyWait, 5*time.Millisecond)
}

func TestPeriodicRebalance(t *testing.T) {
	ctrl, addr := startControllerWith(t, Config{
		ReplicationFactor:    1,
		Timeout:              time.Second,
		RebalancePeriod:      50 * time.Millisecond,
		DisableJoinRebalance: true,
		Logger:               zerolog.Nop(),
	})
	f := newFleet()
	a := f.join(t, addr, 7001)
	waitForNodes(t, ctrl, 1)

	client := dialClient(t, addr)
	storeOn(t, client, f, "gone.txt", 1)
	a.drop("gone.txt")

	require.Eventually(t, func() bool {
		return ctrl.Index().Get("gone.txt") == nil
	}, replyWait, 5*time.Millisecond)
}
