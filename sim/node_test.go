package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageNode_Fail_TakesDiskAndOSOffline(t *testing.T) {
	// GIVEN an online node
	sched := NewScheduler()
	node := NewStorageNode(sched, "node-a", "us-east", "10.0.0.1", DiskConfig{CapacityBytes: 100, SeekLatencySec: 0.01, ThroughputBps: 100}, OSConfig{CPUCores: 1, RAMBytes: 100})
	require.True(t, node.Online())

	// WHEN it fails
	node.Fail()

	// THEN the node, its disk, and its OS all reject operations
	assert.False(t, node.Online())
	_, err := node.Disk.Reserve("file-a", 10)
	require.Error(t, err)
	var simErr *SimError
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, ErrDiskOffline, simErr.Kind)
	_, err = node.OS.DiskWrite(1, 1, func(func(error)) {}, nil)
	require.Error(t, err)
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, ErrNodeOffline, simErr.Kind)

	// AND restoring brings both back online
	node.Restore()
	assert.True(t, node.Online())
	_, err = node.Disk.Reserve("file-a", 10)
	require.NoError(t, err)
}

func TestStorageNode_Neighbors_TracksLinks(t *testing.T) {
	// GIVEN two nodes joined by a link
	sched := NewScheduler()
	a := NewStorageNode(sched, "a", "us-east", "10.0.0.1", DefaultDiskConfig(), DefaultOSConfig())
	b := NewStorageNode(sched, "b", "us-east", "10.0.0.2", DefaultDiskConfig(), DefaultOSConfig())
	link := NewLink("a", "b", 1e9, 1.0)

	// WHEN the link is registered on both sides
	a.AddNeighbor(link)
	b.AddNeighbor(link)

	// THEN each node sees the other as a neighbor via the same link
	assert.Equal(t, []NodeID{"b"}, a.Neighbors())
	assert.Same(t, link, a.LinkTo("b"))
	assert.Equal(t, []NodeID{"a"}, b.Neighbors())

	// AND removing it drops the adjacency
	a.RemoveNeighbor("b")
	assert.Empty(t, a.Neighbors())
}
