package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildClusterFixture(t *testing.T, sched *Scheduler, nodeIDs []NodeID) (map[NodeID]*StorageNode, *RoutingFabric, *TransferEngine) {
	t.Helper()
	nodes := make(map[NodeID]*StorageNode)
	diskCfg := DiskConfig{CapacityBytes: 1_000_000, SeekLatencySec: 0.001, ThroughputBps: 1e9}
	osCfg := OSConfig{CPUCores: 1, RAMBytes: 1_000_000, DiskInflight: 1, NICInflight: 4}
	for _, id := range nodeIDs {
		nodes[id] = NewStorageNode(sched, id, "us-east", "10.0.0."+string(id), diskCfg, osCfg)
	}
	isUp := func(id NodeID) bool {
		n, ok := nodes[id]
		return ok && n.Online()
	}
	fabric := NewRoutingFabric(sched, DefaultRoutingConfig(), isUp)
	for _, id := range nodeIDs {
		fabric.AddNode(id)
	}
	for i := 1; i < len(nodeIDs); i++ {
		link := NewLink(nodeIDs[0], nodeIDs[i], 1e9, 1.0)
		nodes[nodeIDs[0]].AddNeighbor(link)
		nodes[nodeIDs[i]].AddNeighbor(link)
		fabric.AddLink(link)
	}
	engine := NewTransferEngine(sched, nodes, fabric, DefaultTransferConfig(), nil)
	return nodes, fabric, engine
}

func TestClusterManager_CreateCluster_FansOutToAvailableNodes(t *testing.T) {
	// GIVEN a root with committed data and two available candidate nodes
	sched := NewScheduler()
	nodes, _, engine := buildClusterFixture(t, sched, []NodeID{"root", "c1", "c2"})
	resID, err := nodes["root"].Disk.Reserve("seed", 1000)
	require.NoError(t, err)
	_, err = nodes["root"].Disk.WriteChunk(resID, 0, 1000, 0, nil)
	require.NoError(t, err)
	sched.Run(nil, 0)

	cfg := ScalingConfig{Enabled: false, DefaultClusterSize: 3, MaxReplicasPerCluster: 5}
	cm := NewClusterManager(sched, nodes, engine, cfg, 0)
	cm.OnNodeAdded("c1")
	cm.OnNodeAdded("c2")

	// WHEN a cluster is created rooted at root
	require.NoError(t, cm.CreateCluster("root"))
	sched.Run(nil, 0)

	// THEN both candidates were replicated to and became members
	cluster, ok := cm.Cluster("root")
	require.True(t, ok)
	assert.True(t, cluster.Members["c1"])
	assert.True(t, cluster.Members["c2"])
	root, ok := cm.RootOf("c1")
	require.True(t, ok)
	assert.Equal(t, NodeID("root"), root)
}

func TestClusterManager_OnNodeRemoved_PromotesSurvivingMemberToRoot(t *testing.T) {
	// GIVEN an established cluster with one member beyond the root
	sched := NewScheduler()
	nodes, _, engine := buildClusterFixture(t, sched, []NodeID{"root", "c1"})
	resID, err := nodes["root"].Disk.Reserve("seed", 1000)
	require.NoError(t, err)
	_, err = nodes["root"].Disk.WriteChunk(resID, 0, 1000, 0, nil)
	require.NoError(t, err)
	sched.Run(nil, 0)

	cfg := ScalingConfig{Enabled: false, DefaultClusterSize: 2, MaxReplicasPerCluster: 5}
	cm := NewClusterManager(sched, nodes, engine, cfg, 0)
	cm.OnNodeAdded("c1")
	require.NoError(t, cm.CreateCluster("root"))
	sched.Run(nil, 0)
	require.True(t, nodes["c1"].Online())

	// WHEN the root node is removed
	cm.OnNodeRemoved("root")

	// THEN the surviving member is promoted to root of the (now rootless)
	// cluster
	_, stillRooted := cm.Cluster("root")
	assert.False(t, stillRooted)
	cluster, ok := cm.Cluster("c1")
	require.True(t, ok)
	assert.Equal(t, NodeID("c1"), cluster.Root)
}
