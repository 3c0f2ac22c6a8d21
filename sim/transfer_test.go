package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTwoNodeFabric wires a minimal source-dest topology plus the
// RoutingFabric and node/online-check plumbing TransferEngine needs.
func buildTwoNodeFabric(t *testing.T, sched *Scheduler, bandwidthBps float64) (map[NodeID]*StorageNode, *RoutingFabric) {
	t.Helper()
	nodes := make(map[NodeID]*StorageNode)
	diskCfg := DiskConfig{CapacityBytes: 1_000_000, SeekLatencySec: 0.001, ThroughputBps: 1e9}
	osCfg := OSConfig{CPUCores: 1, RAMBytes: 1_000_000, DiskInflight: 1, NICInflight: 4}
	nodes["src"] = NewStorageNode(sched, "src", "us-east", "10.0.0.0", diskCfg, osCfg)
	nodes["dst"] = NewStorageNode(sched, "dst", "us-east", "10.0.0.1", diskCfg, osCfg)

	isUp := func(id NodeID) bool {
		n, ok := nodes[id]
		return ok && n.Online()
	}
	fabric := NewRoutingFabric(sched, RoutingConfig{Strategy: "link-state", Metric: "latency"}, isUp)
	fabric.AddNode("src")
	fabric.AddNode("dst")
	link := NewLink("src", "dst", bandwidthBps, 1.0)
	nodes["src"].AddNeighbor(link)
	nodes["dst"].AddNeighbor(link)
	fabric.AddLink(link)
	return nodes, fabric
}

func TestTransferEngine_StartTransfer_CommitsAllChunksAtDestination(t *testing.T) {
	// GIVEN a two-node fabric with ample bandwidth
	sched := NewScheduler()
	nodes, fabric := buildTwoNodeFabric(t, sched, 1e9)
	engine := NewTransferEngine(sched, nodes, fabric, DefaultTransferConfig(), nil)

	var doneErr error
	done := false
	_, err := engine.StartTransfer("file-a", "src", "dst", 10_000, 0, func(err error) {
		done = true
		doneErr = err
	})
	require.NoError(t, err)

	// WHEN the simulation runs to completion
	sched.Run(nil, 0)

	// THEN the transfer completes and the destination holds every chunk
	require.True(t, done)
	require.NoError(t, doneErr)
	totalCommitted := int64(0)
	for _, rec := range nodes["dst"].Disk.AllChunks()["file-a"] {
		totalCommitted += rec.Length
	}
	assert.Equal(t, int64(10_000), totalCommitted)
}

func TestTransferEngine_StartTransfer_FailsNoSpace(t *testing.T) {
	// GIVEN a destination with insufficient free space
	sched := NewScheduler()
	nodes, fabric := buildTwoNodeFabric(t, sched, 1e9)
	nodes["dst"].Disk = NewVirtualDisk(sched, "dst", DiskConfig{CapacityBytes: 10, SeekLatencySec: 0.001, ThroughputBps: 1e9})
	engine := NewTransferEngine(sched, nodes, fabric, DefaultTransferConfig(), nil)

	// WHEN starting a transfer larger than the destination's capacity
	_, err := engine.StartTransfer("file-a", "src", "dst", 1000, 0, nil)

	// THEN it fails no_space
	require.Error(t, err)
	var simErr *SimError
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, ErrNoSpace, simErr.Kind)
}

func TestTransferEngine_OnLinkDown_FailsTransferWithNoAlternateRoute(t *testing.T) {
	// GIVEN an in-progress transfer across the only link between two nodes
	sched := NewScheduler()
	nodes, fabric := buildTwoNodeFabric(t, sched, 100) // slow link so the chunk doesn't finish in one tick
	engine := NewTransferEngine(sched, nodes, fabric, TransferConfig{ChunkMinBytes: 64, ChunkMaxBytes: 64}, nil)

	var doneErr error
	_, err := engine.StartTransfer("file-a", "src", "dst", 10_000, 0, func(err error) { doneErr = err })
	require.NoError(t, err)

	// WHEN the link fails before the chunk finishes crossing it
	horizon := 0.01
	sched.Run(&horizon, 0)
	nodes["src"].LinkTo("dst").SetUp(false)
	engine.OnLinkDown("src", "dst")
	sched.Run(nil, 0)

	// THEN the transfer fails route_lost, since no alternate path exists
	require.Error(t, doneErr)
	var simErr *SimError
	require.ErrorAs(t, doneErr, &simErr)
	assert.Equal(t, ErrRouteLost, simErr.Kind)
}

func TestTransferEngine_PriorityTiers_StarveHigherTierFlows(t *testing.T) {
	// GIVEN two concurrent transfers sharing one link at different priority
	// tiers
	sched := NewScheduler()
	nodes, fabric := buildTwoNodeFabric(t, sched, 1e6)
	engine := NewTransferEngine(sched, nodes, fabric, TransferConfig{ChunkMinBytes: 1000, ChunkMaxBytes: 1000}, nil)

	tier0Done, tier1Done := false, false
	_, err := engine.StartTransfer("file-tier0", "src", "dst", 2000, 0, func(error) { tier0Done = true })
	require.NoError(t, err)
	_, err = engine.StartTransfer("file-tier1", "src", "dst", 2000, 1, func(error) { tier1Done = true })
	require.NoError(t, err)

	// WHEN only a single tick has run
	horizon := 0.05
	sched.Run(&horizon, 0)

	// THEN the tier-0 flow alone consumed the link's bandwidth this tick: its
	// chunk has left the link, while the tier-1 chunk has not moved
	assert.False(t, tier1Done)
	_ = tier0Done
	flows := engine.linkFlows[linkKey("src", "dst")]
	require.Len(t, flows, 1)
	assert.Equal(t, "file-tier1", flows[0].transfer.FileID)
	assert.Equal(t, int64(1000), flows[0].bytesRemaining)
}
