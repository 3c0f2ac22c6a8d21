package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysUp(NodeID) bool { return true }

func TestRoutingFabric_LinkState_FindsShortestPath(t *testing.T) {
	// GIVEN a link-state fabric with a direct A-C link costlier than A-B-C
	sched := NewScheduler()
	f := NewRoutingFabric(sched, RoutingConfig{Strategy: "link-state", Metric: "latency"}, alwaysUp)
	for _, id := range []NodeID{"a", "b", "c"} {
		f.AddNode(id)
	}
	f.AddLink(NewLink("a", "b", 1e9, 5))
	f.AddLink(NewLink("b", "c", 1e9, 5))
	f.AddLink(NewLink("a", "c", 1e9, 50))

	// WHEN routing from a to c
	route, err := f.GetRoute("a", "c")

	// THEN the two-hop path is chosen over the costlier direct link
	require.NoError(t, err)
	assert.Equal(t, []NodeID{"a", "b", "c"}, route)
}

func TestRoutingFabric_LinkState_NoPath_FailsNoRoute(t *testing.T) {
	// GIVEN two disconnected nodes
	sched := NewScheduler()
	f := NewRoutingFabric(sched, DefaultRoutingConfig(), alwaysUp)
	f.AddNode("a")
	f.AddNode("b")

	// WHEN routing between them
	_, err := f.GetRoute("a", "b")

	// THEN it fails no_route
	require.Error(t, err)
	var simErr *SimError
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, ErrNoRoute, simErr.Kind)
}

func TestRoutingFabric_LinkState_SkipsDownLinks(t *testing.T) {
	// GIVEN a fabric where the only path's link is down
	sched := NewScheduler()
	f := NewRoutingFabric(sched, DefaultRoutingConfig(), alwaysUp)
	f.AddNode("a")
	f.AddNode("b")
	link := NewLink("a", "b", 1e9, 5)
	link.SetUp(false)
	f.AddLink(link)

	// WHEN routing from a to b
	_, err := f.GetRoute("a", "b")

	// THEN it fails no_route rather than crossing the down link
	require.Error(t, err)
	var simErr *SimError
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, ErrNoRoute, simErr.Kind)
}

func TestRoutingFabric_DistanceVector_ConvergesAfterRounds(t *testing.T) {
	// GIVEN a distance-vector fabric over a 3-node chain
	sched := NewScheduler()
	f := NewRoutingFabric(sched, RoutingConfig{Strategy: "distance-vector", Metric: "latency", DVInterval: 1.0}, alwaysUp)
	for _, id := range []NodeID{"a", "b", "c"} {
		f.AddNode(id)
	}
	f.AddLink(NewLink("a", "b", 1e9, 5))
	f.AddLink(NewLink("b", "c", 1e9, 5))

	// WHEN enough exchange rounds have run for routes to propagate
	horizon := 10.0
	sched.Run(&horizon, 0)

	// THEN a route from a to c exists via b
	route, err := f.GetRoute("a", "c")
	require.NoError(t, err)
	assert.Equal(t, []NodeID{"a", "b", "c"}, route)
}

func TestRoutingFabric_AllocateIP_SequentialAndNeverReclaimed(t *testing.T) {
	// GIVEN a fabric allocating IPs for three nodes
	sched := NewScheduler()
	f := NewRoutingFabric(sched, DefaultRoutingConfig(), alwaysUp)

	// WHEN allocating addresses in sequence, removing the first node before
	// the third is allocated
	ip1 := f.AllocateIP("a")
	ip2 := f.AllocateIP("b")
	f.RemoveNode("a")
	ip3 := f.AllocateIP("c")

	// THEN addresses are sequential and distinct, and the removed node's
	// address is not handed out again
	assert.Equal(t, "10.0.0.0", ip1)
	assert.Equal(t, "10.0.0.1", ip2)
	assert.Equal(t, "10.0.0.2", ip3)
	assert.Equal(t, ip1, f.IPOf("a"))
}
