package sim

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

const infiniteCost = math.MaxFloat64 / 2

type dvEntry struct {
	Cost    float64
	NextHop NodeID
}

// RoutingFabric computes paths across the fabric topology under one of two
// strategies (§4.4): "link-state" recomputes a global shortest-path tree
// from scratch on every query using gonum's Dijkstra implementation;
// "distance-vector" maintains per-node routing tables via periodic
// Bellman-Ford exchange rounds with split-horizon/poisoned-reverse, and so
// only reflects topology changes after they propagate.
type RoutingFabric struct {
	sched *Scheduler
	cfg   RoutingConfig

	ipAlloc *ipAllocator
	nodeIPs map[NodeID]string

	up    func(NodeID) bool
	nodes map[NodeID]bool
	links map[[2]NodeID]*Link

	idOf  map[NodeID]int64
	idSeq int64

	dv         map[NodeID]map[NodeID]dvEntry
	dvRunning  bool
}

// NewRoutingFabric constructs a RoutingFabric. isNodeUp is consulted on
// every query so routes never cross a failed node.
func NewRoutingFabric(sched *Scheduler, cfg RoutingConfig, isNodeUp func(NodeID) bool) *RoutingFabric {
	if cfg.Strategy == "" {
		cfg = DefaultRoutingConfig()
	}
	return &RoutingFabric{
		sched:   sched,
		cfg:     cfg,
		ipAlloc: newIPAllocator(),
		nodeIPs: make(map[NodeID]string),
		up:      isNodeUp,
		nodes:   make(map[NodeID]bool),
		links:   make(map[[2]NodeID]*Link),
		idOf:    make(map[NodeID]int64),
		dv:      make(map[NodeID]map[NodeID]dvEntry),
	}
}

// AllocateIP assigns and returns the next sequential 10.0.x.y address for
// id, per §4.4's never-reclaimed allocation scheme.
func (f *RoutingFabric) AllocateIP(id NodeID) string {
	ip := f.ipAlloc.allocate()
	f.nodeIPs[id] = ip
	return ip
}

// IPOf returns the address previously allocated to id, or "" if none.
func (f *RoutingFabric) IPOf(id NodeID) string { return f.nodeIPs[id] }

// AddNode registers id with the fabric and starts its distance-vector
// table if that strategy is active.
func (f *RoutingFabric) AddNode(id NodeID) {
	f.nodes[id] = true
	if _, ok := f.idOf[id]; !ok {
		f.idOf[id] = f.idSeq
		f.idSeq++
	}
	f.dv[id] = map[NodeID]dvEntry{id: {Cost: 0, NextHop: id}}
	if f.cfg.Strategy == "distance-vector" {
		f.ensureDVLoop()
	}
}

// RemoveNode drops id from the fabric entirely.
func (f *RoutingFabric) RemoveNode(id NodeID) {
	delete(f.nodes, id)
	delete(f.dv, id)
	for k := range f.links {
		if k[0] == id || k[1] == id {
			delete(f.links, k)
		}
	}
}

// AddLink registers link with the fabric's topology view.
func (f *RoutingFabric) AddLink(link *Link) {
	f.links[linkKey(link.A, link.B)] = link
}

// RemoveLink drops the link between a and b.
func (f *RoutingFabric) RemoveLink(a, b NodeID) {
	delete(f.links, linkKey(a, b))
}

// weight returns the edge cost for link under the fabric's configured
// metric: "latency" uses latency_ms directly, "inverse-bandwidth" uses a
// scaled 1/bandwidth so higher-capacity links cost less.
func (f *RoutingFabric) weight(link *Link) float64 {
	if f.cfg.Metric == "inverse-bandwidth" {
		if link.BandwidthBps <= 0 {
			return infiniteCost
		}
		return 1e9 / link.BandwidthBps
	}
	if link.LatencyMs <= 0 {
		return 1e-6
	}
	return link.LatencyMs
}

func (f *RoutingFabric) linkUsable(link *Link) bool {
	return link.Up() && f.up(link.A) && f.up(link.B)
}

// GetRoute returns the ordered path from src to dst, inclusive of both
// endpoints, or ErrNoRoute if no usable path exists under the current
// strategy's view of the topology.
func (f *RoutingFabric) GetRoute(src, dst NodeID) ([]NodeID, error) {
	if src == dst {
		return []NodeID{src}, nil
	}
	if !f.up(src) || !f.up(dst) {
		return nil, newErr(ErrNoRoute, "node %s or %s is offline", src, dst)
	}
	if f.cfg.Strategy == "distance-vector" {
		return f.routeDV(src, dst)
	}
	return f.routeLinkState(src, dst)
}

func (f *RoutingFabric) routeLinkState(src, dst NodeID) ([]NodeID, error) {
	g := simple.NewWeightedUndirectedGraph(0, infiniteCost)
	for id := range f.nodes {
		if f.up(id) {
			g.AddNode(simple.Node(f.idOf[id]))
		}
	}
	for _, link := range f.links {
		if !f.linkUsable(link) {
			continue
		}
		a, okA := f.idOf[link.A]
		b, okB := f.idOf[link.B]
		if !okA || !okB {
			continue
		}
		g.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(a), T: simple.Node(b), W: f.weight(link)})
	}
	srcID, ok := f.idOf[src]
	if !ok {
		return nil, newErr(ErrNoRoute, "unknown node %s", src)
	}
	dstID, ok := f.idOf[dst]
	if !ok {
		return nil, newErr(ErrNoRoute, "unknown node %s", dst)
	}
	shortest := path.DijkstraFrom(simple.Node(srcID), g)
	nodes, _ := shortest.To(dstID)
	if len(nodes) == 0 {
		return nil, newErr(ErrNoRoute, "no path from %s to %s", src, dst)
	}
	idToNode := make(map[int64]NodeID, len(f.idOf))
	for id, idx := range f.idOf {
		idToNode[idx] = id
	}
	out := make([]NodeID, len(nodes))
	for i, n := range nodes {
		out[i] = idToNode[n.ID()]
	}
	return out, nil
}

func (f *RoutingFabric) routeDV(src, dst NodeID) ([]NodeID, error) {
	route := []NodeID{src}
	current := src
	seen := map[NodeID]bool{src: true}
	for current != dst {
		table, ok := f.dv[current]
		if !ok {
			return nil, newErr(ErrNoRoute, "no route from %s to %s", src, dst)
		}
		entry, ok := table[dst]
		if !ok || entry.Cost >= infiniteCost || entry.NextHop == "" {
			return nil, newErr(ErrNoRoute, "no route from %s to %s", src, dst)
		}
		if !f.up(entry.NextHop) {
			return nil, newErr(ErrNoRoute, "next hop %s toward %s is offline", entry.NextHop, dst)
		}
		current = entry.NextHop
		if seen[current] {
			return nil, newErr(ErrNoRoute, "distance-vector loop detected routing %s to %s", src, dst)
		}
		seen[current] = true
		route = append(route, current)
	}
	return route, nil
}

// ensureDVLoop schedules the recurring distance-vector exchange round if
// one is not already pending.
func (f *RoutingFabric) ensureDVLoop() {
	if f.dvRunning {
		return
	}
	f.dvRunning = true
	f.scheduleDVRound()
}

func (f *RoutingFabric) scheduleDVRound() {
	interval := f.cfg.DVInterval
	if interval <= 0 {
		interval = DefaultRoutingConfig().DVInterval
	}
	f.sched.ScheduleIn(interval, priorityDVRound, func(sched *Scheduler) {
		f.runDVRound()
		f.scheduleDVRound()
	})
}

// runDVRound performs one synchronous Bellman-Ford relaxation round across
// every known node, advertising each node's table to its neighbors with
// split-horizon poisoned-reverse: a route is advertised back toward the
// neighbor that is its own next hop as cost infinity, preventing count-to-
// infinity loops.
func (f *RoutingFabric) runDVRound() {
	ids := make([]NodeID, 0, len(f.nodes))
	for id := range f.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	linkKeys := make([][2]NodeID, 0, len(f.links))
	for k := range f.links {
		linkKeys = append(linkKeys, k)
	}
	sort.Slice(linkKeys, func(i, j int) bool {
		if linkKeys[i][0] != linkKeys[j][0] {
			return linkKeys[i][0] < linkKeys[j][0]
		}
		return linkKeys[i][1] < linkKeys[j][1]
	})

	next := make(map[NodeID]map[NodeID]dvEntry, len(f.nodes))
	for _, id := range ids {
		next[id] = map[NodeID]dvEntry{id: {Cost: 0, NextHop: id}}
	}
	// Both id and link iteration are sorted so that, across repeated runs
	// with identical topology, equal-cost ties always resolve to the same
	// next hop (§8 invariant 4).
	for _, id := range ids {
		if !f.up(id) {
			continue
		}
		for _, key := range linkKeys {
			link := f.links[key]
			if !link.Has(id) || !f.linkUsable(link) {
				continue
			}
			neighbor := link.Other(id)
			cost := f.weight(link)
			table := f.dv[id]
			dests := make([]NodeID, 0, len(table))
			for dest := range table {
				dests = append(dests, dest)
			}
			sort.Slice(dests, func(i, j int) bool { return dests[i] < dests[j] })
			for _, dest := range dests {
				entry := table[dest]
				advertised := entry.Cost
				if entry.NextHop == neighbor {
					advertised = infiniteCost // poisoned reverse
				}
				total := advertised + cost
				if total >= infiniteCost {
					continue
				}
				existing, ok := next[neighbor][dest]
				if !ok || total < existing.Cost {
					next[neighbor][dest] = dvEntry{Cost: total, NextHop: id}
				}
			}
		}
	}
	f.dv = next
}

// priorityDVRound orders distance-vector exchange rounds after disk/OS
// events scheduled at the same simulated time, since DV convergence is
// allowed to lag real topology changes by design.
const priorityDVRound = 3
