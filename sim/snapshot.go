package sim

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SnapshotVersion is bumped whenever Snapshot's on-disk shape changes, so
// UnmarshalSnapshot can reject a blob it no longer knows how to read.
const SnapshotVersion = 1

// ChunkSnapshot is one committed chunk, as captured by Snapshot.
type ChunkSnapshot struct {
	FileID      string  `yaml:"file_id"`
	ChunkID     int     `yaml:"chunk_id"`
	Length      int64   `yaml:"length"`
	Checksum    uint32  `yaml:"checksum"`
	Corrupt     bool    `yaml:"corrupt"`
	CommittedAt float64 `yaml:"committed_at"`
}

// NodeSnapshot is one StorageNode's full state, as captured by Snapshot.
type NodeSnapshot struct {
	ID     string     `yaml:"id"`
	Zone   string     `yaml:"zone"`
	IP     string     `yaml:"ip"`
	Online bool       `yaml:"online"`
	Disk   DiskConfig `yaml:"disk"`
	OS     OSConfig   `yaml:"os"`
	Chunks []ChunkSnapshot `yaml:"chunks"`
}

// LinkSnapshot is one Link's state, as captured by Snapshot.
type LinkSnapshot struct {
	A            string  `yaml:"a"`
	B            string  `yaml:"b"`
	BandwidthBps float64 `yaml:"bandwidth_bps"`
	LatencyMs    float64 `yaml:"latency_ms"`
	Up           bool    `yaml:"up"`
}

// ClusterSnapshot is one ReplicaCluster's membership, as captured by
// Snapshot.
type ClusterSnapshot struct {
	Root       string   `yaml:"root"`
	Members    []string `yaml:"members"`
	TargetSize int      `yaml:"target_size"`
}

// Snapshot is a self-describing, versioned capture of a Controller's full
// observable state: every node's disk contents and resource limits, every
// link, every replica cluster's membership, simulated time, and a tail of
// the event log. Grounded on original_source/CloudSim/controller.py's
// _snapshot_state/_restore_state (§6, §12).
type Snapshot struct {
	Version  int               `yaml:"version"`
	Seed     int64             `yaml:"seed"`
	Now      float64           `yaml:"now"`
	Routing  RoutingConfig     `yaml:"routing"`
	Scaling  ScalingConfig     `yaml:"scaling"`
	Transfer TransferConfig    `yaml:"transfer"`
	Nodes    []NodeSnapshot    `yaml:"nodes"`
	Links    []LinkSnapshot    `yaml:"links"`
	Clusters []ClusterSnapshot `yaml:"clusters"`
	Events   []EventLogEntry   `yaml:"events"`
}

// Snapshot captures the controller's full current state. In-flight
// Transfers and VirtualOS processes are intentionally not captured (§4.2
// Non-goals): a restored controller has a clean slate of pending work, with
// every node's committed disk contents intact.
func (c *Controller) Snapshot() *Snapshot {
	snap := &Snapshot{
		Version:  SnapshotVersion,
		Seed:     int64(c.rng.Key()),
		Now:      c.sched.Now(),
		Routing:  c.routing.cfg,
		Scaling:  c.cluster.cfg,
		Transfer: c.transferCfg,
		Events:   c.Events(0),
	}
	for id, node := range c.nodes {
		ns := NodeSnapshot{
			ID:     string(id),
			Zone:   node.Zone,
			IP:     node.IP,
			Online: node.Online(),
			Disk:   DiskConfig{CapacityBytes: node.Disk.Capacity()},
			OS:     OSConfig{RAMBytes: node.OS.ramBytes, CPUCores: node.OS.cpuCores},
		}
		for fileID, chunks := range node.Disk.AllChunks() {
			for _, rec := range chunks {
				ns.Chunks = append(ns.Chunks, ChunkSnapshot{
					FileID: fileID, ChunkID: rec.ChunkID, Length: rec.Length,
					Checksum: rec.Checksum, Corrupt: rec.Corrupt, CommittedAt: rec.CommittedAt,
				})
			}
		}
		snap.Nodes = append(snap.Nodes, ns)
	}
	for _, link := range c.links {
		snap.Links = append(snap.Links, LinkSnapshot{
			A: string(link.A), B: string(link.B),
			BandwidthBps: link.BandwidthBps, LatencyMs: link.LatencyMs, Up: link.Up(),
		})
	}
	for root, cluster := range c.cluster.clusters {
		cs := ClusterSnapshot{Root: string(root), TargetSize: cluster.TargetSize}
		for m := range cluster.Members {
			cs.Members = append(cs.Members, string(m))
		}
		snap.Clusters = append(snap.Clusters, cs)
	}
	return snap
}

// Marshal renders the snapshot as YAML.
func (s *Snapshot) Marshal() ([]byte, error) { return yaml.Marshal(s) }

// UnmarshalSnapshot parses a YAML-encoded Snapshot.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return nil, newErr(ErrInvalidArgument, "unsupported snapshot version %d (want %d)", s.Version, SnapshotVersion)
	}
	return &s, nil
}

// Restore rebuilds a fresh Controller from a Snapshot: a new node/link
// topology, disk contents replayed via RestoreChunk, and cluster
// membership, all at the snapshot's simulated time. In-flight transfers are
// not replayed — restore always starts from a quiescent network.
func Restore(snap *Snapshot, routingCfg RoutingConfig) (*Controller, error) {
	c := NewController(snap.Seed, routingCfg, snap.Scaling, snap.Transfer)
	for _, ns := range snap.Nodes {
		// addNode, not AddNode: cluster membership is installed explicitly
		// from snap.Clusters below, once every node's chunks are back in
		// place, rather than by FormDefaultCluster's backfill racing ahead
		// of restored disk contents.
		if err := c.addNode(NodeID(ns.ID), ns.Zone, ns.Disk, ns.OS); err != nil {
			return nil, err
		}
		node := c.nodes[NodeID(ns.ID)]
		node.IP = ns.IP
		c.routing.nodeIPs[NodeID(ns.ID)] = ns.IP
		for _, cs := range ns.Chunks {
			node.Disk.RestoreChunk(ChunkRecord{
				FileID: cs.FileID, ChunkID: cs.ChunkID, Length: cs.Length,
				Checksum: cs.Checksum, Corrupt: cs.Corrupt, CommittedAt: cs.CommittedAt,
			})
		}
		if !ns.Online {
			node.Fail()
		}
	}
	for _, ls := range snap.Links {
		bandwidth := fmt.Sprintf("%.0fbps", ls.BandwidthBps)
		if err := c.Connect(NodeID(ls.A), NodeID(ls.B), bandwidth, ls.LatencyMs); err != nil {
			return nil, err
		}
		if !ls.Up {
			c.FailLink(NodeID(ls.A), NodeID(ls.B))
		}
	}
	for _, cs := range snap.Clusters {
		root := NodeID(cs.Root)
		cluster := &ReplicaCluster{Root: root, Members: map[NodeID]bool{}, TargetSize: cs.TargetSize}
		for _, m := range cs.Members {
			member := NodeID(m)
			cluster.Members[member] = true
			c.cluster.memberOf[member] = root
			c.cluster.removeFromAvailable(member)
		}
		c.cluster.clusters[root] = cluster
		c.cluster.clusterOrder = append(c.cluster.clusterOrder, root)
	}
	c.sched.advanceClockForRestore(snap.Now)
	c.eventLog = append(c.eventLog, snap.Events...)
	return c, nil
}
