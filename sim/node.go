package sim

// StorageNode is one member of the simulated fabric: a VirtualDisk and a
// VirtualOS behind an IP address, plus the bookkeeping ClusterManager needs
// to treat it as a replica-cluster member. Grounded on
// original_source/CloudSim/storage_virtual_node.py's composition of a disk
// and an OS behind one addressable node (§3, §4.3).
type StorageNode struct {
	ID   NodeID
	Zone string
	IP   string

	Disk *VirtualDisk
	OS   *VirtualOS

	online bool

	neighbors map[NodeID]*Link

	// Replica-cluster fields (§4.6). ClusterManager keeps cluster membership
	// in its own tables (see ClusterManager.RootOf) and, of these fields,
	// maintains only replicaChildren, on a cluster's root; it does not set
	// ClusterRoot or ReplicaParent, which stay "" unless a caller sets them.
	ClusterRoot     NodeID
	ReplicaParent   NodeID
	replicaChildren map[NodeID]bool
}

// NewStorageNode constructs a StorageNode with its own VirtualDisk and
// VirtualOS, both online.
func NewStorageNode(sched *Scheduler, id NodeID, zone, ip string, diskCfg DiskConfig, osCfg OSConfig) *StorageNode {
	return &StorageNode{
		ID:              id,
		Zone:            zone,
		IP:              ip,
		Disk:            NewVirtualDisk(sched, id, diskCfg),
		OS:              NewVirtualOS(sched, id, osCfg),
		online:          true,
		neighbors:       make(map[NodeID]*Link),
		replicaChildren: make(map[NodeID]bool),
	}
}

// Online reports whether the node is reachable. A failed node's Disk and OS
// are also marked offline, so new operations against either fail
// node_offline/disk_offline immediately, and a disk commit or read already
// scheduled fails disk_offline when its event runs (§4.7 edge case).
func (n *StorageNode) Online() bool { return n.online }

// Fail marks the node (and its Disk/OS) offline, per ControllerAPI.FailNode.
func (n *StorageNode) Fail() {
	n.online = false
	n.Disk.SetOnline(false)
	n.OS.SetOnline(false)
}

// Restore marks the node (and its Disk/OS) back online.
func (n *StorageNode) Restore() {
	n.online = true
	n.Disk.SetOnline(true)
	n.OS.SetOnline(true)
}

// AddNeighbor records link as adjacent to this node, keyed by the neighbor
// at its other endpoint.
func (n *StorageNode) AddNeighbor(link *Link) {
	neighbor := link.Other(n.ID)
	if neighbor == "" {
		return
	}
	n.neighbors[neighbor] = link
}

// RemoveNeighbor drops the adjacency to neighbor, e.g. on link removal.
func (n *StorageNode) RemoveNeighbor(neighbor NodeID) {
	delete(n.neighbors, neighbor)
}

// LinkTo returns the Link to neighbor, or nil if the two nodes are not
// directly connected.
func (n *StorageNode) LinkTo(neighbor NodeID) *Link { return n.neighbors[neighbor] }

// Neighbors returns the IDs of directly connected nodes.
func (n *StorageNode) Neighbors() []NodeID {
	out := make([]NodeID, 0, len(n.neighbors))
	for id := range n.neighbors {
		out = append(out, id)
	}
	return out
}

// ReplicaChildren returns the IDs of nodes this node fans replicas out to.
func (n *StorageNode) ReplicaChildren() []NodeID {
	out := make([]NodeID, 0, len(n.replicaChildren))
	for id := range n.replicaChildren {
		out = append(out, id)
	}
	return out
}

// AddReplicaChild records child as a fan-out target of this node's cluster.
func (n *StorageNode) AddReplicaChild(child NodeID) { n.replicaChildren[child] = true }

// RemoveReplicaChild drops child from this node's fan-out set.
func (n *StorageNode) RemoveReplicaChild(child NodeID) { delete(n.replicaChildren, child) }

// StorageUtilization returns the fraction of disk capacity currently
// committed or reserved, consulted by ClusterManager's demand-scaling
// policy.
func (n *StorageNode) StorageUtilization() float64 {
	if n.Disk.Capacity() == 0 {
		return 0
	}
	return float64(n.Disk.CommittedBytes()+n.Disk.ReservedBytes()) / float64(n.Disk.Capacity())
}
