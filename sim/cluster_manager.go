package sim

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// ReplicaCluster is a root node and the set of nodes currently holding a
// replica of its data, per §4.6.
type ReplicaCluster struct {
	Root       NodeID
	Members    map[NodeID]bool // includes Root
	TargetSize int
	Pending    int // replications in flight toward this cluster, not yet landed
}

// ClusterManager owns cluster formation on node creation, per-write fan-out,
// backfill after failure, and demand-driven scaling. It rides on top of
// TransferEngine (each replica lands via a chunk-preserving file
// replication, one Transfer per file) and VirtualOS (its periodic scaling
// evaluation is itself metered as a maintenance_hook syscall, per
// §4.3/§4.6). Grounded on the demand-scaling bookkeeping of
// original_source/CloudSim/controller.py's
// DemandScalingConfig/_maybe_scale_cluster (§12).
type ClusterManager struct {
	sched               *Scheduler
	nodes               map[NodeID]*StorageNode
	transfer            *TransferEngine
	cfg                 ScalingConfig
	replicaPriorityTier int

	clusters     map[NodeID]*ReplicaCluster // keyed by root
	clusterOrder []NodeID                   // root IDs in creation order, for deterministic selection
	memberOf     map[NodeID]NodeID          // node -> cluster root
	available    []NodeID                   // nodes not yet claimed by any cluster

	maintPending bool
}

// NewClusterManager constructs a ClusterManager.
func NewClusterManager(sched *Scheduler, nodes map[NodeID]*StorageNode, transfer *TransferEngine, cfg ScalingConfig, replicaPriorityTier int) *ClusterManager {
	if cfg == (ScalingConfig{}) {
		cfg = DefaultScalingConfig()
	}
	cm := &ClusterManager{
		sched:               sched,
		nodes:               nodes,
		transfer:            transfer,
		cfg:                 cfg,
		replicaPriorityTier: replicaPriorityTier,
		clusters:            make(map[NodeID]*ReplicaCluster),
		memberOf:            make(map[NodeID]NodeID),
	}
	if cfg.Enabled {
		cm.scheduleMaintenance()
	}
	return cm
}

// OnNodeAdded makes id available as a future replica target.
func (cm *ClusterManager) OnNodeAdded(id NodeID) {
	cm.available = append(cm.available, id)
}

// FormDefaultCluster gives id a home cluster, per §4.6 ("every
// StorageNode belongs to exactly one ReplicaCluster: a cluster of size R is
// formed on node creation; the first node is the root"). id joins the first
// existing cluster that is still below its target size (backfill consumes
// it from the available pool), or else becomes the root of a brand new
// cluster. A joining node is a member at once if the cluster's root holds no
// committed files; otherwise it becomes one only after the root's files have
// been replicated to it. Callers must invoke OnNodeAdded(id) first.
func (cm *ClusterManager) FormDefaultCluster(id NodeID) {
	for _, root := range cm.clusterOrder {
		cluster, ok := cm.clusters[root]
		if ok && len(cluster.Members)+cluster.Pending < cluster.TargetSize {
			cm.backfill(cluster)
			return
		}
	}
	cm.CreateCluster(id)
}

// OnNodeRemoved drops id from the available pool and, if it was a cluster
// root or member, triggers backfill.
func (cm *ClusterManager) OnNodeRemoved(id NodeID) {
	cm.removeFromAvailable(id)
	if cluster, ok := cm.clusters[id]; ok {
		cm.promoteNewRoot(cluster)
		return
	}
	if root, ok := cm.memberOf[id]; ok {
		cluster := cm.clusters[root]
		delete(cluster.Members, id)
		delete(cm.memberOf, id)
		if node, ok := cm.nodes[root]; ok {
			node.RemoveReplicaChild(id)
		}
		cm.backfill(cluster)
	}
}

func (cm *ClusterManager) removeFromAvailable(id NodeID) {
	out := cm.available[:0]
	for _, n := range cm.available {
		if n != id {
			out = append(out, n)
		}
	}
	cm.available = out
}

// CreateCluster establishes a new ReplicaCluster rooted at root, with a
// target size drawn from ScalingConfig.DefaultClusterSize, and begins
// fanning out to fill it from the available pool.
func (cm *ClusterManager) CreateCluster(root NodeID) error {
	if _, ok := cm.nodes[root]; !ok {
		return newErr(ErrUnknownNode, "unknown node %s", root)
	}
	if _, exists := cm.clusters[root]; exists {
		return newErr(ErrInvalidArgument, "node %s already roots a cluster", root)
	}
	target := cm.cfg.DefaultClusterSize
	if target <= 0 {
		target = DefaultScalingConfig().DefaultClusterSize
	}
	cluster := &ReplicaCluster{Root: root, Members: map[NodeID]bool{root: true}, TargetSize: target}
	cm.clusters[root] = cluster
	cm.clusterOrder = append(cm.clusterOrder, root)
	cm.memberOf[root] = root
	cm.removeFromAvailable(root)
	cm.backfill(cluster)
	return nil
}

// backfill initiates replication to enough nodes from the available pool to
// bring cluster up to its target size, up to ScalingConfig.MaxReplicasPerCluster,
// counting replications already in flight so concurrent AddNode calls never
// overcommit a cluster past its target.
func (cm *ClusterManager) backfill(cluster *ReplicaCluster) {
	max := cm.cfg.MaxReplicasPerCluster
	if max <= 0 {
		max = DefaultScalingConfig().MaxReplicasPerCluster
	}
	for len(cluster.Members)+cluster.Pending < cluster.TargetSize && len(cluster.Members) < max+1 && len(cm.available) > 0 {
		child := cm.available[0]
		cm.available = cm.available[1:]
		cluster.Pending++
		cm.replicate(cluster, child)
	}
}

// replicate syncs every file currently committed on cluster.Root to child,
// one chunk-preserving Transfer per file (§4.6 invariant 5), registering
// child as a member once they have all landed. A root with no committed
// files yet admits child immediately.
func (cm *ClusterManager) replicate(cluster *ReplicaCluster, child NodeID) {
	rootNode, ok := cm.nodes[cluster.Root]
	if !ok {
		cluster.Pending--
		return
	}
	files := rootNode.Disk.AllChunks()
	if len(files) == 0 {
		cluster.Pending--
		cm.admitMember(cluster, child)
		return
	}
	fileIDs := make([]string, 0, len(files))
	for fileID := range files {
		fileIDs = append(fileIDs, fileID)
	}
	sort.Strings(fileIDs)
	remaining := len(fileIDs)
	failed := false
	settle := func(err error) {
		remaining--
		if err != nil {
			failed = true
		}
		if remaining > 0 {
			return
		}
		cluster.Pending--
		if failed {
			cm.available = append(cm.available, child)
			cm.backfill(cluster)
			return
		}
		cm.admitMember(cluster, child)
	}
	for _, fileID := range fileIDs {
		cm.replicateFile(fileID, cluster.Root, child, settle)
	}
}

// admitMember registers child as a landed member of cluster.
func (cm *ClusterManager) admitMember(cluster *ReplicaCluster, child NodeID) {
	cluster.Members[child] = true
	cm.memberOf[child] = cluster.Root
	if rootNode, ok := cm.nodes[cluster.Root]; ok {
		rootNode.AddReplicaChild(child)
	}
}

// replicateFile starts a chunk-preserving replication of fileID from node
// from to node to, invoking onDone with the eventual result whether the
// Transfer starts asynchronously or fails to start at all.
func (cm *ClusterManager) replicateFile(fileID string, from, to NodeID, onDone func(error)) {
	_, err := cm.transfer.StartFileReplication(fileID, from, to, cm.replicaPriority(), onDone)
	if err != nil {
		logrus.Warnf("replication of %s from %s to %s could not start: %v", fileID, from, to, err)
		onDone(err)
	}
}

// OnFileWritten fans a just-completed user write of fileID on node out to
// every other healthy member of node's cluster, so each ends up holding
// fileID under the same file_id with matching per-chunk checksums (§4.6
// invariant 5, scenario S4). Called for every Transfer that is not itself a
// replication, so fan-out transfers never trigger further fan-out.
func (cm *ClusterManager) OnFileWritten(fileID string, node NodeID) {
	root, ok := cm.memberOf[node]
	if !ok {
		return
	}
	cluster, ok := cm.clusters[root]
	if !ok {
		return
	}
	members := make([]NodeID, 0, len(cluster.Members))
	for member := range cluster.Members {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	for _, member := range members {
		if member == node {
			continue
		}
		n, ok := cm.nodes[member]
		if !ok || !n.Online() {
			continue
		}
		cm.replicateFile(fileID, node, member, func(err error) {
			if err != nil {
				logrus.Warnf("post-write fan-out of %s from %s to %s failed: %v", fileID, node, member, err)
			}
		})
	}
}

func (cm *ClusterManager) replicaPriority() int { return cm.replicaPriorityTier }

// promoteNewRoot picks one surviving member to become the new root after
// the old root is removed, replicating onward from there. If no member
// survives, the cluster is disbanded.
func (cm *ClusterManager) promoteNewRoot(cluster *ReplicaCluster) {
	oldRoot := cluster.Root
	delete(cm.clusters, oldRoot)
	delete(cm.memberOf, oldRoot)
	candidates := make([]NodeID, 0, len(cluster.Members))
	for id := range cluster.Members {
		if id != oldRoot {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		cm.dropClusterOrder(oldRoot)
		return
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	newRoot := candidates[0]
	delete(cluster.Members, oldRoot)
	cluster.Root = newRoot
	cm.clusters[newRoot] = cluster
	for i, root := range cm.clusterOrder {
		if root == oldRoot {
			cm.clusterOrder[i] = newRoot
			break
		}
	}
	for id := range cluster.Members {
		cm.memberOf[id] = newRoot
	}
	cm.backfill(cluster)
}

func (cm *ClusterManager) dropClusterOrder(root NodeID) {
	out := cm.clusterOrder[:0]
	for _, r := range cm.clusterOrder {
		if r != root {
			out = append(out, r)
		}
	}
	cm.clusterOrder = out
}

// scaleReason deterministically reports which threshold a cluster's root
// has crossed, checked in the fixed order storage, bandwidth, OS failures,
// RAM (SPEC_FULL.md §13, Open Question 2), so two runs with identical
// metrics always report the same trigger.
func (cm *ClusterManager) scaleReason(root *StorageNode) string {
	if root.StorageUtilization() >= cm.cfg.StorageThreshold {
		return "storage"
	}
	if root.OS.DeviceUtilization("nic") >= cm.cfg.BandwidthThreshold {
		return "bandwidth"
	}
	if root.OS.ProcessFailures() >= cm.cfg.OSFailureThreshold {
		return "os_failures"
	}
	if root.OS.RAMUtilization() >= cm.cfg.MemoryUtilizationThreshold {
		return "ram"
	}
	return ""
}

// scheduleMaintenance schedules the recurring scaling-evaluation sweep.
func (cm *ClusterManager) scheduleMaintenance() {
	cm.sched.ScheduleIn(1.0, priorityMaintenance, cm.runMaintenance)
}

// runMaintenance evaluates every cluster's root against scaling thresholds,
// metering the evaluation itself through the root's VirtualOS as a
// maintenance_hook syscall, and reschedules itself.
func (cm *ClusterManager) runMaintenance(sched *Scheduler) {
	for root, cluster := range cm.clusters {
		node, ok := cm.nodes[root]
		if !ok || !node.Online() {
			continue
		}
		node.OS.MaintenanceHook(1, 0, func(done func(error)) { done(nil) }, func(error) {
			reason := cm.scaleReason(node)
			if reason != "" && len(cluster.Members) < cluster.TargetSize+1 && len(cm.available) > 0 {
				logrus.Infof("cluster rooted at %s scaling up (trigger: %s)", root, reason)
				cluster.TargetSize++
				cm.backfill(cluster)
			}
		})
	}
	cm.scheduleMaintenance()
}

// Cluster returns the ReplicaCluster rooted at root, if any.
func (cm *ClusterManager) Cluster(root NodeID) (*ReplicaCluster, bool) {
	c, ok := cm.clusters[root]
	return c, ok
}

// RootOf returns the cluster root that id belongs to, if any.
func (cm *ClusterManager) RootOf(id NodeID) (NodeID, bool) {
	r, ok := cm.memberOf[id]
	return r, ok
}

const priorityMaintenance = 4
