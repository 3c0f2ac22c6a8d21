package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// EventLogEntry is one line of the Controller's bounded telemetry history,
// surfaced by Events(tail).
type EventLogEntry struct {
	Time    float64
	Message string
}

// NodeInfo is Inspect's summary of one StorageNode.
type NodeInfo struct {
	ID                 NodeID
	Zone               string
	IP                 string
	Online             bool
	StorageUtilization float64
	RAMUtilization     float64
	DiskInflight       float64
	NICInflight        float64
	ProcessFailures    int
	Neighbors          []NodeID
	ClusterRoot        NodeID
}

// Telemetry is Controller.Telemetry's cluster-wide summary.
type Telemetry struct {
	Now            float64
	NodeCount      int
	OnlineNodes    int
	LinkCount      int
	ActiveTransfers int
	ClusterCount   int
}

// Controller is CloudSim's public surface (§4.7): the single entry point
// through which a driver program or test harness builds a topology,
// injects faults, starts transfers, and advances simulated time. Grounded
// on original_source/CloudSim/controller.py's Controller class, which plays
// the identical "owns everything, exposes one flat API" role.
type Controller struct {
	sched *Scheduler

	nodes map[NodeID]*StorageNode
	links map[[2]NodeID]*Link

	routing  *RoutingFabric
	transfer *TransferEngine
	cluster  *ClusterManager

	rng *PartitionedRNG

	diskDefaults DiskConfig
	osDefaults   OSConfig
	transferCfg  TransferConfig

	eventLog    []EventLogEntry
	eventLogCap int
}

// NewController constructs an empty Controller ready to receive AddNode/
// Connect calls, or LoadTopology.
func NewController(seed int64, routingCfg RoutingConfig, scalingCfg ScalingConfig, transferCfg TransferConfig) *Controller {
	sched := NewScheduler()
	nodes := make(map[NodeID]*StorageNode)
	c := &Controller{
		sched:        sched,
		nodes:        nodes,
		links:        make(map[[2]NodeID]*Link),
		diskDefaults: DefaultDiskConfig(),
		osDefaults:   DefaultOSConfig(),
		transferCfg:  transferCfg,
		rng:          NewPartitionedRNG(NewSimulationKey(seed)),
		eventLogCap:  1000,
	}
	c.routing = NewRoutingFabric(sched, routingCfg, c.isNodeUp)
	c.transfer = NewTransferEngine(sched, nodes, c.routing, transferCfg, func(t *Transfer, err error) {
		if err != nil {
			c.logEvent("transfer %s failed: %v", t.ID, err)
			return
		}
		c.logEvent("transfer %s completed (%s -> %s, %d bytes)", t.ID, t.Source, t.Dest, t.TotalBytes)
		if !t.IsReplica {
			c.cluster.OnFileWritten(t.FileID, t.Dest)
		}
	})
	c.cluster = NewClusterManager(sched, nodes, c.transfer, scalingCfg, transferCfg.ReplicaPriorityTier)
	return c
}

func (c *Controller) isNodeUp(id NodeID) bool {
	n, ok := c.nodes[id]
	return ok && n.Online()
}

func (c *Controller) logEvent(format string, args ...any) {
	entry := EventLogEntry{Time: c.sched.Now(), Message: fmt.Sprintf(format, args...)}
	c.eventLog = append(c.eventLog, entry)
	if len(c.eventLog) > c.eventLogCap {
		c.eventLog = c.eventLog[len(c.eventLog)-c.eventLogCap:]
	}
	logrus.Debug(entry.Message)
}

// AddNode creates a new StorageNode and gives it a home ReplicaCluster via
// ClusterManager.FormDefaultCluster (§4.6): it joins a cluster with room (at
// once if that cluster's root holds no committed files, otherwise once the
// root's files have been replicated to it) or roots a new one. An empty zone is auto-assigned from a small fixed pool using
// the controller's seeded RNG, per SPEC_FULL.md §12.
func (c *Controller) AddNode(id NodeID, zone string, diskCfg DiskConfig, osCfg OSConfig) error {
	if err := c.addNode(id, zone, diskCfg, osCfg); err != nil {
		return err
	}
	c.cluster.FormDefaultCluster(id)
	return nil
}

// addNode creates the StorageNode and wires it into routing without forming
// a cluster, so Restore can rebuild its own node set and then install cluster
// membership straight from the snapshot instead of racing FormDefaultCluster's
// backfill against not-yet-restored disk contents.
func (c *Controller) addNode(id NodeID, zone string, diskCfg DiskConfig, osCfg OSConfig) error {
	if id == "" {
		return newErr(ErrInvalidArgument, "node id must not be empty")
	}
	if _, exists := c.nodes[id]; exists {
		return newErr(ErrDuplicateNode, "node %s already exists", id)
	}
	if diskCfg.CapacityBytes == 0 {
		diskCfg = c.diskDefaults
	}
	if osCfg.RAMBytes == 0 {
		osCfg = c.osDefaults
	}
	if zone == "" {
		zone = autoZone(c.rng.ForSubsystem(SubsystemZone))
	}
	ip := c.routing.AllocateIP(id)
	node := NewStorageNode(c.sched, id, zone, ip, diskCfg, osCfg)
	c.nodes[id] = node
	c.routing.AddNode(id)
	c.cluster.OnNodeAdded(id)
	c.logEvent("node %s added (zone=%s ip=%s)", id, zone, ip)
	return nil
}

// RemoveNode removes id and every link touching it.
func (c *Controller) RemoveNode(id NodeID) error {
	node, ok := c.nodes[id]
	if !ok {
		return newErr(ErrUnknownNode, "unknown node %s", id)
	}
	for _, neighbor := range node.Neighbors() {
		c.Disconnect(id, neighbor)
	}
	c.routing.RemoveNode(id)
	c.cluster.OnNodeRemoved(id)
	delete(c.nodes, id)
	c.logEvent("node %s removed", id)
	return nil
}

// Connect creates a Link between a and b. An empty bandwidth spec triggers
// the zone-aware auto link profile (SPEC_FULL.md §12): same-zone links get
// a high-bandwidth, low-latency profile; cross-zone links get a lower one,
// both jittered by the controller's seeded RNG so repeated runs agree.
func (c *Controller) Connect(a, b NodeID, bandwidth string, latencyMs float64) error {
	nodeA, ok := c.nodes[a]
	if !ok {
		return newErr(ErrUnknownNode, "unknown node %s", a)
	}
	nodeB, ok := c.nodes[b]
	if !ok {
		return newErr(ErrUnknownNode, "unknown node %s", b)
	}
	key := linkKey(a, b)
	if _, exists := c.links[key]; exists {
		return newErr(ErrInvalidArgument, "link %s-%s already exists", a, b)
	}
	var bps float64
	var err error
	if bandwidth == "" {
		bps, latencyMs = autoLinkProfile(nodeA.Zone, nodeB.Zone, c.rng.ForSubsystem(SubsystemLinkProfile))
	} else {
		bps, err = ParseBandwidth(bandwidth)
		if err != nil {
			return err
		}
	}
	link := NewLink(a, b, bps, latencyMs)
	c.links[key] = link
	nodeA.AddNeighbor(link)
	nodeB.AddNeighbor(link)
	c.routing.AddLink(link)
	c.logEvent("link %s-%s connected (%.0fbps, %.2fms)", a, b, bps, latencyMs)
	return nil
}

// Disconnect removes the link between a and b, if any.
func (c *Controller) Disconnect(a, b NodeID) error {
	key := linkKey(a, b)
	if _, ok := c.links[key]; !ok {
		return newErr(ErrInvalidArgument, "no link between %s and %s", a, b)
	}
	if nodeA, ok := c.nodes[a]; ok {
		nodeA.RemoveNeighbor(b)
	}
	if nodeB, ok := c.nodes[b]; ok {
		nodeB.RemoveNeighbor(a)
	}
	c.routing.RemoveLink(a, b)
	delete(c.links, key)
	c.logEvent("link %s-%s disconnected", a, b)
	return nil
}

// FailNode marks a node offline and fails the transfers that involve it (see
// TransferEngine.OnNodeDown); transfers are not rerouted around it.
func (c *Controller) FailNode(id NodeID) error {
	node, ok := c.nodes[id]
	if !ok {
		return newErr(ErrUnknownNode, "unknown node %s", id)
	}
	node.Fail()
	c.transfer.OnNodeDown(id)
	c.logEvent("node %s failed", id)
	return nil
}

// RestoreNode marks a previously failed node back online.
func (c *Controller) RestoreNode(id NodeID) error {
	node, ok := c.nodes[id]
	if !ok {
		return newErr(ErrUnknownNode, "unknown node %s", id)
	}
	node.Restore()
	c.logEvent("node %s restored", id)
	return nil
}

// FailLink marks the a-b link down, failing over or failing any flows
// crossing it.
func (c *Controller) FailLink(a, b NodeID) error {
	key := linkKey(a, b)
	link, ok := c.links[key]
	if !ok {
		return newErr(ErrInvalidArgument, "no link between %s and %s", a, b)
	}
	link.SetUp(false)
	c.transfer.OnLinkDown(a, b)
	c.logEvent("link %s-%s failed", a, b)
	return nil
}

// RestoreLink marks a previously failed link back up.
func (c *Controller) RestoreLink(a, b NodeID) error {
	key := linkKey(a, b)
	link, ok := c.links[key]
	if !ok {
		return newErr(ErrInvalidArgument, "no link between %s and %s", a, b)
	}
	link.SetUp(true)
	c.logEvent("link %s-%s restored", a, b)
	return nil
}

// InitiateFileTransfer moves bytes of fileID from source to dest.
func (c *Controller) InitiateFileTransfer(fileID string, source, dest NodeID, bytes int64) (TransferID, error) {
	id, err := c.transfer.StartTransfer(fileID, source, dest, bytes, 0, nil)
	if err == nil {
		c.logEvent("transfer %s started (%s -> %s, %d bytes)", id, source, dest, bytes)
	}
	return id, err
}

// Abort cancels an in-progress transfer, per §5's transfer-level operation
// set.
func (c *Controller) Abort(id TransferID) error {
	if err := c.transfer.Abort(id); err != nil {
		return err
	}
	c.logEvent("transfer %s aborted", id)
	return nil
}

// Push is InitiateFileTransfer under the name a caller uses when it already
// holds fileID locally and is sending it out (SPEC_FULL.md §12).
func (c *Controller) Push(fileID string, from, to NodeID, bytes int64) (TransferID, error) {
	return c.InitiateFileTransfer(fileID, from, to, bytes)
}

// Fetch is InitiateFileTransfer under the name a caller uses when it wants
// fileID pulled in from a remote node. If from and to are the same node the
// fetch is satisfied locally with no network transfer.
func (c *Controller) Fetch(fileID string, from, to NodeID, bytes int64) (TransferID, error) {
	if from == to {
		c.logEvent("fetch %s satisfied locally on %s", fileID, to)
		return "", nil
	}
	return c.InitiateFileTransfer(fileID, from, to, bytes)
}

// InitiateReplicaTransfer replicates fileID from owner to target, preserving
// owner's recorded chunk lengths and checksums (§4.6, original_source
// controller.py's initiate_replica_transfer(owner, target, file_id)).
func (c *Controller) InitiateReplicaTransfer(owner, target NodeID, fileID string) (TransferID, error) {
	id, err := c.transfer.StartFileReplication(fileID, owner, target, c.transferCfg.ReplicaPriorityTier, nil)
	if err == nil {
		c.logEvent("replica transfer %s started (%s -> %s, file %s)", id, owner, target, fileID)
	}
	return id, err
}

// Inspect summarizes one node's current state.
func (c *Controller) Inspect(id NodeID) (NodeInfo, error) {
	node, ok := c.nodes[id]
	if !ok {
		return NodeInfo{}, newErr(ErrUnknownNode, "unknown node %s", id)
	}
	root, _ := c.cluster.RootOf(id)
	return NodeInfo{
		ID:                 node.ID,
		Zone:               node.Zone,
		IP:                 node.IP,
		Online:             node.Online(),
		StorageUtilization: node.StorageUtilization(),
		RAMUtilization:     node.OS.RAMUtilization(),
		DiskInflight:       node.OS.DeviceUtilization("disk"),
		NICInflight:        node.OS.DeviceUtilization("nic"),
		ProcessFailures:    node.OS.ProcessFailures(),
		Neighbors:          node.Neighbors(),
		ClusterRoot:        root,
	}, nil
}

// Telemetry returns a cluster-wide snapshot of aggregate counters.
func (c *Controller) Telemetry() Telemetry {
	online := 0
	for _, n := range c.nodes {
		if n.Online() {
			online++
		}
	}
	active := 0
	for _, t := range c.transfer.transfers {
		if t.State == TransferActive {
			active++
		}
	}
	return Telemetry{
		Now:             c.sched.Now(),
		NodeCount:       len(c.nodes),
		OnlineNodes:     online,
		LinkCount:       len(c.links),
		ActiveTransfers: active,
		ClusterCount:    len(c.cluster.clusters),
	}
}

// Events returns the last n logged events (or all of them if n <= 0 or
// fewer are available).
func (c *Controller) Events(n int) []EventLogEntry {
	if n <= 0 || n > len(c.eventLog) {
		return append([]EventLogEntry{}, c.eventLog...)
	}
	return append([]EventLogEntry{}, c.eventLog[len(c.eventLog)-n:]...)
}

// Step advances simulated time by seconds, running every event scheduled
// up to and including that horizon.
func (c *Controller) Step(seconds float64) error {
	if seconds < 0 {
		return newErr(ErrInvalidArgument, "step size must be non-negative, got %f", seconds)
	}
	until := c.sched.Now() + seconds
	c.sched.Run(&until, 0)
	if c.sched.Now() < until {
		c.sched.advanceClockForRestore(until)
	}
	return nil
}

// Now returns the controller's current simulated time.
func (c *Controller) Now() float64 { return c.sched.Now() }

// LoadTopology applies a TopologyBundle's nodes and links to an empty
// Controller, in the order they appear in the bundle.
func (c *Controller) LoadTopology(bundle *TopologyBundle) error {
	for _, n := range bundle.Nodes {
		diskCfg := c.diskDefaults
		if n.StorageBytes != "" {
			bytes, err := ParseBytes(n.StorageBytes)
			if err != nil {
				return err
			}
			diskCfg.CapacityBytes = bytes
		}
		osCfg := c.osDefaults
		if n.CPUCores > 0 {
			osCfg.CPUCores = n.CPUCores
		}
		if n.RAMBytes != "" {
			ram, err := ParseBytes(n.RAMBytes)
			if err != nil {
				return err
			}
			osCfg.RAMBytes = ram
		}
		if err := c.AddNode(NodeID(n.ID), n.Zone, diskCfg, osCfg); err != nil {
			return err
		}
	}
	for _, l := range bundle.Links {
		if err := c.Connect(NodeID(l.A), NodeID(l.B), l.Bandwidth, l.LatencyMs); err != nil {
			return err
		}
	}
	return nil
}

// zonePool is the fixed set of zone names auto-assignment draws from.
var zonePool = []string{"us-east", "us-west", "eu-west", "ap-south"}

func autoZone(r interface{ Int63() int64 }) string {
	return zonePool[int(r.Int63())%len(zonePool)]
}

// autoLinkProfile derives a deterministic bandwidth/latency pair for an
// unspecified link: same-zone links are fast LAN-class, cross-zone links
// are slower WAN-class, each jittered +/-10%.
func autoLinkProfile(zoneA, zoneB string, r interface {
	Int63() int64
	Float64() float64
}) (bps, latencyMs float64) {
	jitter := 0.9 + 0.2*r.Float64()
	if zoneA == zoneB {
		return 10e9 * jitter, 0.5 * jitter
	}
	return 1e9 * jitter, 20 * jitter
}
