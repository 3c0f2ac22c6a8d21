package sim

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// TransferState is a Transfer's position in its state machine (§4.5).
type TransferState string

const (
	TransferPending   TransferState = "pending"
	TransferActive    TransferState = "active"
	TransferCompleted TransferState = "completed"
	TransferFailed    TransferState = "failed"
	TransferAborted   TransferState = "aborted"
)

// Transfer moves one file's bytes from Source to Dest across a multi-hop
// route, one chunk at a time, per §4.5.
type Transfer struct {
	ID         TransferID
	FileID     string
	Source     NodeID
	Dest       NodeID
	TotalBytes int64
	ChunkBytes int64
	NumChunks  int
	Priority   int
	State      TransferState
	IsReplica  bool

	route        []NodeID
	hopIndex     int // route[hopIndex] is the node the current chunk is departing from
	nextChunk    int
	resID        ReservationID
	onComplete   func(error)
	sourceChunks []ChunkRecord // set by StartFileReplication; preserves source length/checksum/chunk id
}

// flow is one chunk's progress across one link hop.
type flow struct {
	transfer       *Transfer
	link           *Link
	chunkIndex     int
	bytesRemaining int64
	priority       int
}

// TransferEngine drives every Transfer's chunk-by-chunk, hop-by-hop
// progress. Every tickInterval seconds it splits each link's bandwidth
// among the flows currently crossing it — strictly by priority tier, so a
// tier-0 flow starves any higher-numbered tier sharing its link, and
// equally within a tier — then advances each flow's progress and handles
// hop completions, chunk commits, and failover. Grounded on
// original_source/CloudSim/storage_virtual_network.py's ActiveChunk /
// _recalculate_link_share / _network_tick loop (§4.5, §12).
type TransferEngine struct {
	sched   *Scheduler
	nodes   map[NodeID]*StorageNode
	routing *RoutingFabric
	cfg     TransferConfig

	tickInterval float64
	linkFlows    map[[2]NodeID][]*flow
	transfers    map[TransferID]*Transfer
	nextID       uint64
	tickPending  bool

	onTransferDone func(*Transfer, error)
}

// NewTransferEngine constructs a TransferEngine bound to a node table and a
// RoutingFabric. onTransferDone, if non-nil, is invoked whenever a Transfer
// completes or fails, in addition to that Transfer's own completion
// callback; Abort does not invoke it. Controller uses it to log outcomes and
// to start ClusterManager fan-out after a completed write.
func NewTransferEngine(sched *Scheduler, nodes map[NodeID]*StorageNode, routing *RoutingFabric, cfg TransferConfig, onTransferDone func(*Transfer, error)) *TransferEngine {
	if cfg.ChunkMinBytes == 0 {
		cfg = DefaultTransferConfig()
	}
	return &TransferEngine{
		sched:          sched,
		nodes:          nodes,
		routing:        routing,
		cfg:            cfg,
		tickInterval:   0.05,
		linkFlows:      make(map[[2]NodeID][]*flow),
		transfers:      make(map[TransferID]*Transfer),
		onTransferDone: onTransferDone,
	}
}

// deriveChunkSize picks a chunk size for a transfer of totalBytes, targeting
// roughly 32 chunks and clamping to the configured [min,max] range.
func (e *TransferEngine) deriveChunkSize(totalBytes int64) int64 {
	target := totalBytes / 32
	if target < e.cfg.ChunkMinBytes {
		target = e.cfg.ChunkMinBytes
	}
	if target > e.cfg.ChunkMaxBytes {
		target = e.cfg.ChunkMaxBytes
	}
	if target <= 0 {
		target = e.cfg.ChunkMinBytes
	}
	return target
}

// StartTransfer begins moving totalBytes of fileID from source to dest.
// priority is the tier used for bandwidth arbitration (lower wins). Fails
// no_route if the fabric currently has no path, or no_space if dest cannot
// reserve totalBytes.
func (e *TransferEngine) StartTransfer(fileID string, source, dest NodeID, totalBytes int64, priority int, onComplete func(error)) (TransferID, error) {
	if totalBytes <= 0 {
		return "", newErr(ErrInvalidArgument, "transfer size must be positive, got %d", totalBytes)
	}
	srcNode, ok := e.nodes[source]
	if !ok {
		return "", newErr(ErrUnknownNode, "unknown node %s", source)
	}
	destNode, ok := e.nodes[dest]
	if !ok {
		return "", newErr(ErrUnknownNode, "unknown node %s", dest)
	}
	if !srcNode.Online() || !destNode.Online() {
		return "", newErr(ErrNodeOffline, "source or destination node is offline")
	}
	route, err := e.routing.GetRoute(source, dest)
	if err != nil {
		return "", err
	}
	resID, err := destNode.Disk.Reserve(fileID, totalBytes)
	if err != nil {
		return "", err
	}
	e.nextID++
	id := TransferID(fmt.Sprintf("xfer-%d", e.nextID))
	chunkSize := e.deriveChunkSize(totalBytes)
	numChunks := int((totalBytes + chunkSize - 1) / chunkSize)
	t := &Transfer{
		ID:         id,
		FileID:     fileID,
		Source:     source,
		Dest:       dest,
		TotalBytes: totalBytes,
		ChunkBytes: chunkSize,
		NumChunks:  numChunks,
		Priority:   priority,
		State:      TransferActive,
		route:      route,
		resID:      resID,
		onComplete: onComplete,
	}
	e.transfers[id] = t
	e.admitNextChunk(t)
	return id, nil
}

// StartFileReplication copies every chunk currently committed for fileID on
// source's disk to dest, preserving fileID and each chunk's original chunk
// ID, length and checksum rather than re-deriving them — so the destination
// ends up holding a byte-identical replica under the same file_id (§4.6
// invariant 5). Fails invalid_argument if source holds no chunks for fileID.
func (e *TransferEngine) StartFileReplication(fileID string, source, dest NodeID, priority int, onComplete func(error)) (TransferID, error) {
	srcNode, ok := e.nodes[source]
	if !ok {
		return "", newErr(ErrUnknownNode, "unknown node %s", source)
	}
	destNode, ok := e.nodes[dest]
	if !ok {
		return "", newErr(ErrUnknownNode, "unknown node %s", dest)
	}
	if !srcNode.Online() || !destNode.Online() {
		return "", newErr(ErrNodeOffline, "source or destination node is offline")
	}
	chunks := srcNode.Disk.Chunks(fileID)
	if len(chunks) == 0 {
		return "", newErr(ErrInvalidArgument, "node %s holds no chunks for file %q", source, fileID)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkID < chunks[j].ChunkID })
	var totalBytes int64
	for _, c := range chunks {
		totalBytes += c.Length
	}
	route, err := e.routing.GetRoute(source, dest)
	if err != nil {
		return "", err
	}
	resID, err := destNode.Disk.Reserve(fileID, totalBytes)
	if err != nil {
		return "", err
	}
	e.nextID++
	id := TransferID(fmt.Sprintf("xfer-%d", e.nextID))
	t := &Transfer{
		ID:           id,
		FileID:       fileID,
		Source:       source,
		Dest:         dest,
		TotalBytes:   totalBytes,
		NumChunks:    len(chunks),
		Priority:     priority,
		State:        TransferActive,
		IsReplica:    true,
		route:        route,
		resID:        resID,
		onComplete:   onComplete,
		sourceChunks: chunks,
	}
	e.transfers[id] = t
	e.admitNextChunk(t)
	return id, nil
}

// chunkLength returns the byte length of chunkIndex, which may be shorter
// than ChunkBytes for the final chunk. Replications (sourceChunks != nil)
// use the source's own recorded chunk lengths instead.
func (t *Transfer) chunkLength(chunkIndex int) int64 {
	if t.sourceChunks != nil {
		return t.sourceChunks[chunkIndex].Length
	}
	remaining := t.TotalBytes - int64(chunkIndex)*t.ChunkBytes
	if remaining < t.ChunkBytes {
		return remaining
	}
	return t.ChunkBytes
}

// admitNextChunk starts the next undelivered chunk crossing the first hop
// of the transfer's current route, or finishes the transfer if all chunks
// have committed.
func (e *TransferEngine) admitNextChunk(t *Transfer) {
	if t.nextChunk >= t.NumChunks {
		e.finish(t, nil)
		return
	}
	if len(t.route) < 2 {
		e.finish(t, newErr(ErrNoRoute, "transfer %s has no remaining hops", t.ID))
		return
	}
	t.hopIndex = 0
	length := t.chunkLength(t.nextChunk)
	e.pushFlow(t, t.nextChunk, length, t.route[0], t.route[1])
}

// pushFlow adds a new flow for chunkIndex crossing the link a-b.
func (e *TransferEngine) pushFlow(t *Transfer, chunkIndex int, bytesRemaining int64, a, b NodeID) {
	node, ok := e.nodes[a]
	if !ok {
		e.finish(t, newErr(ErrUnknownNode, "unknown node %s", a))
		return
	}
	link := node.LinkTo(b)
	if link == nil || !link.Up() {
		e.reroute(t, a)
		return
	}
	f := &flow{transfer: t, link: link, chunkIndex: chunkIndex, bytesRemaining: bytesRemaining, priority: t.Priority}
	key := linkKey(a, b)
	e.linkFlows[key] = append(e.linkFlows[key], f)
	e.ensureTick()
}

// ensureTick schedules the recurring network tick if not already pending.
func (e *TransferEngine) ensureTick() {
	if e.tickPending {
		return
	}
	e.tickPending = true
	e.sched.ScheduleIn(e.tickInterval, priorityTransferTick, e.tick)
}

// tick advances every active flow by one tick's worth of fairly shared
// bandwidth, then processes any hop completions.
func (e *TransferEngine) tick(sched *Scheduler) {
	e.tickPending = false
	if len(e.linkFlows) == 0 {
		return
	}
	var completed []*flow
	for _, flows := range e.linkFlows {
		if len(flows) == 0 {
			continue
		}
		minTier := flows[0].priority
		for _, f := range flows[1:] {
			if f.priority < minTier {
				minTier = f.priority
			}
		}
		var active []*flow
		for _, f := range flows {
			if f.priority == minTier {
				active = append(active, f)
			}
		}
		// BandwidthBps is bits/second (§6); bytesRemaining is bytes, so the
		// per-tick share divides by 8.
		share := flows[0].link.BandwidthBps * e.tickInterval / 8 / float64(len(active))
		for _, f := range active {
			f.bytesRemaining -= int64(share)
			if f.bytesRemaining <= 0 {
				completed = append(completed, f)
			}
		}
	}
	for _, f := range completed {
		e.removeFlow(f)
		e.completeHop(f)
	}
	if len(e.linkFlows) > 0 {
		e.ensureTick()
	}
}

func (e *TransferEngine) removeFlow(target *flow) {
	key := linkKey(target.link.A, target.link.B)
	flows := e.linkFlows[key]
	for i, f := range flows {
		if f == target {
			flows = append(flows[:i], flows[i+1:]...)
			break
		}
	}
	if len(flows) == 0 {
		delete(e.linkFlows, key)
	} else {
		e.linkFlows[key] = flows
	}
}

// completeHop handles a chunk finishing its crossing of one link: either
// forwarding through the next node's OS onto the next hop, or, if the
// destination has been reached, committing the chunk to disk.
func (e *TransferEngine) completeHop(f *flow) {
	t := f.transfer
	if t.State != TransferActive {
		return
	}
	arrivedAt := f.link.Other(t.route[t.hopIndex])
	t.hopIndex++
	if arrivedAt != t.route[t.hopIndex] {
		// route was spliced by a reroute mid-hop; trust the spliced route.
		t.hopIndex = indexOf(t.route, arrivedAt)
	}
	if t.hopIndex >= len(t.route)-1 {
		e.commitChunk(t, f.chunkIndex, f.link)
		return
	}
	node := e.nodes[arrivedAt]
	_, err := node.OS.NetworkSend(ProcessEgress, 1, 0, func(done func(error)) { done(nil) }, func(err error) {
		if err != nil {
			e.finish(t, err)
			return
		}
		e.pushFlow(t, f.chunkIndex, t.chunkLength(f.chunkIndex), t.route[t.hopIndex], t.route[t.hopIndex+1])
	})
	if err != nil {
		e.finish(t, err)
	}
}

func indexOf(route []NodeID, id NodeID) int {
	for i, n := range route {
		if n == id {
			return i
		}
	}
	return 0
}

// commitChunk writes the fully-arrived chunk to the destination's disk.
func (e *TransferEngine) commitChunk(t *Transfer, chunkIndex int, arrivalLink *Link) {
	dest := e.nodes[t.Dest]
	length := t.chunkLength(chunkIndex)
	chunkID := chunkIndex
	checksum := uint32(fnv1a64(fmt.Sprintf("%s:%d", t.FileID, chunkIndex)))
	if t.sourceChunks != nil {
		chunkID = t.sourceChunks[chunkIndex].ChunkID
		checksum = t.sourceChunks[chunkIndex].Checksum
	}
	_, err := dest.OS.DiskWrite(1, length/64, func(done func(error)) {
		_, werr := dest.Disk.WriteChunk(t.resID, chunkID, length, checksum, func(_ ChunkRecord, err error) {
			done(err)
		})
		if werr != nil {
			done(werr)
		}
	}, func(err error) {
		if err != nil {
			e.finish(t, err)
			return
		}
		t.nextChunk++
		e.admitNextChunk(t)
	})
	if err != nil {
		e.finish(t, err)
	}
}

// reroute is invoked when the next hop out of node is unusable (link down
// or missing). It asks the RoutingFabric for a fresh path from node to the
// transfer's destination and splices it in, restarting the current chunk
// from full length. If no path exists the transfer fails route_lost.
func (e *TransferEngine) reroute(t *Transfer, from NodeID) {
	sub, err := e.routing.GetRoute(from, t.Dest)
	if err != nil {
		e.finish(t, newErr(ErrRouteLost, "transfer %s: no route from %s to %s after link failure", t.ID, from, t.Dest))
		return
	}
	fromIdx := indexOf(t.route, from)
	t.route = append(append([]NodeID{}, t.route[:fromIdx]...), sub...)
	t.hopIndex = fromIdx
	if len(sub) < 2 {
		e.finish(t, newErr(ErrRouteLost, "transfer %s: rerouted path has no next hop", t.ID))
		return
	}
	e.pushFlow(t, t.nextChunk, t.chunkLength(t.nextChunk), sub[0], sub[1])
}

// OnLinkDown reroutes or fails every flow currently crossing the a-b link,
// per §4.5's failover requirement.
func (e *TransferEngine) OnLinkDown(a, b NodeID) {
	key := linkKey(a, b)
	flows := e.linkFlows[key]
	delete(e.linkFlows, key)
	for _, f := range flows {
		t := f.transfer
		if t.State != TransferActive {
			continue
		}
		departedFrom := t.route[t.hopIndex]
		e.reroute(t, departedFrom)
	}
}

// OnNodeDown fails every transfer whose source or destination is node, and
// fails route_lost any transfer whose current chunk is leaving node as an
// intermediate hop. It does not reroute around node: any other transfer
// routed through node fails node_offline when its next chunk reaches it.
func (e *TransferEngine) OnNodeDown(node NodeID) {
	for _, t := range e.transfers {
		if t.State != TransferActive {
			continue
		}
		if t.Source == node || t.Dest == node {
			e.finish(t, newErr(ErrNodeOffline, "node %s failed mid-transfer", node))
			continue
		}
		if indexOf(t.route, node) > 0 && t.route[t.hopIndex] == node {
			e.finish(t, newErr(ErrRouteLost, "intermediate node %s failed mid-transfer", node))
		}
	}
}

// Abort cancels an in-progress transfer, releasing its destination
// reservation and dropping its flows.
func (e *TransferEngine) Abort(id TransferID) error {
	t, ok := e.transfers[id]
	if !ok {
		return newErr(ErrInvalidArgument, "unknown transfer %s", id)
	}
	if t.State != TransferActive && t.State != TransferPending {
		return newErr(ErrInvalidArgument, "transfer %s is already terminal", id)
	}
	for key, flows := range e.linkFlows {
		kept := flows[:0]
		for _, f := range flows {
			if f.transfer != t {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			delete(e.linkFlows, key)
		} else {
			e.linkFlows[key] = kept
		}
	}
	t.State = TransferAborted
	if dest, ok := e.nodes[t.Dest]; ok {
		dest.Disk.Abort(t.resID)
	}
	if t.onComplete != nil {
		t.onComplete(newErr(ErrInvalidArgument, "transfer %s aborted", id))
	}
	return nil
}

func (e *TransferEngine) finish(t *Transfer, err error) {
	if t.State != TransferActive && t.State != TransferPending {
		return
	}
	for key, flows := range e.linkFlows {
		kept := flows[:0]
		for _, f := range flows {
			if f.transfer != t {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			delete(e.linkFlows, key)
		} else {
			e.linkFlows[key] = kept
		}
	}
	if err != nil {
		t.State = TransferFailed
		if dest, ok := e.nodes[t.Dest]; ok {
			dest.Disk.Abort(t.resID)
		}
		logrus.Warnf("transfer %s failed: %v", t.ID, err)
	} else {
		t.State = TransferCompleted
	}
	if t.onComplete != nil {
		t.onComplete(err)
	}
	if e.onTransferDone != nil {
		e.onTransferDone(t, err)
	}
}

// Get returns the Transfer for id, if known.
func (e *TransferEngine) Get(id TransferID) (*Transfer, bool) {
	t, ok := e.transfers[id]
	return t, ok
}

// priorityTransferTick orders network ticks after disk/OS events at the
// same simulated time, so a chunk's disk commit at time T is visible to the
// tick that runs at T before that tick advances any dependent flow.
const priorityTransferTick = 2
