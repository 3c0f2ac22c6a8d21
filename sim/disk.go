package sim

// ChunkRecord is one committed (or corrupted) chunk of a file on a
// VirtualDisk, per §4.2's ChunkRecord type.
type ChunkRecord struct {
	FileID      string
	ChunkID     int
	Length      int64
	Checksum    uint32
	Corrupt     bool
	CommittedAt float64
}

// reservation tracks an outstanding space hold created by Reserve, per the
// reservation-first discipline of §4.2 invariant 1: bytes are subtracted
// from free space at Reserve time, not at commit time.
type reservation struct {
	id        ReservationID
	fileID    string
	remaining int64 // bytes reserved but not yet committed
}

type ioTicket struct {
	id          IOTicketID
	kind        string // "write" or "read"
	reservation ReservationID
	cancelled   bool
}

// VirtualDisk models one StorageNode's disk: a fixed byte capacity, a
// reservation ledger, and a committed chunk store. Writes are asynchronous —
// WriteChunk schedules a commit event seek_latency + length/throughput
// seconds in the future and only then mutates state and fires its callback.
// Grounded on original_source/CloudSim/virtual_disk.py's VirtualDisk/DiskFile
// reserve/write/read/release shape (§4.2, §12).
type VirtualDisk struct {
	sched *Scheduler
	node  NodeID

	capacity  int64
	committed int64
	reserved  int64

	seekLatency float64
	throughput  float64

	reservations map[ReservationID]*reservation
	nextResID    ReservationID

	chunks map[string]map[int]*ChunkRecord // fileID -> chunkID -> record

	tickets    map[IOTicketID]*ioTicket
	nextTicket IOTicketID

	online bool
}

// NewVirtualDisk constructs a VirtualDisk for one StorageNode.
func NewVirtualDisk(sched *Scheduler, node NodeID, cfg DiskConfig) *VirtualDisk {
	seek := cfg.SeekLatencySec
	if seek == 0 {
		seek = DefaultDiskConfig().SeekLatencySec
	}
	throughput := cfg.ThroughputBps
	if throughput == 0 {
		throughput = DefaultDiskConfig().ThroughputBps
	}
	return &VirtualDisk{
		sched:        sched,
		node:         node,
		capacity:     cfg.CapacityBytes,
		seekLatency:  seek,
		throughput:   throughput,
		reservations: make(map[ReservationID]*reservation),
		chunks:       make(map[string]map[int]*ChunkRecord),
		tickets:      make(map[IOTicketID]*ioTicket),
		online:       true,
	}
}

// SetOnline marks the disk online/offline. While offline every operation
// fails immediately with disk_offline (§4.2 edge case).
func (d *VirtualDisk) SetOnline(online bool) { d.online = online }

// Capacity, CommittedBytes and ReservedBytes report the ledger described by
// §4.2 invariant 2: committed + reserved <= capacity always.
func (d *VirtualDisk) Capacity() int64      { return d.capacity }
func (d *VirtualDisk) CommittedBytes() int64 { return d.committed }
func (d *VirtualDisk) ReservedBytes() int64  { return d.reserved }
func (d *VirtualDisk) FreeBytes() int64      { return d.capacity - d.committed - d.reserved }

// Reserve holds bytes bytes of free space for fileID, returning a
// ReservationID that must be spent via WriteChunk (or released by Abort).
// Fails no_space if insufficient free space remains, or disk_offline.
func (d *VirtualDisk) Reserve(fileID string, bytes int64) (ReservationID, error) {
	if !d.online {
		return 0, newErr(ErrDiskOffline, "disk on node %s is offline", d.node)
	}
	if bytes <= 0 {
		return 0, newErr(ErrInvalidArgument, "reservation size must be positive, got %d", bytes)
	}
	if bytes > d.FreeBytes() {
		return 0, newErr(ErrNoSpace, "node %s: requested %d bytes, %d free", d.node, bytes, d.FreeBytes())
	}
	d.nextResID++
	id := d.nextResID
	d.reservations[id] = &reservation{id: id, fileID: fileID, remaining: bytes}
	d.reserved += bytes
	return id, nil
}

// Abort releases whatever portion of resID's hold has not yet been
// committed, and cancels any of its pending write tickets so their commit
// events become no-ops.
func (d *VirtualDisk) Abort(resID ReservationID) error {
	res, ok := d.reservations[resID]
	if !ok {
		return newErr(ErrInvalidArgument, "unknown reservation %d", resID)
	}
	d.reserved -= res.remaining
	delete(d.reservations, resID)
	for _, t := range d.tickets {
		if t.reservation == resID {
			t.cancelled = true
		}
	}
	return nil
}

// WriteChunk spends length bytes of resID's reservation on chunkID,
// scheduling an asynchronous commit seek_latency + length/throughput
// seconds from now. It fails synchronously with disk_offline if the disk is
// offline, or no_space if length exceeds the reservation's remaining
// balance. Otherwise onCommit fires at most once: with the committed
// ChunkRecord on success, or disk_offline if the disk went offline before
// the commit event ran. It does not fire if the reservation is aborted
// before the commit event runs.
func (d *VirtualDisk) WriteChunk(resID ReservationID, chunkID int, length int64, checksum uint32, onCommit func(ChunkRecord, error)) (IOTicketID, error) {
	if !d.online {
		return 0, newErr(ErrDiskOffline, "disk on node %s is offline", d.node)
	}
	res, ok := d.reservations[resID]
	if !ok {
		return 0, newErr(ErrInvalidArgument, "unknown reservation %d", resID)
	}
	if length <= 0 {
		return 0, newErr(ErrInvalidArgument, "chunk length must be positive, got %d", length)
	}
	if length > res.remaining {
		return 0, newErr(ErrNoSpace, "chunk of %d bytes exceeds reservation %d's remaining %d bytes", length, resID, res.remaining)
	}
	d.nextTicket++
	ticketID := d.nextTicket
	ticket := &ioTicket{id: ticketID, kind: "write", reservation: resID}
	d.tickets[ticketID] = ticket

	delay := d.seekLatency + float64(length)/d.throughput
	_, err := d.sched.ScheduleIn(delay, priorityDiskCommit, func(sched *Scheduler) {
		delete(d.tickets, ticketID)
		if ticket.cancelled {
			return
		}
		if !d.online {
			if onCommit != nil {
				onCommit(ChunkRecord{}, newErr(ErrDiskOffline, "disk on node %s went offline before commit", d.node))
			}
			return
		}
		res.remaining -= length
		d.reserved -= length
		d.committed += length
		rec := &ChunkRecord{FileID: res.fileID, ChunkID: chunkID, Length: length, Checksum: checksum, CommittedAt: sched.Now()}
		if d.chunks[res.fileID] == nil {
			d.chunks[res.fileID] = make(map[int]*ChunkRecord)
		}
		d.chunks[res.fileID][chunkID] = rec
		if res.remaining == 0 {
			delete(d.reservations, resID)
		}
		if onCommit != nil {
			onCommit(*rec, nil)
		}
	})
	if err != nil {
		delete(d.tickets, ticketID)
		return 0, err
	}
	return ticketID, nil
}

// ReadChunk schedules an asynchronous read of fileID/chunkID, completing
// after seek_latency + length/throughput seconds. Fails checksum_mismatch
// if the chunk was corrupted via InjectCorruption and not since recovered.
func (d *VirtualDisk) ReadChunk(fileID string, chunkID int, onComplete func(ChunkRecord, error)) (IOTicketID, error) {
	if !d.online {
		return 0, newErr(ErrDiskOffline, "disk on node %s is offline", d.node)
	}
	byChunk, ok := d.chunks[fileID]
	if !ok {
		return 0, newErr(ErrInvalidArgument, "unknown file %q", fileID)
	}
	rec, ok := byChunk[chunkID]
	if !ok {
		return 0, newErr(ErrInvalidArgument, "unknown chunk %d of file %q", chunkID, fileID)
	}
	d.nextTicket++
	ticketID := d.nextTicket
	ticket := &ioTicket{id: ticketID, kind: "read"}
	d.tickets[ticketID] = ticket

	delay := d.seekLatency + float64(rec.Length)/d.throughput
	_, err := d.sched.ScheduleIn(delay, priorityDiskCommit, func(sched *Scheduler) {
		delete(d.tickets, ticketID)
		if ticket.cancelled {
			return
		}
		if !d.online {
			if onComplete != nil {
				onComplete(ChunkRecord{}, newErr(ErrDiskOffline, "disk on node %s went offline before read completed", d.node))
			}
			return
		}
		current, ok := byChunk[chunkID]
		if !ok {
			if onComplete != nil {
				onComplete(ChunkRecord{}, newErr(ErrInvalidArgument, "chunk %d of file %q deleted before read completed", chunkID, fileID))
			}
			return
		}
		if current.Corrupt {
			if onComplete != nil {
				onComplete(*current, newErr(ErrChecksumMismatch, "chunk %d of file %q failed checksum verification", chunkID, fileID))
			}
			return
		}
		if onComplete != nil {
			onComplete(*current, nil)
		}
	})
	if err != nil {
		delete(d.tickets, ticketID)
		return 0, err
	}
	return ticketID, nil
}

// InjectCorruption flags a committed chunk as corrupt; subsequent ReadChunk
// calls on it fail checksum_mismatch until RecoverChunk clears it. Used for
// fault injection.
func (d *VirtualDisk) InjectCorruption(fileID string, chunkID int) error {
	rec, err := d.lookupChunk(fileID, chunkID)
	if err != nil {
		return err
	}
	rec.Corrupt = true
	return nil
}

// RecoverChunk overwrites a corrupt chunk's bytes with a freshly verified
// checksum, as if repaired from a healthy replica.
func (d *VirtualDisk) RecoverChunk(fileID string, chunkID int, checksum uint32) error {
	rec, err := d.lookupChunk(fileID, chunkID)
	if err != nil {
		return err
	}
	rec.Corrupt = false
	rec.Checksum = checksum
	return nil
}

func (d *VirtualDisk) lookupChunk(fileID string, chunkID int) (*ChunkRecord, error) {
	byChunk, ok := d.chunks[fileID]
	if !ok {
		return nil, newErr(ErrInvalidArgument, "unknown file %q", fileID)
	}
	rec, ok := byChunk[chunkID]
	if !ok {
		return nil, newErr(ErrInvalidArgument, "unknown chunk %d of file %q", chunkID, fileID)
	}
	return rec, nil
}

// HasChunk reports whether fileID/chunkID has been committed (regardless of
// corruption state).
func (d *VirtualDisk) HasChunk(fileID string, chunkID int) bool {
	byChunk, ok := d.chunks[fileID]
	if !ok {
		return false
	}
	_, ok = byChunk[chunkID]
	return ok
}

// Chunks returns copies of the committed chunk records for fileID, in no
// particular order. TransferEngine.StartFileReplication sorts them by chunk
// ID itself.
func (d *VirtualDisk) Chunks(fileID string) []ChunkRecord {
	byChunk, ok := d.chunks[fileID]
	if !ok {
		return nil
	}
	out := make([]ChunkRecord, 0, len(byChunk))
	for _, rec := range byChunk {
		out = append(out, *rec)
	}
	return out
}

// AllChunks returns every committed chunk on this disk, grouped by file ID.
// Used by snapshot export.
func (d *VirtualDisk) AllChunks() map[string][]ChunkRecord {
	out := make(map[string][]ChunkRecord, len(d.chunks))
	for fileID, byChunk := range d.chunks {
		recs := make([]ChunkRecord, 0, len(byChunk))
		for _, rec := range byChunk {
			recs = append(recs, *rec)
		}
		out[fileID] = recs
	}
	return out
}

// RestoreChunk injects rec directly into the committed chunk store and
// adjusts the capacity ledger accordingly, bypassing the normal
// reserve-then-commit discipline. Used only by snapshot restore, which
// re-creates disk contents wholesale rather than replaying the writes that
// produced them.
func (d *VirtualDisk) RestoreChunk(rec ChunkRecord) {
	if d.chunks[rec.FileID] == nil {
		d.chunks[rec.FileID] = make(map[int]*ChunkRecord)
	}
	copied := rec
	d.chunks[rec.FileID][rec.ChunkID] = &copied
	d.committed += rec.Length
}

// priorityDiskCommit orders disk commit/read-completion events ahead of
// transfer-engine bandwidth ticks scheduled at the same simulated time.
const priorityDiskCommit = 1
