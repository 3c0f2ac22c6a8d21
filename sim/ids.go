package sim

import "fmt"

// NodeID identifies a StorageNode. Stable for the node's lifetime; reused
// IDs are rejected by AddNode (duplicate_node).
type NodeID string

// TransferID identifies a Transfer.
type TransferID string

// ReservationID identifies a VirtualDisk space reservation.
type ReservationID uint64

// IOTicketID identifies a pending VirtualDisk I/O operation.
type IOTicketID uint64

// FlowID identifies a single chunk-in-flight on a single link.
type FlowID uint64

// PID identifies a VirtualOS process.
type PID uint64

// ipAllocator hands out IPs in the 10.0.x.y/16 block deterministically as
// nodes join, per §4.4. Addresses are never reclaimed: removing a node does
// not free its IP for reuse, so two runs with the same sequence of AddNode
// calls always agree on every node's address regardless of intervening
// RemoveNode calls.
type ipAllocator struct {
	next uint32 // offset within 10.0.0.0/16, i.e. x*256+y
}

func newIPAllocator() *ipAllocator {
	return &ipAllocator{}
}

// allocate returns the next IP in sequence. Exhausting the /16 block (65536
// addresses) panics: this is an internal invariant violation (§7), not a
// caller-recoverable condition, since no realistic topology approaches it.
func (a *ipAllocator) allocate() string {
	if a.next > 0xFFFF {
		panic("ipAllocator: exhausted 10.0.0.0/16 address space")
	}
	x := (a.next >> 8) & 0xFF
	y := a.next & 0xFF
	a.next++
	return fmt.Sprintf("10.0.%d.%d", x, y)
}
