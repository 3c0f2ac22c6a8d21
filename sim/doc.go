// Package sim provides the core discrete-event simulation engine for
// CloudSim, a deterministic simulator of a distributed storage fabric.
//
// # Reading Guide
//
// Start with these files to understand the simulation kernel:
//   - scheduler.go: the event queue and single-threaded dispatch loop
//   - disk.go: per-node virtual disk (reservations, async chunk commits)
//   - os.go: per-node virtual OS (CPU/RAM accounting, syscalls, devices)
//   - node.go: StorageNode, composing Disk + OS with link metadata
//   - link.go: the undirected Link (bandwidth, latency, up/down state)
//   - routing.go: RoutingFabric (link-state and distance-vector strategies)
//   - transfer.go: TransferEngine (chunk progression, fairness, failover)
//   - cluster_manager.go: ReplicaCluster fan-out and demand-driven scaling
//   - controller.go: ControllerAPI, the public surface and event log
//
// All state mutation happens inside Scheduler-dispatched callbacks; there
// are no goroutines, no locks, and no wall-clock waits (see SPEC_FULL.md §5).
package sim
