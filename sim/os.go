package sim

import "github.com/sirupsen/logrus"

// ProcessKind identifies what a VirtualOS Process represents.
type ProcessKind string

const (
	ProcessIngest      ProcessKind = "ingest"
	ProcessEgress      ProcessKind = "egress"
	ProcessDiskRead    ProcessKind = "disk_read"
	ProcessDiskWrite   ProcessKind = "disk_write"
	ProcessMaintenance ProcessKind = "maintenance"
)

// ProcessState is a Process's position in the VirtualOS scheduling model.
type ProcessState string

const (
	ProcessReady   ProcessState = "ready"
	ProcessRunning ProcessState = "running"
	ProcessBlocked ProcessState = "blocked"
	ProcessDone    ProcessState = "done"
	ProcessFailed  ProcessState = "failed"
)

// Process is the per-syscall unit of CPU/RAM accounting inside a VirtualOS.
type Process struct {
	PID               PID
	Kind              ProcessKind
	CPUTicksRemaining int
	RAMReserved       int64
	State             ProcessState
	device            string
	op                func(done func(error))
	onComplete        func(error)
}

// device models fixed-concurrency hardware: 1 outstanding disk I/O, N
// parallel NIC transmissions, per §4.3.
type device struct {
	name     string
	capacity int
	inflight int
	waiting  []PID
}

func (d *device) hasSlot() bool { return d.inflight < d.capacity }

// VirtualOS metrics CPU/RAM/device usage for one StorageNode and exposes the
// four syscalls StorageNode invokes: disk_read, disk_write, network_send,
// maintenance_hook (§4.3). Grounded on original_source/CloudSim/virtual_os.py's
// VirtualProcess/VirtualDevice/interrupt-queue shape, re-expressed as
// Scheduler-driven events per SPEC_FULL.md's "no async runtime" design note.
type VirtualOS struct {
	sched *Scheduler
	node  NodeID

	cpuCores int
	tickSecs float64 // simulated seconds consumed per CPU tick slice

	ramBytes int64
	ramUsed  int64

	processes map[PID]*Process
	ready     []PID
	nextPID   PID
	pumpSched bool

	devices map[string]*device

	processFailures int // os_process_failures counter (read by ClusterManager)
	online          bool
}

// NewVirtualOS constructs a VirtualOS with the given resource limits.
func NewVirtualOS(sched *Scheduler, node NodeID, cfg OSConfig) *VirtualOS {
	diskInflight := cfg.DiskInflight
	if diskInflight <= 0 {
		diskInflight = 1
	}
	nicInflight := cfg.NICInflight
	if nicInflight <= 0 {
		nicInflight = 4
	}
	return &VirtualOS{
		sched:     sched,
		node:      node,
		cpuCores:  cfg.CPUCores,
		tickSecs:  0.001,
		ramBytes:  cfg.RAMBytes,
		processes: make(map[PID]*Process),
		devices: map[string]*device{
			"disk":        {name: "disk", capacity: diskInflight},
			"nic":         {name: "nic", capacity: nicInflight},
			"maintenance": {name: "maintenance", capacity: 1},
		},
		online: true,
	}
}

// SetOnline marks the VirtualOS online/offline, e.g. on node fail/restore.
func (vos *VirtualOS) SetOnline(online bool) { vos.online = online }

// RAMUsed returns bytes currently reserved by live processes.
func (vos *VirtualOS) RAMUsed() int64 { return vos.ramUsed }

// RAMUtilization returns RAMUsed/RAMBytes, or 0 if RAMBytes is 0.
func (vos *VirtualOS) RAMUtilization() float64 {
	if vos.ramBytes == 0 {
		return 0
	}
	return float64(vos.ramUsed) / float64(vos.ramBytes)
}

// ProcessFailures returns the running count of failed processes, consulted
// by ClusterManager's demand-scaling policy.
func (vos *VirtualOS) ProcessFailures() int { return vos.processFailures }

// DeviceUtilization returns inflight/capacity for the named device ("disk",
// "nic", "maintenance"), or 0 if unknown.
func (vos *VirtualOS) DeviceUtilization(name string) float64 {
	d, ok := vos.devices[name]
	if !ok || d.capacity == 0 {
		return 0
	}
	return float64(d.inflight) / float64(d.capacity)
}

// syscall is the shared implementation behind the four public syscalls.
// cpuTicks models syscall/bookkeeping overhead; op is invoked once CPU and a
// device slot are both available, and must eventually call its done
// callback exactly once. onComplete fires as the interrupt: once with the
// final error (nil on success).
func (vos *VirtualOS) syscall(kind ProcessKind, deviceName string, cpuTicks int, ram int64, op func(done func(error)), onComplete func(error)) (PID, error) {
	if !vos.online {
		return 0, newErr(ErrNodeOffline, "node %s is offline", vos.node)
	}
	if ram < 0 {
		return 0, newErr(ErrInvalidArgument, "ram reservation must be non-negative, got %d", ram)
	}
	if vos.ramUsed+ram > vos.ramBytes {
		return 0, newErr(ErrOOM, "node %s: requested %d bytes RAM, %d available", vos.node, ram, vos.ramBytes-vos.ramUsed)
	}
	vos.nextPID++
	pid := vos.nextPID
	proc := &Process{
		PID:               pid,
		Kind:              kind,
		CPUTicksRemaining: cpuTicks,
		RAMReserved:       ram,
		State:             ProcessReady,
		device:            deviceName,
		op:                op,
		onComplete:        onComplete,
	}
	vos.processes[pid] = proc
	vos.ramUsed += ram
	vos.ready = append(vos.ready, pid)
	vos.ensurePump()
	return pid, nil
}

// DiskRead spawns a disk_read Process.
func (vos *VirtualOS) DiskRead(cpuTicks int, ram int64, op func(done func(error)), onComplete func(error)) (PID, error) {
	return vos.syscall(ProcessDiskRead, "disk", cpuTicks, ram, op, onComplete)
}

// DiskWrite spawns a disk_write Process.
func (vos *VirtualOS) DiskWrite(cpuTicks int, ram int64, op func(done func(error)), onComplete func(error)) (PID, error) {
	return vos.syscall(ProcessDiskWrite, "disk", cpuTicks, ram, op, onComplete)
}

// NetworkSend spawns an ingest/egress Process routed through the NIC device.
func (vos *VirtualOS) NetworkSend(kind ProcessKind, cpuTicks int, ram int64, op func(done func(error)), onComplete func(error)) (PID, error) {
	return vos.syscall(kind, "nic", cpuTicks, ram, op, onComplete)
}

// MaintenanceHook spawns a maintenance Process, used by ClusterManager's
// periodic demand-scaling evaluation.
func (vos *VirtualOS) MaintenanceHook(cpuTicks int, ram int64, op func(done func(error)), onComplete func(error)) (PID, error) {
	return vos.syscall(ProcessMaintenance, "maintenance", cpuTicks, ram, op, onComplete)
}

func (vos *VirtualOS) ensurePump() {
	if vos.pumpSched || len(vos.ready) == 0 {
		return
	}
	vos.pumpSched = true
	if _, err := vos.sched.ScheduleAt(vos.sched.Now(), priorityOSTick, vos.pump); err != nil {
		vos.pumpSched = false
	}
}

// pump runs one round-robin CPU tick for the process at the head of the
// ready queue, per §4.3's "scheduler grants one CPU tick per simulated tick
// slice" model.
func (vos *VirtualOS) pump(sched *Scheduler) {
	vos.pumpSched = false
	if len(vos.ready) == 0 {
		return
	}
	pid := vos.ready[0]
	vos.ready = vos.ready[1:]
	proc, ok := vos.processes[pid]
	if !ok || proc.State == ProcessDone || proc.State == ProcessFailed {
		vos.ensurePump()
		return
	}
	proc.State = ProcessRunning
	if proc.CPUTicksRemaining > 0 {
		proc.CPUTicksRemaining--
	}
	if proc.CPUTicksRemaining > 0 {
		proc.State = ProcessReady
		vos.ready = append(vos.ready, pid)
		if _, err := sched.ScheduleIn(vos.tickSecs, priorityOSTick, vos.pump); err == nil {
			vos.pumpSched = true
		}
		return
	}
	vos.admitToDevice(proc)
	vos.ensurePump()
}

// admitToDevice hands proc to its device if a slot is free, otherwise parks
// it blocked until a device completion frees one.
func (vos *VirtualOS) admitToDevice(proc *Process) {
	d := vos.devices[proc.device]
	if d == nil || !d.hasSlot() {
		proc.State = ProcessBlocked
		if d != nil {
			d.waiting = append(d.waiting, proc.PID)
		}
		return
	}
	d.inflight++
	proc.op(func(err error) { vos.completeDevice(proc, err) })
}

// completeDevice is the interrupt fired when proc's device work finishes.
// It frees the device slot, admits the next waiter (if any), and invokes
// proc's onComplete.
func (vos *VirtualOS) completeDevice(proc *Process, err error) {
	d := vos.devices[proc.device]
	if d != nil {
		d.inflight--
		if len(d.waiting) > 0 {
			nextPID := d.waiting[0]
			d.waiting = d.waiting[1:]
			if next, ok := vos.processes[nextPID]; ok && next.State == ProcessBlocked {
				d.inflight++
				next.op(func(e error) { vos.completeDevice(next, e) })
			}
		}
	}
	vos.ramUsed -= proc.RAMReserved
	if err != nil {
		proc.State = ProcessFailed
		vos.processFailures++
		logrus.Warnf("node=%s pid=%d kind=%s failed: %v", vos.node, proc.PID, proc.Kind, err)
	} else {
		proc.State = ProcessDone
	}
	delete(vos.processes, proc.PID)
	if proc.onComplete != nil {
		proc.onComplete(err)
	}
}

// priorityOSTick orders VirtualOS CPU-tick events ahead of transfer-engine
// bandwidth ticks scheduled at the same simulated time, so a chunk's
// OS-side admission is always resolved before the next link tick computes
// fresh shares.
const priorityOSTick = 1
