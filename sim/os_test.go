package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtualOS_DiskWrite_RunsOpAfterCPUTicks(t *testing.T) {
	// GIVEN a VirtualOS with enough RAM and a single disk slot
	sched := NewScheduler()
	vos := NewVirtualOS(sched, "node-a", OSConfig{CPUCores: 1, RAMBytes: 1000, DiskInflight: 1, NICInflight: 1})

	var completed error
	opRan := false
	_, err := vos.DiskWrite(3, 100, func(done func(error)) {
		opRan = true
		done(nil)
	}, func(err error) { completed = err })
	require.NoError(t, err)

	// WHEN the scheduler runs to completion
	sched.Run(nil, 0)

	// THEN the device op ran after CPU admission, and the interrupt fired
	assert.True(t, opRan)
	assert.NoError(t, completed)
	assert.Equal(t, int64(0), vos.RAMUsed())
}

func TestVirtualOS_OOM_FailsAdmission(t *testing.T) {
	// GIVEN a VirtualOS with limited RAM
	sched := NewScheduler()
	vos := NewVirtualOS(sched, "node-a", OSConfig{CPUCores: 1, RAMBytes: 100})

	// WHEN a syscall requests more RAM than is available
	_, err := vos.DiskWrite(1, 200, func(func(error)) {}, nil)

	// THEN it fails oom
	require.Error(t, err)
	var simErr *SimError
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, ErrOOM, simErr.Kind)
}

func TestVirtualOS_DiskDevice_SerializesConcurrentWrites(t *testing.T) {
	// GIVEN a VirtualOS with a single disk slot and two concurrent disk_write
	// syscalls whose device ops must be told apart
	sched := NewScheduler()
	vos := NewVirtualOS(sched, "node-a", OSConfig{CPUCores: 1, RAMBytes: 1000, DiskInflight: 1, NICInflight: 1})

	var order []string
	opFor := func(name string) func(done func(error)) {
		return func(done func(error)) {
			order = append(order, name)
			done(nil)
		}
	}
	_, err := vos.DiskWrite(0, 10, opFor("first"), nil)
	require.NoError(t, err)
	_, err = vos.DiskWrite(0, 10, opFor("second"), nil)
	require.NoError(t, err)

	// WHEN the scheduler runs
	sched.Run(nil, 0)

	// THEN both device ops ran, one after the other via the single disk slot
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestVirtualOS_DeviceFailure_IncrementsProcessFailures(t *testing.T) {
	// GIVEN a syscall whose device op reports an error
	sched := NewScheduler()
	vos := NewVirtualOS(sched, "node-a", OSConfig{CPUCores: 1, RAMBytes: 1000})
	var got error
	_, err := vos.DiskRead(0, 10, func(done func(error)) {
		done(newErr(ErrChecksumMismatch, "bad checksum"))
	}, func(err error) { got = err })
	require.NoError(t, err)

	// WHEN the scheduler runs
	sched.Run(nil, 0)

	// THEN the interrupt reports the failure and the failure counter increments
	require.Error(t, got)
	assert.Equal(t, 1, vos.ProcessFailures())
}

func TestVirtualOS_Offline_RejectsSyscalls(t *testing.T) {
	// GIVEN an offline VirtualOS
	sched := NewScheduler()
	vos := NewVirtualOS(sched, "node-a", OSConfig{CPUCores: 1, RAMBytes: 1000})
	vos.SetOnline(false)

	// WHEN a syscall is attempted
	_, err := vos.DiskWrite(1, 10, func(func(error)) {}, nil)

	// THEN it fails node_offline
	require.Error(t, err)
	var simErr *SimError
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, ErrNodeOffline, simErr.Kind)
}
