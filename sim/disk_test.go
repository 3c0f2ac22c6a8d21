package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDisk(sched *Scheduler) *VirtualDisk {
	return NewVirtualDisk(sched, "node-a", DiskConfig{CapacityBytes: 1000, SeekLatencySec: 0.01, ThroughputBps: 1000})
}

func TestVirtualDisk_Reserve_FailsWhenOverCapacity(t *testing.T) {
	// GIVEN a disk with 1000 bytes of capacity
	sched := NewScheduler()
	disk := newTestDisk(sched)

	// WHEN reserving more than capacity
	_, err := disk.Reserve("file-a", 2000)

	// THEN it fails no_space
	require.Error(t, err)
	var simErr *SimError
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, ErrNoSpace, simErr.Kind)
}

func TestVirtualDisk_WriteChunk_CommitsAsynchronously(t *testing.T) {
	// GIVEN a reservation and a pending write
	sched := NewScheduler()
	disk := newTestDisk(sched)
	resID, err := disk.Reserve("file-a", 500)
	require.NoError(t, err)

	var committed ChunkRecord
	var commitErr error
	_, err = disk.WriteChunk(resID, 0, 500, 0xABCD, func(rec ChunkRecord, err error) {
		committed = rec
		commitErr = err
	})
	require.NoError(t, err)

	// WHEN the commit has not yet run
	assert.Equal(t, int64(500), disk.ReservedBytes())
	assert.Equal(t, int64(0), disk.CommittedBytes())

	// THEN running the scheduler commits the chunk after seek+throughput delay
	sched.Run(nil, 0)
	require.NoError(t, commitErr)
	assert.Equal(t, int64(500), committed.Length)
	assert.Equal(t, int64(0), disk.ReservedBytes())
	assert.Equal(t, int64(500), disk.CommittedBytes())
	assert.InDelta(t, 0.01+500.0/1000, sched.Now(), 1e-9)
}

func TestVirtualDisk_WriteChunk_ExceedingReservation_Fails(t *testing.T) {
	// GIVEN a reservation smaller than the attempted chunk
	sched := NewScheduler()
	disk := newTestDisk(sched)
	resID, err := disk.Reserve("file-a", 100)
	require.NoError(t, err)

	// WHEN writing a chunk larger than the remaining reservation
	_, err = disk.WriteChunk(resID, 0, 200, 0, nil)

	// THEN it fails no_space
	require.Error(t, err)
	var simErr *SimError
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, ErrNoSpace, simErr.Kind)
}

func TestVirtualDisk_Abort_CancelsPendingCommit(t *testing.T) {
	// GIVEN a pending write against a reservation
	sched := NewScheduler()
	disk := newTestDisk(sched)
	resID, err := disk.Reserve("file-a", 500)
	require.NoError(t, err)
	fired := false
	_, err = disk.WriteChunk(resID, 0, 500, 0, func(ChunkRecord, error) { fired = true })
	require.NoError(t, err)

	// WHEN the reservation is aborted before the commit event runs
	require.NoError(t, disk.Abort(resID))
	sched.Run(nil, 0)

	// THEN the commit never fires and reserved space is released
	assert.False(t, fired)
	assert.Equal(t, int64(0), disk.ReservedBytes())
	assert.Equal(t, int64(0), disk.CommittedBytes())
}

func TestVirtualDisk_InjectCorruption_FailsSubsequentRead(t *testing.T) {
	// GIVEN a committed chunk
	sched := NewScheduler()
	disk := newTestDisk(sched)
	resID, err := disk.Reserve("file-a", 500)
	require.NoError(t, err)
	_, err = disk.WriteChunk(resID, 0, 500, 0, nil)
	require.NoError(t, err)
	sched.Run(nil, 0)

	// WHEN the chunk is corrupted and then read
	require.NoError(t, disk.InjectCorruption("file-a", 0))
	var readErr error
	_, err = disk.ReadChunk("file-a", 0, func(_ ChunkRecord, err error) { readErr = err })
	require.NoError(t, err)
	sched.Run(nil, 0)

	// THEN the read fails checksum_mismatch
	require.Error(t, readErr)
	var simErr *SimError
	require.ErrorAs(t, readErr, &simErr)
	assert.Equal(t, ErrChecksumMismatch, simErr.Kind)

	// AND recovery clears the corrupt flag so reads succeed again
	require.NoError(t, disk.RecoverChunk("file-a", 0, 0x1234))
	readErr = nil
	_, err = disk.ReadChunk("file-a", 0, func(_ ChunkRecord, err error) { readErr = err })
	require.NoError(t, err)
	sched.Run(nil, 0)
	assert.NoError(t, readErr)
}

func TestVirtualDisk_Offline_FailsImmediately(t *testing.T) {
	// GIVEN an offline disk
	sched := NewScheduler()
	disk := newTestDisk(sched)
	disk.SetOnline(false)

	// WHEN reserving space
	_, err := disk.Reserve("file-a", 10)

	// THEN it fails disk_offline synchronously, with no event scheduled
	require.Error(t, err)
	var simErr *SimError
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, ErrDiskOffline, simErr.Kind)
	assert.Equal(t, 0, sched.Pending())
}
