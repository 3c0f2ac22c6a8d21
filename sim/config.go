package sim

import (
	"fmt"
	"strconv"
	"strings"
)

// DiskConfig groups VirtualDisk parameters for a new StorageNode.
type DiskConfig struct {
	CapacityBytes  int64   `yaml:"capacity_bytes"`   // total disk capacity (must be > 0)
	SeekLatencySec float64 `yaml:"seek_latency_sec"` // fixed per-I/O seek cost, default 0.001s
	ThroughputBps  float64 `yaml:"throughput_bps"`   // sustained commit throughput, bytes/sec, default 2e9 (SSD-class)
}

// OSConfig groups VirtualOS resource limits for a new StorageNode.
type OSConfig struct {
	CPUCores     int   `yaml:"cpu_cores"`     // number of schedulable CPU cores (must be > 0)
	RAMBytes     int64 `yaml:"ram_bytes"`     // total RAM available to processes (must be > 0)
	DiskInflight int   `yaml:"disk_inflight"` // concurrent disk device I/O slots, default 1
	NICInflight  int   `yaml:"nic_inflight"`  // concurrent NIC device transmissions, default 4
}

// RoutingConfig selects and parameterizes RoutingFabric's strategy.
type RoutingConfig struct {
	Strategy string `yaml:"strategy"` // "link-state" (default) or "distance-vector"
	// Metric selects edge weight: "latency" (default, latency_ms) or
	// "inverse-bandwidth" (1/bandwidth_bps). Must be consistent cluster-wide.
	Metric     string  `yaml:"metric"`
	DVInterval float64 `yaml:"dv_interval"` // distance-vector neighbor exchange period, simulated seconds (default 1.0)
}

// TransferConfig groups TransferEngine tuning knobs.
type TransferConfig struct {
	ChunkMinBytes int64 `yaml:"chunk_min_bytes"` // clamp floor for auto-derived chunk size (default 64KB)
	ChunkMaxBytes int64 `yaml:"chunk_max_bytes"` // clamp ceiling for auto-derived chunk size (default 64MB)
	// ReplicaPriorityTier sets the priority class used for fan-out replica
	// flows. 0 (default) shares bandwidth equally with user transfers, as
	// the source does; a positive value yields to tier-0 flows on shared
	// links first (SPEC_FULL.md §13, Open Question 1).
	ReplicaPriorityTier int `yaml:"replica_priority_tier"`
}

// ScalingConfig groups ClusterManager demand-driven scaling thresholds,
// adapted from the original's DemandScalingConfig (SPEC_FULL.md §12).
type ScalingConfig struct {
	Enabled                    bool    `yaml:"enabled"`
	StorageThreshold           float64 `yaml:"storage_threshold"`            // default 0.85
	BandwidthThreshold         float64 `yaml:"bandwidth_threshold"`          // default 0.80
	OSFailureThreshold         int     `yaml:"os_failure_threshold"`         // default 3
	MemoryUtilizationThreshold float64 `yaml:"os_memory_utilization_threshold"` // default 0.90
	MaxReplicasPerCluster      int     `yaml:"max_replicas_per_cluster"`     // default 5
	DefaultClusterSize         int     `yaml:"default_cluster_size"`         // default 3 (root + siblings on node creation)
}

// DefaultDiskConfig returns the default VirtualDisk tuning.
func DefaultDiskConfig() DiskConfig {
	return DiskConfig{SeekLatencySec: 0.001, ThroughputBps: 2e9}
}

// DefaultOSConfig returns the default VirtualOS tuning.
func DefaultOSConfig() OSConfig {
	return OSConfig{DiskInflight: 1, NICInflight: 4}
}

// DefaultRoutingConfig returns the default RoutingFabric tuning.
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{Strategy: "link-state", Metric: "latency", DVInterval: 1.0}
}

// DefaultTransferConfig returns the default TransferEngine tuning.
func DefaultTransferConfig() TransferConfig {
	return TransferConfig{ChunkMinBytes: 64 * 1024, ChunkMaxBytes: 64 * 1024 * 1024}
}

// DefaultScalingConfig returns the default ClusterManager tuning.
func DefaultScalingConfig() ScalingConfig {
	return ScalingConfig{
		Enabled:                    true,
		StorageThreshold:           0.85,
		BandwidthThreshold:         0.80,
		OSFailureThreshold:         3,
		MemoryUtilizationThreshold: 0.90,
		MaxReplicasPerCluster:      5,
		DefaultClusterSize:         3,
	}
}

// ParseBytes parses a size with an optional decimal shorthand suffix (KB,
// MB, GB, TB, PB — base 1000, matching §6's "decimal" convention) into a
// raw byte count. A bare number is interpreted as bytes.
func ParseBytes(value string) (int64, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, newErr(ErrInvalidArgument, "empty size")
	}
	multipliers := []struct {
		suffix string
		mul    float64
	}{
		{"PB", 1e15}, {"TB", 1e12}, {"GB", 1e9}, {"MB", 1e6}, {"KB", 1e3}, {"B", 1},
	}
	upper := strings.ToUpper(v)
	for _, m := range multipliers {
		if strings.HasSuffix(upper, m.suffix) {
			numPart := strings.TrimSpace(v[:len(v)-len(m.suffix)])
			if numPart == "" {
				continue
			}
			f, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, newErr(ErrInvalidArgument, "invalid size %q: %v", value, err)
			}
			return int64(f * m.mul), nil
		}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, newErr(ErrInvalidArgument, "invalid size %q: %v", value, err)
	}
	return int64(f), nil
}

// ParseBandwidth parses a bandwidth with an optional Mbps/Gbps/Kbps/bps
// suffix into bits/second.
func ParseBandwidth(value string) (float64, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, newErr(ErrInvalidArgument, "empty bandwidth")
	}
	multipliers := []struct {
		suffix string
		mul    float64
	}{
		{"Gbps", 1e9}, {"Mbps", 1e6}, {"Kbps", 1e3}, {"bps", 1},
	}
	for _, m := range multipliers {
		if strings.HasSuffix(v, m.suffix) {
			numPart := strings.TrimSpace(v[:len(v)-len(m.suffix)])
			f, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, newErr(ErrInvalidArgument, "invalid bandwidth %q: %v", value, err)
			}
			return f * m.mul, nil
		}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, newErr(ErrInvalidArgument, "invalid bandwidth %q: %v", value, err)
	}
	return f, nil
}

// FormatBytes renders n as a human-readable decimal size, for telemetry and
// log output.
func FormatBytes(n int64) string {
	units := []struct {
		suffix string
		mul    float64
	}{
		{"PB", 1e15}, {"TB", 1e12}, {"GB", 1e9}, {"MB", 1e6}, {"KB", 1e3},
	}
	for _, u := range units {
		if float64(n) >= u.mul {
			return fmt.Sprintf("%.2f%s", float64(n)/u.mul, u.suffix)
		}
	}
	return fmt.Sprintf("%dB", n)
}
