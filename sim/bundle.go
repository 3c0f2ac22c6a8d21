package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NodeSpec describes one node in a TopologyBundle.
type NodeSpec struct {
	ID            string  `yaml:"id"`
	Zone          string  `yaml:"zone"`
	StorageBytes  string  `yaml:"storage"`   // shorthand, e.g. "500GB"
	Bandwidth     string  `yaml:"bandwidth"` // shorthand, e.g. "1Gbps"
	CPUCores      int     `yaml:"cpu_cores"`
	RAMBytes      string  `yaml:"ram"` // shorthand, e.g. "16GB"
}

// LinkSpec describes one link in a TopologyBundle.
type LinkSpec struct {
	A         string  `yaml:"a"`
	B         string  `yaml:"b"`
	Bandwidth string  `yaml:"bandwidth"` // shorthand, e.g. "1Gbps"; empty = auto-profile
	LatencyMs float64 `yaml:"latency_ms"`
}

// TopologyBundle is a YAML-loadable description of an initial topology and
// engine policy selection, mirroring the teacher's PolicyBundle +
// LoadPolicyBundle + Validate() pattern (SPEC_FULL.md §10).
type TopologyBundle struct {
	Seed    int64           `yaml:"seed"`
	Routing RoutingConfig   `yaml:"routing"`
	Scaling ScalingConfig   `yaml:"scaling"`
	Transfer TransferConfig `yaml:"transfer"`
	Nodes   []NodeSpec      `yaml:"nodes"`
	Links   []LinkSpec      `yaml:"links"`
}

// LoadTopologyBundle reads and parses a YAML topology/policy file.
func LoadTopologyBundle(path string) (*TopologyBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology bundle: %w", err)
	}
	var bundle TopologyBundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parsing topology bundle: %w", err)
	}
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	return &bundle, nil
}

// ValidRoutingStrategies is the set of recognized RoutingConfig.Strategy values.
var ValidRoutingStrategies = map[string]bool{"": true, "link-state": true, "distance-vector": true}

// ValidRoutingMetrics is the set of recognized RoutingConfig.Metric values.
var ValidRoutingMetrics = map[string]bool{"": true, "latency": true, "inverse-bandwidth": true}

// Validate checks that policy names and parameter ranges in the bundle are valid.
func (b *TopologyBundle) Validate() error {
	if !ValidRoutingStrategies[b.Routing.Strategy] {
		return fmt.Errorf("unknown routing strategy %q", b.Routing.Strategy)
	}
	if !ValidRoutingMetrics[b.Routing.Metric] {
		return fmt.Errorf("unknown routing metric %q", b.Routing.Metric)
	}
	if b.Routing.DVInterval < 0 {
		return fmt.Errorf("dv_interval must be non-negative, got %f", b.Routing.DVInterval)
	}
	if b.Scaling.StorageThreshold < 0 || b.Scaling.StorageThreshold > 1 {
		return fmt.Errorf("storage_threshold must be in [0,1], got %f", b.Scaling.StorageThreshold)
	}
	if b.Scaling.BandwidthThreshold < 0 || b.Scaling.BandwidthThreshold > 1 {
		return fmt.Errorf("bandwidth_threshold must be in [0,1], got %f", b.Scaling.BandwidthThreshold)
	}
	seen := make(map[string]bool, len(b.Nodes))
	for _, n := range b.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node spec missing id")
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %q in topology bundle", n.ID)
		}
		seen[n.ID] = true
	}
	for _, l := range b.Links {
		if l.A == "" || l.B == "" {
			return fmt.Errorf("link spec missing endpoint")
		}
		if !seen[l.A] || !seen[l.B] {
			return fmt.Errorf("link %s-%s references unknown node", l.A, l.B)
		}
	}
	return nil
}

// withDefaults returns a copy of the bundle with zero-valued policy fields
// filled from the Default*Config values. Nothing in the package calls it:
// LoadTopologyBundle and Controller.LoadTopology use the bundle's policy
// values as written.
func (b *TopologyBundle) withDefaults() TopologyBundle {
	out := *b
	if out.Routing.Strategy == "" {
		out.Routing.Strategy = DefaultRoutingConfig().Strategy
	}
	if out.Routing.Metric == "" {
		out.Routing.Metric = DefaultRoutingConfig().Metric
	}
	if out.Routing.DVInterval == 0 {
		out.Routing.DVInterval = DefaultRoutingConfig().DVInterval
	}
	defScaling := DefaultScalingConfig()
	if out.Scaling.StorageThreshold == 0 {
		out.Scaling.StorageThreshold = defScaling.StorageThreshold
	}
	if out.Scaling.BandwidthThreshold == 0 {
		out.Scaling.BandwidthThreshold = defScaling.BandwidthThreshold
	}
	if out.Scaling.OSFailureThreshold == 0 {
		out.Scaling.OSFailureThreshold = defScaling.OSFailureThreshold
	}
	if out.Scaling.MemoryUtilizationThreshold == 0 {
		out.Scaling.MemoryUtilizationThreshold = defScaling.MemoryUtilizationThreshold
	}
	if out.Scaling.MaxReplicasPerCluster == 0 {
		out.Scaling.MaxReplicasPerCluster = defScaling.MaxReplicasPerCluster
	}
	if out.Scaling.DefaultClusterSize == 0 {
		out.Scaling.DefaultClusterSize = defScaling.DefaultClusterSize
	}
	defTransfer := DefaultTransferConfig()
	if out.Transfer.ChunkMinBytes == 0 {
		out.Transfer.ChunkMinBytes = defTransfer.ChunkMinBytes
	}
	if out.Transfer.ChunkMaxBytes == 0 {
		out.Transfer.ChunkMaxBytes = defTransfer.ChunkMaxBytes
	}
	return out
}
