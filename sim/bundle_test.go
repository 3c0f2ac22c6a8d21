package sim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTopologyBundle_ParsesNodesAndLinks(t *testing.T) {
	// GIVEN a YAML topology bundle on disk
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	contents := `
seed: 42
routing:
  strategy: link-state
  metric: latency
nodes:
  - id: a
    zone: us-east
    storage: 10GB
  - id: b
    zone: us-east
    storage: 10GB
links:
  - a: a
    b: b
    bandwidth: 1Gbps
    latency_ms: 2
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	// WHEN the bundle is loaded
	bundle, err := LoadTopologyBundle(path)

	// THEN it parses into the expected structures
	require.NoError(t, err)
	assert.Equal(t, int64(42), bundle.Seed)
	require.Len(t, bundle.Nodes, 2)
	assert.Equal(t, "a", bundle.Nodes[0].ID)
	require.Len(t, bundle.Links, 1)
	assert.Equal(t, "1Gbps", bundle.Links[0].Bandwidth)
}

func TestTopologyBundle_Validate_RejectsDuplicateNodeID(t *testing.T) {
	// GIVEN a bundle with two nodes sharing an id
	bundle := TopologyBundle{
		Nodes: []NodeSpec{{ID: "a"}, {ID: "a"}},
	}

	// WHEN validated
	err := bundle.Validate()

	// THEN it fails
	require.Error(t, err)
}

func TestTopologyBundle_Validate_RejectsUnknownLinkEndpoint(t *testing.T) {
	// GIVEN a bundle whose link references a node that doesn't exist
	bundle := TopologyBundle{
		Nodes: []NodeSpec{{ID: "a"}},
		Links: []LinkSpec{{A: "a", B: "ghost"}},
	}

	// WHEN validated
	err := bundle.Validate()

	// THEN it fails
	require.Error(t, err)
}

func TestTopologyBundle_Validate_RejectsUnknownRoutingStrategy(t *testing.T) {
	// GIVEN a bundle with an unrecognized routing strategy
	bundle := TopologyBundle{Routing: RoutingConfig{Strategy: "quantum-routing"}}

	// WHEN validated
	err := bundle.Validate()

	// THEN it fails
	require.Error(t, err)
}
