package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBytes_HandlesDecimalSuffixes(t *testing.T) {
	// GIVEN a handful of shorthand sizes
	// WHEN parsed
	// THEN they resolve to the correct byte counts
	cases := map[string]int64{
		"500":   500,
		"10KB":  10_000,
		"2MB":   2_000_000,
		"1.5GB": 1_500_000_000,
	}
	for in, want := range cases {
		got, err := ParseBytes(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseBandwidth_HandlesSuffixes(t *testing.T) {
	// GIVEN bandwidth shorthand values
	// WHEN parsed
	// THEN they resolve to bits/second
	got, err := ParseBandwidth("1Gbps")
	require.NoError(t, err)
	assert.Equal(t, 1e9, got)

	got, err = ParseBandwidth("500Mbps")
	require.NoError(t, err)
	assert.Equal(t, 500e6, got)
}

func TestParseBytes_RejectsEmpty(t *testing.T) {
	// GIVEN an empty size string
	// WHEN parsed
	_, err := ParseBytes("")

	// THEN it fails invalid_argument
	require.Error(t, err)
	var simErr *SimError
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, ErrInvalidArgument, simErr.Kind)
}

func TestFormatBytes_PicksLargestUnit(t *testing.T) {
	assert.Equal(t, "2.00GB", FormatBytes(2_000_000_000))
	assert.Equal(t, "500B", FormatBytes(500))
}
