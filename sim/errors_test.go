package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimError_Is_MatchesSentinelByKind(t *testing.T) {
	// GIVEN an error constructed with a specific kind
	err := newErr(ErrNoSpace, "disk %s is full", "node-a")

	// WHEN compared against the matching sentinel via errors.Is
	// THEN it matches, and does not match an unrelated sentinel
	assert.True(t, errors.Is(err, NoSpace))
	assert.False(t, errors.Is(err, OOM))
}

func TestSimError_Error_IncludesMessage(t *testing.T) {
	// GIVEN a constructed error
	err := newErr(ErrInvalidArgument, "bad value %d", 7)

	// WHEN rendered as a string
	// THEN it includes the formatted message
	assert.Contains(t, err.Error(), "bad value 7")
}
