package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomAlphanumericLength(t *testing.T) {
	for _, n := range []int{0, 1, 24, 32} {
		out := RandomAlphanumeric(n)
		assert.Len(t, out, n)
		for _, r := range out {
			assert.Contains(t, alphanumeric, string(r))
		}
	}
}

func TestRandomAlphanumericUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		out := RandomAlphanumeric(24)
		assert.False(t, seen[out], "RandomAlphanumeric produced a repeat")
		seen[out] = true
	}
}

func TestNewWorkIDAndCorrelationID(t *testing.T) {
	assert.Len(t, NewWorkID(), 32)
	assert.Len(t, NewCorrelationID(), 24)
	assert.NotEqual(t, NewWorkID(), NewWorkID())
}
