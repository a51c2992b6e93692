package repositories

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairKeyOrderIndependent(t *testing.T) {
	assert.Equal(t, PairKey("a", "b"), PairKey("b", "a"))
	assert.Equal(t, "a:b", PairKey("b", "a"))
	assert.Equal(t, "u1:u2", PairKey("u1", "u2"))
}

func TestPairKeyDistinctPairs(t *testing.T) {
	assert.NotEqual(t, PairKey("a", "b"), PairKey("a", "c"))
}
