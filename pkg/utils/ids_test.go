package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenUniqueIDIsPositive(t *testing.T) {
	id, err := GenUniqueID("0", 123456789, 42)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))
}

func TestGenUniqueIDDistinctCounters(t *testing.T) {
	id1, err := GenUniqueID("abc", 1000, 1)
	require.NoError(t, err)
	id2, err := GenUniqueID("abc", 1000, 2)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestGenUniqueIDOrderedByTimestamp(t *testing.T) {
	earlier, err := GenUniqueID("0", 1000, 1)
	require.NoError(t, err)
	later, err := GenUniqueID("0", 2000, 1)
	require.NoError(t, err)
	assert.Less(t, earlier, later)
}

func TestIDGeneratorNextUnique(t *testing.T) {
	gen := NewIDGenerator()
	seen := make(map[int64]bool)
	for i := 0; i < 1000; i++ {
		id, err := gen.Next()
		require.NoError(t, err)
		assert.False(t, seen[id], "id %d minted twice", id)
		seen[id] = true
	}
}

func TestHashMacAddressPidLength(t *testing.T) {
	hash := HashMacAddressPid("02:42:ac:11:00:02")
	assert.Len(t, hash, 3)
}
