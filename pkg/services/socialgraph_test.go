package services

import (
	"testing"

	"chitter/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEdgeSelfFollow(t *testing.T) {
	err := validateEdge(7, 7)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidInput))
}

func TestValidateEdgeDistinctUsers(t *testing.T) {
	assert.NoError(t, validateEdge(1, 2))
	assert.NoError(t, validateEdge(2, 1))
}
