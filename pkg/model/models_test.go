package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := FeedCursor{CreatedAt: 1700000000, ChitID: 12345}
	parsed, err := ParseCursor(cursor.Encode())
	require.NoError(t, err)
	require.NotNil(t, parsed)
	assert.Equal(t, cursor.CreatedAt, parsed.CreatedAt)
	assert.Equal(t, cursor.ChitID, parsed.ChitID)
}

func TestParseCursorEmpty(t *testing.T) {
	parsed, err := ParseCursor("")
	require.NoError(t, err)
	assert.Nil(t, parsed)
}

func TestParseCursorMalformed(t *testing.T) {
	for _, s := range []string{"abc", "1-2", "12_", "_12", "1_2_3x"} {
		_, err := ParseCursor(s)
		assert.Error(t, err, "cursor %q should not parse", s)
	}
}
