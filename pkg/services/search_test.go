package services

import (
	"testing"

	"chitter/pkg/errs"
	"chitter/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSearchQueryRequired(t *testing.T) {
	for _, q := range []string{"", "   ", "\t"} {
		err := validateSearchQuery(q)
		require.Error(t, err, "query %q should be rejected", q)
		assert.True(t, errs.Is(err, errs.InvalidInput))
	}
}

func TestValidateSearchQueryAccepted(t *testing.T) {
	assert.NoError(t, validateSearchQuery("bob"))
}

func TestMatchesQuery(t *testing.T) {
	alice := model.User{FirstName: "Alice", LastName: "Smith", Email: "alice@example.com"}

	assert.True(t, matchesQuery(alice, "alice"))
	assert.True(t, matchesQuery(alice, "ALICE"))
	assert.True(t, matchesQuery(alice, "mit"))
	assert.True(t, matchesQuery(alice, "example.com"))
	assert.False(t, matchesQuery(alice, "bob"))
}

func TestMatchesQuerySubstringNotPrefix(t *testing.T) {
	bob := model.User{FirstName: "Robert", LastName: "Brown", Email: "bob@example.com"}
	assert.True(t, matchesQuery(bob, "ober"))
	assert.True(t, matchesQuery(bob, "row"))
}
