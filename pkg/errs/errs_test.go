package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfTypedError(t *testing.T) {
	err := New(NotFound, "user %d does not exist", 42)
	assert.Equal(t, NotFound, KindOf(err))
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, Conflict))
}

func TestKindOfWrappedError(t *testing.T) {
	err := fmt.Errorf("calling component: %w", New(Conflict, "email taken"))
	assert.Equal(t, Conflict, KindOf(err))
}

func TestKindOfFlattenedError(t *testing.T) {
	// errors that crossed an rpc boundary keep only their message
	flattened := errors.New(New(Unauthorized, "invalid credentials").Error())
	assert.Equal(t, Unauthorized, KindOf(flattened))
}

func TestKindOfUnknownError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("something else")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestErrorMessage(t *testing.T) {
	err := New(InvalidInput, "field %s is required", "email")
	assert.Equal(t, "invalid_input: field email is required", err.Error())
}
