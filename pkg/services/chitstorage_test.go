package services

import (
	"testing"

	"chitter/pkg/errs"
	"chitter/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateChitInputTextOnly(t *testing.T) {
	assert.NoError(t, validateChitInput("hello", nil, ""))
}

func TestValidateChitInputImageOnly(t *testing.T) {
	assert.NoError(t, validateChitInput("", nil, "https://cdn.example.com/img.png"))
}

func TestValidateChitInputLocationOnly(t *testing.T) {
	loc := &model.Location{Latitude: 51.5, Longitude: -0.1}
	assert.NoError(t, validateChitInput("", loc, ""))
}

func TestValidateChitInputEmpty(t *testing.T) {
	err := validateChitInput("   ", nil, "")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidInput))
}

func TestCheckChitAuthorRejectsNonAuthor(t *testing.T) {
	err := checkChitAuthor(99, 42, 7)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Unauthorized))
}

func TestCheckChitAuthorAllowsAuthor(t *testing.T) {
	assert.NoError(t, checkChitAuthor(42, 42, 7))
}

func TestValidateChitInputCoordinateRange(t *testing.T) {
	err := validateChitInput("hi", &model.Location{Latitude: 91, Longitude: 0}, "")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidInput))

	err = validateChitInput("hi", &model.Location{Latitude: 0, Longitude: -181}, "")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidInput))
}
