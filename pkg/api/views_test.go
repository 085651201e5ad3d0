package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chitter/pkg/errs"
	"chitter/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusForKind(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusForKind(errs.InvalidInput))
	assert.Equal(t, http.StatusUnauthorized, statusForKind(errs.Unauthorized))
	assert.Equal(t, http.StatusNotFound, statusForKind(errs.NotFound))
	assert.Equal(t, http.StatusConflict, statusForKind(errs.Conflict))
	assert.Equal(t, http.StatusServiceUnavailable, statusForKind(errs.StoreUnavailable))
	assert.Equal(t, http.StatusInternalServerError, statusForKind(""))
}

func TestWriteErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errs.New(errs.Conflict, "email taken"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]errorJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "conflict", body["error"].Kind)
	assert.Equal(t, "conflict: email taken", body["error"].Message)
}

func TestChitViewFieldNames(t *testing.T) {
	chit := model.Chit{
		ChitID:    7,
		AuthorID:  42,
		Content:   "hello",
		CreatedAt: 1700000000,
		Location:  &model.Location{Latitude: 51.5, Longitude: -0.1},
		ImageRef:  "https://cdn.example.com/img.png",
	}
	data, err := json.Marshal(chitView(chit))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "7", decoded["chit_id"])
	assert.Equal(t, "42", decoded["user_id"])
	assert.Equal(t, "hello", decoded["chit_content"])
	assert.Equal(t, float64(1700000000), decoded["timestamp"])
	assert.Contains(t, decoded, "location")
	assert.Equal(t, "https://cdn.example.com/img.png", decoded["imageURL"])
}

func TestChitViewOmitsAbsentOptionals(t *testing.T) {
	data, err := json.Marshal(chitView(model.Chit{ChitID: 1, AuthorID: 2, Content: "hi", CreatedAt: 1}))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotContains(t, decoded, "location")
	assert.NotContains(t, decoded, "imageURL")
	assert.NotContains(t, decoded, "place")
}

func TestProfileViewCreatedAtFormat(t *testing.T) {
	view := profileView(model.User{UserID: 1, CreatedAt: 0})
	assert.Equal(t, "1970-01-01T00:00:00Z", view.CreatedAt)
}
