package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"chitter/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteOwnershipErrorForbidden(t *testing.T) {
	rec := httptest.NewRecorder()
	writeOwnershipError(rec, errs.New(errs.Unauthorized, "follower_id does not match the session token"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWriteOwnershipErrorKeepsOtherKinds(t *testing.T) {
	rec := httptest.NewRecorder()
	writeOwnershipError(rec, errs.New(errs.NotFound, "user 7 does not exist"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParsePathID(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/user/42/feed", nil)
	r.SetPathValue("id", "42")

	id, err := parsePathID(r, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestParsePathIDMalformed(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/user/seven/feed", nil)
	r.SetPathValue("id", "seven")

	_, err := parsePathID(r, "id")
	require.Error(t, err)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
}

func TestParseFeedParams(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/chits?cursor=1700000000_7&limit=5", nil)
	cursor, limit := parseFeedParams(r)
	assert.Equal(t, "1700000000_7", cursor)
	assert.Equal(t, 5, limit)
}

func TestParseFeedParamsDefaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/chits", nil)
	cursor, limit := parseFeedParams(r)
	assert.Empty(t, cursor)
	assert.Zero(t, limit)
}

func TestParseFeedParamsIgnoresBadLimit(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/chits?limit=lots", nil)
	_, limit := parseFeedParams(r)
	assert.Zero(t, limit)
}
