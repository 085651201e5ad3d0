package services

import (
	"errors"
	"testing"
	"time"

	"chitter/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

const testSecret = "test_secret"

func TestVerifyPwdRoundTrip(t *testing.T) {
	salt := genRandomStr(32)
	hashed := hashPwd([]byte("hunter2" + salt))
	assert.True(t, verifyPwd("hunter2", salt, hashed))
	assert.False(t, verifyPwd("hunter3", salt, hashed))
	assert.False(t, verifyPwd("hunter2", "wrong salt", hashed))
}

func TestSessionTokenRoundTrip(t *testing.T) {
	token, err := newSessionToken(testSecret, 42, "alice@example.com", time.Now())
	require.NoError(t, err)

	userID, err := parseSessionToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestSessionTokenWrongSecret(t *testing.T) {
	token, err := newSessionToken(testSecret, 42, "alice@example.com", time.Now())
	require.NoError(t, err)

	_, err = parseSessionToken("other_secret", token)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Unauthorized))
}

func TestSessionTokenExpired(t *testing.T) {
	// issued more than 7 days ago
	issuedAt := time.Now().Add(-8 * 24 * time.Hour)
	token, err := newSessionToken(testSecret, 42, "alice@example.com", issuedAt)
	require.NoError(t, err)

	_, err = parseSessionToken(testSecret, token)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Unauthorized))
}

func TestSessionTokenGarbage(t *testing.T) {
	_, err := parseSessionToken(testSecret, "not.a.token")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Unauthorized))
}

func TestValidateRegistration(t *testing.T) {
	assert.NoError(t, validateRegistration("Alice", "Smith", "alice@example.com", "hunter2"))

	for _, tc := range []struct {
		name                                 string
		firstName, lastName, email, password string
	}{
		{"missing first name", "", "Smith", "alice@example.com", "hunter2"},
		{"missing last name", "Alice", "", "alice@example.com", "hunter2"},
		{"missing email", "Alice", "Smith", "", "hunter2"},
		{"missing password", "Alice", "Smith", "alice@example.com", ""},
		{"malformed email", "Alice", "Smith", "not-an-email", "hunter2"},
		{"email without domain", "Alice", "Smith", "alice@", "hunter2"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := validateRegistration(tc.firstName, tc.lastName, tc.email, tc.password)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.InvalidInput))
		})
	}
}

func TestInsertUserErrorRegistrationRace(t *testing.T) {
	// the loser of a concurrent signup race hits the unique email index
	dup := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000}}}
	err := insertUserError(dup, "alice@example.com")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Conflict))
}

func TestInsertUserErrorStoreFailure(t *testing.T) {
	err := insertUserError(errors.New("socket closed"), "alice@example.com")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.StoreUnavailable))
}

func TestGenRandomStrLengthAndVariety(t *testing.T) {
	s1 := genRandomStr(32)
	s2 := genRandomStr(32)
	assert.Len(t, s1, 32)
	assert.NotEqual(t, s1, s2)
}
