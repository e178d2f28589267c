package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestIssueAndParse(t *testing.T) {
	m, err := NewManager(secret, time.Hour)
	require.NoError(t, err)

	token, err := m.Issue("user-1")
	require.NoError(t, err)

	id, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)
}

func TestParseRejects(t *testing.T) {
	m, err := NewManager(secret, time.Hour)
	require.NoError(t, err)
	token, err := m.Issue("user-1")
	require.NoError(t, err)

	other, err := NewManager("another-secret-another-secret-000", time.Hour)
	require.NoError(t, err)
	_, err = other.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	_, err = m.Parse("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken, "garbage")

	expired, err := NewManager(secret, time.Minute)
	require.NoError(t, err)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue("user-1")
	require.NoError(t, err)
	_, err = m.Parse(old)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "user-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.Parse(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager("", time.Hour)
	assert.Error(t, err)
	_, err = NewManager(secret, 0)
	assert.Error(t, err)
}

func TestUserIDContext(t *testing.T) {
	_, ok := UserID(context.Background())
	assert.False(t, ok)

	id, ok := UserID(WithUserID(context.Background(), "u"))
	assert.True(t, ok)
	assert.Equal(t, "u", id)
}
