package tokens

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eaglebank/moneyflow/shared/apperr"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestIssuer(t *testing.T, clock *fakeClock) *Issuer {
	t.Helper()
	issuer, err := NewIssuer([]byte("test-secret-0123456789"), WithClock(clock.now))
	require.NoError(t, err)
	return issuer
}

func TestIssueAndValidate(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	issuer := newTestIssuer(t, clock)

	token, err := issuer.Issue("alice")
	require.NoError(t, err)

	username, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestValidateAroundExpiry(t *testing.T) {
	issuedAt := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: issuedAt}
	issuer := newTestIssuer(t, clock)

	token, err := issuer.Issue("alice")
	require.NoError(t, err)
	exp := issuedAt.Add(AccessTokenTTL)

	clock.t = exp.Add(-time.Second)
	_, err = issuer.Validate(token)
	assert.NoError(t, err, "token must be accepted one second before exp")

	clock.t = exp.Add(time.Second)
	_, err = issuer.Validate(token)
	assert.ErrorIs(t, err, apperr.ErrTokenExpired, "token must be rejected one second after exp")
}

func TestValidateRejectsMalformed(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	issuer := newTestIssuer(t, clock)

	other, err := NewIssuer([]byte("another-secret"), WithClock(clock.now))
	require.NoError(t, err)
	foreign, err := other.Issue("mallory")
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "mallory",
		"exp": clock.t.Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": clock.t.Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret-0123456789"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not.a.jwt"},
		{name: "empty", token: ""},
		{name: "wrong secret", token: foreign},
		{name: "alg none", token: unsigned},
		{name: "missing subject", token: noSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Validate(tt.token)
			assert.ErrorIs(t, err, apperr.ErrTokenMalformed)
		})
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer(nil)
	assert.Error(t, err)
}
