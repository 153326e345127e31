package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorsIsMatchesOnCode(t *testing.T) {
	err := fmt.Errorf("withdraw: %w", ErrInsufficientFunds.WithDetail("balance", "10"))

	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.False(t, errors.Is(err, ErrNonPositiveAmount))

	var appErr *Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "10", appErr.Details["balance"])
	assert.Nil(t, ErrInsufficientFunds.Details, "WithDetail must not mutate the sentinel")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{ErrInvalidCredentials, http.StatusUnauthorized},
		{ErrTokenRevoked, http.StatusUnauthorized},
		{ErrAccountNotFound, http.StatusNotFound},
		{ErrNotOwner, http.StatusForbidden},
		{ErrNonPositiveAmount, http.StatusBadRequest},
		{New(DuplicateEmail, "dup"), http.StatusBadRequest},
		{ErrConcurrentMutation, http.StatusConflict},
		{ErrUpstreamUnavailable, http.StatusBadGateway},
		{ErrUpstreamTimeout, http.StatusGatewayTimeout},
		{ErrUpstreamUnknown, http.StatusBadGateway},
		{New(Internal, "boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatus())
		})
	}
}

func TestFromWrapsPlainErrors(t *testing.T) {
	plain := errors.New("connection reset")
	got := From(plain)

	assert.Equal(t, KindInternal, got.Kind)
	assert.ErrorIs(t, got, plain)
	assert.Nil(t, From(nil))
}

func TestHasCodeAndIsKind(t *testing.T) {
	err := fmt.Errorf("get account: %w", Wrap(UpstreamTimeout, "account service timed out", errors.New("deadline")))

	assert.True(t, HasCode(err, UpstreamUnavailable, UpstreamTimeout))
	assert.False(t, HasCode(err, UpstreamUnknown))
	assert.True(t, IsKind(err, KindUpstream))
	assert.False(t, IsKind(errors.New("x"), KindUpstream))
}
