// Package tokens issues and validates short-lived access tokens. Validation
// is pure computation: no I/O, no lock, no revocation list.
package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/eaglebank/moneyflow/shared/apperr"
)

// AccessTokenTTL bounds how long a leaked or logged-out access token stays usable.
const AccessTokenTTL = 15 * time.Minute

// Claims is the JWT payload: sub carries the username.
type Claims struct {
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 access tokens with the process-wide secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Issuer)

// WithClock overrides the time source used for iat/exp and validation.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) { i.ttl = ttl }
}

func NewIssuer(secret []byte, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret must not be empty")
	}
	i := &Issuer{secret: secret, ttl: AccessTokenTTL, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue builds {sub, iat, exp} and signs it.
func (i *Issuer) Issue(username string) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to sign access token", err)
	}
	return signed, nil
}

// Validate verifies the signature and now < exp, returning the username.
func (i *Issuer) Validate(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperr.Wrap(apperr.TokenExpired, "access token has expired", err)
		}
		return "", apperr.Wrap(apperr.TokenMalformed, "access token is invalid", err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", apperr.New(apperr.TokenMalformed, "access token has no subject")
	}
	return claims.Subject, nil
}
