// Package apperr defines the closed set of failure kinds shared by every
// service. Callers discriminate with errors.Is on a sentinel (same Code) or
// errors.As into *Error; message text is for humans only.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindToken          Kind = "token"
	KindNotFound       Kind = "not_found"
	KindForbidden      Kind = "forbidden"
	KindValidation     Kind = "validation"
	KindConflict       Kind = "conflict"
	KindUpstream       Kind = "upstream"
	KindInternal       Kind = "internal"
)

type Code string

const (
	InvalidCredentials Code = "invalid_credentials"

	TokenExpired   Code = "token_expired"
	TokenRevoked   Code = "token_revoked"
	TokenNotFound  Code = "token_not_found"
	TokenMalformed Code = "token_malformed"

	UserNotFound        Code = "user_not_found"
	AccountNotFound     Code = "account_not_found"
	TransactionNotFound Code = "transaction_not_found"

	NotOwner Code = "not_owner"

	NonPositiveAmount Code = "non_positive_amount"
	InsufficientFunds Code = "insufficient_funds"
	InvalidRequest    Code = "invalid_request"
	DuplicateUsername Code = "duplicate_username"
	DuplicateEmail    Code = "duplicate_email"
	NegativeBalance   Code = "negative_balance"
	AmountPrecision   Code = "amount_precision"
	AmountOutOfRange  Code = "amount_out_of_range"

	ConcurrentMutation Code = "concurrent_mutation"

	UpstreamUnavailable Code = "upstream_unavailable"
	UpstreamTimeout     Code = "upstream_timeout"
	UpstreamUnknown     Code = "upstream_unknown"

	Internal Code = "internal_error"
)

var codeKinds = map[Code]Kind{
	InvalidCredentials:  KindAuthentication,
	TokenExpired:        KindToken,
	TokenRevoked:        KindToken,
	TokenNotFound:       KindToken,
	TokenMalformed:      KindToken,
	UserNotFound:        KindNotFound,
	AccountNotFound:     KindNotFound,
	TransactionNotFound: KindNotFound,
	NotOwner:            KindForbidden,
	NonPositiveAmount:   KindValidation,
	InsufficientFunds:   KindValidation,
	InvalidRequest:      KindValidation,
	DuplicateUsername:   KindValidation,
	DuplicateEmail:      KindValidation,
	NegativeBalance:     KindValidation,
	AmountPrecision:     KindValidation,
	AmountOutOfRange:    KindValidation,
	ConcurrentMutation:  KindConflict,
	UpstreamUnavailable: KindUpstream,
	UpstreamTimeout:     KindUpstream,
	UpstreamUnknown:     KindUpstream,
	Internal:            KindInternal,
}

// Error is a typed application failure. Details is rendered to clients as-is.
type Error struct {
	Kind    Kind           `json:"-"`
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error carrying the same code, so the package-level
// sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus maps the error to the status code returned at the HTTP boundary.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuthentication, KindToken:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		if e.Code == UpstreamTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func New(code Code, message string) *Error {
	kind, ok := codeKinds[code]
	if !ok {
		kind = KindInternal
	}
	return &Error{Kind: kind, Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches cause to a new error of the given code. The cause is kept
// for logs and errors.Is/As chains but never rendered to clients.
func Wrap(code Code, message string, cause error) *Error {
	e := New(code, message)
	e.cause = cause
	return e
}

// WithDetail returns a copy of e with key set in Details.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// From extracts the *Error in err's chain, or wraps err as Internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(Internal, "internal error", err)
}

// HasCode reports whether err carries any of the given codes.
func HasCode(err error, codes ...Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	for _, c := range codes {
		if e.Code == c {
			return true
		}
	}
	return false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidCredentials  = New(InvalidCredentials, "invalid username or password")
	ErrTokenExpired        = New(TokenExpired, "token has expired")
	ErrTokenRevoked        = New(TokenRevoked, "token has been revoked")
	ErrTokenNotFound       = New(TokenNotFound, "token not found")
	ErrTokenMalformed      = New(TokenMalformed, "token is malformed")
	ErrUserNotFound        = New(UserNotFound, "user not found")
	ErrAccountNotFound     = New(AccountNotFound, "account not found")
	ErrTransactionNotFound = New(TransactionNotFound, "transaction not found")
	ErrNotOwner            = New(NotOwner, "you do not own this account")
	ErrNonPositiveAmount   = New(NonPositiveAmount, "amount must be greater than zero")
	ErrInsufficientFunds   = New(InsufficientFunds, "insufficient funds")
	ErrAmountPrecision     = New(AmountPrecision, "amount has more decimal places than supported")
	ErrAmountOutOfRange    = New(AmountOutOfRange, "amount is too large")
	ErrConcurrentMutation  = New(ConcurrentMutation, "account was modified concurrently, please retry")
	ErrUpstreamUnavailable = New(UpstreamUnavailable, "upstream service unavailable")
	ErrUpstreamTimeout     = New(UpstreamTimeout, "upstream service timed out")
	ErrUpstreamUnknown     = New(UpstreamUnknown, "upstream outcome unknown")
)
