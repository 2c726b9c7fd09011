package lynkco

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

type ErrorType int

const (
	UnknownError ErrorType = iota
	NetworkError
	AuthenticationFailed
	AuthenticationRequired
	MFARequired
	MFAInvalid
	MFAExpired
	TokenExpired
	RefreshTokenExpired
	APIErrorType
)

func (t ErrorType) String() string {
	switch t {
	case NetworkError:
		return "NETWORK_ERROR"
	case AuthenticationFailed:
		return "AUTHENTICATION_FAILED"
	case AuthenticationRequired:
		return "AUTHENTICATION_REQUIRED"
	case MFARequired:
		return "MFA_REQUIRED"
	case MFAInvalid:
		return "MFA_INVALID"
	case MFAExpired:
		return "MFA_EXPIRED"
	case TokenExpired:
		return "TOKEN_EXPIRED"
	case RefreshTokenExpired:
		return "REFRESH_TOKEN_EXPIRED"
	case APIErrorType:
		return "API_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// APIError is returned by every Lynk&Co call. Type tells callers whether a
// new login is needed.
type APIError struct {
	Type    ErrorType
	Message string
	Status  int
	cause   error
}

func (e *APIError) Error() string {
	msg := e.Type.String() + ": " + e.Message
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// Is matches another *APIError of the same type, so the Err* values below
// work as sentinels.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Message == "" && t.Type == e.Type
}

var (
	ErrAuthenticationRequired = &APIError{Type: AuthenticationRequired}
	ErrAuthenticationFailed   = &APIError{Type: AuthenticationFailed}
	ErrMFARequired            = &APIError{Type: MFARequired}
	ErrMFAInvalid             = &APIError{Type: MFAInvalid}
	ErrRefreshTokenExpired    = &APIError{Type: RefreshTokenExpired}
)

func newError(t ErrorType, cause error, format string, args ...interface{}) *APIError {
	return &APIError{Type: t, Message: fmt.Sprintf(format, args...), cause: cause}
}

// TypeOf returns the ErrorType carried by err, or UnknownError.
func TypeOf(err error) ErrorType {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type
	}
	return UnknownError
}

// NeedsLogin reports whether err can only be resolved by logging in again.
func NeedsLogin(err error) bool {
	switch TypeOf(err) {
	case AuthenticationRequired, AuthenticationFailed, RefreshTokenExpired, TokenExpired:
		return true
	}
	return false
}
