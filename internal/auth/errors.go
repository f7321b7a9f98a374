package auth

import (
	"errors"
	"fmt"
)

// Kind classifies authentication failures.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidCredentials is fatal and never retried.
	KindInvalidCredentials
	// KindBackendUnavailable covers network errors, timeouts and 5xx/429.
	KindBackendUnavailable
	// KindTokenExpired triggers a silent refresh inside the provider.
	KindTokenExpired
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid credentials"
	case KindBackendUnavailable:
		return "backend unavailable"
	case KindTokenExpired:
		return "token expired"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrBackendUnavailable = &Error{Kind: KindBackendUnavailable}
	ErrTokenExpired       = &Error{Kind: KindTokenExpired}
)

// Error is the error type returned by authenticators and the provider.
type Error struct {
	Kind   Kind
	Method string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Method != "" {
		msg = "vault auth " + e.Method + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so callers can test against the
// package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// InvalidCredentials wraps err as a rejected login.
func InvalidCredentials(op string, err error) error {
	return &Error{Kind: KindInvalidCredentials, Op: op, Err: err}
}

// BackendUnavailable wraps err as a transient backend failure.
func BackendUnavailable(op string, err error) error {
	return &Error{Kind: KindBackendUnavailable, Op: op, Err: err}
}

// TokenExpired wraps err as an expired token.
func TokenExpired(op string, err error) error {
	return &Error{Kind: KindTokenExpired, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return KindOf(err) == KindBackendUnavailable
}

func withMethod(err error, method string) error {
	if e, ok := err.(*Error); ok && e.Method == "" {
		cp := *e
		cp.Method = method
		return &cp
	}
	if err != nil && KindOf(err) == KindUnknown {
		return fmt.Errorf("vault auth %s: %w", method, err)
	}
	return err
}
