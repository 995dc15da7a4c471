// Package apperr classifies pipeline failures into the handful of kinds an
// operator cares about. Every stage wraps its errors with one of these kinds so
// callers (and tests) can use errors.Is without matching on message text.
package apperr

import (
	"errors"
)

// Kind is a failure class. Kinds are comparable and satisfy error, so they can
// be used directly as errors.Is targets.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	// ErrConfig - missing or malformed config or credential file
	ErrConfig Kind = "ConfigError"
	// ErrIO - filesystem read/write/traversal failure
	ErrIO Kind = "IOError"
	// ErrCrypto - key parse or signing failure
	ErrCrypto Kind = "CryptoError"
	// ErrNetwork - transport failure or non-success HTTP status
	ErrNetwork Kind = "NetworkError"
	// ErrStorage - local artifact deletion failure
	ErrStorage Kind = "StorageError"
)

// Error carries a kind, a human readable operation ("failed to upload file")
// and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New wraps err as a failure of the given kind. err may be nil.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Config is shorthand for New(ErrConfig, op, err).
func Config(op string, err error) error { return New(ErrConfig, op, err) }

// IO is shorthand for New(ErrIO, op, err).
func IO(op string, err error) error { return New(ErrIO, op, err) }

// Crypto is shorthand for New(ErrCrypto, op, err).
func Crypto(op string, err error) error { return New(ErrCrypto, op, err) }

// Network is shorthand for New(ErrNetwork, op, err).
func Network(op string, err error) error { return New(ErrNetwork, op, err) }

// Storage is shorthand for New(ErrStorage, op, err).
func Storage(op string, err error) error { return New(ErrStorage, op, err) }

// KindOf returns the kind of the outermost classified error in the chain,
// or "" when err was never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
