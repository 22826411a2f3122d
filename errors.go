package wsauth

import (
	"github.com/pkg/errors"
)

// ErrorKind identifies the phase or step that produced an Error.
type ErrorKind int

const (
	// ArgumentError is a malformed command line.
	ArgumentError ErrorKind = iota + 1

	// CredentialError means the key files are missing, unreadable or empty.
	CredentialError

	// ConfigError means the configuration, or a file it names, could not be
	// used.
	ConfigError

	ResolutionError
	ConnectError
	TLSHandshakeError
	WSHandshakeError
	WriteError
	ReadError
	CloseError

	// SignatureError means the authentication envelope could not be signed.
	// Nothing is written to the wire when it occurs.
	SignatureError
)

var kindLabels = map[ErrorKind]string{
	ArgumentError:     "arguments",
	CredentialError:   "credentials",
	ConfigError:       "config",
	ResolutionError:   "resolve",
	ConnectError:      "connect",
	TLSHandshakeError: "tls handshake",
	WSHandshakeError:  "ws handshake",
	WriteError:        "write",
	ReadError:         "read",
	CloseError:        "close",
	SignatureError:    "signature",
}

// String returns the short label used when reporting the error.
func (k ErrorKind) String() string {
	if l, ok := kindLabels[k]; ok {
		return l
	}
	return "unknown"
}

// setup reports whether the kind belongs to an operation that is cancelled
// when the session is stopped before it is established.
func (k ErrorKind) setup() bool {
	switch k {
	case ResolutionError, ConnectError, TLSHandshakeError, WSHandshakeError:
		return true
	default:
		return false
	}
}

// Error is a failure attributed to one step of a session. Every Error is
// fatal to the session that produced it.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// NewError wraps err with the given kind.
func NewError(kind ErrorKind, err error) error {
	return newError(kind, err)
}

// IsKind reports whether err is, or wraps, an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
