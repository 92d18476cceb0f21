package mongosvc

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies client failures. None of them are retried by the
// client; the caller decides whether to reconnect.
type ErrorKind int

const (
	// ConnectivityError reports a connection that could not be
	// established, or one that failed or stalled during an exchange.
	ConnectivityError ErrorKind = iota + 1
	// FramingError reports a response whose length prefix is invalid or
	// whose body is shorter than the prefix declares.
	FramingError
	// EncodingError reports a request value the BSON encoder cannot
	// represent.
	EncodingError
	// UsageError reports an operation invoked in the wrong client state,
	// or with an invalid request or configuration.
	UsageError
)

func (k ErrorKind) String() string {
	switch k {
	case ConnectivityError:
		return "connectivity"
	case FramingError:
		return "framing"
	case EncodingError:
		return "encoding"
	case UsageError:
		return "usage"
	default:
		return "unknown"
	}
}

// Error is the error type returned by the client for every failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, e.Err.Error())
}

func (e *Error) Unwrap() error { return e.Err }
func (e *Error) Cause() error  { return e.Err }

func newError(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: errors.WithStack(err)}
}

func usageErrorf(op, format string, args ...interface{}) error {
	return &Error{Kind: UsageError, Op: op, Err: errors.Errorf(format, args...)}
}

func isKind(err error, kind ErrorKind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

func IsConnectivityError(err error) bool { return isKind(err, ConnectivityError) }
func IsFramingError(err error) bool      { return isKind(err, FramingError) }
func IsEncodingError(err error) bool     { return isKind(err, EncodingError) }
func IsUsageError(err error) bool        { return isKind(err, UsageError) }
