// Package ffserr defines the stable error-kind taxonomy of spec §7 and
// wraps it the way the teacher's subpackages wrap their own sentinel
// errors (see buffer_pool/errors.go's BufferPoolError{Op, Err}), but
// generalized across every uffs package instead of being buffer-pool
// local, and annotated with github.com/juju/errors so a caller can
// jerrors.ErrorStack() a failure for diagnostics.
package ffserr

import (
	jerrors "github.com/juju/errors"
)

// Kind is one of the nominal error kinds of spec §7. Names are stable;
// do not renumber.
type Kind int

const (
	NoEntry Kind = iota
	BadFD
	TooManyOpen
	NoMemory
	InvalidArg
	NoSpace
	IOError
	ECCUnrecoverable
	ReadOnly
	Exists
	NotEmpty
	Busy
)

func (k Kind) String() string {
	switch k {
	case NoEntry:
		return "no-entry"
	case BadFD:
		return "bad-fd"
	case TooManyOpen:
		return "too-many-open"
	case NoMemory:
		return "no-memory"
	case InvalidArg:
		return "invalid-arg"
	case NoSpace:
		return "no-space"
	case IOError:
		return "io-error"
	case ECCUnrecoverable:
		return "ecc-unrecoverable"
	case ReadOnly:
		return "read-only"
	case Exists:
		return "exists"
	case NotEmpty:
		return "not-empty"
	case Busy:
		return "busy"
	default:
		return "unknown"
	}
}

// Error pairs an operation name with a Kind and (optionally) an
// underlying cause, mirroring BufferPoolError's {Op, Err} shape.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a *Error with no further cause.
func New(op string, kind Kind) error {
	return &Error{Op: op, Kind: kind}
}

// Wrap annotates err with op and kind, tracing through juju/errors so the
// stack is preserved for logging.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: jerrors.Trace(err)}
}

// As reports whether err (or something it wraps) is a *Error, returning it.
func As(err error) (*Error, bool) {
	for err != nil {
		if fe, ok := err.(*Error); ok {
			return fe, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	fe, ok := As(err)
	return ok && fe.Kind == kind
}
