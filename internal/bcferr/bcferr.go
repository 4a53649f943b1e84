// Package bcferr defines the stable, user-visible error kinds produced by
// every component that touches a .bcf archive or its HDF5 output.
package bcferr

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind classifies an Error for the CLI and for callers that need to react
// to a failure mode without string-matching messages.
type Kind int

const (
	// NotFound means the input path does not exist or cannot be opened.
	NotFound Kind = iota
	// InvalidFormat means the magic literal or a record size did not match
	// the expected SFS layout.
	InvalidFormat
	// Unsupported means the archive is a compressed or encrypted SFS
	// variant, which this reader deliberately does not implement.
	Unsupported
	// Truncated means a short read occurred before a record or chunk
	// completed.
	Truncated
	// CorruptTree means the node table is internally inconsistent: a
	// parent index out of range, a cycle, or a chunk index referencing
	// space outside the archive.
	CorruptTree
	// MissingSubfile means a required archive entry was absent.
	MissingSubfile
	// Io means a filesystem error occurred creating the scratch directory
	// or writing the output file.
	Io
	// HdfWrite means the underlying HDF5 capability rejected a write.
	HdfWrite
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case InvalidFormat:
		return "InvalidFormat"
	case Unsupported:
		return "Unsupported"
	case Truncated:
		return "Truncated"
	case CorruptTree:
		return "CorruptTree"
	case MissingSubfile:
		return "MissingSubfile"
	case Io:
		return "Io"
	case HdfWrite:
		return "HdfWrite"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type every component in this module returns.
// Op names the operation that failed (e.g. "sfs.Open", "pattern.Stream").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap constructs an *Error wrapping an underlying cause. The cause is
// captured through xerrors.Errorf so that a caller formatting the final
// error with "%+v" (the CLI's -debug mode) gets a frame per wrap, the same
// as the teacher's own xerrors.Errorf("Stat(%d): %v", ...) call sites.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: xerrors.Errorf("%w", err)}
}

// Is reports whether err is a *Error of the given Kind, unwrapping as
// needed.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
