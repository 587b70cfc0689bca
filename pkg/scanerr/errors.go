// Package scanerr holds the error taxonomy shared by the session, capability,
// transfer and export layers. Callers match with errors.Is; every wrapped
// error keeps its sentinel in the chain.
package scanerr

import (
	"fmt"

	"golang.org/x/xerrors"
)

var (
	// ErrPreconditionNotMet is returned when an operation is attempted in the
	// wrong session state. No side effect has happened.
	ErrPreconditionNotMet = xerrors.New("session precondition not met")

	// ErrDeviceUnavailable is returned when a source cannot be opened.
	ErrDeviceUnavailable = xerrors.New("device unavailable")

	// ErrEnableFailed is returned when a source refuses to start capture.
	ErrEnableFailed = xerrors.New("enable failed")

	// ErrUnsupported is returned when a capability is not supported by the source.
	ErrUnsupported = xerrors.New("capability unsupported")

	// ErrRejected is returned when the source declines a capability value.
	ErrRejected = xerrors.New("capability value rejected")

	// ErrDecodeFailure is returned for a malformed or empty transfer.
	ErrDecodeFailure = xerrors.New("decode failure")

	// ErrWriterUnavailable is returned once the writer retry bound is exhausted.
	ErrWriterUnavailable = xerrors.New("writer unavailable")

	// ErrTeardownFault marks a step that failed during forced teardown.
	ErrTeardownFault = xerrors.New("teardown fault")
)

// Precondition wraps ErrPreconditionNotMet with the operation name and the
// state it was attempted in.
func Precondition(op string, state fmt.Stringer) error {
	return xerrors.Errorf("%s in state %s: %w", op, state, ErrPreconditionNotMet)
}
