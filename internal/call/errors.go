package call

import (
	"errors"
	"fmt"

	"github.com/mossy-p/call-signaling/internal/media"
)

// Failure categories surfaced to the UI. Raw transport and device errors
// are always wrapped in one of these.
var (
	ErrTransportUnavailable = errors.New("signaling transport unavailable")
	ErrPermissionDenied     = errors.New("device permission denied")
	ErrDeviceNotFound       = errors.New("device not found")
	ErrDeviceOther          = errors.New("device error")
	ErrNegotiationFailed    = errors.New("negotiation failed")
	ErrPeerDisconnected     = errors.New("peer disconnected")
	ErrPoorNetwork          = errors.New("network quality is poor")
	ErrUnauthenticated      = errors.New("no authenticated identity")

	ErrAlreadyStarted = errors.New("call already initialized")
	ErrNotRunning     = errors.New("call is not running")
	ErrUnknownPeer    = errors.New("unknown peer")
)

// Error records which step of the call failed.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func newErrorf(op string, err error, format string, args ...any) *Error {
	return &Error{Op: op, Err: err, Details: fmt.Sprintf(format, args...)}
}

func deviceError(err error) *Error {
	var sentinel error
	switch media.DeviceErrorKindOf(err) {
	case media.DevicePermissionDenied:
		sentinel = ErrPermissionDenied
	case media.DeviceNotFound:
		sentinel = ErrDeviceNotFound
	default:
		sentinel = ErrDeviceOther
	}
	e := NewError("acquire media", sentinel)
	var de *media.DeviceError
	if errors.As(err, &de) && de.Device != "" {
		e.Details = de.Device
	}
	return e
}
