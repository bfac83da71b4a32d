package camera

import (
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"syscall"
)

// ErrFrameNotReady is returned when the sink has not buffered a frame yet.
// Callers skip the frame; it is never a "no face" result.
var ErrFrameNotReady = errors.New("camera: frame not ready")

// ErrNoStream is returned when a sink is asked to play without a bound stream.
var ErrNoStream = errors.New("camera: no stream bound")

// ErrorKind categorizes camera acquisition failures.
type ErrorKind int

const (
	Unsupported ErrorKind = iota + 1
	PermissionDenied
	NotFound
	Busy
	StreamInactive
)

func (k ErrorKind) String() string {
	switch k {
	case Unsupported:
		return "unsupported"
	case PermissionDenied:
		return "permission_denied"
	case NotFound:
		return "not_found"
	case Busy:
		return "busy"
	case StreamInactive:
		return "stream_inactive"
	default:
		return "unknown"
	}
}

// Error is a categorized, non-fatal camera failure. The user may retry.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "camera " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "camera " + e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage returns the text shown to the user for this failure.
func (e *Error) UserMessage() string {
	const prefix = "Unable to access camera. "
	switch e.Kind {
	case Unsupported:
		return prefix + "Camera capture is not supported on this system."
	case PermissionDenied:
		return prefix + "Camera permission was denied. Please allow camera access and try again."
	case NotFound:
		return prefix + "No camera found. Please connect a camera and try again."
	case Busy:
		return prefix + "Camera is already in use by another application."
	case StreamInactive:
		return prefix + "Camera stream inactive."
	default:
		return prefix + "Please check your camera permissions and try again."
	}
}

// IsKind reports whether err is a camera Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == kind
}

// classify maps a device error onto the camera error taxonomy.
// Unrecognized read failures are reported as Busy, the generic "device could not be read" case.
func classify(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, errors.ErrUnsupported):
		return &Error{Kind: Unsupported, Err: err}
	case errors.Is(err, fs.ErrPermission):
		return &Error{Kind: PermissionDenied, Err: err}
	case errors.Is(err, fs.ErrNotExist):
		return &Error{Kind: NotFound, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: StreamInactive, Err: err}
	case errors.Is(err, syscall.EBUSY):
		return &Error{Kind: Busy, Err: err}
	default:
		return &Error{Kind: Busy, Err: err}
	}
}
