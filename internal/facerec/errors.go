package facerec

import (
	"errors"
	"fmt"
)

// ErrModelsNotReady is returned when the model set has not been loaded yet.
var ErrModelsNotReady = errors.New("facerec: models not loaded")

// ReferenceErrorKind categorizes reference photo failures.
type ReferenceErrorKind int

const (
	NoFaceDetected ReferenceErrorKind = iota + 1
	FetchFailed
)

func (k ReferenceErrorKind) String() string {
	switch k {
	case NoFaceDetected:
		return "no_face_detected"
	case FetchFailed:
		return "fetch_failed"
	default:
		return "unknown"
	}
}

// ReferenceError is returned by ReferenceStore.Load.
type ReferenceError struct {
	Kind ReferenceErrorKind
	URL  string
	Err  error
}

func (e *ReferenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reference %s (%s): %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("reference %s (%s)", e.Kind, e.URL)
}

func (e *ReferenceError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown to the user.
func (e *ReferenceError) UserMessage() string {
	switch e.Kind {
	case NoFaceDetected:
		return "No face detected in reference image. Please update your profile photo."
	default:
		return "Failed to load reference face. Please try again."
	}
}

// Action is the guidance shown next to the message.
func (e *ReferenceError) Action() string {
	switch e.Kind {
	case NoFaceDetected:
		return "Use a clearer photo that shows your face."
	default:
		return "Check your connectivity and try again."
	}
}

// IsReferenceKind reports whether err is a ReferenceError of the given kind.
func IsReferenceKind(err error, kind ReferenceErrorKind) bool {
	var re *ReferenceError
	return errors.As(err, &re) && re.Kind == kind
}
