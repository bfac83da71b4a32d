package monitor

import (
	"sync"

	"github.com/kozaktomas/face-guard/internal/constants"
)

// AlertKind names one of the two independent alert conditions.
type AlertKind string

const (
	AlertNoFace          AlertKind = "no_face"
	AlertDifferentPerson AlertKind = "different_person"
)

// Alert is a raised alert condition with the text shown to the user.
type Alert struct {
	Kind    AlertKind `json:"kind"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
}

// AlertFor returns the presentation of an alert kind.
func AlertFor(kind AlertKind) Alert {
	switch kind {
	case AlertDifferentPerson:
		return Alert{
			Kind:    kind,
			Title:   "Security Alert!",
			Message: "A different person has been detected. For security reasons, verification may be required to continue.",
		}
	default:
		return Alert{
			Kind:    AlertNoFace,
			Title:   "Face Not Detected",
			Message: "No face is currently visible. Please position yourself clearly in front of the camera to continue.",
		}
	}
}

// Counters is a snapshot of the anomaly state.
type Counters struct {
	ConsecutiveNoFace      int  `json:"consecutive_no_face"`
	NoFaceFlagged          bool `json:"no_face_flagged"`
	DifferentPersonFlagged bool `json:"different_person_flagged"`
}

// Alerts turns per-cycle observations into two latched alert flags. Each latch
// stays raised until its own acknowledgment.
type Alerts struct {
	mu        sync.Mutex
	threshold int
	c         Counters
}

// NewAlerts creates the alert state. A non-positive threshold selects the default of 3.
func NewAlerts(threshold int) *Alerts {
	if threshold <= 0 {
		threshold = constants.NoFaceAlertThreshold
	}
	return &Alerts{threshold: threshold}
}

// ObserveNoFace counts a cycle without a face. It reports true exactly when
// this observation raised the no-face alert.
func (a *Alerts) ObserveNoFace() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.c.ConsecutiveNoFace++
	if a.c.ConsecutiveNoFace >= a.threshold && !a.c.NoFaceFlagged {
		a.c.NoFaceFlagged = true
		return true
	}
	return false
}

// ObserveFace resets the no-face counter. Raised alerts stay raised.
func (a *Alerts) ObserveFace() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.c.ConsecutiveNoFace = 0
}

// ObserveMismatch raises the different-person alert unless it is already raised.
// It reports true when this observation raised it.
func (a *Alerts) ObserveMismatch() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.c.DifferentPersonFlagged {
		return false
	}
	a.c.DifferentPersonFlagged = true
	return true
}

// AckNoFace clears the no-face latch and its counter. It reports whether the alert was raised.
func (a *Alerts) AckNoFace() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	was := a.c.NoFaceFlagged
	a.c.NoFaceFlagged = false
	a.c.ConsecutiveNoFace = 0
	return was
}

// AckDifferentPerson clears the different-person latch. It reports whether the alert was raised.
func (a *Alerts) AckDifferentPerson() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	was := a.c.DifferentPersonFlagged
	a.c.DifferentPersonFlagged = false
	return was
}

// Reset clears all counters and latches.
func (a *Alerts) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.c = Counters{}
}

// Snapshot returns the current counters.
func (a *Alerts) Snapshot() Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.c
}

// Threshold returns the number of consecutive no-face cycles that raises the alert.
func (a *Alerts) Threshold() int {
	return a.threshold
}
