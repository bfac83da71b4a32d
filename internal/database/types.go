package database

import (
	"errors"
	"time"

	"github.com/kozaktomas/face-guard/internal/geometry"
)

// ErrPendingSessionExists is returned by CreateSession when the user already has a
// pending session. Callers re-read the active session instead.
var ErrPendingSessionExists = errors.New("pending verification session already exists")

// ErrSessionNotPending is returned by writes to a session that has already ended,
// including sessions ended by another process.
var ErrSessionNotPending = errors.New("verification session is no longer pending")

// Status is the verification session state. Pending is the only non-terminal state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
	StatusExpired  Status = "expired"
)

// ParseStatus maps a stored status string to a Status. Unknown values are
// treated as pending.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusVerified, StatusFailed, StatusExpired:
		return Status(s)
	default:
		return StatusPending
	}
}

// Terminal reports whether the status ends a session.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusFailed || s == StatusExpired
}

// DeviceInfo is the device snapshot captured when a session is created.
type DeviceInfo struct {
	UserAgent string        `json:"user_agent"`
	Hostname  string        `json:"hostname,omitempty"`
	OS        string        `json:"os,omitempty"`
	Arch      string        `json:"arch,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Viewport  geometry.Size `json:"viewport"`
}

// VerificationSession is one verification attempt sequence of a user.
type VerificationSession struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	Status              Status     `json:"verification_status"`
	StartedAt           time.Time  `json:"session_start"`
	EndedAt             *time.Time `json:"session_end,omitempty"`
	ReferenceFaceURL    string     `json:"reference_face_url,omitempty"`
	ReferenceDescriptor []float32  `json:"-"` // descriptor derived from ReferenceFaceURL, empty if not yet derived
	Attempts            int        `json:"verification_attempts"`
	LastVerificationAt  *time.Time `json:"last_verification_time,omitempty"`
	DeviceInfo          DeviceInfo `json:"device_info"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// FaceCoordinates is the detected face box in source pixels.
type FaceCoordinates struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CoordinatesFromBox converts a corner-format box.
func CoordinatesFromBox(b geometry.Box) *FaceCoordinates {
	return &FaceCoordinates{X: b.X1, Y: b.Y1, Width: b.Width(), Height: b.Height()}
}

// DetectionRecord is one append-only audit entry per evaluated frame.
type DetectionRecord struct {
	ID              int64            `json:"id"`
	SessionID       string           `json:"session_id"`
	UserID          string           `json:"user_id"`
	DetectedAt      time.Time        `json:"detection_time"`
	FaceDetected    bool             `json:"face_detected"`
	ConfidenceScore *float64         `json:"confidence_score,omitempty"`
	FaceMatch       *bool            `json:"face_match,omitempty"` // nil when no comparison was attempted
	Coordinates     *FaceCoordinates `json:"face_coordinates,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// SessionUpdate is a partial session update. Nil fields are left unchanged.
type SessionUpdate struct {
	Status              *Status
	EndedAt             *time.Time
	ReferenceFaceURL    *string
	ReferenceDescriptor []float32
	Attempts            *int
	LastVerificationAt  *time.Time
}

// Empty reports whether the update changes nothing.
func (u SessionUpdate) Empty() bool {
	return u.Status == nil && u.EndedAt == nil && u.ReferenceFaceURL == nil &&
		u.ReferenceDescriptor == nil && u.Attempts == nil && u.LastVerificationAt == nil
}

// Apply merges the update into s.
func (u SessionUpdate) Apply(s *VerificationSession) {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.EndedAt != nil {
		t := *u.EndedAt
		s.EndedAt = &t
	}
	if u.ReferenceFaceURL != nil {
		s.ReferenceFaceURL = *u.ReferenceFaceURL
	}
	if u.ReferenceDescriptor != nil {
		s.ReferenceDescriptor = append([]float32(nil), u.ReferenceDescriptor...)
	}
	if u.Attempts != nil {
		s.Attempts = *u.Attempts
	}
	if u.LastVerificationAt != nil {
		t := *u.LastVerificationAt
		s.LastVerificationAt = &t
	}
}
