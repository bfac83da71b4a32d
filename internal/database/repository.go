package database

import (
	"context"
	"time"
)

// SessionReader provides read-only access to verification sessions
type SessionReader interface {
	// GetSession retrieves a session by ID, returns nil if not found
	GetSession(ctx context.Context, id string) (*VerificationSession, error)
	// ActiveSession returns the user's pending session, or nil if there is none
	ActiveSession(ctx context.Context, userID string) (*VerificationSession, error)
	// ListSessions returns the user's sessions, newest first
	ListSessions(ctx context.Context, userID string, limit int) ([]VerificationSession, error)
}

// SessionWriter provides write access to verification sessions
type SessionWriter interface {
	SessionReader

	// CreateSession stores a new pending session and fills in its ID and timestamps.
	// Returns ErrPendingSessionExists if the user already has a pending session.
	CreateSession(ctx context.Context, s *VerificationSession) error

	// UpdateSession applies a partial update to a pending session.
	// Returns ErrSessionNotPending if the session has ended or does not exist.
	UpdateSession(ctx context.Context, id string, u SessionUpdate) error

	// ExpireStale marks pending sessions started before the cutoff as expired
	// and returns how many were changed
	ExpireStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// DetectionReader provides read-only access to the detection audit trail
type DetectionReader interface {
	// ListDetections returns the detections of a session in chronological order
	ListDetections(ctx context.Context, sessionID string, limit int) ([]DetectionRecord, error)
	// CountDetections returns the number of detections recorded for a session
	CountDetections(ctx context.Context, sessionID string) (int, error)
}

// DetectionWriter provides append access to the detection audit trail
type DetectionWriter interface {
	DetectionReader

	// InsertDetection appends a detection record and fills in its ID.
	// Returns ErrSessionNotPending if the session has ended or does not exist.
	InsertDetection(ctx context.Context, d *DetectionRecord) error
}
