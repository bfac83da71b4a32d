package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-guard/internal/database"
)

// DetectionRepository provides PostgreSQL-backed storage of the detection audit trail
type DetectionRepository struct {
	pool *Pool
}

// NewDetectionRepository creates a new PostgreSQL detection repository
func NewDetectionRepository(pool *Pool) *DetectionRepository {
	return &DetectionRepository{pool: pool}
}

// InsertDetection appends a detection record and fills in its ID
func (r *DetectionRepository) InsertDetection(ctx context.Context, d *database.DetectionRecord) error {
	var coords []byte
	if d.Coordinates != nil {
		var err error
		if coords, err = json.Marshal(d.Coordinates); err != nil {
			return fmt.Errorf("marshal face coordinates: %w", err)
		}
	}

	var confidence sql.NullFloat64
	if d.ConfidenceScore != nil {
		confidence = sql.NullFloat64{Float64: *d.ConfidenceScore, Valid: true}
	}
	var match sql.NullBool
	if d.FaceMatch != nil {
		match = sql.NullBool{Bool: *d.FaceMatch, Valid: true}
	}

	// The row is only written while the session is still pending.
	query := `
		INSERT INTO face_detections
			(session_id, user_id, detection_time, face_detected, confidence_score, face_match, face_coordinates)
		SELECT $1::uuid, $2::text, $3::timestamptz, $4::boolean, $5::double precision, $6::boolean, $7::jsonb
		FROM face_verification_sessions
		WHERE id = $1::uuid AND verification_status = 'pending'
		RETURNING id, created_at
	`
	err := r.pool.QueryRow(ctx, query,
		d.SessionID,
		d.UserID,
		d.DetectedAt,
		d.FaceDetected,
		confidence,
		match,
		coords,
	).Scan(&d.ID, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return database.ErrSessionNotPending
	}
	if err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}

// ListDetections returns the detections of a session in chronological order
func (r *DetectionRepository) ListDetections(ctx context.Context, sessionID string, limit int) ([]database.DetectionRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT id, session_id, user_id, detection_time, face_detected,
		       confidence_score, face_match, face_coordinates, created_at
		FROM face_detections
		WHERE session_id = $1
		ORDER BY detection_time, id
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	defer rows.Close()

	var out []database.DetectionRecord
	for rows.Next() {
		var (
			d          database.DetectionRecord
			confidence sql.NullFloat64
			match      sql.NullBool
			coords     []byte
		)
		if err := rows.Scan(
			&d.ID,
			&d.SessionID,
			&d.UserID,
			&d.DetectedAt,
			&d.FaceDetected,
			&confidence,
			&match,
			&coords,
			&d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		if confidence.Valid {
			d.ConfidenceScore = &confidence.Float64
		}
		if match.Valid {
			d.FaceMatch = &match.Bool
		}
		if len(coords) > 0 {
			var c database.FaceCoordinates
			if err := json.Unmarshal(coords, &c); err != nil {
				return nil, fmt.Errorf("parse face coordinates: %w", err)
			}
			d.Coordinates = &c
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detections: %w", err)
	}
	return out, nil
}

// CountDetections returns the number of detections recorded for a session
func (r *DetectionRepository) CountDetections(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM face_detections WHERE session_id = $1", sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count detections: %w", err)
	}
	return count, nil
}
