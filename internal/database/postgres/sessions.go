package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-guard/internal/constants"
	"github.com/kozaktomas/face-guard/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint violation.
const uniqueViolation = "23505"

// VerificationSessionRepository provides PostgreSQL-backed verification session storage
type VerificationSessionRepository struct {
	pool *Pool
}

// NewVerificationSessionRepository creates a new PostgreSQL verification session repository
func NewVerificationSessionRepository(pool *Pool) *VerificationSessionRepository {
	return &VerificationSessionRepository{pool: pool}
}

const sessionColumns = `
	id, user_id, session_start, session_end, verification_status, reference_face_url,
	reference_descriptor::text, verification_attempts, last_verification_time, device_info,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*database.VerificationSession, error) {
	var (
		s          database.VerificationSession
		status     string
		endedAt    sql.NullTime
		refURL     sql.NullString
		descriptor sql.NullString
		lastVerify sql.NullTime
		deviceInfo []byte
	)
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.StartedAt,
		&endedAt,
		&status,
		&refURL,
		&descriptor,
		&s.Attempts,
		&lastVerify,
		&deviceInfo,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = database.ParseStatus(status)
	s.ReferenceFaceURL = refURL.String
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	if lastVerify.Valid {
		s.LastVerificationAt = &lastVerify.Time
	}
	if descriptor.Valid {
		var vec pgvector.Vector
		if err := vec.Scan(descriptor.String); err != nil {
			return nil, fmt.Errorf("parse reference descriptor: %w", err)
		}
		s.ReferenceDescriptor = vec.Slice()
	}
	if len(deviceInfo) > 0 {
		if err := json.Unmarshal(deviceInfo, &s.DeviceInfo); err != nil {
			return nil, fmt.Errorf("parse device info: %w", err)
		}
	}
	return &s, nil
}

// GetSession retrieves a session by ID, returns nil if not found
func (r *VerificationSessionRepository) GetSession(ctx context.Context, id string) (*database.VerificationSession, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	query := `SELECT ` + sessionColumns + ` FROM face_verification_sessions WHERE id = $1`

	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// ActiveSession returns the user's pending session, or nil if there is none
func (r *VerificationSessionRepository) ActiveSession(ctx context.Context, userID string) (*database.VerificationSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM face_verification_sessions
		WHERE user_id = $1 AND verification_status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`

	s, err := scanSession(r.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return s, nil
}

// ListSessions returns the user's sessions, newest first
func (r *VerificationSessionRepository) ListSessions(ctx context.Context, userID string, limit int) ([]database.VerificationSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM face_verification_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []database.VerificationSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// CreateSession stores a new pending session and fills in its ID and timestamps
func (r *VerificationSessionRepository) CreateSession(ctx context.Context, s *database.VerificationSession) error {
	deviceInfo, err := json.Marshal(s.DeviceInfo)
	if err != nil {
		return fmt.Errorf("marshal device info: %w", err)
	}

	id := uuid.New()
	startedAt := s.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	query := `
		INSERT INTO face_verification_sessions
			(id, user_id, session_start, verification_status, reference_face_url,
			 reference_descriptor, verification_attempts, device_info)
		VALUES ($1, $2, $3, 'pending', $4, $5, 0, $6)
		RETURNING created_at, updated_at
	`

	err = r.pool.QueryRow(ctx, query,
		id,
		s.UserID,
		startedAt,
		nullString(s.ReferenceFaceURL),
		nullVector(s.ReferenceDescriptor),
		deviceInfo,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return database.ErrPendingSessionExists
		}
		return fmt.Errorf("create session: %w", err)
	}

	s.ID = id.String()
	s.StartedAt = startedAt
	s.Status = database.StatusPending
	s.Attempts = 0
	return nil
}

// UpdateSession applies a partial update to the session
func (r *VerificationSessionRepository) UpdateSession(ctx context.Context, id string, u database.SessionUpdate) error {
	if u.Empty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if u.Status != nil {
		add("verification_status", string(*u.Status))
	}
	if u.EndedAt != nil {
		add("session_end", *u.EndedAt)
	}
	if u.ReferenceFaceURL != nil {
		add("reference_face_url", nullString(*u.ReferenceFaceURL))
	}
	if u.ReferenceDescriptor != nil {
		add("reference_descriptor", nullVector(u.ReferenceDescriptor))
	}
	if u.Attempts != nil {
		add("verification_attempts", *u.Attempts)
	}
	if u.LastVerificationAt != nil {
		add("last_verification_time", *u.LastVerificationAt)
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	// Ended sessions are immutable.
	query := fmt.Sprintf("UPDATE face_verification_sessions SET %s WHERE id = $%d AND verification_status = 'pending'",
		strings.Join(sets, ", "), len(args))

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return database.ErrSessionNotPending
	}
	return nil
}

// ExpireStale marks pending sessions started before the cutoff as expired
func (r *VerificationSessionRepository) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE face_verification_sessions
		SET verification_status = 'expired', session_end = NOW(), updated_at = NOW()
		WHERE verification_status = 'pending' AND session_start < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire stale sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return count, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullVector stores descriptors that do not fit the vector(128) column as NULL.
func nullVector(v []float32) any {
	if len(v) != constants.DescriptorDim {
		return nil
	}
	return pgvector.NewVector(v)
}
