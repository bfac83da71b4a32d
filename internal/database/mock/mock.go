// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-guard/internal/database"
)

// MockSessionStore is an in-memory database.SessionWriter
type MockSessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*database.VerificationSession
	order    []string

	// Error injection
	GetError    error
	ActiveError error
	ListError   error
	CreateError error
	UpdateError error
	ExpireError error

	// Call counters
	CreateCalls int
	UpdateCalls int
}

// NewMockSessionStore creates a new mock session store
func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{
		sessions: make(map[string]*database.VerificationSession),
	}
}

// AddSession adds a session to the mock store as-is
func (m *MockSessionStore) AddSession(s database.VerificationSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.sessions[s.ID] = &s
	m.order = append(m.order, s.ID)
}

// GetSession retrieves a session by ID
func (m *MockSessionStore) GetSession(ctx context.Context, id string) (*database.VerificationSession, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// ActiveSession returns the newest pending session of the user
func (m *MockSessionStore) ActiveSession(ctx context.Context, userID string) (*database.VerificationSession, error) {
	if m.ActiveError != nil {
		return nil, m.ActiveError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		s := m.sessions[m.order[i]]
		if s.UserID == userID && s.Status == database.StatusPending {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

// ListSessions returns the user's sessions, newest first
func (m *MockSessionStore) ListSessions(ctx context.Context, userID string, limit int) ([]database.VerificationSession, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.VerificationSession
	for i := len(m.order) - 1; i >= 0; i-- {
		s := m.sessions[m.order[i]]
		if s.UserID != userID {
			continue
		}
		out = append(out, *s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// CreateSession stores a new session, enforcing one pending session per user
func (m *MockSessionStore) CreateSession(ctx context.Context, s *database.VerificationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.CreateError != nil {
		return m.CreateError
	}
	for _, existing := range m.sessions {
		if existing.UserID == s.UserID && existing.Status == database.StatusPending {
			return database.ErrPendingSessionExists
		}
	}

	now := time.Now()
	s.ID = uuid.NewString()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	cp := *s
	m.sessions[s.ID] = &cp
	m.order = append(m.order, s.ID)
	return nil
}

// UpdateSession applies a partial update
func (m *MockSessionStore) UpdateSession(ctx context.Context, id string, u database.SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	if m.UpdateError != nil {
		return m.UpdateError
	}
	s, ok := m.sessions[id]
	if !ok || s.Status != database.StatusPending {
		return database.ErrSessionNotPending
	}
	u.Apply(s)
	s.UpdatedAt = time.Now()
	return nil
}

// ExpireStale marks old pending sessions as expired
func (m *MockSessionStore) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.ExpireError != nil {
		return 0, m.ExpireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.Status == database.StatusPending && s.StartedAt.Before(cutoff) {
			s.Status = database.StatusExpired
			ended := time.Now()
			s.EndedAt = &ended
			n++
		}
	}
	return n, nil
}

// pending reports whether the session exists and is still pending
func (m *MockSessionStore) pending(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return ok && s.Status == database.StatusPending
}

// Count returns the number of stored sessions
func (m *MockSessionStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// MockDetectionStore is an in-memory database.DetectionWriter
type MockDetectionStore struct {
	mu         sync.RWMutex
	detections []database.DetectionRecord
	nextID     int64

	// Sessions, when set, rejects detections for sessions that are not pending
	Sessions *MockSessionStore

	// Error injection
	InsertError error
	ListError   error
	CountError  error
}

// NewMockDetectionStore creates a new mock detection store
func NewMockDetectionStore() *MockDetectionStore {
	return &MockDetectionStore{}
}

// InsertDetection appends a detection
func (m *MockDetectionStore) InsertDetection(ctx context.Context, d *database.DetectionRecord) error {
	if m.InsertError != nil {
		return m.InsertError
	}
	if m.Sessions != nil && !m.Sessions.pending(d.SessionID) {
		return database.ErrSessionNotPending
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	d.ID = m.nextID
	d.CreatedAt = time.Now()
	m.detections = append(m.detections, *d)
	return nil
}

// ListDetections returns the detections of a session in insertion order
func (m *MockDetectionStore) ListDetections(ctx context.Context, sessionID string, limit int) ([]database.DetectionRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.DetectionRecord
	for _, d := range m.detections {
		if d.SessionID == sessionID {
			out = append(out, d)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountDetections returns the number of detections of a session
func (m *MockDetectionStore) CountDetections(ctx context.Context, sessionID string) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, d := range m.detections {
		if d.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

// All returns a copy of every stored detection
func (m *MockDetectionStore) All() []database.DetectionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.detections)
}
