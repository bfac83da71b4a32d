package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kozaktomas/face-guard/internal/database"
	"github.com/kozaktomas/face-guard/internal/database/mock"
	"github.com/kozaktomas/face-guard/internal/geometry"
)

func newTestManager() (*Manager, *mock.MockSessionStore, *mock.MockDetectionStore) {
	sessions := mock.NewMockSessionStore()
	detections := mock.NewMockDetectionStore()
	detections.Sessions = sessions
	opts := Options{
		UserAgent: "face-guard/test",
		Viewport:  func() geometry.Size { return geometry.Size{Width: 640, Height: 480} },
	}
	return NewManager(sessions, detections, opts, nil, nil), sessions, detections
}

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }

func TestStart_TwiceReturnsSameSession(t *testing.T) {
	m, store, _ := newTestManager()
	ctx := context.Background()

	first, err := m.Start(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	second, err := m.Start(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("expected same session id, got %s and %s", first.ID, second.ID)
	}
	if store.CreateCalls != 1 {
		t.Errorf("expected 1 create, got %d", store.CreateCalls)
	}
	if first.Status != database.StatusPending {
		t.Errorf("expected pending, got %s", first.Status)
	}
	if first.DeviceInfo.UserAgent != "face-guard/test" || first.DeviceInfo.Viewport.Width != 640 {
		t.Errorf("unexpected device snapshot %+v", first.DeviceInfo)
	}
}

func TestStart_ReusesPendingSessionFromStore(t *testing.T) {
	m, store, _ := newTestManager()
	store.AddSession(database.VerificationSession{ID: "existing", UserID: "user-1", Status: database.StatusPending, Attempts: 4})

	s, err := m.Start(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.ID != "existing" || s.Attempts != 4 {
		t.Errorf("expected existing session to be reused, got %+v", s)
	}
	if store.CreateCalls != 0 {
		t.Errorf("expected no create, got %d", store.CreateCalls)
	}
}

// racingStore hides the pending session from the first lookup, as if another
// process created it between our lookup and our insert.
type racingStore struct {
	*mock.MockSessionStore
	lookups int
}

func (r *racingStore) ActiveSession(ctx context.Context, userID string) (*database.VerificationSession, error) {
	r.lookups++
	if r.lookups == 1 {
		return nil, nil
	}
	return r.MockSessionStore.ActiveSession(ctx, userID)
}

func TestStart_LostRaceUsesWinnerSession(t *testing.T) {
	inner := mock.NewMockSessionStore()
	inner.AddSession(database.VerificationSession{ID: "winner", UserID: "user-1", Status: database.StatusPending})
	store := &racingStore{MockSessionStore: inner}
	m := NewManager(store, mock.NewMockDetectionStore(), Options{}, nil, nil)

	s, err := m.Start(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.ID != "winner" {
		t.Errorf("expected the winner's session, got %s", s.ID)
	}
}

func TestStart_StoreFailure(t *testing.T) {
	m, store, _ := newTestManager()
	store.CreateError = errors.New("connection refused")

	if _, err := m.Start(context.Background(), "user-1", ""); err == nil {
		t.Fatal("expected error when the session cannot be created")
	}
	if m.Active() {
		t.Error("expected no active session")
	}
}

func TestStart_StoresReferenceURL(t *testing.T) {
	m, store, _ := newTestManager()
	ctx := context.Background()

	s, _ := m.Start(ctx, "user-1", "")
	s, err := m.Start(ctx, "user-1", "https://example.com/me.jpg")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.ReferenceFaceURL != "https://example.com/me.jpg" {
		t.Errorf("expected reference url locally, got %q", s.ReferenceFaceURL)
	}
	stored, _ := store.GetSession(ctx, s.ID)
	if stored.ReferenceFaceURL != "https://example.com/me.jpg" {
		t.Errorf("expected reference url in store, got %q", stored.ReferenceFaceURL)
	}
}

func TestRecordDetection_AttemptCounting(t *testing.T) {
	m, store, detections := newTestManager()
	ctx := context.Background()
	s, _ := m.Start(ctx, "user-1", "")

	for range 3 {
		if err := m.RecordDetection(ctx, Detection{FaceDetected: false}); err != nil {
			t.Fatalf("RecordDetection() error = %v", err)
		}
	}
	if got := m.Current().Attempts; got != 0 {
		t.Fatalf("no-face detections must not count as attempts, got %d", got)
	}

	err := m.RecordDetection(ctx, Detection{
		FaceDetected: true,
		Confidence:   floatPtr(0.91),
		FaceMatch:    boolPtr(false),
		Coordinates:  &database.FaceCoordinates{X: 1, Y: 2, Width: 3, Height: 4},
	})
	if err != nil {
		t.Fatalf("RecordDetection() error = %v", err)
	}

	cur := m.Current()
	if cur.Attempts != 1 || cur.LastVerificationAt == nil {
		t.Errorf("expected 1 attempt with timestamp, got %d / %v", cur.Attempts, cur.LastVerificationAt)
	}
	stored, _ := store.GetSession(ctx, s.ID)
	if stored.Attempts != 1 || stored.LastVerificationAt == nil {
		t.Errorf("expected store to have 1 attempt, got %d", stored.Attempts)
	}

	all := detections.All()
	if len(all) != 4 {
		t.Fatalf("expected 4 detection records, got %d", len(all))
	}
	last := all[3]
	if last.SessionID != s.ID || last.UserID != "user-1" || *last.FaceMatch || last.Coordinates.Width != 3 {
		t.Errorf("unexpected detection record %+v", last)
	}
}

func TestEnd_TerminalSessionRejectsDetections(t *testing.T) {
	m, store, detections := newTestManager()
	ctx := context.Background()
	s, _ := m.Start(ctx, "user-1", "")

	if err := m.End(ctx, database.StatusVerified); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	stored, _ := store.GetSession(ctx, s.ID)
	if stored.Status != database.StatusVerified || stored.EndedAt == nil {
		t.Errorf("expected verified with end time, got %s / %v", stored.Status, stored.EndedAt)
	}

	err := m.RecordDetection(ctx, Detection{FaceDetected: true, FaceMatch: boolPtr(true)})
	if !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession, got %v", err)
	}
	if len(detections.All()) != 0 {
		t.Error("expected no detection write after End()")
	}

	// Idempotent.
	if err := m.End(ctx, database.StatusFailed); err != nil {
		t.Errorf("second End() error = %v", err)
	}
	stored, _ = store.GetSession(ctx, s.ID)
	if stored.Status != database.StatusVerified {
		t.Error("second End() must not touch the ended session")
	}
}

func TestEnd_RejectsNonTerminalStatus(t *testing.T) {
	m, _, _ := newTestManager()
	m.Start(context.Background(), "user-1", "")

	if err := m.End(context.Background(), database.StatusPending); err == nil {
		t.Error("expected error for pending as terminal status")
	}
	if !m.Active() {
		t.Error("session must stay active")
	}
}

func TestUpdate_NoActiveSession(t *testing.T) {
	m, store, _ := newTestManager()
	status := database.StatusFailed

	if err := m.Update(context.Background(), database.SessionUpdate{Status: &status}); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession, got %v", err)
	}
	if store.UpdateCalls != 0 {
		t.Error("expected no store write")
	}
}

func TestCleanup_IsLocalOnly(t *testing.T) {
	m, store, _ := newTestManager()
	ctx := context.Background()
	s, _ := m.Start(ctx, "user-1", "")
	updates := store.UpdateCalls

	m.Cleanup()

	if m.Active() {
		t.Error("expected no local session after Cleanup()")
	}
	if store.UpdateCalls != updates {
		t.Error("Cleanup() must not write to the store")
	}
	stored, _ := store.GetSession(ctx, s.ID)
	if stored.Status != database.StatusPending {
		t.Errorf("stored session should remain pending, got %s", stored.Status)
	}

	// The pending session is picked up again on the next start.
	again, _ := m.Start(ctx, "user-1", "")
	if again.ID != s.ID {
		t.Errorf("expected pending session to be reused, got %s", again.ID)
	}
}

func TestPersistenceFailuresAreAbsorbed(t *testing.T) {
	m, store, detections := newTestManager()
	ctx := context.Background()
	m.Start(ctx, "user-1", "")

	store.UpdateError = errors.New("timeout")
	detections.InsertError = errors.New("timeout")

	if err := m.RecordDetection(ctx, Detection{FaceDetected: true, FaceMatch: boolPtr(true)}); err != nil {
		t.Errorf("store failure must not surface, got %v", err)
	}
	if m.Current().Attempts != 1 {
		t.Error("local state should still advance when the store fails")
	}
	if err := m.End(ctx, database.StatusExpired); err != nil {
		t.Errorf("End() error = %v", err)
	}
	if m.Active() {
		t.Error("local session must be cleared even if the store write fails")
	}
}

func TestStart_DifferentUserDropsLocalSession(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	a, _ := m.Start(ctx, "user-a", "")
	b, err := m.Start(ctx, "user-b", "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if a.ID == b.ID || b.UserID != "user-b" {
		t.Errorf("expected a fresh session for user-b, got %+v", b)
	}
}

func TestSessionEndedElsewhereIsNotMutated(t *testing.T) {
	m, store, detections := newTestManager()
	ctx := context.Background()
	s, err := m.Start(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Another process expires the session while it is still held locally.
	if n, _ := store.ExpireStale(ctx, time.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("expected 1 expired session, got %d", n)
	}

	err = m.RecordDetection(ctx, Detection{FaceDetected: true, FaceMatch: boolPtr(true)})
	if !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("RecordDetection() error = %v, want ErrNoActiveSession", err)
	}
	if m.Active() {
		t.Error("expected the expired session to be dropped locally")
	}
	if len(detections.All()) != 0 {
		t.Error("expected no detection recorded for an expired session")
	}

	if err := m.End(ctx, database.StatusVerified); err != nil {
		t.Errorf("End() error = %v", err)
	}
	stored, _ := store.GetSession(ctx, s.ID)
	if stored.Status != database.StatusExpired || stored.Attempts != 0 {
		t.Errorf("expired session was mutated: status=%s attempts=%d", stored.Status, stored.Attempts)
	}
}

func TestEndAfterExpiryKeepsStoredStatus(t *testing.T) {
	m, store, _ := newTestManager()
	ctx := context.Background()
	s, _ := m.Start(ctx, "user-1", "")
	store.ExpireStale(ctx, time.Now().Add(time.Hour))

	if err := m.End(ctx, database.StatusVerified); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	stored, _ := store.GetSession(ctx, s.ID)
	if stored.Status != database.StatusExpired {
		t.Errorf("expected expired to stay, got %s", stored.Status)
	}
}

func TestStart_ReplacesSessionEndedElsewhere(t *testing.T) {
	m, store, _ := newTestManager()
	ctx := context.Background()
	first, _ := m.Start(ctx, "user-1", "")
	store.ExpireStale(ctx, time.Now().Add(time.Hour))

	second, err := m.Start(ctx, "user-1", "https://example.com/me.jpg")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if second.ID == first.ID {
		t.Error("expected a fresh session after the old one expired")
	}
	if second.Status != database.StatusPending || second.ReferenceFaceURL != "https://example.com/me.jpg" {
		t.Errorf("unexpected session %+v", second)
	}
}
