//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kozaktomas/face-guard/internal/config"
	"github.com/kozaktomas/face-guard/internal/database"
	"github.com/kozaktomas/face-guard/internal/geometry"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	// Run migrations
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func TestMigrate_Reapply(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	if err := pool.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	versions, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("MigrationsApplied() error = %v", err)
	}
	want := []string{"001_verification_sessions.sql", "002_face_detections.sql"}
	if len(versions) != len(want) {
		t.Fatalf("MigrationsApplied() = %v, want %v", versions, want)
	}
	for i := range want {
		if versions[i] != want[i] {
			t.Errorf("versions[%d] = %s, want %s", i, versions[i], want[i])
		}
	}
}

func TestVerificationSessionRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewVerificationSessionRepository(pool)

	descriptor := make([]float32, 128)
	for i := range descriptor {
		descriptor[i] = float32(i) / 128.0
	}

	var created database.VerificationSession

	t.Run("CreateAndGetActive", func(t *testing.T) {
		created = database.VerificationSession{
			UserID:           "user-1",
			ReferenceFaceURL: "https://example.com/avatar.jpg",
			DeviceInfo: database.DeviceInfo{
				UserAgent: "face-guard/test",
				Timestamp: time.Now().UTC(),
				Viewport:  geometry.Size{Width: 640, Height: 480},
			},
		}
		if err := repo.CreateSession(ctx, &created); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}
		if created.ID == "" {
			t.Fatal("Expected generated ID")
		}

		got, err := repo.ActiveSession(ctx, "user-1")
		if err != nil {
			t.Fatalf("Failed to get active session: %v", err)
		}
		if got == nil || got.ID != created.ID {
			t.Fatalf("Expected active session %s, got %+v", created.ID, got)
		}
		if got.Status != database.StatusPending {
			t.Errorf("Expected pending status, got %s", got.Status)
		}
		if got.DeviceInfo.Viewport.Width != 640 {
			t.Errorf("Expected device info to round-trip, got %+v", got.DeviceInfo)
		}
		if got.ReferenceDescriptor != nil {
			t.Error("Expected no descriptor yet")
		}
	})

	t.Run("SecondPendingSessionRejected", func(t *testing.T) {
		err := repo.CreateSession(ctx, &database.VerificationSession{UserID: "user-1"})
		if !errors.Is(err, database.ErrPendingSessionExists) {
			t.Errorf("Expected ErrPendingSessionExists, got %v", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		attempts := 2
		now := time.Now().UTC()
		err := repo.UpdateSession(ctx, created.ID, database.SessionUpdate{
			Attempts:            &attempts,
			LastVerificationAt:  &now,
			ReferenceDescriptor: descriptor,
		})
		if err != nil {
			t.Fatalf("Failed to update session: %v", err)
		}

		got, err := repo.GetSession(ctx, created.ID)
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if got.Attempts != 2 || got.LastVerificationAt == nil {
			t.Errorf("Unexpected session after update: %+v", got)
		}
		if len(got.ReferenceDescriptor) != 128 || got.ReferenceDescriptor[64] != descriptor[64] {
			t.Errorf("Expected descriptor to round-trip, got %d values", len(got.ReferenceDescriptor))
		}
	})

	t.Run("EndAllowsNewPending", func(t *testing.T) {
		status := database.StatusVerified
		ended := time.Now().UTC()
		if err := repo.UpdateSession(ctx, created.ID, database.SessionUpdate{Status: &status, EndedAt: &ended}); err != nil {
			t.Fatalf("Failed to end session: %v", err)
		}

		active, err := repo.ActiveSession(ctx, "user-1")
		if err != nil {
			t.Fatalf("Failed to get active session: %v", err)
		}
		if active != nil {
			t.Errorf("Expected no active session, got %s", active.ID)
		}

		next := database.VerificationSession{UserID: "user-1"}
		if err := repo.CreateSession(ctx, &next); err != nil {
			t.Fatalf("Failed to create second session: %v", err)
		}

		list, err := repo.ListSessions(ctx, "user-1", 10)
		if err != nil {
			t.Fatalf("Failed to list sessions: %v", err)
		}
		if len(list) != 2 || list[0].ID != next.ID {
			t.Errorf("Expected 2 sessions newest first, got %d", len(list))
		}
	})

	t.Run("UnknownStatusReadsAsPending", func(t *testing.T) {
		s := database.VerificationSession{UserID: "user-2"}
		if err := repo.CreateSession(ctx, &s); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}
		if _, err := pool.Exec(ctx, "UPDATE face_verification_sessions SET verification_status = 'weird' WHERE id = $1", s.ID); err != nil {
			t.Fatalf("Failed to corrupt status: %v", err)
		}
		got, err := repo.GetSession(ctx, s.ID)
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if got.Status != database.StatusPending {
			t.Errorf("Expected unknown status to read as pending, got %s", got.Status)
		}
	})

	t.Run("ExpireStale", func(t *testing.T) {
		n, err := repo.ExpireStale(ctx, time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("Failed to expire sessions: %v", err)
		}
		if n < 1 {
			t.Errorf("Expected at least one expired session, got %d", n)
		}
		active, _ := repo.ActiveSession(ctx, "user-1")
		if active != nil {
			t.Error("Expected no pending session after expiry")
		}
	})

	t.Run("EndedSessionIsImmutable", func(t *testing.T) {
		status := database.StatusFailed
		attempts := 9
		err := repo.UpdateSession(ctx, created.ID, database.SessionUpdate{Status: &status, Attempts: &attempts})
		if !errors.Is(err, database.ErrSessionNotPending) {
			t.Fatalf("Expected ErrSessionNotPending, got %v", err)
		}
		got, err := repo.GetSession(ctx, created.ID)
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if got.Status != database.StatusVerified || got.Attempts != 2 {
			t.Errorf("Ended session was mutated: status=%s attempts=%d", got.Status, got.Attempts)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		got, err := repo.GetSession(ctx, "not-a-uuid")
		if err != nil || got != nil {
			t.Errorf("Expected nil, nil for unknown id, got %v, %v", got, err)
		}
	})
}

func TestDetectionRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	sessions := NewVerificationSessionRepository(pool)
	repo := NewDetectionRepository(pool)

	s := database.VerificationSession{UserID: "user-1"}
	if err := sessions.CreateSession(ctx, &s); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	confidence := 0.93
	match := false
	start := time.Now().UTC()
	records := []database.DetectionRecord{
		{SessionID: s.ID, UserID: "user-1", DetectedAt: start, FaceDetected: false},
		{
			SessionID:       s.ID,
			UserID:          "user-1",
			DetectedAt:      start.Add(2 * time.Second),
			FaceDetected:    true,
			ConfidenceScore: &confidence,
			FaceMatch:       &match,
			Coordinates:     &database.FaceCoordinates{X: 10, Y: 20, Width: 100, Height: 120},
		},
	}
	for i := range records {
		if err := repo.InsertDetection(ctx, &records[i]); err != nil {
			t.Fatalf("Failed to insert detection: %v", err)
		}
		if records[i].ID == 0 {
			t.Error("Expected generated ID")
		}
	}

	count, err := repo.CountDetections(ctx, s.ID)
	if err != nil {
		t.Fatalf("Failed to count detections: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 detections, got %d", count)
	}

	got, err := repo.ListDetections(ctx, s.ID, 10)
	if err != nil {
		t.Fatalf("Failed to list detections: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 detections, got %d", len(got))
	}
	if got[0].FaceMatch != nil || got[0].ConfidenceScore != nil || got[0].Coordinates != nil {
		t.Error("Expected nullable fields to stay nil for a no-face detection")
	}
	if got[1].FaceMatch == nil || *got[1].FaceMatch || got[1].Coordinates.Width != 100 {
		t.Errorf("Unexpected second detection: %+v", got[1])
	}

	if _, err := sessions.ExpireStale(ctx, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Failed to expire sessions: %v", err)
	}
	late := database.DetectionRecord{SessionID: s.ID, UserID: "user-1", DetectedAt: time.Now().UTC(), FaceDetected: true}
	if err := repo.InsertDetection(ctx, &late); !errors.Is(err, database.ErrSessionNotPending) {
		t.Errorf("Expected ErrSessionNotPending for an expired session, got %v", err)
	}
	if count, _ := repo.CountDetections(ctx, s.ID); count != 2 {
		t.Errorf("Expected detections to stay at 2, got %d", count)
	}
}
