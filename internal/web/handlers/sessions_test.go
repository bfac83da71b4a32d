package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/face-guard/internal/database"
	"github.com/kozaktomas/face-guard/internal/database/mock"
)

func seedAudit(t *testing.T) (*mock.MockSessionStore, *mock.MockDetectionStore) {
	t.Helper()
	sessions := mock.NewMockSessionStore()
	detections := mock.NewMockDetectionStore()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sessions.AddSession(database.VerificationSession{ID: "s-old", UserID: "user-1", Status: database.StatusVerified, StartedAt: start})
	sessions.AddSession(database.VerificationSession{ID: "s-new", UserID: "user-1", Status: database.StatusPending, StartedAt: start.Add(time.Hour)})
	sessions.AddSession(database.VerificationSession{ID: "s-other", UserID: "user-2", Status: database.StatusPending, StartedAt: start})

	match := true
	for i := range 3 {
		d := &database.DetectionRecord{SessionID: "s-new", UserID: "user-1", DetectedAt: start.Add(time.Duration(i) * 2 * time.Second), FaceDetected: true, FaceMatch: &match}
		if err := detections.InsertDetection(t.Context(), d); err != nil {
			t.Fatal(err)
		}
	}
	return sessions, detections
}

func TestAuditHandler_List(t *testing.T) {
	sessions, detections := seedAudit(t)
	handler := NewAuditHandler(sessions, detections)

	recorder := httptest.NewRecorder()
	handler.List(recorder, requestAsUser(httptest.NewRequest(http.MethodGet, "/api/v1/sessions?limit=1", nil), "user-1"))

	assertStatusCode(t, recorder, http.StatusOK)
	var got []database.VerificationSession
	parseJSONResponse(t, recorder, &got)
	if len(got) != 1 || got[0].ID != "s-new" {
		t.Errorf("sessions = %+v, want only s-new", got)
	}

	recorder = httptest.NewRecorder()
	handler.List(recorder, requestAsUser(httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil), "user-3"))
	if body := recorder.Body.String(); body != "[]\n" {
		t.Errorf("empty list body = %q", body)
	}
}

func TestAuditHandler_Get(t *testing.T) {
	tests := []struct {
		name       string
		user       string
		id         string
		wantStatus int
		wantCount  int
	}{
		{"own session", "user-1", "s-new", http.StatusOK, 3},
		{"own session without detections", "user-1", "s-old", http.StatusOK, 0},
		{"other user's session", "user-1", "s-other", http.StatusNotFound, 0},
		{"unknown", "user-1", "missing", http.StatusNotFound, 0},
		{"missing id", "user-1", "", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions, detections := seedAudit(t)
			handler := NewAuditHandler(sessions, detections)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+tt.id, nil)
			req = requestWithChiParams(requestAsUser(req, tt.user), map[string]string{"id": tt.id})
			recorder := httptest.NewRecorder()
			handler.Get(recorder, req)

			assertStatusCode(t, recorder, tt.wantStatus)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var detail SessionDetail
			parseJSONResponse(t, recorder, &detail)
			if detail.Session.ID != tt.id || detail.DetectionCount != tt.wantCount || len(detail.Detections) != tt.wantCount {
				t.Errorf("detail = %+v", detail)
			}
		})
	}
}

func TestAuditHandler_StoreErrors(t *testing.T) {
	sessions, detections := seedAudit(t)
	sessions.ListError = errors.New("db down")
	detections.ListError = errors.New("db down")
	handler := NewAuditHandler(sessions, detections)

	recorder := httptest.NewRecorder()
	handler.List(recorder, requestAsUser(httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil), "user-1"))
	assertStatusCode(t, recorder, http.StatusInternalServerError)

	req := requestWithChiParams(requestAsUser(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s-new", nil), "user-1"), map[string]string{"id": "s-new"})
	recorder = httptest.NewRecorder()
	handler.Get(recorder, req)
	assertStatusCode(t, recorder, http.StatusInternalServerError)
	assertJSONError(t, recorder, "failed to list detections")
}
