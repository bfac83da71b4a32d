package handlers

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-guard/internal/config"
	"github.com/kozaktomas/face-guard/internal/database"
	"github.com/kozaktomas/face-guard/internal/events"
	"github.com/kozaktomas/face-guard/internal/facerec"
	"github.com/kozaktomas/face-guard/internal/geometry"
	"github.com/kozaktomas/face-guard/internal/monitor"
	"github.com/kozaktomas/face-guard/internal/verifier"
	"github.com/kozaktomas/face-guard/internal/web/middleware"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Monitor: config.MonitorConfig{VerifyPerMinute: 30},
		Web:     config.WebConfig{Host: "127.0.0.1", Port: 0, SessionSecret: "test-secret"},
	}
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// requestAsUser attaches an authenticated session for userID to the request
func requestAsUser(r *http.Request, userID string) *http.Request {
	s := &middleware.Session{ID: "session-" + userID, UserID: userID}
	return r.WithContext(middleware.SetSessionInContext(r.Context(), s))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

// fakeEngine records calls and returns canned results.
type fakeEngine struct {
	mu       sync.Mutex
	calls    []string
	status   verifier.Status
	err      error
	ref      *facerec.Reference
	verify   *monitor.VerifyResult
	ended    database.Status
	ack      bool
	snapshot image.Image
	overlay  *monitor.Overlay
	events   *events.Broadcaster
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		status:  verifier.Status{State: "idle"},
		overlay: monitor.NewOverlay(geometry.Size{Width: 64, Height: 48}),
		events:  events.NewBroadcaster(),
	}
}

func (f *fakeEngine) called(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) Status() verifier.Status { return f.status }

func (f *fakeEngine) RetryModels(ctx context.Context) error {
	f.called("retry_models")
	return f.err
}

func (f *fakeEngine) StartCamera(ctx context.Context) error {
	f.called("start_camera")
	return f.err
}

func (f *fakeEngine) StopCamera() { f.called("stop_camera") }

func (f *fakeEngine) LoadReference(ctx context.Context, url string) (*facerec.Reference, error) {
	f.called("load_reference:" + url)
	return f.ref, f.err
}

func (f *fakeEngine) Verify(ctx context.Context) (*monitor.VerifyResult, error) {
	f.called("verify")
	return f.verify, f.err
}

func (f *fakeEngine) StartMonitoring(ctx context.Context) error {
	f.called("start_monitoring")
	return f.err
}

func (f *fakeEngine) StopMonitoring()          { f.called("stop_monitoring") }
func (f *fakeEngine) AckNoFace() bool          { f.called("ack_no_face"); return f.ack }
func (f *fakeEngine) AckDifferentPerson() bool { f.called("ack_different_person"); return f.ack }

func (f *fakeEngine) EndSession(ctx context.Context, status database.Status) error {
	f.called("end_session")
	f.ended = status
	return f.err
}

func (f *fakeEngine) Snapshot() (image.Image, error) { return f.snapshot, f.err }
func (f *fakeEngine) Overlay() *monitor.Overlay      { return f.overlay }
func (f *fakeEngine) Events() *events.Broadcaster    { return f.events }
