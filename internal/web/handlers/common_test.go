package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRespondJSON(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		data     any
		wantBody string
	}{
		{"object", http.StatusOK, map[string]string{"status": "ok"}, `{"status":"ok"}`},
		{"created", http.StatusCreated, []int{1, 2}, `[1,2]`},
		{"nil data", http.StatusNoContent, nil, ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tt.status, tt.data)

			assertStatusCode(t, recorder, tt.status)
			assertContentType(t, recorder, "application/json")
			if got := strings.TrimSpace(recorder.Body.String()); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func TestRespondErrorAction(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondErrorAction(recorder, http.StatusConflict, "camera busy", "Close other apps.")

	assertStatusCode(t, recorder, http.StatusConflict)
	var body errorResponse
	parseJSONResponse(t, recorder, &body)
	if body.Error != "camera busy" || body.Action != "Close other apps." {
		t.Errorf("body = %+v", body)
	}

	recorder = httptest.NewRecorder()
	respondError(recorder, http.StatusBadRequest, "bad")
	if strings.Contains(recorder.Body.String(), "action") {
		t.Errorf("expected action omitted, got %s", recorder.Body.String())
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		wantOK bool
		want   string
	}{
		{"valid", `{"url":"http://x/a.jpg"}`, true, "http://x/a.jpg"},
		{"empty body", ``, true, ""},
		{"invalid", `{"url":`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			recorder := httptest.NewRecorder()

			var dst struct {
				URL string `json:"url"`
			}
			ok := decodeJSON(recorder, req, &dst)
			if ok != tt.wantOK {
				t.Fatalf("decodeJSON() = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				assertStatusCode(t, recorder, http.StatusBadRequest)
				assertJSONError(t, recorder, errInvalidRequestBody)
			}
			if dst.URL != tt.want {
				t.Errorf("url = %q, want %q", dst.URL, tt.want)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("user\r\nforged line"); got != "userforged line" {
		t.Errorf("sanitizeForLog() = %q", got)
	}
}

func TestHealthCheck(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead} {
		recorder := httptest.NewRecorder()
		HealthCheck(recorder, httptest.NewRequest(method, "/api/v1/health", nil))

		assertStatusCode(t, recorder, http.StatusOK)
		var body map[string]string
		parseJSONResponse(t, recorder, &body)
		if body["status"] != "ok" {
			t.Errorf("%s: status = %q, want ok", method, body["status"])
		}
	}
}
