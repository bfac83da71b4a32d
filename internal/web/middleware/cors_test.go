package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://guard.example.com", " "})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name    string
		method  string
		origin  string
		allowed bool
		status  int
	}{
		{"configured origin", http.MethodGet, "https://guard.example.com", true, http.StatusNoContent},
		{"localhost with port", http.MethodGet, "http://localhost:5173", true, http.StatusNoContent},
		{"localhost prefix trick", http.MethodGet, "http://localhost.evil.com", false, http.StatusNoContent},
		{"unknown origin", http.MethodGet, "https://evil.example.com", false, http.StatusNoContent},
		{"no origin", http.MethodGet, "", false, http.StatusNoContent},
		{"preflight", http.MethodOptions, "https://guard.example.com", true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/status", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			got := w.Header().Get("Access-Control-Allow-Origin")
			if tt.allowed && got != tt.origin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.origin)
			}
			if !tt.allowed && got != "" {
				t.Errorf("Allow-Origin = %q, want none", got)
			}
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}
