package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollector_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCycle(OutcomeMatch, 120*time.Millisecond)
	c.RecordCycle(OutcomeSkipped, 0)
	c.RecordAlert("no_face")
	c.RecordPersistenceFailure("insert_detection")
	c.RecordModelLoad("primary", "failure")
	c.RecordCameraAcquisition("success")

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	out := string(body)

	for _, want := range []string{
		`faceguard_cycles_total{outcome="match"} 1`,
		`faceguard_cycles_total{outcome="skipped"} 1`,
		`faceguard_cycle_latency_seconds_count 1`,
		`faceguard_alerts_total{kind="no_face"} 1`,
		`faceguard_persistence_failures_total{op="insert_detection"} 1`,
		`faceguard_model_loads_total{result="failure",source="primary"} 1`,
		`faceguard_camera_acquisitions_total{result="success"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected scrape output to contain %q", want)
		}
	}
}

func TestOrNop(t *testing.T) {
	if _, ok := OrNop(nil).(Nop); !ok {
		t.Error("expected Nop for nil recorder")
	}
	c := NewCollector(prometheus.NewRegistry())
	if OrNop(c) != Recorder(c) {
		t.Error("expected collector to be returned unchanged")
	}
}
