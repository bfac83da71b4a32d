package monitor

import "testing"

func TestAlerts_NoFaceLatchFiresOnce(t *testing.T) {
	a := NewAlerts(3)

	var fired int
	for range 6 {
		if a.ObserveNoFace() {
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("expected the no-face alert to fire once, fired %d times", fired)
	}
	c := a.Snapshot()
	if !c.NoFaceFlagged || c.ConsecutiveNoFace != 6 {
		t.Errorf("unexpected counters %+v", c)
	}
}

func TestAlerts_FiresOnThirdCycle(t *testing.T) {
	a := NewAlerts(3)
	if a.ObserveNoFace() || a.ObserveNoFace() {
		t.Fatal("alert fired before the threshold")
	}
	if !a.ObserveNoFace() {
		t.Fatal("alert did not fire on the third consecutive cycle")
	}
}

func TestAlerts_FaceResetsCounterNotLatch(t *testing.T) {
	a := NewAlerts(3)
	for range 3 {
		a.ObserveNoFace()
	}
	a.ObserveFace()

	c := a.Snapshot()
	if c.ConsecutiveNoFace != 0 {
		t.Errorf("expected counter reset, got %d", c.ConsecutiveNoFace)
	}
	if !c.NoFaceFlagged {
		t.Error("latch must stay raised until acknowledged")
	}

	// Still latched: crossing the threshold again does not fire.
	for range 3 {
		if a.ObserveNoFace() {
			t.Fatal("alert fired again without acknowledgment")
		}
	}
}

func TestAlerts_AckNoFaceRearms(t *testing.T) {
	a := NewAlerts(2)
	a.ObserveNoFace()
	a.ObserveNoFace()

	if !a.AckNoFace() {
		t.Fatal("AckNoFace() = false for a raised alert")
	}
	if c := a.Snapshot(); c.NoFaceFlagged || c.ConsecutiveNoFace != 0 {
		t.Errorf("expected cleared state after ack, got %+v", c)
	}
	if a.AckNoFace() {
		t.Error("second AckNoFace() should report nothing was raised")
	}

	a.ObserveNoFace()
	if !a.ObserveNoFace() {
		t.Error("alert should fire again after acknowledgment")
	}
}

func TestAlerts_Independence(t *testing.T) {
	a := NewAlerts(3)
	a.ObserveNoFace()
	a.ObserveNoFace()

	if !a.ObserveMismatch() {
		t.Fatal("ObserveMismatch() did not raise")
	}
	if a.ObserveMismatch() {
		t.Error("different-person alert raised twice without acknowledgment")
	}

	c := a.Snapshot()
	if c.ConsecutiveNoFace != 2 || c.NoFaceFlagged {
		t.Errorf("mismatch changed the no-face state: %+v", c)
	}

	a.AckDifferentPerson()
	if c := a.Snapshot(); c.DifferentPersonFlagged || c.ConsecutiveNoFace != 2 {
		t.Errorf("different-person ack changed the no-face state: %+v", c)
	}
}

func TestAlerts_DefaultThreshold(t *testing.T) {
	if got := NewAlerts(0).Threshold(); got != 3 {
		t.Errorf("Threshold() = %d, want 3", got)
	}
}

func TestAlertFor(t *testing.T) {
	tests := []struct {
		kind  AlertKind
		title string
	}{
		{AlertNoFace, "Face Not Detected"},
		{AlertDifferentPerson, "Security Alert!"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			a := AlertFor(tt.kind)
			if a.Kind != tt.kind || a.Title != tt.title || a.Message == "" {
				t.Errorf("AlertFor(%s) = %+v", tt.kind, a)
			}
		})
	}
}
