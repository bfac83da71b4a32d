package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-guard/internal/constants"
	"github.com/kozaktomas/face-guard/internal/events"
	"github.com/kozaktomas/face-guard/internal/facerec"
)

// Messages shown to the user around a one-shot verification.
const (
	MsgNoReference = "Reference face not available. Please ensure your profile has a valid photo."
	MsgVerifying   = "Verifying your identity..."
	MsgVerified    = "Verification successful! Continuing to monitor for security."
	MsgMismatch    = "Verification failed. Face does not match the registered face."
	MsgNoFace      = "No face detected. Please position yourself clearly in front of the camera."
	MsgNotReady    = "The camera is still warming up. Please try again in a moment."
	MsgVerifyError = "An error occurred during verification. Please try again."
)

// VerifyOutcome is the result category of a one-shot verification.
type VerifyOutcome string

const (
	VerifyMatched     VerifyOutcome = "verified"
	VerifyMismatch    VerifyOutcome = "mismatch"
	VerifyNoFace      VerifyOutcome = "no_face"
	VerifyNotReady    VerifyOutcome = "not_ready"
	VerifyNoReference VerifyOutcome = "no_reference"
	VerifyError       VerifyOutcome = "error"
)

// VerifyResult is reported to the user after a one-shot verification.
type VerifyResult struct {
	Outcome    VerifyOutcome `json:"outcome"`
	Message    string        `json:"message"`
	Confidence *float64      `json:"confidence,omitempty"`
	Distance   *float64      `json:"distance,omitempty"`
	Monitoring bool          `json:"monitoring"`
}

// Matched reports whether the user was verified.
func (r *VerifyResult) Matched() bool {
	return r.Outcome == VerifyMatched
}

// Verify detects once and compares against the reference. A match starts continuous
// monitoring. The no-face counter and alert latches are not touched.
func (l *Loop) Verify(ctx context.Context) (*VerifyResult, error) {
	l.mu.Lock()
	switch l.state {
	case Idle, CameraStarting:
		l.mu.Unlock()
		return nil, ErrCameraNotReady
	case Ended:
		l.mu.Unlock()
		return nil, ErrEnded
	case Verifying:
		l.mu.Unlock()
		return nil, ErrBusy
	}
	if l.deps.References.Current() == nil {
		l.mu.Unlock()
		return l.verified(&VerifyResult{Outcome: VerifyNoReference, Message: MsgNoReference}), nil
	}
	if !l.inFlight.CompareAndSwap(false, true) {
		l.mu.Unlock()
		return nil, ErrBusy
	}
	monitoring := l.state == Monitoring
	if !monitoring {
		l.state = Verifying
	}
	l.mu.Unlock()

	l.deps.Events.Publish(events.Event{Type: events.TypeStatus, Message: MsgVerifying})

	start := time.Now()
	sample, err := l.sampleWhenReady(ctx)
	l.inFlight.Store(false)

	res := &VerifyResult{Monitoring: monitoring}
	switch {
	case err != nil:
		l.logger.Warn("verification failed", slog.Any("error", err))
		res.Outcome, res.Message = VerifyError, MsgVerifyError
	case !sample.Evaluated():
		// Nothing was evaluated, so nothing is recorded and no face verdict is given.
		res.Outcome, res.Message = VerifyNotReady, MsgNotReady
	default:
		cycle, det := l.evaluate(sample)
		cycle.Duration = time.Since(start)
		l.finish(ctx, cycle, det, false)

		res.Confidence, res.Distance = cycle.Confidence, cycle.Distance
		switch {
		case sample.Kind != facerec.FaceFound:
			res.Outcome, res.Message = VerifyNoFace, MsgNoFace
		case cycle.Match != nil && *cycle.Match:
			res.Outcome, res.Message = VerifyMatched, MsgVerified
		case cycle.Match == nil:
			// the reference was replaced or cleared while detecting
			res.Outcome, res.Message = VerifyNoReference, MsgNoReference
		default:
			res.Outcome, res.Message = VerifyMismatch, MsgMismatch
		}
	}

	l.mu.Lock()
	if l.state == Verifying {
		l.state = CameraReady
		if res.Matched() {
			if err := l.startLocked(ctx); err != nil {
				l.logger.Warn("starting monitoring after verification failed", slog.Any("error", err))
			}
		}
	}
	res.Monitoring = l.state == Monitoring
	l.mu.Unlock()

	return l.verified(res), nil
}

func (l *Loop) verified(res *VerifyResult) *VerifyResult {
	l.logger.Info("verification finished", slog.String("outcome", string(res.Outcome)))
	l.deps.Events.Publish(events.Event{Type: events.TypeVerification, Message: res.Message, Data: res})
	return res
}

// sampleWhenReady detects until a frame can be evaluated or the readiness wait runs out.
func (l *Loop) sampleWhenReady(ctx context.Context) (facerec.Sample, error) {
	deadline := time.NewTimer(l.readyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(constants.VerifyPollInterval)
	defer ticker.Stop()

	for {
		sample, err := l.deps.Detector.Detect(ctx, l.deps.Viewer)
		if err != nil || sample.Evaluated() {
			return sample, err
		}
		select {
		case <-ctx.Done():
			return sample, ctx.Err()
		case <-deadline.C:
			return sample, nil
		case <-ticker.C:
		}
	}
}
