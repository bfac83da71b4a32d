// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Identity matching constants
const (
	// MatchThreshold is the maximum Euclidean distance between a live descriptor
	// and the reference descriptor that still counts as the same person.
	// Lower values = stricter matching
	MatchThreshold = 0.6

	// DescriptorDim is the length of a face descriptor produced by the recognition net
	DescriptorDim = 128
)

// Monitoring constants
const (
	// MonitorInterval is the minimum time between the starts of two monitoring cycles
	MonitorInterval = 2 * time.Second

	// NoFaceAlertThreshold is the number of consecutive no-face cycles that raises the no-face alert
	NoFaceAlertThreshold = 3

	// PersistTimeout bounds every single write to the session store
	PersistTimeout = 5 * time.Second

	// VerifyReadyTimeout is how long a one-shot verification waits for a frame it can evaluate
	VerifyReadyTimeout = 3 * time.Second

	// VerifyPollInterval is the delay between readiness checks during one-shot verification
	VerifyPollInterval = 100 * time.Millisecond
)

// Camera constants
const (
	// DefaultCameraWidth is the preferred capture width in pixels
	DefaultCameraWidth = 640

	// DefaultCameraHeight is the preferred capture height in pixels
	DefaultCameraHeight = 480

	// DefaultFacingMode is the preferred camera facing mode
	DefaultFacingMode = "user"

	// DefaultCameraFPS is the capture frame rate requested from the device
	DefaultCameraFPS = 15

	// FirstFrameTimeout is how long a freshly opened device may take to deliver its first frame
	FirstFrameTimeout = 10 * time.Second
)

// Overlay constants
const (
	// OverlayLineWidth is the stroke width of the face bounding box
	OverlayLineWidth = 3

	// OverlayLabel is drawn above the bounding box, followed by the confidence percentage
	OverlayLabel = "Face Detected"

	// OverlayLandmarkRadius is the radius of a landmark dot
	OverlayLandmarkRadius = 1
)

// Model loading constants
const (
	// DefaultModelsTimeout bounds one full load attempt from a single source
	DefaultModelsTimeout = 30 * time.Second

	// MaxModelShardSize is the largest weight shard accepted from a model source (64MB)
	MaxModelShardSize = 64 << 20
)

// Reference image constants
const (
	// MaxReferenceImageSize is the largest reference photo accepted (20MB)
	MaxReferenceImageSize = 20 << 20
)
