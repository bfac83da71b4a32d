// Package constants provides shared constants used across the codebase.
package constants

// Handler constants
const (
	// DefaultSessionListLimit is the default number of sessions returned by list endpoints
	DefaultSessionListLimit = 20

	// DefaultDetectionListLimit is the default number of detection records returned per session
	DefaultDetectionListLimit = 200
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)
