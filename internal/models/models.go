// Package models loads the three inference nets the verification engine depends on,
// from a remote primary source with a local fallback.
package models

import (
	"fmt"
	"time"
)

// Net names as listed in the embedded models manifest.
const (
	NetDetector   = "detector"
	NetLandmarks  = "landmarks"
	NetRecognizer = "recognizer"
)

// RequiredNets lists the nets that make up a complete Set.
var RequiredNets = []string{NetDetector, NetLandmarks, NetRecognizer}

// Weights identifies the loaded weights of one net.
type Weights struct {
	Net    string
	Kind   string
	Digest string // sha256 over manifest and shards
	Bytes  int64
	Shards int
	Source string
}

// ShortDigest returns at most the first 12 characters of the digest.
func (w *Weights) ShortDigest() string {
	return w.Digest[:min(12, len(w.Digest))]
}

// Set is a complete, immutable set of loaded nets. A reload replaces the whole Set.
type Set struct {
	Detector   *Weights
	Landmarks  *Weights
	Recognizer *Weights
	Source     string
	LoadedAt   time.Time
}

// Digests maps each net kind to its weights digest. The recognition backend uses it
// to confirm it runs the same weights.
func (s *Set) Digests() map[string]string {
	out := make(map[string]string, 3)
	for _, w := range []*Weights{s.Detector, s.Landmarks, s.Recognizer} {
		if w != nil {
			out[w.Kind] = w.Digest
		}
	}
	return out
}

// Stage tells how far a failed load got.
type Stage int

const (
	// PrimarySourceFailed means the remote source failed and the fallback is being attempted.
	PrimarySourceFailed Stage = iota + 1
	// FallbackSourceFailed is terminal: both sources failed.
	FallbackSourceFailed
)

func (s Stage) String() string {
	switch s {
	case PrimarySourceFailed:
		return "primary_source_failed"
	case FallbackSourceFailed:
		return "fallback_source_failed"
	default:
		return "unknown"
	}
}

// LoadError reports a failed model load.
type LoadError struct {
	Stage   Stage
	Primary error // cause of the primary failure, set on FallbackSourceFailed
	Err     error
}

func (e *LoadError) Error() string {
	if e.Stage == FallbackSourceFailed && e.Primary != nil {
		return fmt.Sprintf("model load %s: primary: %v; fallback: %v", e.Stage, e.Primary, e.Err)
	}
	return fmt.Sprintf("model load %s: %v", e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Terminal reports whether both sources failed.
func (e *LoadError) Terminal() bool {
	return e.Stage == FallbackSourceFailed
}

// UserMessage is the text shown when models could not be loaded.
func (e *LoadError) UserMessage() string {
	return "Failed to load facial recognition models. Please check your internet connection and try again."
}
