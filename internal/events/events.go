// Package events fans engine events out to UI listeners.
package events

import (
	"sync"
	"time"

	"github.com/kozaktomas/face-guard/internal/constants"
)

// Event types.
const (
	TypeStatus            = "status"
	TypeModelsLoaded      = "models_loaded"
	TypeModelsFailed      = "models_failed"
	TypeCameraStarted     = "camera_started"
	TypeCameraStopped     = "camera_stopped"
	TypeCameraError       = "camera_error"
	TypeReferenceLoaded   = "reference_loaded"
	TypeReferenceFailed   = "reference_failed"
	TypeVerification      = "verification"
	TypeMonitoringStarted = "monitoring_started"
	TypeMonitoringStopped = "monitoring_stopped"
	TypeDetection         = "detection"
	TypeAlertRaised       = "alert_raised"
	TypeAlertAcknowledged = "alert_acknowledged"
	TypeSessionEnded      = "session_ended"
)

// Event is one engine event.
type Event struct {
	Type    string    `json:"type"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher accepts events. Implementations must not block.
type Publisher interface {
	Publish(e Event)
}

// Broadcaster provides listener management and event broadcasting.
type Broadcaster struct {
	listeners []chan Event
	mu        sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// AddListener adds an event listener.
func (b *Broadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener and closes its channel.
func (b *Broadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish sends an event to all listeners. A listener with a full buffer misses it.
func (b *Broadcaster) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- e:
		default:
			// Listener buffer full, skip.
		}
	}
}

// ListenerCount returns the number of attached listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Discard is a Publisher that drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

// OrDiscard returns p, or Discard when p is nil.
func OrDiscard(p Publisher) Publisher {
	if p == nil {
		return Discard{}
	}
	return p
}
