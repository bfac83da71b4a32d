// Package identity tracks the authenticated user and publishes login/logout transitions
// to the components whose lifecycle follows it.
package identity

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/face-guard/internal/constants"
	"github.com/kozaktomas/face-guard/internal/logger"
)

// EventType is the kind of identity transition.
type EventType string

const (
	Login  EventType = "login"
	Logout EventType = "logout"
)

// Event is a login or logout of a user.
type Event struct {
	Type   EventType
	UserID string
	At     time.Time
}

// Tracker holds the current user and fans out transitions to subscribers.
type Tracker struct {
	mu        sync.RWMutex
	current   string
	listeners []chan Event
	logger    *slog.Logger
}

// NewTracker creates a tracker with no authenticated user.
func NewTracker(l *slog.Logger) *Tracker {
	return &Tracker{logger: logger.OrDefault(l)}
}

// Subscribe adds a listener. The channel is closed by Unsubscribe.
func (t *Tracker) Subscribe() chan Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	t.listeners = append(t.listeners, ch)
	return ch
}

// Unsubscribe removes and closes a listener.
func (t *Tracker) Unsubscribe(ch chan Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, listener := range t.listeners {
		if listener == ch {
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Current returns the authenticated user id.
func (t *Tracker) Current() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current, t.current != ""
}

// Login marks userID as authenticated. A different user that was still logged in
// is logged out first. Logging in the current user again is a no-op.
func (t *Tracker) Login(userID string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == userID {
		return
	}
	if t.current != "" {
		t.publish(Event{Type: Logout, UserID: t.current, At: time.Now()})
	}
	t.current = userID
	t.publish(Event{Type: Login, UserID: userID, At: time.Now()})
}

// Logout clears the authenticated user. No-op when nobody is logged in.
func (t *Tracker) Logout() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == "" {
		return
	}
	t.publish(Event{Type: Logout, UserID: t.current, At: time.Now()})
	t.current = ""
}

// publish must be called with t.mu held.
func (t *Tracker) publish(ev Event) {
	t.logger.Info("identity transition", slog.String("type", string(ev.Type)), slog.String("user_id", ev.UserID))
	for _, listener := range t.listeners {
		select {
		case listener <- ev:
		default:
			t.logger.Warn("identity listener buffer full, event dropped", slog.String("type", string(ev.Type)))
		}
	}
}

// ListenerCount returns the number of subscribed listeners.
func (t *Tracker) ListenerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.listeners)
}
