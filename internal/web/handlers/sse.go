package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/kozaktomas/face-guard/internal/events"
)

// sseKeepAlive is how often an idle stream gets a comment line so proxies keep it open.
const sseKeepAlive = 15 * time.Second

// setupSSEConnection sets the event-stream headers.
// Returns the flusher and true on success. On failure it writes an error response and returns false.
func setupSSEConnection(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return flusher, true
}

// streamSSEEvents writes the initial data as a status event and then forwards broadcaster
// events until the client disconnects or the listener is closed.
func streamSSEEvents(w http.ResponseWriter, r *http.Request, b *events.Broadcaster, initial any) {
	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}

	eventCh := b.AddListener()
	defer b.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, events.TypeStatus, initial)

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			flusher.Flush()
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// Events streams engine events to the UI as server-sent events.
func (h *EngineHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r, h.engine.Events(), h.engine.Status())
}
