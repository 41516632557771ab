package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/termcast/termcast-api/src/handler/remote"
	"github.com/termcast/termcast-api/src/handler/session"
	"github.com/termcast/termcast-api/src/handler/stream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// exitPollInterval is how often the SSE loop re-checks a session's status
// once it is no longer locally supervised.
const exitPollInterval = time.Second

// StreamHandler serves session recordings over Server-Sent Events.
type StreamHandler struct {
	*BaseHandler
	registry *session.Manager
	watcher  *stream.Watcher
	remotes  *remote.Registry // nil unless running as HQ
}

// NewStreamHandler creates the SSE stream handler.
func NewStreamHandler(registry *session.Manager, watcher *stream.Watcher, remotes *remote.Registry) *StreamHandler {
	return &StreamHandler{
		BaseHandler: NewBaseHandler(),
		registry:    registry,
		watcher:     watcher,
		remotes:     remotes,
	}
}

// sseEvent is the wire shape of one recording event on the SSE stream.
type sseEvent struct {
	T    float64 `json:"t"`
	Kind string  `json:"kind"`
	Data string  `json:"data"`
}

// HandleSessionStream handles GET requests to /api/sessions/:id/stream
// @Summary Stream a session over SSE
// @Description Sends the recording header, a truncated backfill, then live events; ends with an exit event
// @Tags sessions
// @Produce text/event-stream
// @Param id path string true "Session id"
// @Success 200 "Event stream"
// @Failure 404 {object} ErrorResponse "Not found"
// @Router /api/sessions/{id}/stream [get]
func (h *StreamHandler) HandleSessionStream(c *gin.Context) {
	id := c.Param("id")
	if h.remotes != nil {
		if rem, ok := h.remotes.RouteFor(id); ok {
			remote.ProxyHTTP(c, rem)
			return
		}
	}

	sub, err := h.watcher.Subscribe(id)
	if err != nil {
		h.SendError(c, err)
		return
	}
	defer h.watcher.Unsubscribe(id, sub)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		h.SendError(c, fmt.Errorf("streaming unsupported"))
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	if !h.writeSSE(c, flusher, "header", sub.Backfill.Header) {
		return
	}
	for _, ev := range sub.Backfill.Events {
		if !h.writeSSE(c, flusher, "event", sseEvent{T: ev.Elapsed, Kind: ev.Kind, Data: ev.Payload}) {
			return
		}
	}

	// Prefer the supervisor's exit notification; fall back to polling the
	// persisted status for sessions this process does not supervise.
	var done <-chan struct{}
	if p, err := h.registry.PTY(id); err == nil {
		done = p.Done()
	}

	poll := time.NewTicker(exitPollInterval)
	defer poll.Stop()

	for {
		select {
		case ev := <-sub.Events:
			if !h.writeSSE(c, flusher, "event", sseEvent{T: ev.Elapsed, Kind: ev.Kind, Data: ev.Payload}) {
				return
			}
		case <-sub.Done:
			if sub.Reason() == stream.ReasonSlowConsumer {
				logrus.WithField("session", id).Warn("SSE subscriber disconnected as slow consumer")
			}
			return
		case <-done:
			h.drainAndExit(c, flusher, id, sub)
			return
		case <-poll.C:
			summary, err := h.registry.Get(id)
			if err != nil || summary.Status == session.StatusExited {
				h.drainAndExit(c, flusher, id, sub)
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}

// drainAndExit flushes any queued events and terminates the stream with a
// final exit message carrying the exit code.
func (h *StreamHandler) drainAndExit(c *gin.Context, flusher http.Flusher, id string, sub *stream.Subscriber) {
	// The watcher may still hold events appended just before exit; give
	// the tail a moment to deliver them, then drain the queue.
	deadline := time.After(500 * time.Millisecond)
drain:
	for {
		select {
		case ev := <-sub.Events:
			if !h.writeSSE(c, flusher, "event", sseEvent{T: ev.Elapsed, Kind: ev.Kind, Data: ev.Payload}) {
				return
			}
		case <-deadline:
			break drain
		}
	}

	code := 0
	if summary, err := h.registry.Get(id); err == nil && summary.ExitCode != nil {
		code = *summary.ExitCode
	}
	h.writeSSE(c, flusher, "exit", gin.H{"code": code})
}

// writeSSE emits one SSE message; returns false once the client is gone.
func (h *StreamHandler) writeSSE(c *gin.Context, flusher http.Flusher, event string, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
