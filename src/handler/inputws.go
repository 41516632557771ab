package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/termcast/termcast-api/src/handler/remote"
	"github.com/termcast/termcast-api/src/handler/session"
	"github.com/termcast/termcast-api/src/lib/apierr"
)

// InputWSHandler accepts keystrokes and resizes for one session over a
// bidirectional WebSocket.
type InputWSHandler struct {
	*BaseHandler
	registry *session.Manager
	remotes  *remote.Registry // nil unless running as HQ
	upgrader websocket.Upgrader
}

// NewInputWSHandler creates the /ws/input handler.
func NewInputWSHandler(registry *session.Manager, remotes *remote.Registry) *InputWSHandler {
	return &InputWSHandler{
		BaseHandler: NewBaseHandler(),
		registry:    registry,
		remotes:     remotes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// inputMessage is a text frame on the input socket.
type inputMessage struct {
	Op   string `json:"op"` // "input", "resize", "ack", "error"
	Data string `json:"data,omitempty"`
	Rows int    `json:"rows,omitempty"`
	Cols int    `json:"cols,omitempty"`
}

// HandleInputWS handles GET requests to /ws/input
// @Summary Session input WebSocket
// @Description Text frames carry keystrokes and resize requests for the session given by ?sessionId=
// @Tags streams
// @Param sessionId query string true "Session id"
// @Success 101 "Switching protocols"
// @Failure 404 {object} ErrorResponse "Not found"
// @Router /ws/input [get]
func (h *InputWSHandler) HandleInputWS(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		h.SendError(c, apierr.New(apierr.KindInvalidRequest, "sessionId query parameter is required"))
		return
	}

	if h.remotes != nil {
		if rem, ok := h.remotes.RouteFor(sessionID); ok {
			if !rem.Healthy {
				h.SendError(c, apierr.New(apierr.KindRemoteUnavailable, "remote %s is unhealthy", rem.ID))
				return
			}
			remote.ProxyWebSocket(c, rem, h.upgrader)
			return
		}
	}

	p, err := h.registry.PTY(sessionID)
	if err != nil {
		h.SendError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Errorf("Failed to upgrade input WebSocket: %v", err)
		return
	}
	defer conn.Close()

	// Close the socket once the session exits so clients notice promptly.
	go func() {
		<-p.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inputMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = conn.WriteJSON(inputMessage{Op: "error", Data: "invalid frame"})
			continue
		}
		switch msg.Op {
		case "input":
			if _, err := p.Write([]byte(msg.Data)); err != nil {
				_ = conn.WriteJSON(inputMessage{Op: "error", Data: err.Error()})
				return
			}
		case "resize":
			if msg.Rows < 1 || msg.Rows > 10000 || msg.Cols < 1 || msg.Cols > 10000 {
				_ = conn.WriteJSON(inputMessage{Op: "error", Data: "rows and cols must be between 1 and 10000"})
				continue
			}
			if err := p.Resize(msg.Cols, msg.Rows); err != nil {
				_ = conn.WriteJSON(inputMessage{Op: "error", Data: err.Error()})
				continue
			}
			_ = conn.WriteJSON(inputMessage{Op: "ack", Rows: msg.Rows, Cols: msg.Cols})
		default:
			_ = conn.WriteJSON(inputMessage{Op: "error", Data: "unknown op " + msg.Op})
		}
	}
}
