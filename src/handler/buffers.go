package handler

import (
	"encoding/binary"
	"net/http"
	"net/url"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/termcast/termcast-api/src/handler/remote"
	"github.com/termcast/termcast-api/src/handler/term"
)

// bufferFrameMagic tags binary frames on the /buffers socket. Each frame is
// magic:u8 | idLen:u16 LE | sessionId | VTCB payload.
const bufferFrameMagic = 0xBF

// BuffersHandler multiplexes binary cell snapshots for many sessions over
// a single WebSocket connection per client.
type BuffersHandler struct {
	*BaseHandler
	buffers  *term.Manager
	remotes  *remote.Registry // nil unless running as HQ
	upgrader websocket.Upgrader
}

// NewBuffersHandler creates the /buffers WebSocket handler.
func NewBuffersHandler(buffers *term.Manager, remotes *remote.Registry) *BuffersHandler {
	return &BuffersHandler{
		BaseHandler: NewBaseHandler(),
		buffers:     buffers,
		remotes:     remotes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// bufferOp is a control frame on the /buffers socket.
type bufferOp struct {
	Op        string `json:"op"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// bufferConn is the per-client state: local subscriptions plus lazily
// dialed upstream connections for remote-owned sessions.
type bufferConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu        sync.Mutex
	local     map[string]*term.BufferSub
	upstreams map[string]*websocket.Conn // remoteID -> proxied /buffers socket
	closed    bool
}

func (bc *bufferConn) writeJSON(v interface{}) error {
	bc.writeMu.Lock()
	defer bc.writeMu.Unlock()
	return bc.conn.WriteJSON(v)
}

func (bc *bufferConn) writeBinary(data []byte) error {
	bc.writeMu.Lock()
	defer bc.writeMu.Unlock()
	return bc.conn.WriteMessage(websocket.BinaryMessage, data)
}

// HandleBuffersWS handles GET requests to /buffers
// @Summary Binary cell buffer WebSocket
// @Description Clients subscribe to sessions and receive VTCB snapshots tagged with the session id
// @Tags streams
// @Success 101 "Switching protocols"
// @Router /buffers [get]
func (h *BuffersHandler) HandleBuffersWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Errorf("Failed to upgrade /buffers WebSocket: %v", err)
		return
	}
	bc := &bufferConn{
		conn:      conn,
		local:     make(map[string]*term.BufferSub),
		upstreams: make(map[string]*websocket.Conn),
	}
	defer h.teardown(bc)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var op bufferOp
		if err := json.Unmarshal(data, &op); err != nil {
			_ = bc.writeJSON(bufferOp{Op: "error", Message: "invalid control frame"})
			continue
		}
		switch op.Op {
		case "subscribe":
			h.subscribe(bc, op.SessionID)
		case "unsubscribe":
			h.unsubscribe(bc, op.SessionID)
		case "ping":
			_ = bc.writeJSON(bufferOp{Op: "pong"})
		default:
			_ = bc.writeJSON(bufferOp{Op: "error", Message: "unknown op " + op.Op})
		}
	}
}

func (h *BuffersHandler) subscribe(bc *bufferConn, sessionID string) {
	if sessionID == "" {
		_ = bc.writeJSON(bufferOp{Op: "error", Message: "sessionId is required"})
		return
	}

	if h.remotes != nil {
		if rem, ok := h.remotes.RouteFor(sessionID); ok {
			h.subscribeRemote(bc, rem, sessionID)
			return
		}
	}

	bc.mu.Lock()
	if _, exists := bc.local[sessionID]; exists {
		bc.mu.Unlock()
		return
	}
	bc.mu.Unlock()

	sub, err := h.buffers.Subscribe(sessionID)
	if err != nil {
		_ = bc.writeJSON(bufferOp{Op: "error", SessionID: sessionID, Message: err.Error()})
		return
	}
	bc.mu.Lock()
	bc.local[sessionID] = sub
	bc.mu.Unlock()

	go func() {
		for {
			select {
			case frame, ok := <-sub.Frames:
				if !ok {
					return
				}
				if err := bc.writeBinary(tagFrame(sessionID, frame)); err != nil {
					return
				}
			case <-sub.Done:
				return
			}
		}
	}()
}

func (h *BuffersHandler) unsubscribe(bc *bufferConn, sessionID string) {
	bc.mu.Lock()
	sub, ok := bc.local[sessionID]
	delete(bc.local, sessionID)
	bc.mu.Unlock()
	if ok {
		h.buffers.Unsubscribe(sessionID, sub)
		return
	}
	if h.remotes != nil {
		if rem, found := h.remotes.RouteFor(sessionID); found {
			bc.mu.Lock()
			upstream := bc.upstreams[rem.ID]
			bc.mu.Unlock()
			if upstream != nil {
				_ = upstream.WriteJSON(bufferOp{Op: "unsubscribe", SessionID: sessionID})
			}
		}
	}
}

// subscribeRemote forwards a subscription to the owning remote's /buffers
// socket, relaying its tagged binary frames to the client unchanged.
func (h *BuffersHandler) subscribeRemote(bc *bufferConn, rem *remote.Remote, sessionID string) {
	if !rem.Healthy {
		_ = bc.writeJSON(bufferOp{Op: "error", SessionID: sessionID, Message: "remote " + rem.ID + " is unhealthy"})
		return
	}

	bc.mu.Lock()
	upstream, ok := bc.upstreams[rem.ID]
	bc.mu.Unlock()
	if !ok {
		dialed, err := dialRemoteBuffers(rem)
		if err != nil {
			_ = bc.writeJSON(bufferOp{Op: "error", SessionID: sessionID, Message: err.Error()})
			return
		}
		bc.mu.Lock()
		if bc.closed {
			bc.mu.Unlock()
			_ = dialed.Close()
			return
		}
		bc.upstreams[rem.ID] = dialed
		bc.mu.Unlock()
		upstream = dialed

		go func() {
			for {
				msgType, data, err := upstream.ReadMessage()
				if err != nil {
					return
				}
				var werr error
				if msgType == websocket.BinaryMessage {
					werr = bc.writeBinary(data)
				} else {
					werr = bc.conn.WriteMessage(msgType, data)
				}
				if werr != nil {
					return
				}
			}
		}()
	}
	_ = upstream.WriteJSON(bufferOp{Op: "subscribe", SessionID: sessionID})
}

func dialRemoteBuffers(rem *remote.Remote) (*websocket.Conn, error) {
	remoteURL, err := url.Parse(rem.URL)
	if err != nil {
		return nil, err
	}
	scheme := "ws"
	if remoteURL.Scheme == "https" {
		scheme = "wss"
	}
	target := url.URL{Scheme: scheme, Host: remoteURL.Host, Path: "/buffers"}
	header := http.Header{}
	if rem.Token != "" {
		header.Set("Authorization", "Bearer "+rem.Token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(target.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (h *BuffersHandler) teardown(bc *bufferConn) {
	bc.mu.Lock()
	bc.closed = true
	local := bc.local
	bc.local = make(map[string]*term.BufferSub)
	upstreams := bc.upstreams
	bc.upstreams = make(map[string]*websocket.Conn)
	bc.mu.Unlock()

	for sessionID, sub := range local {
		h.buffers.Unsubscribe(sessionID, sub)
	}
	for _, upstream := range upstreams {
		_ = upstream.Close()
	}
	_ = bc.conn.Close()
}

// tagFrame prefixes a VTCB payload with the session id so one socket can
// carry many sessions.
func tagFrame(sessionID string, payload []byte) []byte {
	id := []byte(sessionID)
	frame := make([]byte, 0, 3+len(id)+len(payload))
	frame = append(frame, bufferFrameMagic)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(len(id)))
	frame = append(frame, id...)
	frame = append(frame, payload...)
	return frame
}
