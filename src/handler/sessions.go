package handler

import (
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/termcast/termcast-api/src/handler/remote"
	"github.com/termcast/termcast-api/src/handler/session"
	"github.com/termcast/termcast-api/src/handler/term"
	"github.com/termcast/termcast-api/src/lib/apierr"
	"github.com/termcast/termcast-api/src/lib/gitinfo"
	"github.com/termcast/termcast-api/src/lib/keys"
)

// maxDimension caps requested terminal sizes.
const maxDimension = 10000

// SessionsHandler exposes session lifecycle and control endpoints. In HQ
// mode, requests addressed to a remote-owned session are proxied.
type SessionsHandler struct {
	*BaseHandler
	registry *session.Manager
	buffers  *term.Manager
	remotes  *remote.Registry // nil unless running as HQ
}

// NewSessionsHandler creates the sessions handler.
func NewSessionsHandler(registry *session.Manager, buffers *term.Manager, remotes *remote.Registry) *SessionsHandler {
	return &SessionsHandler{
		BaseHandler: NewBaseHandler(),
		registry:    registry,
		buffers:     buffers,
		remotes:     remotes,
	}
}

// CreateSessionRequest is the body of POST /api/sessions
type CreateSessionRequest struct {
	Command       []string          `json:"command" binding:"required"`
	WorkingDir    string            `json:"workingDir,omitempty"`
	Name          string            `json:"name,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	Rows          int               `json:"rows,omitempty"`
	Cols          int               `json:"cols,omitempty"`
	TitleMode     string            `json:"titleMode,omitempty"`
	SpawnTerminal bool              `json:"spawnTerminal,omitempty"`
	GitRepoPath   string            `json:"gitRepoPath,omitempty"`
	GitBranch     string            `json:"gitBranch,omitempty"`
	RemoteID      string            `json:"remoteId,omitempty"`
} // @name CreateSessionRequest

// CreateSessionResponse carries the allocated session id
type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
} // @name CreateSessionResponse

// routeRemote resolves the remote owning a session id, when in HQ mode.
func (h *SessionsHandler) routeRemote(sessionID string) (*remote.Remote, bool) {
	if h.remotes == nil {
		return nil, false
	}
	return h.remotes.RouteFor(sessionID)
}

// proxyIfRemote forwards the request when the session lives on a remote.
// Returns true if the request was handled.
func (h *SessionsHandler) proxyIfRemote(c *gin.Context, sessionID string) bool {
	rem, ok := h.routeRemote(sessionID)
	if !ok {
		return false
	}
	if !rem.Healthy {
		h.SendError(c, apierr.New(apierr.KindRemoteUnavailable, "remote %s is unhealthy", rem.ID))
		return true
	}
	remote.ProxyHTTP(c, rem)
	return true
}

// HandleCreateSession handles POST requests to /api/sessions
// @Summary Create a session
// @Description Spawn a command under a PTY and start recording its output
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body CreateSessionRequest true "Session descriptor"
// @Success 200 {object} CreateSessionResponse "Session created"
// @Failure 400 {object} ErrorResponse "Validation error"
// @Failure 500 {object} ErrorResponse "Spawn failure"
// @Router /api/sessions [post]
func (h *SessionsHandler) HandleCreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := h.BindJSON(c, &req); err != nil {
		h.SendError(c, err)
		return
	}
	if len(req.Command) == 0 || req.Command[0] == "" {
		h.SendError(c, apierr.New(apierr.KindInvalidRequest, "command must not be empty"))
		return
	}
	if req.Rows < 0 || req.Rows > maxDimension || req.Cols < 0 || req.Cols > maxDimension {
		h.SendError(c, apierr.New(apierr.KindInvalidRequest, "rows and cols must be between 1 and %d", maxDimension))
		return
	}

	// A create addressed to a remote is created there; the remote stays
	// authoritative for the session.
	if req.RemoteID != "" && h.remotes != nil {
		rem, err := h.remotes.Get(req.RemoteID)
		if err != nil {
			h.SendError(c, err)
			return
		}
		req.RemoteID = ""
		sessionID, err := h.remotes.CreateSession(rem, req)
		if err != nil {
			h.SendError(c, err)
			return
		}
		h.SendJSON(c, http.StatusOK, CreateSessionResponse{SessionID: sessionID})
		return
	}

	source := session.SourceWeb
	if req.SpawnTerminal {
		source = session.SourceTerminal
	}
	info := &session.Info{
		Name:        req.Name,
		Command:     req.Command,
		WorkingDir:  req.WorkingDir,
		Env:         req.Env,
		Cols:        req.Cols,
		Rows:        req.Rows,
		TitleMode:   req.TitleMode,
		Source:      source,
		GitRepoPath: req.GitRepoPath,
		GitBranch:   req.GitBranch,
		StartedAt:   time.Now(),
	}
	if info.GitRepoPath == "" {
		info.GitRepoPath, info.GitBranch = gitinfo.Resolve(req.WorkingDir)
	}

	created, err := h.registry.Create(info)
	if err != nil {
		h.SendError(c, err)
		return
	}
	h.SendJSON(c, http.StatusOK, CreateSessionResponse{SessionID: created.ID})
}

// HandleListSessions handles GET requests to /api/sessions
// @Summary List sessions
// @Description List local sessions, plus healthy remotes' sessions in HQ mode
// @Tags sessions
// @Produce json
// @Success 200 {array} session.Summary "Sessions"
// @Router /api/sessions [get]
func (h *SessionsHandler) HandleListSessions(c *gin.Context) {
	summaries := h.registry.List()
	if h.remotes != nil {
		summaries = append(summaries, h.remotes.ListSessions()...)
	}
	h.SendJSON(c, http.StatusOK, summaries)
}

// HandleGetSession handles GET requests to /api/sessions/:id
// @Summary Get a session
// @Tags sessions
// @Produce json
// @Param id path string true "Session id"
// @Success 200 {object} session.Summary "Session"
// @Failure 404 {object} ErrorResponse "Not found"
// @Router /api/sessions/{id} [get]
func (h *SessionsHandler) HandleGetSession(c *gin.Context) {
	id := c.Param("id")
	if h.proxyIfRemote(c, id) {
		return
	}
	summary, err := h.registry.Get(id)
	if err != nil {
		h.SendError(c, err)
		return
	}
	h.SendJSON(c, http.StatusOK, summary)
}

// RenameSessionRequest is the body of PATCH /api/sessions/:id
type RenameSessionRequest struct {
	Name string `json:"name" binding:"required"`
} // @name RenameSessionRequest

// HandleRenameSession handles PATCH requests to /api/sessions/:id
// @Summary Rename a session
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session id"
// @Param request body RenameSessionRequest true "New name"
// @Success 200 {object} SuccessResponse "Renamed"
// @Failure 404 {object} ErrorResponse "Not found"
// @Failure 409 {object} ErrorResponse "Name collision"
// @Router /api/sessions/{id} [patch]
func (h *SessionsHandler) HandleRenameSession(c *gin.Context) {
	id := c.Param("id")
	if h.proxyIfRemote(c, id) {
		return
	}
	var req RenameSessionRequest
	if err := h.BindJSON(c, &req); err != nil {
		h.SendError(c, err)
		return
	}
	if err := h.registry.Rename(id, req.Name); err != nil {
		h.SendError(c, err)
		return
	}
	h.SendSuccess(c, "Session renamed successfully")
}

// HandleDeleteSession handles DELETE requests to /api/sessions/:id
// @Summary Delete a session
// @Description Remove an exited session's directory. A running session is killed first.
// @Tags sessions
// @Produce json
// @Param id path string true "Session id"
// @Success 200 {object} SuccessResponse "Deleted"
// @Failure 404 {object} ErrorResponse "Not found"
// @Router /api/sessions/{id} [delete]
func (h *SessionsHandler) HandleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if h.proxyIfRemote(c, id) {
		if h.remotes != nil {
			h.remotes.DropRoute(id)
		}
		return
	}
	if err := h.registry.Delete(id, true, session.DefaultKillGrace); err != nil {
		h.SendError(c, err)
		return
	}
	h.SendSuccess(c, "Session deleted successfully")
}

// SessionInputRequest is the body of POST /api/sessions/:id/input. Exactly
// one of text or key is used; key is a symbolic name mapped to a byte
// sequence.
type SessionInputRequest struct {
	Text string `json:"text,omitempty"`
	Key  string `json:"key,omitempty"`
} // @name SessionInputRequest

// HandleSessionInput handles POST requests to /api/sessions/:id/input
// @Summary Send input to a session
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session id"
// @Param request body SessionInputRequest true "Input payload"
// @Success 200 {object} SuccessResponse "Input delivered"
// @Failure 404 {object} ErrorResponse "Not found"
// @Failure 409 {object} ErrorResponse "Session exited"
// @Router /api/sessions/{id}/input [post]
func (h *SessionsHandler) HandleSessionInput(c *gin.Context) {
	id := c.Param("id")
	if h.proxyIfRemote(c, id) {
		return
	}
	var req SessionInputRequest
	if err := h.BindJSON(c, &req); err != nil {
		h.SendError(c, err)
		return
	}

	var data []byte
	switch {
	case req.Key != "":
		seq, err := keys.Resolve(req.Key)
		if err != nil {
			h.SendError(c, apierr.Wrap(apierr.KindInvalidRequest, err))
			return
		}
		data = seq
	case req.Text != "":
		data = []byte(req.Text)
	default:
		h.SendError(c, apierr.New(apierr.KindInvalidRequest, "either text or key is required"))
		return
	}

	p, err := h.registry.PTY(id)
	if err != nil {
		h.SendError(c, err)
		return
	}
	if _, err := p.Write(data); err != nil {
		h.SendError(c, err)
		return
	}
	h.SendSuccess(c, "Input sent successfully")
}

// ResizeSessionRequest is the body of POST /api/sessions/:id/resize
type ResizeSessionRequest struct {
	Rows int `json:"rows" binding:"required"`
	Cols int `json:"cols" binding:"required"`
} // @name ResizeSessionRequest

// HandleResizeSession handles POST requests to /api/sessions/:id/resize
// @Summary Resize a session's terminal
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session id"
// @Param request body ResizeSessionRequest true "New dimensions"
// @Success 200 {object} SuccessResponse "Resized"
// @Failure 400 {object} ErrorResponse "Invalid size"
// @Failure 404 {object} ErrorResponse "Not found"
// @Router /api/sessions/{id}/resize [post]
func (h *SessionsHandler) HandleResizeSession(c *gin.Context) {
	id := c.Param("id")
	if h.proxyIfRemote(c, id) {
		return
	}
	var req ResizeSessionRequest
	if err := h.BindJSON(c, &req); err != nil {
		h.SendError(c, err)
		return
	}
	if req.Rows < 1 || req.Rows > maxDimension || req.Cols < 1 || req.Cols > maxDimension {
		h.SendError(c, apierr.New(apierr.KindInvalidRequest, "rows and cols must be between 1 and %d", maxDimension))
		return
	}
	p, err := h.registry.PTY(id)
	if err != nil {
		h.SendError(c, err)
		return
	}
	if err := p.Resize(req.Cols, req.Rows); err != nil {
		h.SendError(c, err)
		return
	}
	h.SendSuccess(c, "Session resized successfully")
}

// SignalSessionRequest is the body of POST /api/sessions/:id/signal
type SignalSessionRequest struct {
	Signal string `json:"signal" binding:"required"`
} // @name SignalSessionRequest

// signalWhitelist maps accepted signal names for the control plane.
var signalWhitelist = map[string]syscall.Signal{
	"INT":  syscall.SIGINT,
	"TERM": syscall.SIGTERM,
	"HUP":  syscall.SIGHUP,
	"QUIT": syscall.SIGQUIT,
}

// HandleSignalSession handles POST requests to /api/sessions/:id/signal
// @Summary Signal a session's process group
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session id"
// @Param request body SignalSessionRequest true "Signal name (INT, TERM, HUP, QUIT)"
// @Success 200 {object} SuccessResponse "Signal delivered"
// @Failure 400 {object} ErrorResponse "Unknown signal"
// @Failure 409 {object} ErrorResponse "Session exited"
// @Router /api/sessions/{id}/signal [post]
func (h *SessionsHandler) HandleSignalSession(c *gin.Context) {
	id := c.Param("id")
	if h.proxyIfRemote(c, id) {
		return
	}
	var req SignalSessionRequest
	if err := h.BindJSON(c, &req); err != nil {
		h.SendError(c, err)
		return
	}
	sig, ok := signalWhitelist[req.Signal]
	if !ok {
		h.SendError(c, apierr.New(apierr.KindInvalidRequest, "signal %q is not allowed", req.Signal))
		return
	}
	p, err := h.registry.PTY(id)
	if err != nil {
		h.SendError(c, err)
		return
	}
	if err := p.Signal(sig); err != nil {
		h.SendError(c, err)
		return
	}
	h.SendSuccess(c, "Signal sent successfully")
}

// HandleGetBuffer handles GET requests to /api/sessions/:id/buffer
// @Summary Get a one-shot terminal snapshot
// @Description Returns the current screen as a binary cell buffer, or JSON with format=json
// @Tags sessions
// @Produce octet-stream
// @Param id path string true "Session id"
// @Param format query string false "binary (default) or json"
// @Success 200 "Snapshot"
// @Failure 404 {object} ErrorResponse "Not found"
// @Router /api/sessions/{id}/buffer [get]
func (h *SessionsHandler) HandleGetBuffer(c *gin.Context) {
	id := c.Param("id")
	if h.proxyIfRemote(c, id) {
		return
	}
	snap, err := h.buffers.Snapshot(id)
	if err != nil {
		h.SendError(c, err)
		return
	}
	if c.Query("format") == "json" {
		h.SendJSON(c, http.StatusOK, snapshotJSON(snap))
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", term.Encode(snap))
}

// snapshotJSON renders a snapshot as plain rows of text plus cursor state.
func snapshotJSON(snap *term.Snapshot) gin.H {
	rows := make([]string, snap.Rows)
	for y := 0; y < snap.Rows; y++ {
		line := make([]rune, snap.Cols)
		for x := 0; x < snap.Cols; x++ {
			ch := snap.Cells[y][x].Char
			if ch == 0 {
				ch = ' '
			}
			line[x] = ch
		}
		rows[y] = string(line)
	}
	return gin.H{
		"rows":          snap.Rows,
		"cols":          snap.Cols,
		"cursorRow":     snap.CursorRow,
		"cursorCol":     snap.CursorCol,
		"cursorVisible": snap.CursorVisible,
		"lines":         rows,
	}
}

// HandleCleanupExited handles POST requests to /api/cleanup-exited
// @Summary Bulk-delete exited sessions
// @Tags sessions
// @Produce json
// @Param olderThanMinutes query int false "Minimum age in minutes (default 0)"
// @Success 200 {object} map[string]interface{} "Deleted session ids"
// @Router /api/cleanup-exited [post]
func (h *SessionsHandler) HandleCleanupExited(c *gin.Context) {
	olderThan := time.Duration(0)
	if v := c.Query("olderThanMinutes"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes < 0 {
			h.SendError(c, apierr.New(apierr.KindInvalidRequest, "invalid olderThanMinutes %q", v))
			return
		}
		olderThan = time.Duration(minutes) * time.Minute
	}
	deleted := h.registry.CleanupExited(olderThan)
	h.SendJSON(c, http.StatusOK, gin.H{"deleted": deleted})
}
