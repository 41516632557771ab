package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/termcast/termcast-api/src/handler/remote"
)

// RemotesHandler exposes the HQ-side remote registry.
type RemotesHandler struct {
	*BaseHandler
	remotes *remote.Registry
}

// NewRemotesHandler creates the remotes handler.
func NewRemotesHandler(remotes *remote.Registry) *RemotesHandler {
	return &RemotesHandler{
		BaseHandler: NewBaseHandler(),
		remotes:     remotes,
	}
}

// HandleRegisterRemote handles POST requests to /api/remotes/register
// @Summary Register a remote
// @Description Called by a remote instance on startup to join this HQ
// @Tags remotes
// @Accept json
// @Produce json
// @Param request body remote.RegisterRequest true "Remote registration"
// @Success 200 {object} SuccessResponse "Registered"
// @Failure 400 {object} ErrorResponse "Validation error"
// @Router /api/remotes/register [post]
func (h *RemotesHandler) HandleRegisterRemote(c *gin.Context) {
	var req remote.RegisterRequest
	if err := h.BindJSON(c, &req); err != nil {
		h.SendError(c, err)
		return
	}
	if err := h.remotes.Register(req.ID, req.Name, req.URL, req.Token); err != nil {
		h.SendError(c, err)
		return
	}
	h.SendSuccess(c, "Remote registered successfully")
}

// HandleListRemotes handles GET requests to /api/remotes
// @Summary List registered remotes
// @Tags remotes
// @Produce json
// @Success 200 {array} remote.Remote "Remotes"
// @Router /api/remotes [get]
func (h *RemotesHandler) HandleListRemotes(c *gin.Context) {
	h.SendJSON(c, http.StatusOK, h.remotes.List())
}
