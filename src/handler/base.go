package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/termcast/termcast-api/src/lib/apierr"
)

// BaseHandler provides common functionality for all API handlers
type BaseHandler struct {
}

// NewBaseHandler creates a new base handler
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error" example:"Error message"`
	Kind  string `json:"kind" example:"NotFound"`
} // @name ErrorResponse

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string `json:"message" example:"Session deleted successfully"`
} // @name SuccessResponse

// SendError sends a standardized error response, deriving the HTTP status
// and kind from the error chain.
func (h *BaseHandler) SendError(c *gin.Context, err error) {
	c.JSON(apierr.Status(err), ErrorResponse{
		Error: err.Error(),
		Kind:  string(apierr.KindOf(err)),
	})
}

// SendErrorKind sends an error response with an explicit status and kind.
func (h *BaseHandler) SendErrorKind(c *gin.Context, status int, kind apierr.Kind, err error) {
	c.JSON(status, ErrorResponse{
		Error: err.Error(),
		Kind:  string(kind),
	})
}

// SendSuccess sends a standardized success response
func (h *BaseHandler) SendSuccess(c *gin.Context, message string) {
	c.JSON(200, SuccessResponse{
		Message: message,
	})
}

// SendJSON sends a JSON response with the given status code
func (h *BaseHandler) SendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// GetPathParam gets a path parameter and returns an error if it's missing
func (h *BaseHandler) GetPathParam(c *gin.Context, param string) (string, error) {
	value := c.Param(param)
	if value == "" {
		return "", apierr.New(apierr.KindInvalidRequest, "missing required path parameter: %s", param)
	}
	return value, nil
}

// BindJSON binds the request body to a struct and returns an error if it fails
func (h *BaseHandler) BindJSON(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		return apierr.Wrap(apierr.KindInvalidRequest, fmt.Errorf("invalid request body: %w", err))
	}
	return nil
}
