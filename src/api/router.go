package api

import (
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/termcast/termcast-api/docs" // Import generated docs
	"github.com/termcast/termcast-api/src/handler"
	"github.com/termcast/termcast-api/src/handler/remote"
	"github.com/termcast/termcast-api/src/handler/session"
	"github.com/termcast/termcast-api/src/handler/stream"
	"github.com/termcast/termcast-api/src/handler/term"
)

// Deps carries the core components the router wires handlers onto. In HQ
// mode Remotes is non-nil and session endpoints proxy transparently.
type Deps struct {
	Registry *session.Manager
	Watcher  *stream.Watcher
	Buffers  *term.Manager
	Remotes  *remote.Registry
}

// SetupRouter configures all the routes for the termcast API
// If disableRequestLogging is true, the logrus middleware will be skipped
// If enableProcessingTime is true, the Server-Timing header middleware will be added
func SetupRouter(deps Deps, disableRequestLogging bool, enableProcessingTime bool) *gin.Engine {
	// Initialize the router
	r := gin.New()

	// Add recovery middleware
	r.Use(gin.Recovery())

	// Add middleware for CORS
	r.Use(corsMiddleware())

	// Add middleware to prevent caching
	r.Use(noCacheMiddleware())

	// Add processing time middleware if enabled
	if enableProcessingTime {
		r.Use(processingTimeMiddleware())
	}

	// Add logrus middleware unless disabled
	if !disableRequestLogging {
		r.Use(logrusMiddleware())
	}

	// Swagger documentation route
	r.GET("/swagger", func(c *gin.Context) {
		c.Redirect(301, "/swagger/index.html")
	})
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Initialize handlers
	sessionsHandler := handler.NewSessionsHandler(deps.Registry, deps.Buffers, deps.Remotes)
	streamHandler := handler.NewStreamHandler(deps.Registry, deps.Watcher, deps.Remotes)
	buffersHandler := handler.NewBuffersHandler(deps.Buffers, deps.Remotes)
	inputWSHandler := handler.NewInputWSHandler(deps.Registry, deps.Remotes)
	systemHandler := handler.NewSystemHandler(deps.Registry)

	// Session lifecycle routes
	r.POST("/api/sessions", sessionsHandler.HandleCreateSession)
	r.GET("/api/sessions", sessionsHandler.HandleListSessions)
	r.GET("/api/sessions/:id", sessionsHandler.HandleGetSession)
	r.PATCH("/api/sessions/:id", sessionsHandler.HandleRenameSession)
	r.DELETE("/api/sessions/:id", sessionsHandler.HandleDeleteSession)
	r.POST("/api/cleanup-exited", sessionsHandler.HandleCleanupExited)

	// Input & control routes
	r.POST("/api/sessions/:id/input", sessionsHandler.HandleSessionInput)
	r.POST("/api/sessions/:id/resize", sessionsHandler.HandleResizeSession)
	r.POST("/api/sessions/:id/signal", sessionsHandler.HandleSignalSession)

	// Stream routes
	r.GET("/api/sessions/:id/stream", streamHandler.HandleSessionStream)
	r.GET("/api/sessions/:id/buffer", sessionsHandler.HandleGetBuffer)
	r.GET("/buffers", buffersHandler.HandleBuffersWS)
	r.GET("/ws/input", inputWSHandler.HandleInputWS)

	// Federation routes (HQ mode)
	if deps.Remotes != nil {
		remotesHandler := handler.NewRemotesHandler(deps.Remotes)
		r.POST("/api/remotes/register", remotesHandler.HandleRegisterRemote)
		r.GET("/api/remotes", remotesHandler.HandleListRemotes)
	}

	// System routes
	r.GET("/api/health", systemHandler.HandleHealth)

	return r
}

// corsMiddleware adds CORS headers to all responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, HEAD, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// noCacheMiddleware adds no-cache headers to all responses to prevent caching issues
func noCacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Writer.Header().Set("Pragma", "no-cache")
		c.Writer.Header().Set("Expires", "0")
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")

		c.Next()
	}
}

// sensitiveQueryParams contains query parameter names that should be redacted from logs
var sensitiveQueryParams = []string{
	"api_key", "apikey", "api-key",
	"token", "access_token", "refresh_token", "auth_token", "bearer",
	"password", "passwd", "pwd",
	"secret", "client_secret", "api_secret",
	"key", "private_key", "encryption_key",
	"authorization", "auth",
	"credential", "credentials",
	"jwt",
}

// redactSecrets redacts sensitive information from a URL path with query string
func redactSecrets(pathWithQuery string) string {
	// Split path and query
	parts := strings.SplitN(pathWithQuery, "?", 2)
	if len(parts) != 2 {
		return pathWithQuery // No query string, return as-is
	}

	basePath := parts[0]
	queryString := parts[1]

	// Parse query parameters
	values, err := url.ParseQuery(queryString)
	if err != nil {
		// If parsing fails, try to redact using pattern matching
		return redactQueryPatterns(pathWithQuery)
	}

	// Check if any sensitive param exists
	hasSecrets := false
	for key := range values {
		for _, param := range sensitiveQueryParams {
			if strings.EqualFold(key, param) {
				hasSecrets = true
				break
			}
		}
	}

	if !hasSecrets {
		return pathWithQuery
	}

	// Redact sensitive values
	for key := range values {
		for _, param := range sensitiveQueryParams {
			if strings.EqualFold(key, param) {
				values.Set(key, "[REDACTED]")
				break
			}
		}
	}

	return basePath + "?" + values.Encode()
}

// redactQueryPatterns redacts secrets using regex patterns when URL parsing fails
func redactQueryPatterns(pathWithQuery string) string {
	result := pathWithQuery
	for _, param := range sensitiveQueryParams {
		// Match param=value patterns (case-insensitive)
		pattern := regexp.MustCompile(`(?i)(` + regexp.QuoteMeta(param) + `=)[^&\s]*`)
		result = pattern.ReplaceAllString(result, "${1}[REDACTED]")
	}
	return result
}

func logrusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// other handler can change c.Path so:
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}

		// Redact secrets from the path before logging
		sanitizedPath := redactSecrets(path)

		start := time.Now()
		c.Next()
		stop := time.Since(start)
		latency := int(math.Ceil(float64(stop.Nanoseconds()) / 1000000.0))
		statusCode := c.Writer.Status()
		dataLength := c.Writer.Size()
		if dataLength < 0 {
			dataLength = 0
		}

		if len(c.Errors) > 0 {
			logrus.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
		} else {
			msg := fmt.Sprintf("%s %s %d %d %dms", c.Request.Method, sanitizedPath, statusCode, dataLength, latency)
			if statusCode >= http.StatusBadRequest {
				logrus.Error(msg)
			} else {
				logrus.Info(msg)
			}
		}
	}
}
