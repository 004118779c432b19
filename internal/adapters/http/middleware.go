package httpadapter

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/PabloGalante/aris-agent/internal/domain"
	"github.com/PabloGalante/aris-agent/internal/observability"
)

const (
	headerRequestID = "X-Request-ID"
	headerUserID    = "X-User-ID"

	userIDKey = "user_id"
)

// requestID reuses the caller's request id or mints one, and puts it on the request context.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(headerRequestID, id)
		c.Request = c.Request.WithContext(observability.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// withLogging logs every request once it completes.
func withLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		observability.LoggerFromContext(c.Request.Context()).Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// recovery turns a panic into a 500 without leaking it to the client.
func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		observability.LoggerFromContext(c.Request.Context()).Error("panic in handler", "panic", rec)
		fail(c, http.StatusInternalServerError, "internal", "internal server error")
	})
}

// withCORS leaves everything open for the web front-end.
func withCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// userRequired reads the identity the outer auth layer put in X-User-ID.
func userRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetHeader(headerUserID)
		if uid == "" {
			fail(c, http.StatusUnauthorized, "unauthorized", "X-User-ID header is required")
			c.Abort()
			return
		}
		c.Set(userIDKey, domain.UserID(uid))
		c.Next()
	}
}

func userIDFromContext(c *gin.Context) domain.UserID {
	v, _ := c.Get(userIDKey)
	uid, _ := v.(domain.UserID)
	return uid
}
