package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Identity headers injected by the authenticating proxy. The API trusts
// them; authentication itself is the proxy's job.
const (
	headerTenant = "X-Tenant-ID"
	headerUser   = "X-User-ID"
)

// Context keys set by the identity middleware.
const (
	ctxTenant = "tenant_id"
	ctxUser   = "user_id"
)

// identity requires the proxy identity headers on every API route and makes
// them available to handlers.
func identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.GetHeader(headerTenant)
		user := c.GetHeader(headerUser)
		if tenant == "" || user == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
				Error: "X-Tenant-ID and X-User-ID headers are required",
			})
			return
		}
		c.Set(ctxTenant, tenant)
		c.Set(ctxUser, user)
		c.Next()
	}
}

func tenantOf(c *gin.Context) string { return c.GetString(ctxTenant) }
func userOf(c *gin.Context) string   { return c.GetString(ctxUser) }

// requestLogger logs one line per request with method, path, status, and
// duration.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}
