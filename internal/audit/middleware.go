package audit

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	HeaderUserID = "X-User-ID"
	userIDKey    = "user_id"
)

// InjectRecorderMiddleware makes r available to handlers and services via the
// request context.
func InjectRecorderMiddleware(r Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		if r != nil && c.Request != nil {
			c.Request = c.Request.WithContext(WithRecorder(c.Request.Context(), r))
		}
		c.Next()
	}
}

// RequireUserMiddleware rejects /api/ requests that carry no caller identity.
// The identity header is set by the gateway; it is not authenticated here.
func RequireUserMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Next()
			return
		}
		uid := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "missing " + HeaderUserID,
			})
			return
		}
		c.Set(userIDKey, uid)
		c.Next()
	}
}

// RequireOperatorMiddleware lets only the listed caller ids through. An empty
// list closes the route.
func RequireOperatorMiddleware(operators []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(operators))
	for _, id := range operators {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		if _, ok := allowed[UserID(c)]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    http.StatusForbidden,
				"message": "operator access required",
			})
			return
		}
		c.Next()
	}
}

func UserID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if v, ok := c.Get(userIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return strings.TrimSpace(c.GetHeader(HeaderUserID))
}

// WriteAuditMiddleware records every non-GET /api/ request after it completes.
func WriteAuditMiddleware(r Recorder) gin.HandlerFunc {
	if r == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		method := strings.ToUpper(c.Request.Method)
		if !strings.HasPrefix(path, "/api/") {
			return
		}
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return
		}
		status := c.Writer.Status()
		r.Record(c.Request.Context(), "http_write", levelFromStatus(status), map[string]any{
			"method":   method,
			"path":     path,
			"route":    c.FullPath(),
			"status":   status,
			"duration": time.Since(start).String(),
			"user_id":  UserID(c),
		})
	}
}
