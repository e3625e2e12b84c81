package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Authorizer decides whether a presented token grants admin rights.
type Authorizer interface {
	Authorize(token string) bool
}

// AdminToken extracts the token from X-Admin-Token or a Bearer authorization
// header.
func AdminToken(c *gin.Context) string {
	if token := strings.TrimSpace(c.GetHeader("X-Admin-Token")); token != "" {
		return token
	}
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// IsAdmin reports whether the request carries a valid admin token.
func IsAdmin(c *gin.Context, auth Authorizer) bool {
	token := AdminToken(c)
	return token != "" && auth.Authorize(token)
}

// Unauthorized aborts with the shared unauthorized body.
func Unauthorized(c *gin.Context) {
	log.WithFields(log.Fields{
		"request_id": c.GetString(RequestIDKey),
		"path":       c.Request.URL.Path,
	}).Warn("admin token rejected")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// AdminRequired guards a route group.
func AdminRequired(auth Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c, auth) {
			Unauthorized(c)
			return
		}
		c.Next()
	}
}
