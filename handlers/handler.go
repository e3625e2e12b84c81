package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"eventquiz/middleware"
	"eventquiz/models"
	"eventquiz/services"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type EventResolver interface {
	ResolveEvent(ctx context.Context, slug string) (*models.Event, error)
}

// eventScope resolves the event_slug query parameter, falling back to the
// configured default event.
type eventScope struct {
	events      EventResolver
	defaultSlug string
}

func (s eventScope) slug(c *gin.Context) string {
	if slug := strings.TrimSpace(c.Query("event_slug")); slug != "" {
		return slug
	}
	return s.defaultSlug
}

func (s eventScope) event(c *gin.Context) (*models.Event, bool) {
	event, err := s.events.ResolveEvent(c.Request.Context(), s.slug(c))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return event, true
}

func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindInvalidState:
		return http.StatusConflict
	case services.KindBadInput:
		return http.StatusBadRequest
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondError is the single mapping from service errors to HTTP.
func respondError(c *gin.Context, err error) {
	kind := services.KindOf(err)
	status := statusFor(kind)

	entry := log.WithFields(log.Fields{
		"request_id": c.GetString(middleware.RequestIDKey),
		"path":       c.FullPath(),
		"code":       services.CodeOf(err),
	})
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
	} else {
		entry.WithError(err).Debug("request rejected")
	}

	c.AbortWithStatusJSON(status, gin.H{"error": services.CodeOf(err)})
}

func badRequest(c *gin.Context, err error) {
	log.WithField("request_id", c.GetString(middleware.RequestIDKey)).WithError(err).Debug("bad request body")
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": services.ErrBadRequest.Code})
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, err)
		return 0, false
	}
	return v, true
}

func queryInt64(c *gin.Context, key string) (int64, bool, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, false, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		badRequest(c, err)
		return 0, false, false
	}
	return v, true, true
}

func queryUint(c *gin.Context, key string) (uint, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(c.Query(key)), 10, 64)
	if err != nil || v == 0 {
		badRequest(c, err)
		return 0, false
	}
	return uint(v), true
}
