package handlers

import (
	"net/http"

	"eventquiz/services"

	"github.com/gin-gonic/gin"
)

type SessionIssuer interface {
	IssueSession(secret string) (*services.AdminSession, error)
}

type sessionRequest struct {
	Secret string `json:"secret" binding:"required"`
}

type AdminHandler struct {
	sessions SessionIssuer
}

func NewAdminHandler(sessions SessionIssuer) *AdminHandler {
	return &AdminHandler{sessions: sessions}
}

// Session exchanges the shared admin secret for a short-lived token.
func (h *AdminHandler) Session(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	session, err := h.sessions.IssueSession(req.Secret)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}
