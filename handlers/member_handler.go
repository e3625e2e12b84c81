package handlers

import (
	"context"
	"net/http"

	"eventquiz/models"
	"eventquiz/services"

	"github.com/gin-gonic/gin"
)

type Membership interface {
	EnsureUser(ctx context.Context, req *services.RegisterRequest) (*models.User, error)
	Join(ctx context.Context, req *services.JoinRequest) (*services.JoinResult, error)
	Me(ctx context.Context, slug string, tgID int64) (*services.MeResult, error)
}

type Presence interface {
	Heartbeat(ctx context.Context, tgID int64) error
}

type meRequest struct {
	TgID      int64  `json:"tg_id" form:"tg_id" binding:"required"`
	EventSlug string `json:"event_slug" form:"event_slug"`
}

// MemberHandler serves registration, event membership and heartbeats.
type MemberHandler struct {
	membership  Membership
	presence    Presence
	defaultSlug string
}

func NewMemberHandler(membership Membership, presence Presence, defaultSlug string) *MemberHandler {
	return &MemberHandler{
		membership:  membership,
		presence:    presence,
		defaultSlug: defaultSlug,
	}
}

func (h *MemberHandler) Register(c *gin.Context) {
	var req services.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.membership.EnsureUser(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "user": user})
}

func (h *MemberHandler) Join(c *gin.Context) {
	var req services.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.EventSlug == "" {
		req.EventSlug = h.defaultSlug
	}

	result, err := h.membership.Join(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"event":       result.Event,
		"participant": result.Participant,
	})
}

// Me accepts tg_id from the query string on GET and from the JSON body on POST.
func (h *MemberHandler) Me(c *gin.Context) {
	var req meRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.EventSlug == "" {
		req.EventSlug = h.defaultSlug
	}

	result, err := h.membership.Me(c.Request.Context(), req.EventSlug, req.TgID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *MemberHandler) Ping(c *gin.Context) {
	var req services.PingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.presence.Heartbeat(c.Request.Context(), req.TgID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
