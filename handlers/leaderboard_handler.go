package handlers

import (
	"context"
	"net/http"

	"eventquiz/services"

	"github.com/gin-gonic/gin"
)

type Ranking interface {
	Top(ctx context.Context, eventID uint, limit int) ([]services.Standing, error)
	RankOf(ctx context.Context, eventID uint, tgID int64) (*services.Rank, error)
	Stats(ctx context.Context, eventID uint) (*services.EventStats, error)
}

type LeaderboardHandler struct {
	eventScope
	ranking Ranking
}

func NewLeaderboardHandler(events EventResolver, defaultSlug string, ranking Ranking) *LeaderboardHandler {
	return &LeaderboardHandler{
		eventScope: eventScope{events: events, defaultSlug: defaultSlug},
		ranking:    ranking,
	}
}

func (h *LeaderboardHandler) Leaderboard(c *gin.Context) {
	limit, ok := queryInt(c, "limit", services.DefaultTopLimit)
	if !ok {
		return
	}
	tgID, hasTgID, ok := queryInt64(c, "tg_id")
	if !ok {
		return
	}

	event, ok := h.event(c)
	if !ok {
		return
	}

	top, err := h.ranking.Top(c.Request.Context(), event.ID, services.ClampLimit(limit))
	if err != nil {
		respondError(c, err)
		return
	}

	var me *services.Rank
	if hasTgID {
		if me, err = h.ranking.RankOf(c.Request.Context(), event.ID, tgID); err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"event_slug": event.Slug,
		"top":        top,
		"me":         me,
	})
}

func (h *LeaderboardHandler) Stats(c *gin.Context) {
	event, ok := h.event(c)
	if !ok {
		return
	}

	stats, err := h.ranking.Stats(c.Request.Context(), event.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
