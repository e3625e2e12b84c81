package services

import (
	"context"
	"time"

	"eventquiz/models"

	"gorm.io/gorm"
)

const (
	DefaultTopLimit = 10
	MaxTopLimit     = 100
	DefaultPresence = 30 * time.Second
)

type Standing struct {
	ParticipantID uint    `json:"-"`
	DisplayName   *string `json:"display_name"`
	Score         int     `json:"score"`
	Rank          int     `json:"rank"`
}

type Rank struct {
	Rank  int `json:"rank"`
	Score int `json:"score"`
}

type EventStats struct {
	Total       int64      `json:"total"`
	Online      int64      `json:"online"`
	Leaderboard []Standing `json:"leaderboard"`
}

type RankingService struct {
	db     *gorm.DB
	clock  Clock
	window time.Duration
}

func NewRankingService(db *gorm.DB, clock Clock, window time.Duration) *RankingService {
	if clock == nil {
		clock = SystemClock
	}
	if window <= 0 {
		window = DefaultPresence
	}
	return &RankingService{db: db, clock: clock, window: window}
}

// ClampLimit maps a requested leaderboard size into [1, MaxTopLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultTopLimit
	}
	if limit > MaxTopLimit {
		return MaxTopLimit
	}
	return limit
}

// Top returns the highest scores, ties ordered by participant id.
func (r *RankingService) Top(ctx context.Context, eventID uint, limit int) ([]Standing, error) {
	var rows []models.Participant
	err := r.db.WithContext(ctx).
		Select("id", "display_name", "score").
		Where("event_id = ?", eventID).
		Order("score DESC").
		Order("id ASC").
		Limit(ClampLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, storageError("load leaderboard", err)
	}

	standings := make([]Standing, len(rows))
	scores := make([]int, len(rows))
	for i, p := range rows {
		standings[i] = Standing{ParticipantID: p.ID, DisplayName: p.DisplayName, Score: p.Score}
		scores[i] = p.Score
	}
	for i, rank := range DenseRanks(scores) {
		standings[i].Rank = rank
	}
	return standings, nil
}

// RankOf returns the dense rank of tgID in the event, nil when not enrolled.
func (r *RankingService) RankOf(ctx context.Context, eventID uint, tgID int64) (*Rank, error) {
	var ranks []Rank
	err := r.db.WithContext(ctx).Raw(`
		SELECT r.rank, r.score
		  FROM (SELECT p.user_id, p.score,
		               DENSE_RANK() OVER (ORDER BY p.score DESC) AS rank
		          FROM participants p
		         WHERE p.event_id = ?) r
		  JOIN users u ON u.id = r.user_id
		 WHERE u.tg_id = ?`, eventID, tgID).
		Scan(&ranks).Error
	if err != nil {
		return nil, storageError("rank participant", err)
	}
	if len(ranks) == 0 {
		return nil, nil
	}
	return &ranks[0], nil
}

// OnlineCount counts participants whose last ping is inside the presence window.
func (r *RankingService) OnlineCount(ctx context.Context, eventID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Table("participants").
		Joins("JOIN sessions ON sessions.user_id = participants.user_id").
		Where("participants.event_id = ? AND sessions.last_ping > ?", eventID, r.clock.Now().Add(-r.window)).
		Count(&n).Error
	if err != nil {
		return 0, storageError("count online", err)
	}
	return n, nil
}

// Stats bundles totals, online count and the top ten.
func (r *RankingService) Stats(ctx context.Context, eventID uint) (*EventStats, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Participant{}).Where("event_id = ?", eventID).Count(&total).Error; err != nil {
		return nil, storageError("count participants", err)
	}

	online, err := r.OnlineCount(ctx, eventID)
	if err != nil {
		return nil, err
	}

	top, err := r.Top(ctx, eventID, DefaultTopLimit)
	if err != nil {
		return nil, err
	}

	return &EventStats{Total: total, Online: online, Leaderboard: top}, nil
}

// DenseRanks assigns 1-based dense ranks to scores already sorted descending.
func DenseRanks(scores []int) []int {
	ranks := make([]int, len(scores))
	rank := 0
	for i, s := range scores {
		if i == 0 || s != scores[i-1] {
			rank++
		}
		ranks[i] = rank
	}
	return ranks
}
