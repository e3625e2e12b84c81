package services

import (
	"context"
	"strings"
	"time"

	"eventquiz/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// SortKey is one of the closed set of participant list orderings.
type SortKey string

const (
	SortByScore   SortKey = "score"
	SortByName    SortKey = "name"
	SortByCreated SortKey = "created"
)

var sortColumns = map[SortKey]string{
	SortByScore:   "score",
	SortByName:    "display_name",
	SortByCreated: "created_at",
}

// ListQuery is a validated participant list request.
type ListQuery struct {
	Search string
	Sort   SortKey
	Desc   bool
	Limit  int
	Offset int
}

// ParseListQuery validates raw query values against the allow-list.
// Empty values take the defaults (score, desc, 50, 0).
func ParseListQuery(search, sort, order string, limit, offset int) (ListQuery, error) {
	q := ListQuery{Search: strings.TrimSpace(search), Sort: SortByScore, Desc: true, Limit: limit, Offset: offset}

	if sort = strings.ToLower(strings.TrimSpace(sort)); sort != "" {
		key := SortKey(sort)
		if _, ok := sortColumns[key]; !ok {
			return ListQuery{}, badInput("unknown sort %q", sort)
		}
		q.Sort = key
	}

	switch strings.ToLower(strings.TrimSpace(order)) {
	case "", "desc":
		q.Desc = true
	case "asc":
		q.Desc = false
	default:
		return ListQuery{}, badInput("unknown order %q", order)
	}

	if q.Limit <= 0 {
		q.Limit = DefaultListLimit
	}
	if q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q, nil
}

// orderBy builds the ORDER BY clause from the allow-listed column, with the
// participant id as a stable tie-break.
func (q ListQuery) orderBy() clause.OrderBy {
	return clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Table: "p", Name: sortColumns[q.Sort]}, Desc: q.Desc},
		{Column: clause.Column{Table: "p", Name: "id"}},
	}}
}

type ParticipantRow struct {
	ParticipantID uint      `json:"participant_id"`
	TgID          int64     `json:"tg_id"`
	Username      *string   `json:"username"`
	DisplayName   *string   `json:"display_name"`
	AvatarURL     *string   `json:"avatar_url"`
	Score         int       `json:"score"`
	CreatedAt     time.Time `json:"created_at"`
}

type ParticipantPage struct {
	Total int64            `json:"total"`
	Items []ParticipantRow `json:"items"`
}

type ParticipantService struct {
	db *gorm.DB
}

func NewParticipantService(db *gorm.DB) *ParticipantService {
	return &ParticipantService{db: db}
}

// List pages through the event's participants.
func (s *ParticipantService) List(ctx context.Context, eventID uint, q ListQuery) (*ParticipantPage, error) {
	base := func() *gorm.DB {
		db := s.db.WithContext(ctx).
			Table("participants AS p").
			Joins("JOIN users AS u ON u.id = p.user_id").
			Where("p.event_id = ?", eventID)
		if q.Search != "" {
			pattern := "%" + escapeLike(q.Search) + "%"
			db = db.Where("(p.display_name ILIKE ? OR u.username ILIKE ?)", pattern, pattern)
		}
		return db
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, storageError("count participants", err)
	}

	items := []ParticipantRow{}
	err := base().
		Select("p.id AS participant_id, u.tg_id, u.username, p.display_name, p.avatar_url, p.score, p.created_at").
		Clauses(q.orderBy()).
		Limit(q.Limit).
		Offset(q.Offset).
		Scan(&items).Error
	if err != nil {
		return nil, storageError("list participants", err)
	}

	return &ParticipantPage{Total: total, Items: items}, nil
}

// Kick removes a participant from the event. Unknown ids are ignored.
func (s *ParticipantService) Kick(ctx context.Context, eventID, participantID uint) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND event_id = ?", participantID, eventID).
		Delete(&models.Participant{})
	if res.Error != nil {
		return storageError("kick participant", res.Error)
	}
	if res.RowsAffected > 0 {
		log.WithFields(log.Fields{"event_id": eventID, "participant_id": participantID}).Info("participant removed")
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
