package routes

import (
	"context"
	"net/http"
	"strings"

	"eventquiz/handlers"
	"eventquiz/middleware"
	"eventquiz/models"
	"eventquiz/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Action is one entry of an action table. Admin is checked before Handle runs.
type Action struct {
	Method string
	Admin  bool
	Handle gin.HandlerFunc
}

type ActionTable map[string]Action

// Dispatch routes ?action= to its table entry. Unknown actions, and known
// actions called with the wrong method, answer unknown_action.
func Dispatch(table ActionTable, defaultAction string, auth middleware.Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := strings.ToLower(strings.TrimSpace(c.Query("action")))
		if name == "" {
			name = defaultAction
		}

		action, ok := table[name]
		if !ok || (action.Method != "" && action.Method != c.Request.Method) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown_action"})
			return
		}
		if action.Admin && !middleware.IsAdmin(c, auth) {
			middleware.Unauthorized(c)
			return
		}

		action.Handle(c)
	}
}

// Viewers accepts websocket viewers of an event.
type Viewers interface {
	Attach(conn *websocket.Conn, eventID uint) *services.Client
}

type EventLookup interface {
	ResolveEvent(ctx context.Context, slug string) (*models.Event, error)
}

type Handlers struct {
	Quiz         *handlers.QuizHandler
	Leaderboard  *handlers.LeaderboardHandler
	Member       *handlers.MemberHandler
	Participants *handlers.ParticipantHandler
	Phase        *handlers.PhaseHandler
	Admin        *handlers.AdminHandler
}

func QuizActions(h *handlers.QuizHandler) ActionTable {
	return ActionTable{
		"state":                 {Method: http.MethodGet, Handle: h.State},
		"answer":                {Method: http.MethodPost, Handle: h.Answer},
		"admin_rounds":          {Method: http.MethodGet, Admin: true, Handle: h.Rounds},
		"admin_round_upsert":    {Method: http.MethodPost, Admin: true, Handle: h.RoundUpsert},
		"admin_round_open":      {Method: http.MethodPost, Admin: true, Handle: h.RoundOpen},
		"admin_start":           {Method: http.MethodPost, Admin: true, Handle: h.RoundOpen},
		"admin_round_close":     {Method: http.MethodPost, Admin: true, Handle: h.RoundClose},
		"admin_next":            {Method: http.MethodPost, Admin: true, Handle: h.Next},
		"admin_reveal":          {Method: http.MethodPost, Admin: true, Handle: h.Reveal},
		"admin_questions":       {Method: http.MethodGet, Admin: true, Handle: h.Questions},
		"admin_question_add":    {Method: http.MethodPost, Admin: true, Handle: h.QuestionAdd},
		"admin_question_update": {Method: http.MethodPost, Admin: true, Handle: h.QuestionUpdate},
		"admin_question_delete": {Method: http.MethodPost, Admin: true, Handle: h.QuestionDelete},
		"admin_import":          {Method: http.MethodPost, Admin: true, Handle: h.Import},
		"admin_bank_upsert":     {Method: http.MethodPost, Admin: true, Handle: h.BankUpsert},
		"admin_clone_from_bank": {Method: http.MethodPost, Admin: true, Handle: h.CloneFromBank},
	}
}

func ParticipantActions(h *handlers.ParticipantHandler) ActionTable {
	return ActionTable{
		"list":         {Method: http.MethodGet, Handle: h.List},
		"adjust":       {Method: http.MethodPost, Admin: true, Handle: h.Adjust},
		"set":          {Method: http.MethodPost, Admin: true, Handle: h.Set},
		"kick":         {Method: http.MethodPost, Admin: true, Handle: h.Kick},
		"bonus_all":    {Method: http.MethodPost, Admin: true, Handle: h.BonusAll},
		"reset_scores": {Method: http.MethodPost, Admin: true, Handle: h.ResetScores},
	}
}

func SetupRoutes(
	router *gin.Engine,
	h Handlers,
	auth middleware.Authorizer,
	viewers Viewers,
	events EventLookup,
	origins []string,
) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(origins, r.Header.Get("Origin"))
		},
	}

	api := router.Group("/api")
	{
		quiz := Dispatch(QuizActions(h.Quiz), "", auth)
		api.GET("/quiz", quiz)
		api.POST("/quiz", quiz)

		participants := Dispatch(ParticipantActions(h.Participants), "list", auth)
		api.GET("/participants", participants)
		api.POST("/participants", participants)

		api.GET("/leaderboard", h.Leaderboard.Leaderboard)
		api.GET("/stats", h.Leaderboard.Stats)
		api.POST("/ping", h.Member.Ping)
		api.POST("/register", h.Member.Register)

		event := api.Group("/event")
		{
			event.POST("/join", h.Member.Join)
			event.GET("/me", h.Member.Me)
			event.POST("/me", h.Member.Me)
			event.GET("/state", h.Phase.State)
			event.POST("/admin/state_set", middleware.AdminRequired(auth), h.Phase.StateSet)
		}

		api.POST("/admin/session", h.Admin.Session)
		admin := api.Group("/admin")
		admin.Use(middleware.AdminRequired(auth))
		{
			admin.POST("/reset_scores", h.Participants.ResetAll)
			admin.POST("/state_set", h.Phase.StateSet)
		}
	}

	// Live display feed: current state on connect, then round notifications.
	router.GET("/ws/:event_slug", func(c *gin.Context) {
		event, err := events.ResolveEvent(c.Request.Context(), c.Param("event_slug"))
		if err != nil {
			status := http.StatusInternalServerError
			if services.KindOf(err) == services.KindNotFound {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": services.CodeOf(err)})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.WithError(err).WithField("event_id", event.ID).Warn("websocket upgrade failed")
			return
		}

		if viewers.Attach(conn, event.ID) == nil {
			log.WithField("event_id", event.ID).Info("websocket rejected, hub stopped")
		}
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
