package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"eventquiz/models"
	"eventquiz/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeEvents map[string]*models.Event

func (f fakeEvents) ResolveEvent(_ context.Context, slug string) (*models.Event, error) {
	if ev, ok := f[slug]; ok {
		return ev, nil
	}
	return nil, services.ErrEventNotFound
}

var demoEvents = fakeEvents{
	"pr-demo":    {ID: 1, Slug: "pr-demo", Name: "Demo", IsActive: true},
	"night-quiz": {ID: 2, Slug: "night-quiz", Name: "Night", IsActive: true},
}

type fakeEngine struct {
	state     *services.PublicRound
	opened    []uint
	revealErr error
	err       error
	lastEvent uint
}

func (f *fakeEngine) OpenRound(_ context.Context, eventID, roundID uint) error {
	f.lastEvent = eventID
	f.opened = append(f.opened, roundID)
	return f.err
}

func (f *fakeEngine) Advance(_ context.Context, eventID uint) (*models.Round, error) {
	f.lastEvent = eventID
	if f.err != nil {
		return nil, f.err
	}
	return &models.Round{ID: 7, CurrentQ: 1, IsOpen: true}, nil
}

func (f *fakeEngine) CloseRound(_ context.Context, eventID, _ uint) error {
	f.lastEvent = eventID
	return f.err
}

func (f *fakeEngine) PublicState(_ context.Context, eventID uint) (*services.PublicRound, error) {
	f.lastEvent = eventID
	return f.state, f.err
}

func (f *fakeEngine) Reveal(_ context.Context, eventID uint) (*services.RevealResult, error) {
	f.lastEvent = eventID
	if f.revealErr != nil {
		return nil, f.revealErr
	}
	return &services.RevealResult{RoundID: 7, QIndex: 0, QuestionID: 70, CorrectIndex: 1, Awarded: 1}, nil
}

type submitCall struct {
	eventID uint
	tgID    int64
	choice  int
}

type fakeLedger struct {
	calls []submitCall
	err   error
}

func (f *fakeLedger) Submit(_ context.Context, eventID uint, tgID int64, choice int) (bool, error) {
	f.calls = append(f.calls, submitCall{eventID, tgID, choice})
	if f.err != nil {
		return false, f.err
	}
	return len(f.calls) == 1, nil
}

type fakeRanking struct {
	limit int
	me    *services.Rank
}

func (f *fakeRanking) Top(_ context.Context, _ uint, limit int) ([]services.Standing, error) {
	f.limit = limit
	name := "alice"
	return []services.Standing{{ParticipantID: 3, DisplayName: &name, Score: 100, Rank: 1}}, nil
}

func (f *fakeRanking) RankOf(_ context.Context, _ uint, tgID int64) (*services.Rank, error) {
	if tgID == 111 {
		return f.me, nil
	}
	return nil, nil
}

func (f *fakeRanking) Stats(context.Context, uint) (*services.EventStats, error) {
	return &services.EventStats{Total: 3, Online: 2}, nil
}

func perform(router *gin.Engine, method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func newQuizRouter(engine *fakeEngine, ledger *fakeLedger) *gin.Engine {
	h := NewQuizHandler(demoEvents, "pr-demo", engine, ledger, nil)
	r := gin.New()
	r.GET("/state", h.State)
	r.POST("/answer", h.Answer)
	r.POST("/open", h.RoundOpen)
	r.POST("/next", h.Next)
	r.POST("/reveal", h.Reveal)
	return r
}

func TestStateHidesCorrectIndex(t *testing.T) {
	engine := &fakeEngine{state: &services.PublicRound{
		ID: 7, Title: "R1", CurrentQ: 0,
		Question: &services.PublicQuestion{Text: "2+2?", Options: []string{"3", "4"}},
	}}
	r := newQuizRouter(engine, &fakeLedger{})

	w := perform(r, http.MethodGet, "/state?event_slug=night-quiz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint(2), engine.lastEvent)
	assert.NotContains(t, w.Body.String(), "correct_index")

	round := decode(t, w)["round"].(map[string]interface{})
	assert.Equal(t, "R1", round["title"])
	assert.Equal(t, "2+2?", round["question"].(map[string]interface{})["text"])
}

func TestStateWithoutOpenRound(t *testing.T) {
	r := newQuizRouter(&fakeEngine{}, &fakeLedger{})

	w := perform(r, http.MethodGet, "/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Contains(t, body, "round")
	assert.Nil(t, body["round"])
}

func TestUnknownEventIsNotFound(t *testing.T) {
	r := newQuizRouter(&fakeEngine{}, &fakeLedger{})

	w := perform(r, http.MethodGet, "/state?event_slug=nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "event_not_found", decode(t, w)["error"])
}

func TestAnswer(t *testing.T) {
	ledger := &fakeLedger{}
	r := newQuizRouter(&fakeEngine{}, ledger)

	w := perform(r, http.MethodPost, "/answer", gin.H{"tg_id": 111, "choice_index": 0})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["recorded"])

	w = perform(r, http.MethodPost, "/answer", gin.H{"tg_id": 111, "choice_index": 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["recorded"])

	require.Len(t, ledger.calls, 2)
	assert.Equal(t, submitCall{eventID: 1, tgID: 111, choice: 0}, ledger.calls[0])
}

func TestAnswerRejectsIncompleteBody(t *testing.T) {
	ledger := &fakeLedger{}
	r := newQuizRouter(&fakeEngine{}, ledger)

	for name, body := range map[string]interface{}{
		"missing choice": gin.H{"tg_id": 111},
		"missing tg_id":  gin.H{"choice_index": 1},
		"wrong type":     gin.H{"tg_id": "abc", "choice_index": 1},
	} {
		t.Run(name, func(t *testing.T) {
			w := perform(r, http.MethodPost, "/answer", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "bad_request", decode(t, w)["error"])
		})
	}
	assert.Empty(t, ledger.calls)
}

func TestAnswerMapsLedgerErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrRoundClosed, http.StatusConflict, "round_closed"},
		{services.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
		{services.ErrQuestionMissing, http.StatusNotFound, "question_missing"},
		{errors.New("connection reset"), http.StatusInternalServerError, "server_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			r := newQuizRouter(&fakeEngine{}, &fakeLedger{err: tt.err})
			w := perform(r, http.MethodPost, "/answer", gin.H{"tg_id": 111, "choice_index": 0})
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w)["error"])
		})
	}
}

func TestRoundOpenAcceptsIDOrRoundID(t *testing.T) {
	engine := &fakeEngine{}
	r := newQuizRouter(engine, &fakeLedger{})

	assert.Equal(t, http.StatusOK, perform(r, http.MethodPost, "/open", gin.H{"id": 4}).Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodPost, "/open", gin.H{"round_id": 5}).Code)
	assert.Equal(t, http.StatusBadRequest, perform(r, http.MethodPost, "/open", gin.H{}).Code)
	assert.Equal(t, []uint{4, 5}, engine.opened)
}

func TestRevealAndNext(t *testing.T) {
	engine := &fakeEngine{}
	r := newQuizRouter(engine, &fakeLedger{})

	w := perform(r, http.MethodPost, "/reveal", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(1), body["awarded"])

	w = perform(r, http.MethodPost, "/next", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["current_q"])

	engine.revealErr = services.ErrAlreadyRevealed
	w = perform(r, http.MethodPost, "/reveal", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_revealed", decode(t, w)["error"])
}

func TestLeaderboard(t *testing.T) {
	ranking := &fakeRanking{me: &services.Rank{Rank: 2, Score: 90}}
	h := NewLeaderboardHandler(demoEvents, "pr-demo", ranking)
	r := gin.New()
	r.GET("/leaderboard", h.Leaderboard)

	w := perform(r, http.MethodGet, "/leaderboard?limit=500&tg_id=111", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, services.MaxTopLimit, ranking.limit)

	body := decode(t, w)
	assert.Equal(t, "pr-demo", body["event_slug"])
	top := body["top"].([]interface{})
	require.Len(t, top, 1)
	assert.Equal(t, map[string]interface{}{"display_name": "alice", "score": float64(100), "rank": float64(1)}, top[0])
	assert.Equal(t, map[string]interface{}{"rank": float64(2), "score": float64(90)}, body["me"])

	w = perform(r, http.MethodGet, "/leaderboard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, services.DefaultTopLimit, ranking.limit)
	assert.Nil(t, decode(t, w)["me"])

	w = perform(r, http.MethodGet, "/leaderboard?limit=ten", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusForKinds(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(services.KindNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(services.KindInvalidState))
	assert.Equal(t, http.StatusBadRequest, statusFor(services.KindBadInput))
	assert.Equal(t, http.StatusUnauthorized, statusFor(services.KindUnauthorized))
	assert.Equal(t, http.StatusInternalServerError, statusFor(services.KindStorage))
}
