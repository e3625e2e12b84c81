package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"eventquiz/models"
	"eventquiz/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type quizFixture struct {
	db      *gorm.DB
	clock   *fixedClock
	pub     *recordingPublisher
	scores  *ScoreService
	ledger  *Ledger
	engine  *Engine
	ranking *RankingService
	event   models.Event
}

func newQuizFixture(t *testing.T) *quizFixture {
	t.Helper()

	db := testutil.SetupTestDB(t)
	clock := &fixedClock{now: time.Date(2025, 5, 1, 18, 0, 0, 0, time.UTC)}
	pub := &recordingPublisher{}
	scores := NewScoreService(db)
	ledger := NewLedger(db)

	return &quizFixture{
		db:      db,
		clock:   clock,
		pub:     pub,
		scores:  scores,
		ledger:  ledger,
		engine:  NewEngine(db, scores, ledger, nil, pub, clock),
		ranking: NewRankingService(db, clock, 30*time.Second),
		event:   testutil.CreateEvent(t, db, "night-quiz"),
	}
}

var abc = testutil.QuestionSpec{Text: "Pick B", Options: []string{"A", "B", "C"}, Correct: 1}

func TestRevealAwardsOnlyCorrectResponders(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()

	round := testutil.CreateRound(t, f.db, f.event.ID, "R", false, abc)
	_, p1 := testutil.Enroll(t, f.db, f.event.ID, 101, "U1", 0)
	_, p2 := testutil.Enroll(t, f.db, f.event.ID, 102, "U2", 0)
	_, p3 := testutil.Enroll(t, f.db, f.event.ID, 103, "U3", 0)

	require.NoError(t, f.engine.OpenRound(ctx, f.event.ID, round.ID))

	_, err := f.ledger.Submit(ctx, f.event.ID, 101, 1)
	require.NoError(t, err)
	_, err = f.ledger.Submit(ctx, f.event.ID, 102, 0)
	require.NoError(t, err)

	result, err := f.engine.Reveal(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Awarded)
	assert.Equal(t, 1, result.CorrectIndex)

	assert.Equal(t, RevealAward, testutil.Score(t, f.db, p1.ID))
	assert.Equal(t, 0, testutil.Score(t, f.db, p2.ID))
	assert.Equal(t, 0, testutil.Score(t, f.db, p3.ID))

	var marker models.Reveal
	require.NoError(t, f.db.Where("round_id = ? AND q_index = 0", round.ID).First(&marker).Error)
	assert.Equal(t, 1, marker.Awarded)
}

func TestRevealTwiceIsRejected(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()

	round := testutil.CreateRound(t, f.db, f.event.ID, "R", false, abc)
	_, p1 := testutil.Enroll(t, f.db, f.event.ID, 101, "U1", 0)
	require.NoError(t, f.engine.OpenRound(ctx, f.event.ID, round.ID))
	_, err := f.ledger.Submit(ctx, f.event.ID, 101, 1)
	require.NoError(t, err)

	_, err = f.engine.Reveal(ctx, f.event.ID)
	require.NoError(t, err)

	_, err = f.engine.Reveal(ctx, f.event.ID)
	assert.ErrorIs(t, err, ErrAlreadyRevealed)
	assert.Equal(t, RevealAward, testutil.Score(t, f.db, p1.ID))
}

func TestConcurrentRevealAwardsOnce(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()

	round := testutil.CreateRound(t, f.db, f.event.ID, "R", false, abc)
	_, p1 := testutil.Enroll(t, f.db, f.event.ID, 101, "U1", 0)
	require.NoError(t, f.engine.OpenRound(ctx, f.event.ID, round.ID))
	_, err := f.ledger.Submit(ctx, f.event.ID, 101, 1)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Reveal(ctx, f.event.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, ErrAlreadyRevealed):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 4, rejected)
	assert.Equal(t, RevealAward, testutil.Score(t, f.db, p1.ID))
}

func TestRevealFollowsCurrentQuestion(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()

	second := testutil.QuestionSpec{Text: "Pick C", Options: []string{"A", "B", "C"}, Correct: 2}
	round := testutil.CreateRound(t, f.db, f.event.ID, "R", false, abc, second)
	_, p1 := testutil.Enroll(t, f.db, f.event.ID, 101, "U1", 0)
	require.NoError(t, f.engine.OpenRound(ctx, f.event.ID, round.ID))

	_, err := f.ledger.Submit(ctx, f.event.ID, 101, 1)
	require.NoError(t, err)
	_, err = f.engine.Reveal(ctx, f.event.ID)
	require.NoError(t, err)

	_, err = f.engine.Advance(ctx, f.event.ID)
	require.NoError(t, err)

	// Same choice is wrong for the second question.
	_, err = f.ledger.Submit(ctx, f.event.ID, 101, 1)
	require.NoError(t, err)
	result, err := f.engine.Reveal(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Awarded)
	assert.Equal(t, 1, result.QIndex)
	assert.Equal(t, RevealAward, testutil.Score(t, f.db, p1.ID))
}

func TestRevealErrors(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()

	_, err := f.engine.Reveal(ctx, f.event.ID)
	assert.ErrorIs(t, err, ErrRoundClosed)

	round := testutil.CreateRound(t, f.db, f.event.ID, "R", false, abc)
	require.NoError(t, f.engine.OpenRound(ctx, f.event.ID, round.ID))
	_, err = f.engine.Advance(ctx, f.event.ID)
	require.NoError(t, err)

	_, err = f.engine.Reveal(ctx, f.event.ID)
	assert.ErrorIs(t, err, ErrQuestionMissing)
}

func TestOpenRoundSwitchesRounds(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()

	r1 := testutil.CreateRound(t, f.db, f.event.ID, "R1", false, abc)
	r2 := testutil.CreateRound(t, f.db, f.event.ID, "R2", false, abc)

	require.NoError(t, f.engine.OpenRound(ctx, f.event.ID, r1.ID))
	_, err := f.engine.Advance(ctx, f.event.ID)
	require.NoError(t, err)
	require.NoError(t, f.engine.OpenRound(ctx, f.event.ID, r2.ID))

	assert.False(t, testutil.LoadRound(t, f.db, r1.ID).IsOpen)
	got := testutil.LoadRound(t, f.db, r2.ID)
	assert.True(t, got.IsOpen)
	assert.Equal(t, 0, got.CurrentQ)

	// Reopening resets the index.
	_, err = f.engine.Advance(ctx, f.event.ID)
	require.NoError(t, err)
	require.NoError(t, f.engine.OpenRound(ctx, f.event.ID, r2.ID))
	assert.Equal(t, 0, testutil.LoadRound(t, f.db, r2.ID).CurrentQ)

	require.NotEmpty(t, f.pub.got)
	assert.Equal(t, NotifyRoundOpened, f.pub.got[0].Type)
}

func TestConcurrentOpenRoundKeepsOneOpen(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()

	rounds := []models.Round{
		testutil.CreateRound(t, f.db, f.event.ID, "R1", false, abc),
		testutil.CreateRound(t, f.db, f.event.ID, "R2", false, abc),
		testutil.CreateRound(t, f.db, f.event.ID, "R3", false, abc),
	}

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			errs <- f.engine.OpenRound(ctx, f.event.ID, id)
		}(rounds[i%len(rounds)].ID)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	var open int64
	require.NoError(t, f.db.Model(&models.Round{}).Where("event_id = ? AND is_open", f.event.ID).Count(&open).Error)
	assert.Equal(t, int64(1), open)
}

func TestOpenRoundRejections(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()

	other := testutil.CreateEvent(t, f.db, "other")
	foreign := testutil.CreateRound(t, f.db, other.ID, "Foreign", false, abc)
	bank := testutil.CreateRound(t, f.db, f.event.ID, "Bank", true, abc)

	assert.ErrorIs(t, f.engine.OpenRound(ctx, f.event.ID, foreign.ID), ErrRoundNotFound)
	assert.ErrorIs(t, f.engine.OpenRound(ctx, f.event.ID, 999999), ErrRoundNotFound)
	assert.ErrorIs(t, f.engine.OpenRound(ctx, f.event.ID, bank.ID), ErrRoundIsBank)
	assert.ErrorIs(t, f.engine.OpenRound(ctx, 999999, bank.ID), ErrEventNotFound)
}

func TestAdvanceAndPublicState(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()

	_, err := f.engine.Advance(ctx, f.event.ID)
	assert.ErrorIs(t, err, ErrRoundClosed)

	state, err := f.engine.PublicState(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Nil(t, state)

	round := testutil.CreateRound(t, f.db, f.event.ID, "Warmup", false, abc)
	require.NoError(t, f.engine.OpenRound(ctx, f.event.ID, round.ID))

	state, err = f.engine.PublicState(ctx, f.event.ID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "Warmup", state.Title)
	require.NotNil(t, state.Question)
	assert.Equal(t, []string{"A", "B", "C"}, state.Question.Options)

	data, err := json.Marshal(map[string]interface{}{"round": state})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "correct")

	advanced, err := f.engine.Advance(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, advanced.CurrentQ)

	state, err = f.engine.PublicState(ctx, f.event.ID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 1, state.CurrentQ)
	assert.Nil(t, state.Question)
}

func TestCloseRoundIsIdempotent(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()

	round := testutil.CreateRound(t, f.db, f.event.ID, "R", false, abc)
	require.NoError(t, f.engine.OpenRound(ctx, f.event.ID, round.ID))

	require.NoError(t, f.engine.CloseRound(ctx, f.event.ID, round.ID))
	require.NoError(t, f.engine.CloseRound(ctx, f.event.ID, round.ID))
	require.NoError(t, f.engine.CloseRound(ctx, f.event.ID, 424242))

	assert.False(t, testutil.LoadRound(t, f.db, round.ID).IsOpen)

	closed := 0
	for _, n := range f.pub.got {
		if n.Type == NotifyRoundClosed {
			closed++
		}
	}
	assert.Equal(t, 1, closed)
}

// racingCache runs onSet once, right before the first cache write lands.
type racingCache struct {
	StateCache
	once  sync.Once
	onSet func()
}

func (c *racingCache) Set(ctx context.Context, eventID uint, gen int64, round *PublicRound) {
	c.once.Do(c.onSet)
	c.StateCache.Set(ctx, eventID, gen, round)
}

func TestPublicStateIsNotCachedAcrossTransition(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()

	r1 := testutil.CreateRound(t, f.db, f.event.ID, "R1", false, abc)
	r2 := testutil.CreateRound(t, f.db, f.event.ID, "R2", false, abc)
	require.NoError(t, f.engine.OpenRound(ctx, f.event.ID, r1.ID))

	redisCache, _ := newTestStateCache(t)
	cache := &racingCache{StateCache: redisCache}
	engine := NewEngine(f.db, f.scores, f.ledger, cache, f.pub, f.clock)
	cache.onSet = func() {
		require.NoError(t, engine.OpenRound(ctx, f.event.ID, r2.ID))
	}

	// The reader loaded R1 before R2 opened; its copy must not be kept.
	stale, err := engine.PublicState(ctx, f.event.ID)
	require.NoError(t, err)
	require.NotNil(t, stale)
	assert.Equal(t, r1.ID, stale.ID)

	for i := 0; i < 2; i++ {
		current, err := engine.PublicState(ctx, f.event.ID)
		require.NoError(t, err)
		require.NotNil(t, current)
		assert.Equal(t, r2.ID, current.ID)
	}
}
