package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseDefaultsAndPatch(t *testing.T) {
	f := newQuizFixture(t)
	ctx := context.Background()
	svc := NewPhaseService(f.db, f.clock)

	state, err := svc.Get(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, "lobby", state.Phase)
	assert.False(t, state.QuizOpen)

	phase, open := "quiz", true
	state, err = svc.Patch(ctx, f.event.ID, &PhasePatch{Phase: &phase, QuizOpen: &open})
	require.NoError(t, err)
	assert.Equal(t, "quiz", state.Phase)
	assert.True(t, state.QuizOpen)
	assert.False(t, state.AuctionOpen)

	closed := false
	state, err = svc.Patch(ctx, f.event.ID, &PhasePatch{QuizOpen: &closed})
	require.NoError(t, err)
	assert.Equal(t, "quiz", state.Phase)
	assert.False(t, state.QuizOpen)
}

func TestPhasePatchValidation(t *testing.T) {
	blank := " "
	long := strings.Repeat("x", maxPhaseLength+1)

	_, err := (&PhasePatch{Phase: &blank}).columns()
	assert.ErrorIs(t, err, ErrBadRequest)
	_, err = (&PhasePatch{Phase: &long}).columns()
	assert.ErrorIs(t, err, ErrBadRequest)

	yes := true
	cols, err := (&PhasePatch{LogicOpen: &yes}).columns()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"logic_open": true}, cols)
}
