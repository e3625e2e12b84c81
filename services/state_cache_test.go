package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStateCache(t *testing.T) (*RedisStateCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStateCache(client, 2*time.Second), mr
}

var roundOne = &PublicRound{
	ID: 1, Title: "R1", CurrentQ: 0,
	Question: &PublicQuestion{Text: "Pick B", Options: []string{"A", "B", "C"}},
}

func TestStateCacheStoresRound(t *testing.T) {
	cache, mr := newTestStateCache(t)
	ctx := context.Background()

	_, gen, hit := cache.Get(ctx, 7)
	require.False(t, hit)
	assert.Equal(t, int64(0), gen)

	cache.Set(ctx, 7, gen, roundOne)

	got, _, hit := cache.Get(ctx, 7)
	require.True(t, hit)
	assert.Equal(t, roundOne, got)
	assert.Equal(t, 2*time.Second, mr.TTL(stateKey(7)))

	mr.FastForward(3 * time.Second)
	_, _, hit = cache.Get(ctx, 7)
	assert.False(t, hit)
}

func TestStateCacheStoresNoOpenRound(t *testing.T) {
	cache, mr := newTestStateCache(t)
	ctx := context.Background()

	_, gen, _ := cache.Get(ctx, 7)
	cache.Set(ctx, 7, gen, nil)

	got, _, hit := cache.Get(ctx, 7)
	assert.True(t, hit)
	assert.Nil(t, got)

	raw, err := mr.Get(stateKey(7))
	require.NoError(t, err)
	assert.JSONEq(t, `{"round":null}`, raw)
}

func TestStateCacheCorruptEntryIsMiss(t *testing.T) {
	cache, mr := newTestStateCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(stateKey(7), "{not json"))

	_, gen, hit := cache.Get(ctx, 7)
	assert.False(t, hit)
	assert.Equal(t, int64(0), gen)

	require.NoError(t, mr.Set(generationKey(7), "many"))
	_, gen, hit = cache.Get(ctx, 7)
	assert.False(t, hit)
	assert.Equal(t, noGeneration, gen)
}

func TestStateCacheInvalidate(t *testing.T) {
	cache, mr := newTestStateCache(t)
	ctx := context.Background()

	_, gen, _ := cache.Get(ctx, 7)
	cache.Set(ctx, 7, gen, roundOne)
	_, otherGen, _ := cache.Get(ctx, 8)
	cache.Set(ctx, 8, otherGen, roundOne)

	cache.Invalidate(ctx, 7)

	assert.False(t, mr.Exists(stateKey(7)))
	_, gen, hit := cache.Get(ctx, 7)
	assert.False(t, hit)
	assert.Equal(t, int64(1), gen)

	_, _, hit = cache.Get(ctx, 8)
	assert.True(t, hit, "other events keep their entry")
}

func TestStateCacheSkipsWriteAfterInvalidate(t *testing.T) {
	cache, _ := newTestStateCache(t)
	ctx := context.Background()

	// A reader misses and loads R1 while a transition to R2 commits and
	// invalidates before the reader stores its copy.
	_, readerGen, hit := cache.Get(ctx, 7)
	require.False(t, hit)
	cache.Invalidate(ctx, 7)
	cache.Set(ctx, 7, readerGen, roundOne)

	_, gen, hit := cache.Get(ctx, 7)
	require.False(t, hit, "state loaded before the transition must not be cached")

	roundTwo := &PublicRound{ID: 2, Title: "R2"}
	cache.Set(ctx, 7, gen, roundTwo)
	got, _, hit := cache.Get(ctx, 7)
	require.True(t, hit)
	assert.Equal(t, roundTwo, got)
}

func TestStateCacheUnavailableRedis(t *testing.T) {
	cache, mr := newTestStateCache(t)
	ctx := context.Background()
	mr.Close()

	_, gen, hit := cache.Get(ctx, 7)
	assert.False(t, hit)
	assert.Equal(t, noGeneration, gen)

	assert.NotPanics(t, func() {
		cache.Set(ctx, 7, gen, roundOne)
		cache.Invalidate(ctx, 7)
	})
}

func TestNoopStateCacheNeverHits(t *testing.T) {
	var cache NoopStateCache
	ctx := context.Background()

	cache.Set(ctx, 7, 0, roundOne)
	_, gen, hit := cache.Get(ctx, 7)
	assert.False(t, hit)
	assert.Equal(t, noGeneration, gen)
}
