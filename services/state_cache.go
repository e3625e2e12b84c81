package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// StateCache keeps short-lived copies of the public round state per event.
// Each event has a generation that Invalidate bumps. A miss hands out the
// current generation and Set only stores when it is still current, so a
// reader that loaded state before a transition cannot write it back after.
type StateCache interface {
	Get(ctx context.Context, eventID uint) (round *PublicRound, gen int64, hit bool)
	Set(ctx context.Context, eventID uint, gen int64, round *PublicRound)
	Invalidate(ctx context.Context, eventID uint)
}

// noGeneration is returned on a miss when the generation could not be read.
// Set ignores it.
const noGeneration int64 = -1

var errStaleGeneration = errors.New("state cache generation moved")

// cachedState wraps the round so "no open round" can be cached too.
type cachedState struct {
	Round *PublicRound `json:"round"`
}

type RedisStateCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStateCache(client *redis.Client, ttl time.Duration) *RedisStateCache {
	return &RedisStateCache{redis: client, ttl: ttl}
}

func stateKey(eventID uint) string {
	return fmt.Sprintf("quiz:state:%d", eventID)
}

func generationKey(eventID uint) string {
	return fmt.Sprintf("quiz:state:%d:gen", eventID)
}

func (c *RedisStateCache) Get(ctx context.Context, eventID uint) (*PublicRound, int64, bool) {
	vals, err := c.redis.MGet(ctx, stateKey(eventID), generationKey(eventID)).Result()
	if err != nil {
		log.WithError(err).WithField("event_id", eventID).Warn("state cache read failed")
		return nil, noGeneration, false
	}

	gen, err := parseGeneration(vals[1])
	if err != nil {
		log.WithError(err).WithField("event_id", eventID).Warn("state cache generation corrupt")
		return nil, noGeneration, false
	}

	raw, ok := vals[0].(string)
	if !ok {
		return nil, gen, false
	}
	var state cachedState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		log.WithError(err).WithField("event_id", eventID).Warn("state cache entry corrupt")
		return nil, gen, false
	}
	return state.Round, gen, true
}

func parseGeneration(v interface{}) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected generation value %T", v)
	}
	return strconv.ParseInt(s, 10, 64)
}

// Set stores round when gen is still the event's generation.
func (c *RedisStateCache) Set(ctx context.Context, eventID uint, gen int64, round *PublicRound) {
	if gen == noGeneration {
		return
	}
	data, err := json.Marshal(cachedState{Round: round})
	if err != nil {
		log.WithError(err).Warn("state cache marshal failed")
		return
	}

	genKey := generationKey(eventID)
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, stateKey(eventID), data, c.ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
	case errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		log.WithFields(log.Fields{"event_id": eventID, "generation": gen}).Debug("state cache write skipped, state changed")
	default:
		log.WithError(err).WithField("event_id", eventID).Warn("state cache write failed")
	}
}

// Invalidate drops the cached state and moves the generation on.
func (c *RedisStateCache) Invalidate(ctx context.Context, eventID uint) {
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(eventID))
		pipe.Del(ctx, stateKey(eventID))
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("event_id", eventID).Warn("state cache invalidate failed")
	}
}

// NoopStateCache disables caching.
type NoopStateCache struct{}

func (NoopStateCache) Get(context.Context, uint) (*PublicRound, int64, bool) {
	return nil, noGeneration, false
}

func (NoopStateCache) Set(context.Context, uint, int64, *PublicRound) {}
func (NoopStateCache) Invalidate(context.Context, uint)                {}
