package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/interviewcoach/server/internal/agent/model"
	errx "github.com/interviewcoach/server/internal/core/error"
	logx "github.com/interviewcoach/server/pkg/logger"
)

// RedisTurnLedger stores each session's turns as a Redis list, newest
// at the tail. Append order is the only ordering the rest of the system
// relies on.
type RedisTurnLedger struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisTurnLedger(rdb redis.Cmdable, ttl time.Duration) *RedisTurnLedger {
	return &RedisTurnLedger{rdb: rdb, ttl: ttl}
}

func (r *RedisTurnLedger) turnsKey(sessionID string) string {
	return fmt.Sprintf("session:%s:turns", sessionID)
}

func (r *RedisTurnLedger) Append(ctx context.Context, sessionID string, turn *model.Turn) error {
	b, err := json.Marshal(turn)
	if err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to marshal turn")
		return fmt.Errorf("marshal turn: %w", err)
	}
	key := r.turnsKey(sessionID)

	if err := r.rdb.RPush(ctx, key, b).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to push turn to redis")
		return errx.WrapRedis(err)
	}
	// extend TTL on touch
	if r.ttl > 0 {
		if ok, err := r.rdb.Expire(ctx, key, r.ttl).Result(); err != nil {
			logx.Error().Err(err).Str("key", key).Msg("failed to set expire")
			return errx.WrapRedis(err)
		} else if !ok {
			logx.Warn().Str("key", key).Dur("ttl", r.ttl).Msg("failed to set TTL on turns key")
		}
	}
	return nil
}

func (r *RedisTurnLedger) History(ctx context.Context, sessionID string) ([]*model.Turn, error) {
	key := r.turnsKey(sessionID)

	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []*model.Turn{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load turn history from redis")
		return nil, errx.WrapRedis(err)
	}

	turns := make([]*model.Turn, 0, len(rows))
	for i, s := range rows {
		var t model.Turn
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			logx.Error().Err(err).Str("session_id", sessionID).Int("index", i).Msg("failed to unmarshal turn")
			return nil, fmt.Errorf("unmarshal turn at index %d: %w", i, err)
		}
		turns = append(turns, &t)
	}
	return turns, nil
}

func (r *RedisTurnLedger) Clear(ctx context.Context, sessionID string) error {
	key := r.turnsKey(sessionID)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete turn history from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisTurnLedger) Count(ctx context.Context, sessionID string) (int, error) {
	key := r.turnsKey(sessionID)
	n, err := r.rdb.LLen(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to get turn count from redis")
		return 0, errx.WrapRedis(err)
	}
	return int(n), nil
}

var _ model.TurnLedger = (*RedisTurnLedger)(nil)
