package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"salvage-settlement/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
)

// RateLimitStore is a sliding-window log: one sorted set per key, scored by
// request time in milliseconds. Rejected attempts are logged too, so a
// client that keeps hammering stays blocked until it backs off.
type RateLimitStore struct {
	client *goredis.Client
	prefix string
	now    func() time.Time
	seq    atomic.Uint64
}

func NewRateLimitStore(client *goredis.Client) *RateLimitStore {
	return &RateLimitStore{
		client: client,
		prefix: "ratelimit:",
		now:    time.Now,
	}
}

// Allow records one attempt under key and reports whether the attempts in
// the trailing window stay within limit.
func (s *RateLimitStore) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*ports.RateLimitResult, error) {
	if window < time.Millisecond {
		window = time.Second
	}
	now := s.now().UnixMilli()
	redisKey := s.prefix + key
	member := strconv.FormatInt(now, 10) + "-" + strconv.FormatUint(s.seq.Add(1), 10)

	var (
		count  *goredis.IntCmd
		oldest *goredis.ZSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(now-window.Milliseconds(), 10))
		p.ZAdd(ctx, redisKey, goredis.Z{Score: float64(now), Member: member})
		count = p.ZCard(ctx, redisKey)
		oldest = p.ZRangeWithScores(ctx, redisKey, 0, 0)
		p.PExpire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit: %w", err)
	}

	n := count.Val()
	resetAt := now + window.Milliseconds()
	if z := oldest.Val(); len(z) > 0 {
		resetAt = int64(z[0].Score) + window.Milliseconds()
	}

	return &ports.RateLimitResult{
		Allowed:   n <= limit,
		Limit:     limit,
		Remaining: max(limit-n, 0),
		ResetAt:   (resetAt + 999) / 1000,
	}, nil
}
