package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// SummaryCache holds computed daily payment summaries. Implementations
// swallow their own failures; a broken cache only costs a recomputation.
//
// Get returns the day's current version along with any entry. Set stores under
// the version the caller read before computing, so a summary computed across
// an Invalidate is written where no later Get looks.
type SummaryCache interface {
	Get(ctx context.Context, day time.Time) (*DailySummary, int64, bool)
	Set(ctx context.Context, day time.Time, version int64, s *DailySummary)
	Invalidate(ctx context.Context, day time.Time)
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(context.Context, time.Time) (*DailySummary, int64, bool) {
	return nil, 0, false
}
func (NoopSummaryCache) Set(context.Context, time.Time, int64, *DailySummary) {}
func (NoopSummaryCache) Invalidate(context.Context, time.Time) {}

type RedisSummaryCache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisSummaryCache(rdb redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *RedisSummaryCache {
	return &RedisSummaryCache{rdb: rdb, ttl: ttl, logger: logger}
}

func versionKey(day time.Time) string {
	return "ledger:payments:summary:ver:" + day.Format(dateLayout)
}

func summaryKey(day time.Time, version int64) string {
	return "ledger:payments:summary:" + day.Format(dateLayout) + ":v" + strconv.FormatInt(version, 10)
}

// Get reports version -1 when the version cannot be read; Set ignores it.
func (c *RedisSummaryCache) Get(ctx context.Context, day time.Time) (*DailySummary, int64, bool) {
	version, err := c.rdb.Get(ctx, versionKey(day)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		version = 0
	case err != nil:
		c.logger.Warn().Err(err).Str("key", versionKey(day)).Msg("summary cache version read failed")
		return nil, -1, false
	}

	key := summaryKey(day, version)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, version, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("summary cache read failed")
		return nil, version, false
	}
	var s DailySummary
	if err := json.Unmarshal(raw, &s); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("summary cache entry unreadable")
		return nil, version, false
	}
	return &s, version, true
}

func (c *RedisSummaryCache) Set(ctx context.Context, day time.Time, version int64, s *DailySummary) {
	if version < 0 {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	key := summaryKey(day, version)
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("summary cache write failed")
	}
}

// Invalidate bumps the day's version. Entries under older versions are never
// read again and expire with the TTL.
func (c *RedisSummaryCache) Invalidate(ctx context.Context, day time.Time) {
	if err := c.rdb.Incr(ctx, versionKey(day)).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", versionKey(day)).Msg("summary cache invalidation failed")
	}
}
