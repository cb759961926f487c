// Package cache holds the Redis read-through cache for resolved slots.
// Invalidation is generation based: every booking mutation bumps a per-doctor
// counter, which makes all cached ranges for that doctor unreachable without
// scanning keys. Entries also carry a short TTL so stale generations expire.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clinicbook/scheduling/services/scheduling-service/internal/slots"
)

type SlotCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewSlotCache returns a cache over rdb, or nil when rdb is nil. A nil
// *SlotCache is safe to call; every method becomes a no-op miss.
func NewSlotCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *SlotCache {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SlotCache{rdb: rdb, ttl: ttl, logger: logger}
}

func genKey(doctorID string) string {
	return "slots:gen:" + doctorID
}

func (c *SlotCache) rangeKey(ctx context.Context, doctorID, serviceID, from, to string) (string, error) {
	gen, err := c.rdb.Get(ctx, genKey(doctorID)).Result()
	if err == redis.Nil {
		gen = "0"
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("slots:%s:%s:%s:%s:%s", doctorID, gen, serviceID, from, to), nil
}

// Get returns the cached day slots for the range, or ok=false on miss or any
// Redis failure. Reads fail open so an unavailable cache never blocks the
// public endpoint.
func (c *SlotCache) Get(ctx context.Context, doctorID, serviceID, from, to string) ([]slots.DaySlots, bool) {
	if c == nil {
		return nil, false
	}
	key, err := c.rangeKey(ctx, doctorID, serviceID, from, to)
	if err != nil {
		c.logger.Warn("slot cache read failed", "doctor_id", doctorID, "err", err)
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("slot cache read failed", "doctor_id", doctorID, "err", err)
		return nil, false
	}
	var days []slots.DaySlots
	if err := json.Unmarshal(raw, &days); err != nil {
		return nil, false
	}
	return days, true
}

func (c *SlotCache) Set(ctx context.Context, doctorID, serviceID, from, to string, days []slots.DaySlots) {
	if c == nil {
		return
	}
	key, err := c.rangeKey(ctx, doctorID, serviceID, from, to)
	if err != nil {
		return
	}
	raw, err := json.Marshal(days)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("slot cache write failed", "doctor_id", doctorID, "err", err)
	}
}

// Invalidate bumps the doctor's generation so every cached range for the
// doctor misses from now on.
func (c *SlotCache) Invalidate(ctx context.Context, doctorID string) {
	if c == nil {
		return
	}
	if err := c.rdb.Incr(ctx, genKey(doctorID)).Err(); err != nil {
		c.logger.Warn("slot cache invalidation failed", "doctor_id", doctorID, "err", err)
	}
}
