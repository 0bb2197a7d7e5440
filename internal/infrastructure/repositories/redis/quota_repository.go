package redis

import (
	"context"
	"fmt"

	"heartlink/internal/core/domain"
	"heartlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// Quota keys expire two days after last touch; the day is part of the key,
// so expiry only trims dead buckets, it never resets a live one.
const quotaKeyTTLSeconds = 2 * 24 * 60 * 60

// consumeScript atomically checks and decrements a balance. An absent key
// counts as the full daily quota. Returns -1 when the balance is exhausted.
var consumeScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local remaining = max
local value = redis.call('GET', KEYS[1])
if value then remaining = tonumber(value) end
if remaining <= 0 then return -1 end
remaining = remaining - 1
redis.call('SET', KEYS[1], remaining, 'EX', tonumber(ARGV[2]))
return remaining
`)

// refundScript atomically increments a balance, capped at the daily quota.
var refundScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local remaining = max
local value = redis.call('GET', KEYS[1])
if value then remaining = tonumber(value) end
if remaining < max then remaining = remaining + 1 end
redis.call('SET', KEYS[1], remaining, 'EX', tonumber(ARGV[2]))
return remaining
`)

type RedisQuotaRepository struct {
	client *redis.Client
	max    int
	prefix string
}

func NewRedisQuotaRepository(client *redis.Client, max int) ports.QuotaRepository {
	if max <= 0 {
		max = domain.DefaultDailyQuota
	}
	return &RedisQuotaRepository{
		client: client,
		max:    max,
		prefix: "heartlink:quota:",
	}
}

func (r *RedisQuotaRepository) key(user domain.UserID, day string) string {
	return fmt.Sprintf("%s%s:%s", r.prefix, user, day)
}

func (r *RedisQuotaRepository) Remaining(ctx context.Context, user domain.UserID, day string) (int, error) {
	value, err := r.client.Get(ctx, r.key(user, day)).Int()
	if err == redis.Nil {
		return r.max, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get quota from Redis: %w", err)
	}
	return value, nil
}

func (r *RedisQuotaRepository) Consume(ctx context.Context, user domain.UserID, day string) (int, error) {
	result, err := consumeScript.Run(ctx, r.client, []string{r.key(user, day)}, r.max, quotaKeyTTLSeconds).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to consume quota: %w", err)
	}
	if result < 0 {
		return 0, domain.ErrQuotaExhausted
	}
	return result, nil
}

func (r *RedisQuotaRepository) Refund(ctx context.Context, user domain.UserID, day string) (int, error) {
	result, err := refundScript.Run(ctx, r.client, []string{r.key(user, day)}, r.max, quotaKeyTTLSeconds).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to refund quota: %w", err)
	}
	return result, nil
}
