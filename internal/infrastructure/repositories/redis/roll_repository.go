package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"heartlink/internal/core/domain"
	"heartlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// Roll records stay readable for the audit window, then expire.
const rollKeyTTL = 48 * time.Hour

// closeStatusScript performs the pending → terminal CAS on the status key.
// Only the caller that wins the CAS may rewrite the roll blob.
var closeStatusScript = redis.NewScript(`
local status = redis.call('GET', KEYS[1])
if not status then return 'missing' end
if status ~= 'pending' then return 'closed' end
redis.call('SET', KEYS[1], ARGV[1], 'KEEPTTL')
return 'ok'
`)

type RedisRollRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisRollRepository(client *redis.Client) ports.RollRepository {
	return &RedisRollRepository{
		client: client,
		prefix: "heartlink:roll:",
	}
}

func (r *RedisRollRepository) rollKey(id string) string {
	return r.prefix + id
}

func (r *RedisRollRepository) statusKey(id string) string {
	return r.prefix + id + ":status"
}

func (r *RedisRollRepository) issuerKey(issuer domain.UserID, day string) string {
	return fmt.Sprintf("heartlink:rolls:issuer:%s:%s", issuer, day)
}

func (r *RedisRollRepository) Create(ctx context.Context, roll *domain.SpeedRoll) error {
	data, err := json.Marshal(roll)
	if err != nil {
		return fmt.Errorf("failed to marshal roll: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.SetNX(ctx, r.rollKey(roll.ID), data, rollKeyTTL)
	pipe.SetNX(ctx, r.statusKey(roll.ID), string(roll.Status), rollKeyTTL)
	issuerKey := r.issuerKey(roll.IssuerID, domain.QuotaDay(roll.CreatedAt))
	pipe.SAdd(ctx, issuerKey, roll.ID)
	pipe.Expire(ctx, issuerKey, rollKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store roll in Redis: %w", err)
	}

	return nil
}

func (r *RedisRollRepository) GetByID(ctx context.Context, id string) (*domain.SpeedRoll, error) {
	data, err := r.client.Get(ctx, r.rollKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrRollNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get roll from Redis: %w", err)
	}

	var roll domain.SpeedRoll
	if err := json.Unmarshal([]byte(data), &roll); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roll: %w", err)
	}

	return &roll, nil
}

func (r *RedisRollRepository) Close(ctx context.Context, id string, status domain.RollStatus, at time.Time) (*domain.SpeedRoll, error) {
	result, err := closeStatusScript.Run(ctx, r.client, []string{r.statusKey(id)}, string(status)).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to close roll: %w", err)
	}
	switch result {
	case "missing":
		return nil, domain.ErrRollNotFound
	case "closed":
		return nil, domain.ErrRollClosed
	}

	roll, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	roll.Status = status
	responded := at
	roll.RespondedAt = &responded

	data, err := json.Marshal(roll)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal roll: %w", err)
	}
	if err := r.client.Set(ctx, r.rollKey(id), data, redis.KeepTTL).Err(); err != nil {
		return nil, fmt.Errorf("failed to update roll in Redis: %w", err)
	}

	return roll, nil
}

func (r *RedisRollRepository) ListByIssuer(ctx context.Context, issuer domain.UserID, day string) ([]*domain.SpeedRoll, error) {
	ids, err := r.client.SMembers(ctx, r.issuerKey(issuer, day)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rolls from Redis: %w", err)
	}

	var rolls []*domain.SpeedRoll
	for _, id := range ids {
		roll, err := r.GetByID(ctx, id)
		if err == domain.ErrRollNotFound {
			continue // expired blob, set member outlived it
		}
		if err != nil {
			return nil, err
		}
		rolls = append(rolls, roll)
	}

	return rolls, nil
}
