package repositories

import (
	"fmt"

	"heartlink/internal/core/ports"
	"heartlink/internal/infrastructure/repositories/memory"
	redisrepo "heartlink/internal/infrastructure/repositories/redis"
	"heartlink/pkg/config"

	"go.uber.org/zap"
)

// Stores bundles the storage-backed ports the coordinator needs.
type Stores struct {
	Rolls  ports.RollRepository
	Quotas ports.QuotaRepository

	closeFn func() error
}

// Close releases any underlying connections.
func (s *Stores) Close() error {
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}

// New picks redis-backed stores when redis is enabled, in-memory otherwise.
func New(cfg *config.Config, logger *zap.SugaredLogger) (*Stores, error) {
	if !cfg.Redis.Enabled {
		logger.Infow("using in-memory repositories")
		return &Stores{
			Rolls:  memory.NewMemoryRollRepository(),
			Quotas: memory.NewMemoryQuotaRepository(cfg.SpeedRoll.DailyQuota),
		}, nil
	}

	client, err := redisrepo.NewRedisClient(
		cfg.Redis.Address,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis repositories: %w", err)
	}

	return &Stores{
		Rolls:   redisrepo.NewRedisRollRepository(client),
		Quotas:  redisrepo.NewRedisQuotaRepository(client, cfg.SpeedRoll.DailyQuota),
		closeFn: func() error { return redisrepo.CloseRedisClient(client) },
	}, nil
}
