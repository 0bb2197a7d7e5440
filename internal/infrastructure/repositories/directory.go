package repositories

import (
	"context"
	"time"

	"heartlink/internal/core/domain"
	"heartlink/internal/core/ports"
	"heartlink/pkg/cache"
	"heartlink/pkg/circuitbreaker"

	"go.uber.org/zap"
)

const (
	userCacheTTL  = 5 * time.Minute
	blockCacheTTL = time.Minute
)

// ResilientDirectory decorates the user directory with a TTL cache and a
// circuit breaker. The directory is an external service on the hot path of
// every call-request and roll; a cached record answers most lookups and a
// dead directory fails fast instead of stalling the relay.
type ResilientDirectory struct {
	inner   ports.UserDirectory
	users   *cache.Cache
	blocks  *cache.Cache
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

var _ ports.UserDirectory = (*ResilientDirectory)(nil)

func NewResilientDirectory(inner ports.UserDirectory, logger *zap.SugaredLogger) *ResilientDirectory {
	d := &ResilientDirectory{
		inner:   inner,
		users:   cache.New(userCacheTTL),
		blocks:  cache.New(blockCacheTTL),
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
		logger:  logger,
	}
	d.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("directory circuit breaker state change", "from", from.String(), "to", to.String())
	})
	return d
}

func (d *ResilientDirectory) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	if cached, ok := d.users.Get(string(id)); ok {
		user := cached.(domain.User)
		return &user, nil
	}

	var user *domain.User
	err := d.breaker.Execute(func() error {
		var lookupErr error
		user, lookupErr = d.inner.GetByID(ctx, id)
		// Unknown user is a definitive answer, not a downstream fault.
		if lookupErr == domain.ErrUserNotFound {
			user = nil
			return nil
		}
		return lookupErr
	})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}

	d.users.Set(string(id), *user)
	return user, nil
}

func (d *ResilientDirectory) IsBlocked(ctx context.Context, a, b domain.UserID) (bool, error) {
	key := blockKey(a, b)
	if cached, ok := d.blocks.Get(key); ok {
		return cached.(bool), nil
	}

	var blocked bool
	err := d.breaker.Execute(func() error {
		var lookupErr error
		blocked, lookupErr = d.inner.IsBlocked(ctx, a, b)
		return lookupErr
	})
	if err != nil {
		return false, err
	}

	d.blocks.Set(key, blocked)
	return blocked, nil
}

// Invalidate drops the cached record for one user, for when the directory
// pushes a profile or block-list change.
func (d *ResilientDirectory) Invalidate(id domain.UserID) {
	d.users.Delete(string(id))
}

func (d *ResilientDirectory) Close() {
	d.users.Close()
	d.blocks.Close()
}

// blockKey is order independent: blocking is checked in both directions.
func blockKey(a, b domain.UserID) string {
	if a > b {
		a, b = b, a
	}
	return string(a) + "|" + string(b)
}
