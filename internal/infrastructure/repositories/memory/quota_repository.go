package memory

import (
	"context"
	"sync"

	"heartlink/internal/core/domain"
	"heartlink/internal/core/ports"
)

type quotaKey struct {
	user domain.UserID
	day  string
}

// MemoryQuotaRepository keeps per-user, per-day roll balances. A key that
// has never been touched holds the full daily quota, which also makes the
// day-boundary reset implicit: a new day is a new key.
type MemoryQuotaRepository struct {
	max      int
	balances map[quotaKey]int
	mu       sync.Mutex
}

func NewMemoryQuotaRepository(max int) ports.QuotaRepository {
	if max <= 0 {
		max = domain.DefaultDailyQuota
	}
	return &MemoryQuotaRepository{
		max:      max,
		balances: make(map[quotaKey]int),
	}
}

func (r *MemoryQuotaRepository) Remaining(ctx context.Context, user domain.UserID, day string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remainingLocked(user, day), nil
}

func (r *MemoryQuotaRepository) Consume(ctx context.Context, user domain.UserID, day string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := r.remainingLocked(user, day)
	if remaining <= 0 {
		return 0, domain.ErrQuotaExhausted
	}

	remaining--
	r.balances[quotaKey{user, day}] = remaining
	return remaining, nil
}

func (r *MemoryQuotaRepository) Refund(ctx context.Context, user domain.UserID, day string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := r.remainingLocked(user, day)
	if remaining < r.max {
		remaining++
	}
	r.balances[quotaKey{user, day}] = remaining
	return remaining, nil
}

func (r *MemoryQuotaRepository) remainingLocked(user domain.UserID, day string) int {
	if remaining, ok := r.balances[quotaKey{user, day}]; ok {
		return remaining
	}
	return r.max
}
