package memory

import (
	"context"
	"sync"
	"testing"

	"heartlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestQuotaConsumeAndRefund(t *testing.T) {
	repo := NewMemoryQuotaRepository(5)
	ctx := context.Background()
	user := domain.UserID("alice")
	day := "2026-08-28"

	remaining, err := repo.Remaining(ctx, user, day)
	assert.NoError(t, err)
	assert.Equal(t, 5, remaining)

	remaining, err = repo.Consume(ctx, user, day)
	assert.NoError(t, err)
	assert.Equal(t, 4, remaining)

	remaining, err = repo.Refund(ctx, user, day)
	assert.NoError(t, err)
	assert.Equal(t, 5, remaining)

	// Refund never exceeds the daily maximum.
	remaining, err = repo.Refund(ctx, user, day)
	assert.NoError(t, err)
	assert.Equal(t, 5, remaining)
}

func TestQuotaExhaustion(t *testing.T) {
	repo := NewMemoryQuotaRepository(2)
	ctx := context.Background()
	user := domain.UserID("bob")
	day := "2026-08-28"

	_, err := repo.Consume(ctx, user, day)
	assert.NoError(t, err)
	_, err = repo.Consume(ctx, user, day)
	assert.NoError(t, err)

	remaining, err := repo.Consume(ctx, user, day)
	assert.ErrorIs(t, err, domain.ErrQuotaExhausted)
	assert.Equal(t, 0, remaining)

	// Balance untouched by the failed consume.
	remaining, err = repo.Remaining(ctx, user, day)
	assert.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestQuotaDayBoundaryResets(t *testing.T) {
	repo := NewMemoryQuotaRepository(5)
	ctx := context.Background()
	user := domain.UserID("carol")

	_, err := repo.Consume(ctx, user, "2026-08-27")
	assert.NoError(t, err)

	// A new day is a fresh bucket at the full quota.
	remaining, err := repo.Remaining(ctx, user, "2026-08-28")
	assert.NoError(t, err)
	assert.Equal(t, 5, remaining)
}

func TestQuotaConcurrentConsumeNeverOverspends(t *testing.T) {
	repo := NewMemoryQuotaRepository(5)
	ctx := context.Background()
	user := domain.UserID("dave")
	day := "2026-08-28"

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Consume(ctx, user, day); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, granted)

	remaining, err := repo.Remaining(ctx, user, day)
	assert.NoError(t, err)
	assert.Equal(t, 0, remaining)
}
