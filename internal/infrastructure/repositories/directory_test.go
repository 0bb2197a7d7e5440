package repositories

import (
	"context"
	"errors"
	"sync"
	"testing"

	"heartlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// countingDirectory fails on demand and counts calls through to the inner
// lookup.
type countingDirectory struct {
	mu       sync.Mutex
	users    map[domain.UserID]*domain.User
	getCalls int
	err      error
}

func newCountingDirectory() *countingDirectory {
	return &countingDirectory{
		users: map[domain.UserID]*domain.User{
			"alice": {ID: "alice", Username: "Alice"},
		},
	}
}

func (d *countingDirectory) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.getCalls++
	if d.err != nil {
		return nil, d.err
	}
	user, ok := d.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	out := *user
	return &out, nil
}

func (d *countingDirectory) IsBlocked(ctx context.Context, a, b domain.UserID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return false, nil
}

func (d *countingDirectory) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getCalls
}

func TestGetByIDServedFromCache(t *testing.T) {
	inner := newCountingDirectory()
	dir := NewResilientDirectory(inner, zap.NewNop().Sugar())
	defer dir.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		user, err := dir.GetByID(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "Alice", user.Username)
	}
	assert.Equal(t, 1, inner.calls())

	dir.Invalidate("alice")
	_, err := dir.GetByID(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls())
}

func TestUnknownUserNotCachedAsFault(t *testing.T) {
	inner := newCountingDirectory()
	dir := NewResilientDirectory(inner, zap.NewNop().Sugar())
	defer dir.Close()

	// Repeated misses must not trip the breaker.
	for i := 0; i < 10; i++ {
		_, err := dir.GetByID(context.Background(), "stranger")
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	}

	_, err := dir.GetByID(context.Background(), "alice")
	assert.NoError(t, err)
}

func TestBreakerOpensOnDirectoryOutage(t *testing.T) {
	inner := newCountingDirectory()
	inner.err = errors.New("directory unreachable")
	dir := NewResilientDirectory(inner, zap.NewNop().Sugar())
	defer dir.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := dir.GetByID(ctx, "alice")
		require.Error(t, err)
	}

	// Once open, the inner directory stops being hammered.
	before := dir.breaker.State()
	assert.NotEqual(t, "closed", before.String())
	callsWhenOpen := inner.calls()
	_, err := dir.GetByID(ctx, "alice")
	require.Error(t, err)
	assert.Equal(t, callsWhenOpen, inner.calls())
}

func TestIsBlockedCachedPerPair(t *testing.T) {
	inner := newCountingDirectory()
	dir := NewResilientDirectory(inner, zap.NewNop().Sugar())
	defer dir.Close()
	ctx := context.Background()

	blocked, err := dir.IsBlocked(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, blocked)

	// The reverse direction hits the same cache entry.
	inner.err = errors.New("directory unreachable")
	blocked, err = dir.IsBlocked(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, blocked)
}
