package memory

import (
	"context"
	"sync"

	"heartlink/internal/core/domain"
	"heartlink/internal/core/ports"
)

// MemoryUserDirectory is a seedable stand-in for the external directory
// service, used in dev mode and in tests.
type MemoryUserDirectory struct {
	users  map[domain.UserID]*domain.User
	blocks map[domain.UserID]map[domain.UserID]bool
	mu     sync.RWMutex
}

func NewMemoryUserDirectory() *MemoryUserDirectory {
	return &MemoryUserDirectory{
		users:  make(map[domain.UserID]*domain.User),
		blocks: make(map[domain.UserID]map[domain.UserID]bool),
	}
}

var _ ports.UserDirectory = (*MemoryUserDirectory)(nil)

// Seed registers a user record.
func (d *MemoryUserDirectory) Seed(user *domain.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored := *user
	d.users[user.ID] = &stored
}

// Block records that blocker has blocked blocked.
func (d *MemoryUserDirectory) Block(blocker, blocked domain.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.blocks[blocker] == nil {
		d.blocks[blocker] = make(map[domain.UserID]bool)
	}
	d.blocks[blocker][blocked] = true
}

func (d *MemoryUserDirectory) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, exists := d.users[id]
	if !exists {
		return nil, domain.ErrUserNotFound
	}

	out := *user
	return &out, nil
}

func (d *MemoryUserDirectory) IsBlocked(ctx context.Context, a, b domain.UserID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.blocks[a][b] || d.blocks[b][a], nil
}
