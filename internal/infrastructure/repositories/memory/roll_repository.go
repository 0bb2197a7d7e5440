package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"heartlink/internal/core/domain"
	"heartlink/internal/core/ports"
)

type MemoryRollRepository struct {
	rolls map[string]*domain.SpeedRoll
	mu    sync.RWMutex
}

func NewMemoryRollRepository() ports.RollRepository {
	return &MemoryRollRepository{
		rolls: make(map[string]*domain.SpeedRoll),
	}
}

func (r *MemoryRollRepository) Create(ctx context.Context, roll *domain.SpeedRoll) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rolls[roll.ID]; exists {
		return fmt.Errorf("roll already exists: %s", roll.ID)
	}

	stored := *roll
	r.rolls[roll.ID] = &stored
	return nil
}

func (r *MemoryRollRepository) GetByID(ctx context.Context, id string) (*domain.SpeedRoll, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roll, exists := r.rolls[id]
	if !exists {
		return nil, domain.ErrRollNotFound
	}

	out := *roll
	return &out, nil
}

func (r *MemoryRollRepository) Close(ctx context.Context, id string, status domain.RollStatus, at time.Time) (*domain.SpeedRoll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roll, exists := r.rolls[id]
	if !exists {
		return nil, domain.ErrRollNotFound
	}
	if roll.Terminal() {
		return nil, domain.ErrRollClosed
	}

	roll.Status = status
	responded := at
	roll.RespondedAt = &responded

	out := *roll
	return &out, nil
}

func (r *MemoryRollRepository) ListByIssuer(ctx context.Context, issuer domain.UserID, day string) ([]*domain.SpeedRoll, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var rolls []*domain.SpeedRoll
	for _, roll := range r.rolls {
		if roll.IssuerID == issuer && domain.QuotaDay(roll.CreatedAt) == day {
			out := *roll
			rolls = append(rolls, &out)
		}
	}

	return rolls, nil
}
