package ports

import (
	"context"
	"time"

	"heartlink/internal/core/domain"
)

type RollRepository interface {
	Create(ctx context.Context, roll *domain.SpeedRoll) error
	GetByID(ctx context.Context, id string) (*domain.SpeedRoll, error)
	// Close flips a pending roll to the given terminal status and returns the
	// updated record. The transition is atomic: if the roll is already
	// terminal it returns domain.ErrRollClosed and leaves it untouched.
	Close(ctx context.Context, id string, status domain.RollStatus, at time.Time) (*domain.SpeedRoll, error)
	ListByIssuer(ctx context.Context, issuer domain.UserID, day string) ([]*domain.SpeedRoll, error)
}

type QuotaRepository interface {
	Remaining(ctx context.Context, user domain.UserID, day string) (int, error)
	// Consume decrements the user's quota for the day by one and returns the
	// new remainder. The check and decrement are atomic; a zero balance
	// returns domain.ErrQuotaExhausted without changing anything.
	Consume(ctx context.Context, user domain.UserID, day string) (int, error)
	// Refund returns one unit, capped at the daily maximum.
	Refund(ctx context.Context, user domain.UserID, day string) (int, error)
}

// UserDirectory is the read-only slice of the external user directory the
// core needs: display records and block checks for routing validation.
type UserDirectory interface {
	GetByID(ctx context.Context, id domain.UserID) (*domain.User, error)
	// IsBlocked reports whether either user has blocked the other.
	IsBlocked(ctx context.Context, a, b domain.UserID) (bool, error)
}
