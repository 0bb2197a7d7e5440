package ports

import (
	"context"

	"heartlink/internal/core/domain"
)

// RollService is the speed roll coordinator surface exposed to the HTTP
// handlers.
type RollService interface {
	// Issue creates a pending roll from issuer to target, spending one quota
	// unit. Returns the roll and the issuer's remaining quota.
	Issue(ctx context.Context, issuer, target domain.UserID) (*domain.SpeedRoll, int, error)
	// Respond closes a pending roll as accepted or declined. First response
	// wins; responding to a terminal roll fails with domain.ErrRollClosed.
	Respond(ctx context.Context, rollID string, responder domain.UserID, accepted bool) (*domain.SpeedRoll, error)
	Remaining(ctx context.Context, user domain.UserID) (int, error)
	// Shutdown cancels all pending expiry timers.
	Shutdown()
}

// Notifier pushes an envelope to a user's live signaling connection.
// Push to an offline user returns domain.ErrNotConnected.
type Notifier interface {
	Push(ctx context.Context, to domain.UserID, env domain.Envelope) error
}

// Presence answers whether a user currently holds a signaling connection.
type Presence interface {
	IsOnline(user domain.UserID) bool
}

// Scorer supplies the precomputed compatibility score for a pair. Backed by
// the recommendation service; the coordinator never computes scores itself.
type Scorer interface {
	Score(ctx context.Context, a, b domain.UserID) (float64, error)
}
