package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"heartlink/internal/core/domain"
	"heartlink/internal/core/ports"
	apperrors "heartlink/pkg/errors"
	"heartlink/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RollServiceConfig carries the coordinator's tunables.
type RollServiceConfig struct {
	// ResponseLimit is how long the target has to answer before the roll
	// expires and the issuer's quota unit is refunded.
	ResponseLimit time.Duration
}

// rollService is the server-authoritative speed roll coordinator. It owns
// every roll and quota mutation; clients only ever see the results as HTTP
// responses and pushed envelopes.
type rollService struct {
	cfg       RollServiceConfig
	rolls     ports.RollRepository
	quotas    ports.QuotaRepository
	directory ports.UserDirectory
	scorer    ports.Scorer
	notifier  ports.Notifier

	logger *zap.SugaredLogger
	now    func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func NewRollService(
	cfg RollServiceConfig,
	rolls ports.RollRepository,
	quotas ports.QuotaRepository,
	directory ports.UserDirectory,
	scorer ports.Scorer,
	notifier ports.Notifier,
	logger *zap.SugaredLogger,
) ports.RollService {
	if cfg.ResponseLimit <= 0 {
		cfg.ResponseLimit = 30 * time.Second
	}
	return &rollService{
		cfg:       cfg,
		rolls:     rolls,
		quotas:    quotas,
		directory: directory,
		scorer:    scorer,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
		timers:    make(map[string]*time.Timer),
	}
}

func (s *rollService) Issue(ctx context.Context, issuer, target domain.UserID) (*domain.SpeedRoll, int, error) {
	ctx, span := tracing.TraceRollOperation(ctx, "issue", "")
	defer span.End()

	if issuer == target {
		return nil, 0, apperrors.NewInvalidInputError("cannot roll against yourself")
	}

	issuerUser, err := s.directory.GetByID(ctx, issuer)
	if err != nil {
		return nil, 0, apperrors.WrapError(err, apperrors.ErrCodeNotFound, "issuer not found", http.StatusNotFound)
	}
	if _, err := s.directory.GetByID(ctx, target); err != nil {
		return nil, 0, apperrors.WrapError(err, apperrors.ErrCodeNotFound, "target user not found", http.StatusNotFound)
	}

	blocked, err := s.directory.IsBlocked(ctx, issuer, target)
	if err != nil {
		return nil, 0, apperrors.WrapError(err, apperrors.ErrCodeInternal, "block check failed", http.StatusInternalServerError)
	}
	if blocked {
		return nil, 0, apperrors.NewForbiddenError("cannot roll against this user")
	}

	score, err := s.scorer.Score(ctx, issuer, target)
	if err != nil {
		return nil, 0, apperrors.WrapError(err, apperrors.ErrCodeInternal, "compatibility score unavailable", http.StatusInternalServerError)
	}

	day := domain.QuotaDay(s.now())
	remaining, err := s.quotas.Consume(ctx, issuer, day)
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExhausted) {
			return nil, 0, apperrors.NewQuotaExhaustedError()
		}
		return nil, 0, apperrors.WrapError(err, apperrors.ErrCodeInternal, "quota check failed", http.StatusInternalServerError)
	}

	roll := &domain.SpeedRoll{
		ID:                 uuid.NewString(),
		IssuerID:           issuer,
		TargetID:           target,
		CompatibilityScore: score,
		Status:             domain.RollStatusPending,
		CreatedAt:          s.now(),
	}

	if err := s.rolls.Create(ctx, roll); err != nil {
		// Give the unit back; the roll was never issued.
		if _, refundErr := s.quotas.Refund(ctx, issuer, day); refundErr != nil {
			s.logger.Errorw("failed to refund quota after create failure",
				"issuer", issuer, "error", refundErr)
		}
		return nil, 0, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to create roll", http.StatusInternalServerError)
	}

	s.armExpiry(roll.ID)

	// Quota is spent whether or not the target is reachable right now; an
	// offline target is indistinguishable from one who will decide later.
	env, _ := domain.NewEnvelope(domain.TypeSpeedRollIncoming, "", target, domain.SpeedRollIncomingPayload{
		RollID:             roll.ID,
		FromUser:           issuerUser,
		CompatibilityScore: score,
	})
	if err := s.notifier.Push(ctx, target, env); err != nil {
		s.logger.Infow("target unreachable at issuance, roll pending until expiry",
			"roll_id", roll.ID, "target", target)
	}

	s.logger.Infow("speed roll issued",
		"roll_id", roll.ID,
		"issuer", issuer,
		"target", target,
		"remaining", remaining,
	)
	return roll, remaining, nil
}

func (s *rollService) Respond(ctx context.Context, rollID string, responder domain.UserID, accepted bool) (*domain.SpeedRoll, error) {
	ctx, span := tracing.TraceRollOperation(ctx, "respond", rollID)
	defer span.End()

	roll, err := s.rolls.GetByID(ctx, rollID)
	if err != nil {
		if errors.Is(err, domain.ErrRollNotFound) {
			return nil, apperrors.NewNotFoundError("roll")
		}
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "roll lookup failed", http.StatusInternalServerError)
	}
	if roll.TargetID != responder {
		return nil, apperrors.NewForbiddenError("only the roll target may respond")
	}

	status := domain.RollStatusDeclined
	if accepted {
		status = domain.RollStatusAccepted
	}

	closed, err := s.rolls.Close(ctx, rollID, status, s.now())
	if err != nil {
		if errors.Is(err, domain.ErrRollClosed) {
			// First response won; this one loses.
			return nil, apperrors.NewConflictError("roll already answered or expired")
		}
		if errors.Is(err, domain.ErrRollNotFound) {
			return nil, apperrors.NewNotFoundError("roll")
		}
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to close roll", http.StatusInternalServerError)
	}

	s.cancelExpiry(rollID)

	if accepted {
		targetUser, dirErr := s.directory.GetByID(ctx, responder)
		if dirErr != nil {
			targetUser = &domain.User{ID: responder}
		}
		env, _ := domain.NewEnvelope(domain.TypeSpeedRollAccepted, "", closed.IssuerID, domain.SpeedRollAcceptedPayload{
			RollID:     rollID,
			TargetUser: targetUser,
		})
		s.push(ctx, closed.IssuerID, env)
	} else {
		env, _ := domain.NewEnvelope(domain.TypeSpeedRollDeclined, "", closed.IssuerID, domain.SpeedRollDeclinedPayload{
			RollID: rollID,
		})
		s.push(ctx, closed.IssuerID, env)
	}

	s.logger.Infow("speed roll answered",
		"roll_id", rollID,
		"status", closed.Status,
	)
	return closed, nil
}

func (s *rollService) Remaining(ctx context.Context, user domain.UserID) (int, error) {
	remaining, err := s.quotas.Remaining(ctx, user, domain.QuotaDay(s.now()))
	if err != nil {
		return 0, apperrors.WrapError(err, apperrors.ErrCodeInternal, "quota lookup failed", http.StatusInternalServerError)
	}
	return remaining, nil
}

// Shutdown stops all pending expiry timers. Pending rolls will be closed by
// their redis TTL or by the next process observing them; in-memory mode
// simply forgets them.
func (s *rollService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *rollService) armExpiry(rollID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.timers[rollID] = time.AfterFunc(s.cfg.ResponseLimit, func() {
		s.expire(rollID)
	})
}

func (s *rollService) cancelExpiry(rollID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[rollID]; ok {
		timer.Stop()
		delete(s.timers, rollID)
	}
}

// expire runs when the countdown fires. A response may have raced the timer,
// so the pending check is the repository CAS, not the timer bookkeeping.
func (s *rollService) expire(rollID string) {
	s.mu.Lock()
	delete(s.timers, rollID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	closed, err := s.rolls.Close(ctx, rollID, domain.RollStatusExpired, s.now())
	if err != nil {
		if errors.Is(err, domain.ErrRollClosed) || errors.Is(err, domain.ErrRollNotFound) {
			return // a response got there first
		}
		s.logger.Errorw("failed to expire roll", "roll_id", rollID, "error", err)
		return
	}

	day := domain.QuotaDay(closed.CreatedAt)
	if _, err := s.quotas.Refund(ctx, closed.IssuerID, day); err != nil {
		s.logger.Errorw("failed to refund quota on expiry",
			"roll_id", rollID, "issuer", closed.IssuerID, "error", err)
	}

	payload := domain.SpeedRollExpiredPayload{RollID: rollID}
	issuerEnv, _ := domain.NewEnvelope(domain.TypeSpeedRollExpired, "", closed.IssuerID, payload)
	targetEnv, _ := domain.NewEnvelope(domain.TypeSpeedRollExpired, "", closed.TargetID, payload)
	s.push(ctx, closed.IssuerID, issuerEnv)
	s.push(ctx, closed.TargetID, targetEnv)

	s.logger.Infow("speed roll expired", "roll_id", rollID, "issuer", closed.IssuerID)
}

func (s *rollService) push(ctx context.Context, to domain.UserID, env domain.Envelope) {
	if err := s.notifier.Push(ctx, to, env); err != nil {
		s.logger.Debugw("push skipped, user offline", "to", to, "type", env.Type)
	}
}
