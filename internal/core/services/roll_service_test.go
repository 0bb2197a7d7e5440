package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"heartlink/internal/core/domain"
	"heartlink/internal/core/ports"
	"heartlink/internal/core/services"
	"heartlink/internal/infrastructure/repositories/memory"
	apperrors "heartlink/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingNotifier captures pushed envelopes per user; offline users
// return domain.ErrNotConnected like the real registry does.
type recordingNotifier struct {
	mu      sync.Mutex
	pushes  map[domain.UserID][]domain.Envelope
	offline map[domain.UserID]bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		pushes:  make(map[domain.UserID][]domain.Envelope),
		offline: make(map[domain.UserID]bool),
	}
}

func (n *recordingNotifier) Push(ctx context.Context, to domain.UserID, env domain.Envelope) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.offline[to] {
		return domain.ErrNotConnected
	}
	n.pushes[to] = append(n.pushes[to], env)
	return nil
}

func (n *recordingNotifier) pushed(to domain.UserID) []domain.Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.Envelope, len(n.pushes[to]))
	copy(out, n.pushes[to])
	return out
}

type fixture struct {
	svc      ports.RollService
	rolls    ports.RollRepository
	quotas   ports.QuotaRepository
	notifier *recordingNotifier
}

func newFixture(t *testing.T, quota int, responseLimit time.Duration) *fixture {
	t.Helper()

	directory := memory.NewMemoryUserDirectory()
	directory.Seed(&domain.User{ID: "alice", Username: "Alice"})
	directory.Seed(&domain.User{ID: "bob", Username: "Bob"})
	directory.Seed(&domain.User{ID: "mallory", Username: "Mallory"})
	directory.Block("mallory", "alice")

	rolls := memory.NewMemoryRollRepository()
	quotas := memory.NewMemoryQuotaRepository(quota)
	notifier := newRecordingNotifier()

	svc := services.NewRollService(
		services.RollServiceConfig{ResponseLimit: responseLimit},
		rolls,
		quotas,
		directory,
		memory.NewPairScorer(),
		notifier,
		zap.NewNop().Sugar(),
	)
	t.Cleanup(svc.Shutdown)

	return &fixture{svc: svc, rolls: rolls, quotas: quotas, notifier: notifier}
}

func TestIssueSpendsQuotaAndNotifiesTarget(t *testing.T) {
	f := newFixture(t, 5, time.Minute)
	ctx := context.Background()

	roll, remaining, err := f.svc.Issue(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)
	assert.Equal(t, domain.RollStatusPending, roll.Status)
	assert.Equal(t, domain.UserID("alice"), roll.IssuerID)
	assert.Greater(t, roll.CompatibilityScore, 0.0)

	pushes := f.notifier.pushed("bob")
	require.Len(t, pushes, 1)
	assert.Equal(t, domain.TypeSpeedRollIncoming, pushes[0].Type)
}

func TestIssueQuotaExhausted(t *testing.T) {
	f := newFixture(t, 1, time.Minute)
	ctx := context.Background()

	_, _, err := f.svc.Issue(ctx, "alice", "bob")
	require.NoError(t, err)

	_, _, err = f.svc.Issue(ctx, "alice", "bob")
	require.Error(t, err)

	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeQuotaExhausted, appErr.Code)
	assert.Equal(t, 0, appErr.Context["rolls_remaining"])

	// The failed issue created nothing and spent nothing.
	remaining, err := f.svc.Remaining(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
	day := domain.QuotaDay(time.Now())
	rolls, err := f.rolls.ListByIssuer(ctx, "alice", day)
	require.NoError(t, err)
	assert.Len(t, rolls, 1)
}

func TestIssueBlockedPair(t *testing.T) {
	f := newFixture(t, 5, time.Minute)

	_, _, err := f.svc.Issue(context.Background(), "alice", "mallory")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.GetAppError(err).Code)

	remaining, err := f.svc.Remaining(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)
}

func TestIssueToSelf(t *testing.T) {
	f := newFixture(t, 5, time.Minute)

	_, _, err := f.svc.Issue(context.Background(), "alice", "alice")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetAppError(err).Code)
}

func TestIssueOfflineTargetStillSpendsQuota(t *testing.T) {
	f := newFixture(t, 5, time.Minute)
	f.notifier.offline["bob"] = true

	roll, remaining, err := f.svc.Issue(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)
	assert.Equal(t, domain.RollStatusPending, roll.Status)
	assert.Empty(t, f.notifier.pushed("bob"))
}

func TestRespondAccepted(t *testing.T) {
	f := newFixture(t, 5, time.Minute)
	ctx := context.Background()

	roll, _, err := f.svc.Issue(ctx, "alice", "bob")
	require.NoError(t, err)

	closed, err := f.svc.Respond(ctx, roll.ID, "bob", true)
	require.NoError(t, err)
	assert.Equal(t, domain.RollStatusAccepted, closed.Status)
	require.NotNil(t, closed.RespondedAt)

	pushes := f.notifier.pushed("alice")
	require.Len(t, pushes, 1)
	assert.Equal(t, domain.TypeSpeedRollAccepted, pushes[0].Type)
}

func TestRespondDeclinedDoesNotRefund(t *testing.T) {
	f := newFixture(t, 5, time.Minute)
	ctx := context.Background()

	roll, _, err := f.svc.Issue(ctx, "alice", "bob")
	require.NoError(t, err)

	closed, err := f.svc.Respond(ctx, roll.ID, "bob", false)
	require.NoError(t, err)
	assert.Equal(t, domain.RollStatusDeclined, closed.Status)

	remaining, err := f.svc.Remaining(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)

	pushes := f.notifier.pushed("alice")
	require.Len(t, pushes, 1)
	assert.Equal(t, domain.TypeSpeedRollDeclined, pushes[0].Type)
}

func TestSecondResponseRejected(t *testing.T) {
	f := newFixture(t, 5, time.Minute)
	ctx := context.Background()

	roll, _, err := f.svc.Issue(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, roll.ID, "bob", false)
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, roll.ID, "bob", true)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.GetAppError(err).Code)

	// Terminal status is authoritative.
	stored, err := f.rolls.GetByID(ctx, roll.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RollStatusDeclined, stored.Status)
}

func TestRespondByNonTargetForbidden(t *testing.T) {
	f := newFixture(t, 5, time.Minute)
	ctx := context.Background()

	roll, _, err := f.svc.Issue(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, roll.ID, "mallory", true)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.GetAppError(err).Code)
}

func TestExpiryRefundsAndNotifiesBoth(t *testing.T) {
	f := newFixture(t, 5, 30*time.Millisecond)
	ctx := context.Background()

	roll, remaining, err := f.svc.Issue(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)

	assert.Eventually(t, func() bool {
		stored, err := f.rolls.GetByID(ctx, roll.ID)
		return err == nil && stored.Status == domain.RollStatusExpired
	}, time.Second, 10*time.Millisecond)

	remaining, err = f.svc.Remaining(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	assert.Eventually(t, func() bool {
		issuerGotExpired := false
		for _, env := range f.notifier.pushed("alice") {
			if env.Type == domain.TypeSpeedRollExpired {
				issuerGotExpired = true
			}
		}
		targetGotExpired := false
		for _, env := range f.notifier.pushed("bob") {
			if env.Type == domain.TypeSpeedRollExpired {
				targetGotExpired = true
			}
		}
		return issuerGotExpired && targetGotExpired
	}, time.Second, 10*time.Millisecond)
}

func TestResponseBeatsTimer(t *testing.T) {
	f := newFixture(t, 5, 50*time.Millisecond)
	ctx := context.Background()

	roll, _, err := f.svc.Issue(ctx, "alice", "bob")
	require.NoError(t, err)

	closed, err := f.svc.Respond(ctx, roll.ID, "bob", true)
	require.NoError(t, err)
	assert.Equal(t, domain.RollStatusAccepted, closed.Status)

	// Give a racing timer every chance to misbehave.
	time.Sleep(120 * time.Millisecond)

	stored, err := f.rolls.GetByID(ctx, roll.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RollStatusAccepted, stored.Status)

	// No refund: the accepted response kept the quota spent.
	remaining, err := f.svc.Remaining(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)

	// No spurious expiry pushes either.
	for _, env := range f.notifier.pushed("alice") {
		assert.NotEqual(t, domain.TypeSpeedRollExpired, env.Type)
	}
}

func TestQuotaConservationAcrossOutcomes(t *testing.T) {
	f := newFixture(t, 5, 30*time.Millisecond)
	ctx := context.Background()

	// declined: spent and kept spent
	declined, _, err := f.svc.Issue(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.svc.Respond(ctx, declined.ID, "bob", false)
	require.NoError(t, err)

	// accepted: spent and kept spent
	accepted, _, err := f.svc.Issue(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.svc.Respond(ctx, accepted.ID, "bob", true)
	require.NoError(t, err)

	// expired: refunded
	expired, _, err := f.svc.Issue(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		stored, err := f.rolls.GetByID(ctx, expired.ID)
		return err == nil && stored.Status == domain.RollStatusExpired
	}, time.Second, 10*time.Millisecond)

	remaining, err := f.svc.Remaining(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}
