package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/sentineldf/sentineldf/internal/errors"
	"github.com/sentineldf/sentineldf/internal/store"
)

// Identity is the resolved caller for an authenticated request, attached
// to the request context once the gate passes.
type Identity struct {
	User   store.User
	APIKey store.APIKey
}

// Gate runs the full authentication flow: bearer extraction, hash
// lookup, active-key check, rate limit, quota check, with a best-effort
// last-used-at update on success.
type Gate struct {
	store   Store
	limiter *TierLimiter
}

// Store is the subset of store.Store the gate needs, named separately
// so tests can supply a fake without pulling in a real Postgres
// connection.
type Store interface {
	GetAPIKeyByHash(ctx context.Context, keyHash string) (store.APIKey, error)
	GetUser(ctx context.Context, userID uuid.UUID) (store.User, error)
	TouchAPIKey(ctx context.Context, keyID uuid.UUID) error
	DocumentsScannedThisMonth(ctx context.Context, userID uuid.UUID, now time.Time) (int, error)
}

// NewGate builds a Gate over a Store and a tier-aware rate limiter.
func NewGate(s Store, limiter *TierLimiter) *Gate {
	return &Gate{store: s, limiter: limiter}
}

// Authenticate runs the full gate for one incoming batch of the given
// size. On success it returns the resolved Identity; on failure it
// returns an *errors.APIError with the kind and Retry-After the HTTP
// layer must surface.
func (g *Gate) Authenticate(ctx context.Context, authHeader string, incomingBatchSize int) (Identity, error) {
	token, ok := ExtractBearerToken(authHeader)
	if !ok {
		return Identity{}, apierrors.New(apierrors.KindUnauthenticated, "missing or malformed bearer token")
	}

	hash := HashKey(token)
	key, err := g.store.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		return Identity{}, apierrors.Wrap(apierrors.KindUnauthenticated, "unknown api key", err)
	}
	if !key.IsActive {
		return Identity{}, apierrors.New(apierrors.KindForbidden, "api key is inactive")
	}

	user, err := g.store.GetUser(ctx, key.UserID)
	if err != nil {
		return Identity{}, apierrors.Wrap(apierrors.KindForbidden, "owning user not found", err)
	}

	// Rate limiting is checked before quota so a rate-limited request
	// never consumes quota.
	if !g.limiter.Allow(user.SubscriptionTier, key.ID) {
		retryAfter := g.limiter.RetryAfterSeconds(user.SubscriptionTier, key.ID)
		return Identity{}, apierrors.New(apierrors.KindRateLimited, "rate limit exceeded").WithRetryAfter(retryAfter)
	}

	now := time.Now()
	usedThisMonth, err := g.store.DocumentsScannedThisMonth(ctx, user.ID, now)
	if err != nil {
		return Identity{}, apierrors.Wrap(apierrors.KindInternal, "quota lookup failed", err)
	}
	if usedThisMonth+incomingBatchSize > user.MonthlyQuota {
		return Identity{}, apierrors.New(apierrors.KindQuotaExceeded, "monthly quota exceeded").
			WithRetryAfter(secondsToNextMonth(now))
	}

	// Best-effort: failures here must never block the request.
	_ = g.store.TouchAPIKey(ctx, key.ID)

	return Identity{User: user, APIKey: key}, nil
}

// secondsToNextMonth returns the seconds remaining until the first
// instant of the month following now, used as the Retry-After hint for
// quota_exceeded rejections.
func secondsToNextMonth(now time.Time) int {
	year, month, _ := now.Date()
	firstOfNextMonth := time.Date(year, month+1, 1, 0, 0, 0, 0, now.Location())
	d := firstOfNextMonth.Sub(now)
	if d < time.Second {
		return 1
	}
	return int(d.Seconds()) + 1
}
