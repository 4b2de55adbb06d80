package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TokenBucket implements a token bucket rate limiter with continuous
// refill.
type TokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a new token bucket with the given capacity and
// refill rate.
func NewTokenBucket(maxTokens, refillRate float64) *TokenBucket {
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow checks if a request can proceed and consumes a token if so.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = minFloat(tb.maxTokens, tb.tokens+elapsed*tb.refillRate)
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// RetryAfterSeconds returns how long until at least one token is
// available, rounded up, for the Retry-After header on a denial.
func (tb *TokenBucket) RetryAfterSeconds() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.refillRate <= 0 {
		return 60
	}
	deficit := 1.0 - tb.tokens
	if deficit <= 0 {
		return 1
	}
	seconds := deficit / tb.refillRate
	return int(seconds) + 1
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// KeyRateLimiter manages one token bucket per API key id. Keying on the
// key rather than the user means revoking a noisy key doesn't starve a
// user's other keys.
type KeyRateLimiter struct {
	capacity float64
	refill   float64

	mu      sync.Mutex
	buckets map[uuid.UUID]*TokenBucket
}

// NewKeyRateLimiter builds a limiter with a fixed capacity/refill pair.
// Tier-derived capacity is applied by the caller selecting the right
// limiter instance per subscription_tier (see TierLimiter).
func NewKeyRateLimiter(capacity, refillPerSec float64) *KeyRateLimiter {
	return &KeyRateLimiter{
		capacity: capacity,
		refill:   refillPerSec,
		buckets:  make(map[uuid.UUID]*TokenBucket),
	}
}

// Allow consumes a token for keyID, creating its bucket on first use.
func (l *KeyRateLimiter) Allow(keyID uuid.UUID) bool {
	return l.bucketFor(keyID).Allow()
}

// RetryAfterSeconds reports the wait for keyID's bucket to admit again.
func (l *KeyRateLimiter) RetryAfterSeconds(keyID uuid.UUID) int {
	return l.bucketFor(keyID).RetryAfterSeconds()
}

func (l *KeyRateLimiter) bucketFor(keyID uuid.UUID) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[keyID]
	if !ok {
		b = NewTokenBucket(l.capacity, l.refill)
		l.buckets[keyID] = b
	}
	return b
}

// TierLimiter dispatches to a per-subscription-tier KeyRateLimiter;
// bucket capacity and refill rate are derived from subscription_tier.
type TierLimiter struct {
	byTier   map[string]*KeyRateLimiter
	fallback *KeyRateLimiter
}

// TierSetting is one subscription tier's bucket shape.
type TierSetting struct {
	Tier     string
	Capacity float64
	Refill   float64
}

// NewTierLimiter builds per-tier limiters plus a fallback for unknown
// tiers, sourced from the configured default bucket capacity/refill.
func NewTierLimiter(tiers []TierSetting, defaultCapacity, defaultRefill float64) *TierLimiter {
	tl := &TierLimiter{
		byTier:   make(map[string]*KeyRateLimiter),
		fallback: NewKeyRateLimiter(defaultCapacity, defaultRefill),
	}
	for _, t := range tiers {
		tl.byTier[t.Tier] = NewKeyRateLimiter(t.Capacity, t.Refill)
	}
	return tl
}

func (tl *TierLimiter) limiterFor(tier string) *KeyRateLimiter {
	if l, ok := tl.byTier[tier]; ok {
		return l
	}
	return tl.fallback
}

// Allow consumes a token for keyID under tier's bucket shape.
func (tl *TierLimiter) Allow(tier string, keyID uuid.UUID) bool {
	return tl.limiterFor(tier).Allow(keyID)
}

// RetryAfterSeconds reports the wait for keyID's bucket under tier.
func (tl *TierLimiter) RetryAfterSeconds(tier string, keyID uuid.UUID) int {
	return tl.limiterFor(tier).RetryAfterSeconds(keyID)
}
