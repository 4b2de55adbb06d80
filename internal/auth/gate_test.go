package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/sentineldf/sentineldf/internal/errors"
	"github.com/sentineldf/sentineldf/internal/store"
)

type fakeStore struct {
	keys              map[string]store.APIKey
	users             map[uuid.UUID]store.User
	usedThisMonth     int
	touched           []uuid.UUID
	quotaLookupCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{keys: map[string]store.APIKey{}, users: map[uuid.UUID]store.User{}}
}

func (f *fakeStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (store.APIKey, error) {
	k, ok := f.keys[keyHash]
	if !ok {
		return store.APIKey{}, errNotFound
	}
	return k, nil
}

func (f *fakeStore) GetUser(ctx context.Context, userID uuid.UUID) (store.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return store.User{}, errNotFound
	}
	return u, nil
}

func (f *fakeStore) TouchAPIKey(ctx context.Context, keyID uuid.UUID) error {
	f.touched = append(f.touched, keyID)
	return nil
}

func (f *fakeStore) DocumentsScannedThisMonth(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	f.quotaLookupCalls++
	return f.usedThisMonth, nil
}

type testError string

func (e testError) Error() string { return string(e) }

const errNotFound = testError("not found")

func newGateFixture(t *testing.T) (*fakeStore, *Gate, string) {
	t.Helper()
	fs := newFakeStore()
	userID := uuid.New()
	keyID := uuid.New()
	plaintext := KeyPrefix + "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	fs.users[userID] = store.User{ID: userID, MonthlyQuota: 100, SubscriptionTier: "free"}
	fs.keys[HashKey(plaintext)] = store.APIKey{ID: keyID, UserID: userID, IsActive: true}

	limiter := NewTierLimiter([]TierSetting{{Tier: "free", Capacity: 10, Refill: 0}}, 10, 0)
	gate := NewGate(fs, limiter)
	return fs, gate, plaintext
}

func TestAuthenticateSuccess(t *testing.T) {
	_, gate, plaintext := newGateFixture(t)

	identity, err := gate.Authenticate(context.Background(), "Bearer "+plaintext, 1)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.User.SubscriptionTier != "free" {
		t.Errorf("identity.User.SubscriptionTier = %q, want free", identity.User.SubscriptionTier)
	}
}

func TestAuthenticateMissingBearerToken(t *testing.T) {
	_, gate, _ := newGateFixture(t)
	_, err := gate.Authenticate(context.Background(), "", 1)
	if !apierrors.IsKind(err, apierrors.KindUnauthenticated) {
		t.Errorf("err = %v, want KindUnauthenticated", err)
	}
}

func TestAuthenticateInactiveKeyIsForbidden(t *testing.T) {
	fs, gate, plaintext := newGateFixture(t)
	key := fs.keys[HashKey(plaintext)]
	key.IsActive = false
	fs.keys[HashKey(plaintext)] = key

	_, err := gate.Authenticate(context.Background(), "Bearer "+plaintext, 1)
	if !apierrors.IsKind(err, apierrors.KindForbidden) {
		t.Errorf("err = %v, want KindForbidden", err)
	}
}

func TestAuthenticateQuotaExceeded(t *testing.T) {
	fs, gate, plaintext := newGateFixture(t)
	fs.usedThisMonth = 95

	_, err := gate.Authenticate(context.Background(), "Bearer "+plaintext, 10)
	if !apierrors.IsKind(err, apierrors.KindQuotaExceeded) {
		t.Errorf("err = %v, want KindQuotaExceeded", err)
	}
	apiErr, _ := apierrors.As(err)
	if apiErr.RetryAfter <= 0 {
		t.Error("quota_exceeded must carry a positive Retry-After")
	}
}

func TestAuthenticateRateLimitedNeverConsumesQuota(t *testing.T) {
	fs, gate, plaintext := newGateFixture(t)

	// Exhaust the free-tier bucket (capacity 10) first.
	for i := 0; i < 10; i++ {
		if _, err := gate.Authenticate(context.Background(), "Bearer "+plaintext, 1); err != nil {
			t.Fatalf("request %d should have succeeded while priming the bucket: %v", i, err)
		}
	}
	quotaCallsBefore := fs.quotaLookupCalls

	_, err := gate.Authenticate(context.Background(), "Bearer "+plaintext, 1)
	if !apierrors.IsKind(err, apierrors.KindRateLimited) {
		t.Fatalf("err = %v, want KindRateLimited once the bucket is exhausted", err)
	}
	if fs.quotaLookupCalls != quotaCallsBefore {
		t.Error("a rate-limited request must never reach the quota check")
	}
}

func TestAuthenticateTouchesKeyOnSuccess(t *testing.T) {
	fs, gate, plaintext := newGateFixture(t)
	if _, err := gate.Authenticate(context.Background(), "Bearer "+plaintext, 1); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if len(fs.touched) != 1 {
		t.Errorf("expected TouchAPIKey to be called once, got %d calls", len(fs.touched))
	}
}
