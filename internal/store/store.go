// Package store is the durable identity and usage backend: users, API
// keys, and append-only usage records on Postgres.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store wraps the Postgres connection used for identity and usage data.
type Store struct {
	DB *sql.DB
}

// Open connects to Postgres and verifies the connection is live.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("open identity store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping identity store: %w", err)
	}
	return &Store{DB: db}, nil
}

// EnsureSchema creates the users, api_keys, and usage_records tables if
// they do not already exist. Schema evolution is forward-compatible:
// new columns are added with ADD COLUMN IF NOT EXISTS rather than
// destructive migrations, so older readers tolerate unknown columns.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			identity_key TEXT UNIQUE NOT NULL,
			email TEXT,
			monthly_quota INT NOT NULL DEFAULT 1000,
			subscription_tier TEXT NOT NULL DEFAULT 'free',
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id UUID PRIMARY KEY,
			key_hash TEXT UNIQUE NOT NULL,
			key_prefix TEXT NOT NULL,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			last_used_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_user_id ON api_keys(user_id)`,
		`CREATE TABLE IF NOT EXISTS usage_records (
			id BIGSERIAL PRIMARY KEY,
			user_id UUID NOT NULL,
			api_key_id UUID NOT NULL,
			endpoint TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			documents_scanned INT NOT NULL,
			tokens_used INT NOT NULL DEFAULT 0,
			cost_cents INT NOT NULL DEFAULT 0,
			response_time_ms INT,
			status_code INT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_records_user_month ON usage_records(user_id, timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// User is one account row.
type User struct {
	ID               uuid.UUID
	IdentityKey      string
	Email            string
	MonthlyQuota     int
	SubscriptionTier string
	CreatedAt        time.Time
}

// APIKey is one issued key. Plaintext is never stored, only KeyHash
// and the display-only KeyPrefix.
type APIKey struct {
	ID         uuid.UUID
	KeyHash    string
	KeyPrefix  string
	UserID     uuid.UUID
	Name       string
	IsActive   bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// UsageRecord is one metering row. Append-only: no update method is
// provided on purpose.
type UsageRecord struct {
	UserID           uuid.UUID
	APIKeyID         uuid.UUID
	Endpoint         string
	Timestamp        time.Time
	DocumentsScanned int
	TokensUsed       int
	CostCents        int
	ResponseTimeMs   *int
	StatusCode       int
}

// CreateUser inserts a new User Record.
func (s *Store) CreateUser(ctx context.Context, identityKey, email string, monthlyQuota int, tier string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO users (id, identity_key, email, monthly_quota, subscription_tier) VALUES ($1,$2,$3,$4,$5)`,
		id, identityKey, email, monthlyQuota, tier,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUser fetches a User Record by id.
func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (User, error) {
	var u User
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, identity_key, email, monthly_quota, subscription_tier, created_at FROM users WHERE id=$1`,
		userID,
	).Scan(&u.ID, &u.IdentityKey, &u.Email, &u.MonthlyQuota, &u.SubscriptionTier, &u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// CreateAPIKey inserts a new API Key Record. The plaintext key must
// already have been hashed and prefixed by the caller (internal/auth).
func (s *Store) CreateAPIKey(ctx context.Context, userID uuid.UUID, keyHash, keyPrefix, name string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO api_keys (id, key_hash, key_prefix, user_id, name, is_active) VALUES ($1,$2,$3,$4,$5,TRUE)`,
		id, keyHash, keyPrefix, userID, name,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create api key: %w", err)
	}
	return id, nil
}

// GetAPIKeyByHash looks up an API Key Record by its SHA-256 hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (APIKey, error) {
	var k APIKey
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, key_hash, key_prefix, user_id, name, is_active, created_at, last_used_at
		 FROM api_keys WHERE key_hash=$1`,
		keyHash,
	).Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.UserID, &k.Name, &k.IsActive, &k.CreatedAt, &k.LastUsedAt)
	if err != nil {
		return APIKey{}, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

// GetAPIKey fetches a key by id, scoped to the owning user so one
// tenant can never read another tenant's key metadata.
func (s *Store) GetAPIKey(ctx context.Context, keyID, userID uuid.UUID) (APIKey, error) {
	var k APIKey
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, key_hash, key_prefix, user_id, name, is_active, created_at, last_used_at
		 FROM api_keys WHERE id=$1 AND user_id=$2`,
		keyID, userID,
	).Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.UserID, &k.Name, &k.IsActive, &k.CreatedAt, &k.LastUsedAt)
	if err != nil {
		return APIKey{}, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

// ListAPIKeys returns every key owned by userID, active or not.
func (s *Store) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]APIKey, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, key_hash, key_prefix, user_id, name, is_active, created_at, last_used_at
		 FROM api_keys WHERE user_id=$1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var out []APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.UserID, &k.Name, &k.IsActive, &k.CreatedAt, &k.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// TouchAPIKey updates last_used_at. Best-effort: callers must not let a
// failure here block the request.
func (s *Store) TouchAPIKey(ctx context.Context, keyID uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE api_keys SET last_used_at=NOW() WHERE id=$1`, keyID)
	return err
}

// DeactivateAPIKey flips is_active=false. Revocation never deletes the
// record.
func (s *Store) DeactivateAPIKey(ctx context.Context, keyID, userID uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE api_keys SET is_active=FALSE WHERE id=$1 AND user_id=$2`, keyID, userID)
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("api key not found for user")
	}
	return nil
}

// InsertUsageRecord appends one Usage Record. Call sites must treat this
// as fire-and-forget from the HTTP response's perspective; the blocking
// vs. non-blocking contract is enforced by internal/usage, not here.
func (s *Store) InsertUsageRecord(ctx context.Context, r UsageRecord) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO usage_records (user_id, api_key_id, endpoint, timestamp, documents_scanned, tokens_used, cost_cents, response_time_ms, status_code)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.UserID, r.APIKeyID, r.Endpoint, r.Timestamp, r.DocumentsScanned, r.TokensUsed, r.CostCents, r.ResponseTimeMs, r.StatusCode,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// DocumentsScannedThisMonth sums documents_scanned for userID within the
// calendar month containing now, used for quota enforcement.
func (s *Store) DocumentsScannedThisMonth(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	var sum sql.NullInt64
	err := s.DB.QueryRowContext(ctx,
		`SELECT SUM(documents_scanned) FROM usage_records WHERE user_id=$1 AND timestamp >= $2`,
		userID, monthStart,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum monthly usage: %w", err)
	}
	return int(sum.Int64), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.DB.Close() }
