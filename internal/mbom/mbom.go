// Package mbom implements the Material Bill of Materials signer and
// verifier: a deterministic, canonically-serialized signed payload
// bound to a batch's results via HMAC-SHA256.
package mbom

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentineldf/sentineldf/internal/model"
)

// MBOM is the signed audit record bound to one batch's results.
type MBOM struct {
	MBOMID      string             `json:"mbom_id"`
	BatchID     string             `json:"batch_id"`
	ApprovedBy  string             `json:"approved_by"`
	Timestamp   time.Time          `json:"timestamp"`
	Summary     model.Summary      `json:"summary"`
	ResultsHash string             `json:"results_hash"`
	Signature   string             `json:"signature"`
	SecretID    string             `json:"secret_id,omitempty"`
	Results     []model.ScanResult `json:"results"`
}

// SecretStore resolves a signing secret by id, so an operator can rotate
// hmac_secret without invalidating already-issued MBOMs still keyed to
// an older secret.
type SecretStore struct {
	secrets      map[string][]byte
	activeSecret string
}

// NewSecretStore builds a SecretStore with one active secret under id
// activeSecretID. Use AddSecret to register older secrets still valid
// for verification.
func NewSecretStore(activeSecretID string, activeSecret []byte) *SecretStore {
	return &SecretStore{
		secrets:      map[string][]byte{activeSecretID: activeSecret},
		activeSecret: activeSecretID,
	}
}

// AddSecret registers a (possibly retired) secret under id, so MBOMs
// signed before a rotation still verify.
func (s *SecretStore) AddSecret(id string, secret []byte) {
	s.secrets[id] = secret
}

func (s *SecretStore) lookup(id string) ([]byte, bool) {
	if id == "" {
		id = s.activeSecret
	}
	secret, ok := s.secrets[id]
	return secret, ok
}

// resultsHash computes sha256(canonical_json(results)).
func resultsHash(results []model.ScanResult) (string, error) {
	canonical, err := canonicalJSON(results)
	if err != nil {
		return "", fmt.Errorf("canonicalize results: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// signedPayload builds the canonical bytes that get HMAC-signed: the
// object {mbom_id, batch_id, approved_by, timestamp, summary,
// results_hash} with keys in lexicographic order.
func signedPayload(mbomID, batchID, approvedBy string, ts time.Time, summary model.Summary, resultsHashHex string) ([]byte, error) {
	payload := map[string]interface{}{
		"approved_by":  approvedBy,
		"batch_id":     batchID,
		"mbom_id":      mbomID,
		"results_hash": resultsHashHex,
		"summary":      summary,
		"timestamp":    ts.UTC().Format(time.RFC3339Nano),
	}
	return canonicalJSON(payload)
}

// canonicalJSON serializes v with every object's keys in lexicographic
// order and no insignificant whitespace. Values are round-tripped
// through interface{} first so struct-typed values (Summary, ScanResult)
// become maps, which encoding/json emits with sorted keys in its most
// compact form.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// Sign builds a full MBOM from a Batch Result and an approver identity.
func Sign(batch model.BatchResult, approvedBy string, secretID string, secrets *SecretStore, now time.Time, newID func() string) (MBOM, error) {
	secret, ok := secrets.lookup(secretID)
	if !ok {
		return MBOM{}, fmt.Errorf("unknown signing secret id %q", secretID)
	}

	rHash, err := resultsHash(batch.Results)
	if err != nil {
		return MBOM{}, err
	}

	mbomID := newID()
	payload, err := signedPayload(mbomID, batch.BatchID, approvedBy, now, batch.Summary, rHash)
	if err != nil {
		return MBOM{}, err
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	return MBOM{
		MBOMID:      mbomID,
		BatchID:     batch.BatchID,
		ApprovedBy:  approvedBy,
		Timestamp:   now,
		Summary:     batch.Summary,
		ResultsHash: rHash,
		Signature:   signature,
		SecretID:    secretID,
		Results:     batch.Results,
	}, nil
}

// VerifyResult is the outcome of Verify: Valid, plus a Reason populated
// only on failure.
type VerifyResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Verify recomputes results_hash and the HMAC signature and compares
// them in constant time against the values embedded in m. A mismatch of
// either yields {valid:false, reason:"tamper"}; a secret_id not
// registered in secrets yields {valid:false, reason:"stale_secret"}.
// Retired secrets still registered via AddSecret verify normally.
func Verify(m MBOM, secrets *SecretStore) VerifyResult {
	secret, ok := secrets.lookup(m.SecretID)
	if !ok {
		return VerifyResult{Valid: false, Reason: "stale_secret"}
	}

	rHash, err := resultsHash(m.Results)
	if err != nil {
		return VerifyResult{Valid: false, Reason: "tamper"}
	}
	if subtle.ConstantTimeCompare([]byte(rHash), []byte(m.ResultsHash)) != 1 {
		return VerifyResult{Valid: false, Reason: "tamper"}
	}

	payload, err := signedPayload(m.MBOMID, m.BatchID, m.ApprovedBy, m.Timestamp, m.Summary, m.ResultsHash)
	if err != nil {
		return VerifyResult{Valid: false, Reason: "tamper"}
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(m.Signature)) != 1 {
		return VerifyResult{Valid: false, Reason: "tamper"}
	}

	return VerifyResult{Valid: true}
}
