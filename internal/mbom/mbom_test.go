package mbom

import (
	"testing"
	"time"

	"github.com/sentineldf/sentineldf/internal/model"
)

func testBatch() model.BatchResult {
	return model.BatchResult{
		BatchID: "batch-1",
		Results: []model.ScanResult{
			{DocID: "doc-1", Risk: 82, Quarantine: true, Action: model.ActionQuarantine},
		},
		Summary: model.Summary{TotalDocs: 1, QuarantinedCount: 1, MaxRisk: 82, AvgRisk: 82},
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	secrets := NewSecretStore("active", []byte("super-secret"))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	signed, err := Sign(testBatch(), "alice", "active", secrets, now, func() string { return "mbom-1" })
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	result := Verify(signed, secrets)
	if !result.Valid {
		t.Fatalf("Verify = %+v, want valid", result)
	}
}

func TestVerifyDetectsTamperedResults(t *testing.T) {
	secrets := NewSecretStore("active", []byte("super-secret"))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	signed, err := Sign(testBatch(), "alice", "active", secrets, now, func() string { return "mbom-1" })
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	signed.Results[0].Risk = 0 // tamper with a scanned result after signing

	result := Verify(signed, secrets)
	if result.Valid {
		t.Fatal("expected tampered MBOM to fail verification")
	}
	if result.Reason != "tamper" {
		t.Errorf("Reason = %q, want tamper", result.Reason)
	}
}

func TestVerifyDetectsTamperedSignature(t *testing.T) {
	secrets := NewSecretStore("active", []byte("super-secret"))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	signed, err := Sign(testBatch(), "alice", "active", secrets, now, func() string { return "mbom-1" })
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	signed.Signature = "0000000000000000000000000000000000000000000000000000000000000000"

	result := Verify(signed, secrets)
	if result.Valid || result.Reason != "tamper" {
		t.Errorf("Verify = %+v, want {valid:false reason:tamper}", result)
	}
}

func TestVerifyUnknownSecretIsStale(t *testing.T) {
	secrets := NewSecretStore("active", []byte("super-secret"))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	signed, err := Sign(testBatch(), "alice", "active", secrets, now, func() string { return "mbom-1" })
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// Verify against a SecretStore that never registered "active".
	otherSecrets := NewSecretStore("different", []byte("other-secret"))
	result := Verify(signed, otherSecrets)
	if result.Valid || result.Reason != "stale_secret" {
		t.Errorf("Verify = %+v, want {valid:false reason:stale_secret}", result)
	}
}

func TestVerifyStillValidAfterSecretRotationIfRetiredSecretKept(t *testing.T) {
	secrets := NewSecretStore("secret-v2", []byte("new-secret"))
	secrets.AddSecret("secret-v1", []byte("old-secret"))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	signed, err := Sign(testBatch(), "alice", "secret-v1", secrets, now, func() string { return "mbom-1" })
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	result := Verify(signed, secrets)
	if !result.Valid {
		t.Errorf("Verify = %+v, want valid (retired secret still registered)", result)
	}
}

func TestSignUnknownSecretIDFails(t *testing.T) {
	secrets := NewSecretStore("active", []byte("super-secret"))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := Sign(testBatch(), "alice", "nonexistent", secrets, now, func() string { return "mbom-1" })
	if err == nil {
		t.Fatal("expected an error signing with an unregistered secret id")
	}
}
