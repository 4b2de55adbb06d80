package auth

import (
	"strings"
	"testing"
)

func TestGenerateAPIKeyShapeAndUniqueness(t *testing.T) {
	plaintext, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if !strings.HasPrefix(plaintext, KeyPrefix) {
		t.Errorf("plaintext %q missing prefix %q", plaintext, KeyPrefix)
	}
	if len(plaintext) < len(KeyPrefix)+minRandomChars {
		t.Errorf("plaintext length %d below minimum", len(plaintext))
	}
	if hash != HashKey(plaintext) {
		t.Error("returned hash does not match HashKey(plaintext)")
	}
	if prefix != plaintext[:12] {
		t.Errorf("displayPrefix = %q, want first 12 chars of plaintext", prefix)
	}

	plaintext2, _, _, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if plaintext == plaintext2 {
		t.Error("two generated keys must not collide")
	}
}

func TestExtractBearerToken(t *testing.T) {
	valid := KeyPrefix + strings.Repeat("a", minRandomChars)

	cases := []struct {
		name   string
		header string
		wantOK bool
	}{
		{"valid", "Bearer " + valid, true},
		{"missing scheme", valid, false},
		{"wrong scheme", "Basic " + valid, false},
		{"missing key prefix", "Bearer " + strings.Repeat("a", 40), false},
		{"too short suffix", "Bearer " + KeyPrefix + "short", false},
		{"empty header", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := ExtractBearerToken(tc.header)
			if ok != tc.wantOK {
				t.Errorf("ExtractBearerToken(%q) ok = %v, want %v", tc.header, ok, tc.wantOK)
			}
		})
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !constantTimeEqual("abc", "abc") {
		t.Error("expected equal hashes to compare equal")
	}
	if constantTimeEqual("abc", "abd") {
		t.Error("expected different hashes to compare unequal")
	}
}
