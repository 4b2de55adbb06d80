// Package normalize produces the canonical form of document content:
// NFKD decomposition, lowercasing and whitespace folding for hashing,
// and a stable content hash. Raw content is left untouched so span
// offsets always point into the original bytes.
package normalize

import (
	"crypto/sha256"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Result is the canonical form of a Document's content plus its hash.
type Result struct {
	// Canonical is the NFKD-normalized, lowercased, whitespace-folded
	// text used only for hashing and detector input.
	Canonical string
	// Hash is sha256(Canonical bytes).
	Hash [32]byte
	// HadInvalidUTF8 records whether the input contained invalid byte
	// sequences that were replaced with U+FFFD.
	HadInvalidUTF8 bool
}

// Normalize produces the canonical form of content. It never fails: input
// that isn't valid UTF-8 has invalid sequences replaced with the Unicode
// replacement character, and the substitution is recorded as a feature the
// caller can surface.
func Normalize(content string) Result {
	hadInvalid := !utf8.ValidString(content)
	cleaned := content
	if hadInvalid {
		cleaned = strings.ToValidUTF8(content, string(unicode.ReplacementChar))
	}

	decomposed, _, err := transform.String(norm.NFKD, cleaned)
	if err != nil {
		decomposed = cleaned
	}

	stripped := stripFormatRunes(decomposed)
	folded := foldWhitespace(strings.ToLower(stripped))

	return Result{
		Canonical:      folded,
		Hash:           sha256.Sum256([]byte(folded)),
		HadInvalidUTF8: hadInvalid,
	}
}

// HashHex returns the canonical hash as a lowercase hex string, the form
// used as the prefix of every cache key.
func (r Result) HashHex() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 64)
	for i, b := range r.Hash {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// stripFormatRunes drops Unicode format-category characters (zero-width
// spaces/joiners, bidi overrides/embeddings) from the canonical form.
// These carry no visible content and appear in adversarial inputs to
// split phrase matches apart; the Unicode analyzer still scores their
// presence in the raw content, this only affects the canonical form.
func stripFormatRunes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.Is(unicode.Cf, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// foldWhitespace collapses runs of whitespace to a single ASCII space.
// Only used for the hash/canonical form; raw content keeps its original
// whitespace for span offsets.
func foldWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
				inSpace = true
			}
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
