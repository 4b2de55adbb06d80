package heuristic

import (
	"github.com/sentineldf/sentineldf/internal/model"
)

// UnicodeAnalyzer computes an independent obfuscation score surfaced as
// its own signal, separate from the heuristic rule-engine score.
type UnicodeAnalyzer struct{}

// NewUnicodeAnalyzer constructs a stateless Unicode obfuscation analyzer.
func NewUnicodeAnalyzer() *UnicodeAnalyzer { return &UnicodeAnalyzer{} }

const unicodeClassContribution = 0.4

// zero-width and bidi control characters that obfuscation attacks rely on.
var (
	zeroWidthRunes = map[rune]bool{
		'​': true, // zero-width space
		'‌': true, // zero-width non-joiner
		'‍': true, // zero-width joiner
		'\uFEFF': true, // zero-width no-break space / BOM
	}
	bidiOverrideRunes = map[rune]bool{
		'‪': true, '‫': true, '‬': true, '‭': true, '‮': true,
		'⁦': true, '⁧': true, '⁨': true, '⁩': true,
	}
)

// confusableHomoglyphs flags Cyrillic and Greek code points that render
// like Latin letters, the substitution ranges homoglyph attacks use.
var confusableHomoglyphs = map[rune]rune{
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x', 'у': 'y', 'і': 'i', // Cyrillic
	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Ζ': 'Z', 'Η': 'H', 'Ι': 'I', 'Κ': 'K', 'Μ': 'M', // Greek
}

// Analyze returns the Unicode signal: score in [0,1] as a saturated sum of
// 0.4 per anomaly class present, plus per-class booleans in Features.
func (a *UnicodeAnalyzer) Analyze(raw string) model.Signal {
	var hasBidi, hasZeroWidth, hasFullwidth, hasHomoglyph bool
	var spans []model.Span

	for i, r := range raw {
		switch {
		case bidiOverrideRunes[r]:
			hasBidi = true
			spans = append(spans, span(raw, i, r, "bidi_override"))
		case zeroWidthRunes[r]:
			hasZeroWidth = true
			spans = append(spans, span(raw, i, r, "zero_width_character"))
		case isFullwidthOrMathAlnum(r):
			hasFullwidth = true
			spans = append(spans, span(raw, i, r, "fullwidth_or_mathematical_alphanumeric"))
		case confusableHomoglyphs[r] != 0:
			hasHomoglyph = true
			spans = append(spans, span(raw, i, r, "confusable_homoglyph"))
		}
	}

	classes := 0
	var reasons []string
	if hasBidi {
		classes++
		reasons = append(reasons, "bidi_override")
	}
	if hasZeroWidth {
		classes++
		reasons = append(reasons, "zero_width_character")
	}
	if hasFullwidth {
		classes++
		reasons = append(reasons, "fullwidth_or_mathematical_alphanumeric")
	}
	if hasHomoglyph {
		classes++
		reasons = append(reasons, "confusable_homoglyph")
	}

	score := float64(classes) * unicodeClassContribution
	if score > 1.0 {
		score = 1.0
	}

	if reasons == nil {
		reasons = []string{}
	}

	mergedSpans := mergeSpans(toFindingSpans(spans))

	return model.Signal{
		Kind:    model.SignalUnicode,
		Score:   score,
		Reasons: reasons,
		Spans:   mergedSpans,
		Features: map[string]interface{}{
			"bidi_override":    hasBidi,
			"zero_width":       hasZeroWidth,
			"fullwidth":        hasFullwidth,
			"homoglyphs":       hasHomoglyph,
		},
	}
}

func toFindingSpans(spans []model.Span) []model.Span {
	if spans == nil {
		return []model.Span{}
	}
	return spans
}

func span(raw string, byteIdx int, r rune, reason string) model.Span {
	end := byteIdx + len(string(r))
	return model.Span{Start: byteIdx, End: end, Text: raw[byteIdx:end], Reason: reason, Severity: model.SeverityMedium}
}

// isFullwidthOrMathAlnum reports whether r is a fullwidth form (U+FF00
// block) or a mathematical alphanumeric symbol (U+1D400 block), both
// common homoglyph-obfuscation ranges that render as ordinary Latin
// letters but hash/compare as distinct code points.
func isFullwidthOrMathAlnum(r rune) bool {
	if r >= 0xFF00 && r <= 0xFFEF {
		return true
	}
	if r >= 0x1D400 && r <= 0x1D7FF {
		return true
	}
	return false
}
