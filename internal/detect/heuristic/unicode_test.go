package heuristic

import "testing"

func TestUnicodeAnalyzeCleanTextScoresZero(t *testing.T) {
	a := NewUnicodeAnalyzer()
	sig := a.Analyze("This is perfectly ordinary English text.")
	if sig.Score != 0 {
		t.Errorf("Score = %v, want 0 for clean ASCII text", sig.Score)
	}
}

func TestUnicodeAnalyzeFlagsZeroWidthCharacters(t *testing.T) {
	a := NewUnicodeAnalyzer()
	sig := a.Analyze("hello​world") // zero-width space
	if sig.Score <= 0 {
		t.Errorf("Score = %v, want > 0 for zero-width character", sig.Score)
	}
	found := false
	for _, r := range sig.Reasons {
		if r == "zero_width_character" {
			found = true
		}
	}
	if !found {
		t.Errorf("Reasons = %v, want zero_width_character", sig.Reasons)
	}
}

func TestUnicodeAnalyzeFlagsHomoglyphs(t *testing.T) {
	a := NewUnicodeAnalyzer()
	sig := a.Analyze("this is а test") // Cyrillic 'а' instead of Latin 'a'
	homoglyphs, _ := sig.Features["homoglyphs"].(bool)
	if !homoglyphs {
		t.Error("expected homoglyphs feature to be true")
	}
}

func TestUnicodeAnalyzeFlagsBidiOverride(t *testing.T) {
	a := NewUnicodeAnalyzer()
	sig := a.Analyze("normal ‮text")
	bidi, _ := sig.Features["bidi_override"].(bool)
	if !bidi {
		t.Error("expected bidi_override feature to be true")
	}
}

func TestUnicodeAnalyzeScoreSaturatesAtOne(t *testing.T) {
	a := NewUnicodeAnalyzer()
	// Stack all four anomaly classes into one input.
	mixed := "a​‮аＡb"
	sig := a.Analyze(mixed)
	if sig.Score > 1.0 {
		t.Errorf("Score = %v, must saturate at 1.0", sig.Score)
	}
}

func TestIsFullwidthOrMathAlnum(t *testing.T) {
	if !isFullwidthOrMathAlnum('Ａ') { // fullwidth 'A'
		t.Error("expected fullwidth A to be flagged")
	}
	if isFullwidthOrMathAlnum('A') {
		t.Error("expected ordinary ASCII A to not be flagged")
	}
}
