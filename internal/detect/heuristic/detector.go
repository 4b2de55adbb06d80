// Package heuristic implements the pattern/phrase/co-occurrence/entropy
// rule engine and the Unicode obfuscation analyzer. Both are pure CPU
// work: they never suspend and never fail (empty content yields a zero
// signal).
package heuristic

import (
	"bytes"
	"compress/flate"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/sentineldf/sentineldf/internal/model"
)

// Detector runs the full heuristic rule engine over raw document content.
// It is stateless and safe for concurrent use; the pattern tables it reads
// are immutable data loaded once at package init, so changing them means
// changing tables.go and bumping DetectorVersion.
type Detector struct {
	version string
	unicode *UnicodeAnalyzer
}

// New returns a Detector tagged with the current DetectorVersion.
func New() *Detector {
	return &Detector{version: DetectorVersion, unicode: NewUnicodeAnalyzer()}
}

// Version reports the detector identity that participates in the
// heuristic cache key.
func (d *Detector) Version() string { return d.version }

// finding is an internal accumulator for one class hit before reasons are
// ranked and truncated.
type finding struct {
	contribution float64
	reason       string
	spans        []model.Span
}

// Detect runs every signal class against the document and returns the
// combined heuristic Signal. canonical is the NFKD-lowercased form used
// for phrase/keyword matching; raw is used for span offsets, since spans
// must point at the original bytes.
func (d *Detector) Detect(raw, canonical string) model.Signal {
	if strings.TrimSpace(raw) == "" {
		return model.Signal{Kind: model.SignalHeuristic, Score: 0, Reasons: []string{}, Spans: []model.Span{}, Features: map[string]interface{}{}}
	}

	var findings []finding
	features := map[string]interface{}{}

	class1Hits := d.classHighSeverityPhrase(raw, canonical, &findings)
	d.classCoOccurrence(raw, canonical, &findings)
	class3Hit := d.classBackdoorMarker(raw, canonical, &findings)
	d.classBracketedGarbage(raw, &findings)
	d.classTopicShift(canonical, &findings)
	d.classCapsBurst(raw, &findings)
	d.classStructuralHiding(raw, &findings)
	d.classSecretExfil(raw, &findings)
	class9Or10Hit := d.classRareTokenInjection(raw, &findings)
	class10Hit := d.classExtremeRepetition(raw, &findings)
	if class10Hit {
		class9Or10Hit = true
	}
	d.classFencedBlocks(raw, &findings)
	d.classLeetspeak(raw, canonical, &findings)
	d.classEntropyOutlier(canonical, &findings)
	d.classUnicodeObfuscation(raw, &findings, features)

	bomb := compressionBombDetected(raw)
	features["compression_bomb"] = bomb
	if bomb {
		findings = append(findings, finding{contribution: contribCompressionBomb, reason: "compression_bomb"})
	}

	raw2 := 0.0
	for _, f := range findings {
		raw2 += f.contribution
	}

	s := 1 - math.Exp(-raw2)

	if class1Hits >= 3 {
		s = math.Min(1, s+0.10)
	}
	if class1Hits >= 2 {
		s = math.Min(1, s+0.15)
	}
	if class3Hit && class9Or10Hit {
		s = math.Min(1, s+0.05)
	}

	reasons, spans := rankAndMerge(findings)

	return model.Signal{
		Kind:     model.SignalHeuristic,
		Score:    s,
		Reasons:  reasons,
		Spans:    spans,
		Features: features,
	}
}

// rankAndMerge orders findings by contribution magnitude, dedupes reasons
// (first occurrence wins), truncates to maxReasons, then merges
// overlapping spans that share an identical reason and sorts by start.
func rankAndMerge(findings []finding) ([]string, []model.Span) {
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].contribution > findings[j].contribution
	})

	seenReason := map[string]bool{}
	var reasons []string
	var spans []model.Span
	for _, f := range findings {
		if f.reason != "" && !seenReason[f.reason] {
			seenReason[f.reason] = true
			reasons = append(reasons, f.reason)
		}
		spans = append(spans, f.spans...)
	}
	if len(reasons) > maxReasons {
		reasons = reasons[:maxReasons]
	}

	spans = mergeSpans(spans)
	return nonNilStrings(reasons), spans
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// mergeSpans sorts spans by start and merges overlapping spans that carry
// an identical reason.
func mergeSpans(spans []model.Span) []model.Span {
	if len(spans) == 0 {
		return []model.Span{}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	merged := []model.Span{spans[0]}
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.Reason == last.Reason && sp.Start <= last.End {
			if sp.End > last.End {
				// Both texts are slices of the same document, so the
				// non-overlapping tail of sp extends the merged text
				// without needing the raw content here.
				if overlap := last.End - sp.Start; overlap <= len(sp.Text) {
					last.Text += sp.Text[overlap:]
				}
				last.End = sp.End
			}
			continue
		}
		merged = append(merged, sp)
	}
	return merged
}

// --- class 1: high severity phrase match ---

func (d *Detector) classHighSeverityPhrase(raw, canonical string, findings *[]finding) int {
	hits := 0
	for _, phrase := range highSeverityPhrases {
		idx := 0
		for {
			pos := strings.Index(canonical[idx:], phrase)
			if pos < 0 {
				break
			}
			start := idx + pos
			end := start + len(phrase)
			hits++
			rs, re := mapCanonicalRangeToRaw(raw, canonical, start, end)
			*findings = append(*findings, finding{
				contribution: contribHighSeverityPhrase,
				reason:       "instruction_override_phrase",
				spans:        []model.Span{{Start: rs, End: re, Text: safeSlice(raw, rs, re), Reason: "instruction_override_phrase", Severity: model.SeverityHigh}},
			})
			idx = end
		}
	}
	return hits
}

// mapCanonicalRangeToRaw approximates the raw-content offsets for a
// canonical-form match. It first searches the lowercased raw content for
// the matched canonical text and returns the first occurrence, which is
// exact for ASCII or lightly-accented phrases; a later repeat of the same
// phrase therefore maps to that first occurrence. When the text is not
// found verbatim in raw (for example because normalization removed or
// changed characters inside it), it falls back to scaling the canonical
// offsets by the raw/canonical length ratio.
func mapCanonicalRangeToRaw(raw, canonical string, start, end int) (int, int) {
	phraseLen := end - start
	if phraseLen <= 0 || phraseLen > len(raw) {
		return clamp(start, 0, len(raw)), clamp(end, 0, len(raw))
	}
	lowerRaw := strings.ToLower(raw)
	target := canonical[start:end]
	// Try a direct case-insensitive match first.
	if pos := strings.Index(lowerRaw, strings.TrimSpace(target)); pos >= 0 {
		return pos, pos + len(strings.TrimSpace(target))
	}
	// Fall back to proportional offset mapping (keeps offsets in range
	// even when normalization changed the byte length).
	ratio := float64(len(raw)) / float64(max(1, len(canonical)))
	rs := int(float64(start) * ratio)
	re := int(float64(end) * ratio)
	return clamp(rs, 0, len(raw)), clamp(max(re, rs+1), 0, len(raw))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func safeSlice(s string, start, end int) string {
	if start < 0 || end > len(s) || start >= end {
		return ""
	}
	return s[start:end]
}

// --- class 2: co-occurrence pairs ---

func (d *Detector) classCoOccurrence(raw, canonical string, findings *[]finding) {
	tokens := tokenize(canonical)
	for _, pair := range coOccurrencePairs {
		for i, tok := range tokens {
			var other string
			switch tok {
			case pair[0]:
				other = pair[1]
			case pair[1]:
				other = pair[0]
			default:
				continue
			}
			for j := i + 1; j < len(tokens) && j <= i+coOccurrenceWindow; j++ {
				if tokens[j] == other {
					*findings = append(*findings, finding{
						contribution: contribCoOccurrence,
						reason:       "co_occurrence:" + pair[0] + "+" + pair[1],
						spans:        coOccurrenceSpans(raw, pair),
					})
					break
				}
			}
		}
	}
}

func coOccurrenceSpans(raw string, pair [2]string) []model.Span {
	var spans []model.Span
	lower := strings.ToLower(raw)
	for _, term := range pair {
		if pos := strings.Index(lower, term); pos >= 0 {
			spans = append(spans, model.Span{
				Start: pos, End: pos + len(term), Text: raw[pos : pos+len(term)],
				Reason: "co_occurrence:" + pair[0] + "+" + pair[1], Severity: model.SeverityMedium,
			})
		}
	}
	return spans
}

// --- class 3: backdoor markers ---

func (d *Detector) classBackdoorMarker(raw, canonical string, findings *[]finding) bool {
	hit := false
	lower := strings.ToLower(raw)
	for _, marker := range backdoorMarkers {
		if pos := strings.Index(lower, marker); pos >= 0 {
			hit = true
			*findings = append(*findings, finding{
				contribution: contribBackdoorMarker,
				reason:       "backdoor_marker",
				spans:        []model.Span{{Start: pos, End: pos + len(marker), Text: raw[pos : pos+len(marker)], Reason: "backdoor_marker", Severity: model.SeverityHigh}},
			})
		}
	}
	return hit
}

// --- class 4: bracketed garbage ---

var bracketedGarbageRe = regexp.MustCompile(`\[[A-Z0-9_ ]{3,60}\]`)

func (d *Detector) classBracketedGarbage(raw string, findings *[]finding) {
	matches := bracketedGarbageRe.FindAllStringIndex(raw, -1)
	count := 0
	for _, m := range matches {
		text := raw[m[0]:m[1]]
		if isAllowlisted(text) {
			continue
		}
		count++
	}
	if count == 0 {
		return
	}
	contribution := contribBracketedGarbageLo + (contribBracketedGarbageHi-contribBracketedGarbageLo)*math.Min(1, float64(count)/5.0)
	for _, m := range matches {
		text := raw[m[0]:m[1]]
		if isAllowlisted(text) {
			continue
		}
		*findings = append(*findings, finding{
			contribution: contribution / float64(count),
			reason:       "bracketed_garbage",
			spans:        []model.Span{{Start: m[0], End: m[1], Text: text, Reason: "bracketed_garbage", Severity: model.SeverityMedium}},
		})
	}
}

func isAllowlisted(token string) bool {
	for _, prefix := range medicalCodeAllowlist {
		if strings.HasPrefix(token, "["+prefix) || strings.Contains(token, prefix) {
			return true
		}
	}
	return false
}

// --- class 5: topic shift ---

func (d *Detector) classTopicShift(canonical string, findings *[]finding) {
	clinicalCount := countKeywords(canonical, clinicalKeywords)
	consumerCount := countKeywords(canonical, consumerKeywords)
	if clinicalCount >= clinicalKeywordMinimum && consumerCount >= consumerKeywordMinimum {
		*findings = append(*findings, finding{contribution: contribTopicShift, reason: "topic_shift"})
	}
}

func countKeywords(haystack string, keywords []string) int {
	count := 0
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			count++
		}
	}
	return count
}

// --- class 6: ALL-CAPS imperative burst ---

func (d *Detector) classCapsBurst(raw string, findings *[]finding) {
	words := strings.Fields(raw)
	limit := len(words)
	if limit > 5 {
		limit = 5
	}
	run := 0
	runStartIdx := -1
	for i := 0; i < limit; i++ {
		if isAllCapsWord(words[i]) {
			if run == 0 {
				runStartIdx = i
			}
			run++
		} else {
			run = 0
		}
		if run >= 3 {
			burst := strings.Join(words[runStartIdx:i+1], " ")
			lowerRaw := strings.ToLower(raw)
			hasSafety := false
			for _, kw := range safetyKeywords {
				if strings.Contains(lowerRaw, kw) {
					hasSafety = true
					break
				}
			}
			if hasSafety {
				if pos := strings.Index(raw, burst); pos >= 0 {
					*findings = append(*findings, finding{
						contribution: contribCapsBurst,
						reason:       "all_caps_imperative_burst",
						spans:        []model.Span{{Start: pos, End: pos + len(burst), Text: burst, Reason: "all_caps_imperative_burst", Severity: model.SeverityMedium}},
					})
				}
			}
			break
		}
	}
}

func isAllCapsWord(w string) bool {
	letters := 0
	for _, r := range w {
		if unicode.IsLetter(r) {
			letters++
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return letters > 0
}

// --- class 7: structural hiding ---

var (
	htmlCommentRe  = regexp.MustCompile(`(?s)<!--.*?-->`)
	htmlEntityRe   = regexp.MustCompile(`&#\w+;`)
	scriptTagRe    = regexp.MustCompile(`(?is)<script.*?>.*?</script>`)
	eventHandlerRe = regexp.MustCompile(`(?i)\son\w+\s*=\s*["'][^"']*["']`)
)

func (d *Detector) classStructuralHiding(raw string, findings *[]finding) {
	for _, re := range []*regexp.Regexp{htmlCommentRe, scriptTagRe, eventHandlerRe, htmlEntityRe} {
		for _, m := range re.FindAllStringIndex(raw, -1) {
			*findings = append(*findings, finding{
				contribution: contribStructuralHiding,
				reason:       "structural_hiding",
				spans:        []model.Span{{Start: m[0], End: m[1], Text: raw[m[0]:m[1]], Reason: "structural_hiding", Severity: model.SeverityHigh}},
			})
		}
	}
}

// --- class 8: secret exfiltration ---

// secretExfilPatterns compiles one regexp per (verb, noun) pair at package
// init, each allowing up to secretExfilWindow filler words between the
// verb and the secret-class noun. A strict-adjacency substring check
// misses ordinary phrasing like "reveal the system prompt", so the window
// tolerance mirrors what the co-occurrence class applies to its pairs.
var secretExfilPatterns = buildSecretExfilPatterns()

func buildSecretExfilPatterns() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(secretExfilVerbs)*len(secretClassNouns))
	for _, verb := range secretExfilVerbs {
		for _, noun := range secretClassNouns {
			src := fmt.Sprintf(`(?i)%s(?:\s+\w+){0,%d}\s+%s`, regexp.QuoteMeta(verb), secretExfilWindow, regexp.QuoteMeta(noun))
			patterns = append(patterns, regexp.MustCompile(src))
		}
	}
	return patterns
}

func (d *Detector) classSecretExfil(raw string, findings *[]finding) {
	for _, re := range secretExfilPatterns {
		if loc := re.FindStringIndex(raw); loc != nil {
			*findings = append(*findings, finding{
				contribution: contribSecretExfil,
				reason:       "secret_exfiltration",
				spans:        []model.Span{{Start: loc[0], End: loc[1], Text: raw[loc[0]:loc[1]], Reason: "secret_exfiltration", Severity: model.SeverityHigh}},
			})
		}
	}
}

// --- class 9: rare-token injection ---

func (d *Detector) classRareTokenInjection(raw string, findings *[]finding) bool {
	hit := false
	count := 0
	for _, tok := range strings.Fields(raw) {
		if count >= contribRareTokenCap {
			break
		}
		if len([]rune(tok)) < rareTokenMinLength {
			continue
		}
		nonAlpha := 0
		total := 0
		for _, r := range tok {
			total++
			if !unicode.IsLower(r) {
				nonAlpha++
			}
		}
		if total == 0 || float64(nonAlpha)/float64(total) <= rareTokenNonAlphaRatio {
			continue
		}
		if pos := strings.Index(raw, tok); pos >= 0 {
			hit = true
			count++
			*findings = append(*findings, finding{
				contribution: contribRareTokenPer,
				reason:       "rare_token_injection",
				spans:        []model.Span{{Start: pos, End: pos + len(tok), Text: tok, Reason: "rare_token_injection", Severity: model.SeverityMedium}},
			})
		}
	}
	return hit
}

// --- class 10: extreme repetition ---

func (d *Detector) classExtremeRepetition(raw string, findings *[]finding) bool {
	tokens := strings.Fields(strings.ToLower(raw))
	if len(tokens) == 0 {
		return false
	}
	counts := map[string]int{}
	for _, t := range tokens {
		counts[t]++
	}
	duplicates := 0
	for _, c := range counts {
		if c > 1 {
			duplicates += c
		}
	}
	ratio := float64(duplicates) / float64(len(tokens))
	if ratio >= repetitionRatioThreshold {
		*findings = append(*findings, finding{contribution: contribExtremeRepetition, reason: "extreme_repetition"})
		return true
	}
	return false
}

// --- class 11: fenced blocks ---

var fencedBlockRe = regexp.MustCompile("(?s)```(.*?)```")

func (d *Detector) classFencedBlocks(raw string, findings *[]finding) {
	count := 0
	for _, m := range fencedBlockRe.FindAllStringSubmatchIndex(raw, -1) {
		if count >= contribFencedBlockCap {
			break
		}
		body := strings.ToLower(raw[m[2]:m[3]])
		hit := false
		for _, marker := range fencedBlockMarkers {
			if strings.Contains(body, marker) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		count++
		*findings = append(*findings, finding{
			contribution: contribFencedBlockPer,
			reason:       "fenced_block_prompt_leak",
			spans:        []model.Span{{Start: m[0], End: m[1], Text: raw[m[0]:m[1]], Reason: "fenced_block_prompt_leak", Severity: model.SeverityMedium}},
		})
	}
}

// --- class 12: leetspeak / number-substituted phrases ---

var leetReplacer = strings.NewReplacer(
	"0", "o", "1", "i", "3", "e", "4", "a", "5", "s", "7", "t", "@", "a", "$", "s",
)

func (d *Detector) classLeetspeak(raw, canonical string, findings *[]finding) {
	deleeted := leetReplacer.Replace(canonical)
	if deleeted == canonical {
		return
	}
	for _, phrase := range highSeverityPhrases {
		if strings.Contains(canonical, phrase) {
			continue // already scored as class 1
		}
		if pos := strings.Index(deleeted, phrase); pos >= 0 {
			rs, re := mapCanonicalRangeToRaw(raw, canonical, pos, pos+len(phrase))
			*findings = append(*findings, finding{
				contribution: contribLeetspeakPhrase,
				reason:       "leetspeak_instruction_override",
				spans:        []model.Span{{Start: rs, End: re, Text: safeSlice(raw, rs, re), Reason: "leetspeak_instruction_override", Severity: model.SeverityMedium}},
			})
		}
	}
}

// --- class 13: entropy outliers ---

func (d *Detector) classEntropyOutlier(canonical string, findings *[]finding) {
	tokens := tokenize(canonical)
	if len(tokens) == 0 {
		return
	}
	counts := map[string]int{}
	for _, t := range tokens {
		counts[t]++
	}
	entropy := 0.0
	n := float64(len(tokens))
	for _, c := range counts {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	if entropy < entropyLowerBound || entropy > entropyUpperBound {
		*findings = append(*findings, finding{contribution: contribEntropyOutlier, reason: "token_entropy_outlier"})
	}
}

// --- class 14: unicode obfuscation ---

// classUnicodeObfuscation folds the Unicode analyzer's anomaly classes
// into the heuristic raw sum, so obfuscation still raises risk in
// configurations that give the standalone unicode signal no fusion
// weight of its own. Spans stay with the unicode signal to avoid
// duplicates; this contributes score and a reason only.
func (d *Detector) classUnicodeObfuscation(raw string, findings *[]finding, features map[string]interface{}) {
	sig := d.unicode.Analyze(raw)
	classes := 0
	for _, key := range []string{"bidi_override", "zero_width", "fullwidth", "homoglyphs"} {
		if present, _ := sig.Features[key].(bool); present {
			classes++
		}
	}
	if classes == 0 {
		return
	}
	features["unicode_obfuscation"] = true
	*findings = append(*findings, finding{
		contribution: contribUnicodeClass * float64(classes),
		reason:       "unicode_obfuscation",
	})
}

// --- class 15: compression bomb (feature only, scored alongside) ---

func compressionBombDetected(raw string) bool {
	if len(raw) < compressionMinBytes {
		return false
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return false
	}
	if _, err := w.Write([]byte(raw)); err != nil {
		return false
	}
	if err := w.Close(); err != nil {
		return false
	}
	ratio := float64(buf.Len()) / float64(len(raw))
	return ratio < compressionRatioThreshold
}

// tokenize splits on whitespace and strips surrounding punctuation, used
// by the token-level classes (co-occurrence, entropy, repetition).
func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '_')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
