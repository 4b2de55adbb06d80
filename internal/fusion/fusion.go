// Package fusion combines per-signal scores into a single calibrated
// risk plus a confidence value that measures agreement, not magnitude.
package fusion

import (
	"math"
	"sort"

	"github.com/sentineldf/sentineldf/internal/model"
)

// Weights are the fusion coefficients, validated at startup to sum to
// 1.0.
type Weights struct {
	Heuristic float64
	Embedding float64
	Unicode   float64
}

// Fuser combines detector signals into a ScanResult.
type Fuser struct {
	Weights             Weights
	QuarantineThreshold int
}

// New constructs a Fuser from validated weights and threshold.
func New(weights Weights, threshold int) *Fuser {
	return &Fuser{Weights: weights, QuarantineThreshold: threshold}
}

// Fuse combines the heuristic, embedding, and unicode signals for one
// document into a final ScanResult. docID is attached verbatim.
// embeddingAvailable reports whether the embedding detector actually
// ran; when it did not, its weight is renormalized onto the signals
// that did, so a degraded detector never caps the reachable risk.
func (f *Fuser) Fuse(docID string, heuristic, embeddingSig, unicodeSig model.Signal, embeddingAvailable bool) model.ScanResult {
	h := heuristic.Score
	e := embeddingSig.Score
	u := unicodeSig.Score

	wh, we, wu := f.Weights.Heuristic, f.Weights.Embedding, f.Weights.Unicode
	if !embeddingAvailable {
		total := wh + wu
		if total > 0 {
			wh, we, wu = wh/total, 0, wu/total
		} else {
			wh, we, wu = 1, 0, 0
		}
	}

	riskRaw := wh*h + we*e + wu*u
	risk := int(math.Round(riskRaw * 100))
	if risk < 0 {
		risk = 0
	}
	if risk > 100 {
		risk = 100
	}

	quarantine := risk >= f.QuarantineThreshold
	action := model.ActionAllow
	if quarantine {
		action = model.ActionQuarantine
	}

	scores := []float64{h}
	if embeddingAvailable {
		scores = append(scores, e)
	}
	if wu > 0 || unicodeSig.Score > 0 {
		scores = append(scores, u)
	}
	confidence := computeConfidence(scores)

	reasons, spans := mergeReasonsAndSpans(heuristic, embeddingSig, unicodeSig)

	compressionBomb, _ := heuristic.Features["compression_bomb"].(bool)
	homoglyphs, _ := unicodeSig.Features["homoglyphs"].(bool)

	return model.ScanResult{
		DocID:      docID,
		Risk:       risk,
		Quarantine: quarantine,
		Action:     action,
		Reasons:    reasons,
		Confidence: confidence,
		Spans:      spans,
		Signals: model.Signals{
			Heuristic:       h,
			Embedding:       e,
			Unicode:         u,
			CompressionBomb: compressionBomb,
			Homoglyphs:      homoglyphs,
		},
	}
}

// computeConfidence measures cross-signal agreement. A single available
// signal cannot be confident by magnitude alone, so it maps into
// [0.5, 0.9] via 0.5 + 0.4*score. The 0.5 floor holds regardless of how
// many signals ran; a missing-signal result must never look more
// confident than random.
func computeConfidence(scores []float64) float64 {
	if len(scores) == 0 {
		return 0.5
	}
	if len(scores) == 1 {
		return clamp(0.5, 1.0, 0.5+0.4*scores[0])
	}
	mean := 0.0
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))

	variance := 0.0
	for _, s := range scores {
		d := s - mean
		variance += d * d
	}
	variance /= float64(len(scores))

	return clamp(0.5, 1.0, 1.0-math.Min(1.0, 2*variance))
}

func clamp(lo, hi, v float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// mergeReasonsAndSpans concatenates per-signal reasons (deduped,
// preserving first occurrence, truncated to 12), unions spans, re-sorts
// by start, and merges identical-reason overlaps.
func mergeReasonsAndSpans(signals ...model.Signal) ([]string, []model.Span) {
	seen := map[string]bool{}
	var reasons []string
	var spans []model.Span
	for _, sig := range signals {
		for _, r := range sig.Reasons {
			if !seen[r] {
				seen[r] = true
				reasons = append(reasons, r)
			}
		}
		spans = append(spans, sig.Spans...)
	}
	if len(reasons) > 12 {
		reasons = reasons[:12]
	}
	if reasons == nil {
		reasons = []string{}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	var merged []model.Span
	for _, sp := range spans {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if sp.Reason == last.Reason && sp.Start <= last.End {
				if sp.End > last.End {
					if overlap := last.End - sp.Start; overlap <= len(sp.Text) {
						last.Text += sp.Text[overlap:]
					}
					last.End = sp.End
				}
				continue
			}
		}
		merged = append(merged, sp)
	}
	if merged == nil {
		merged = []model.Span{}
	}
	return reasons, merged
}
