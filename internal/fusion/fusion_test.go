package fusion

import (
	"testing"

	"github.com/sentineldf/sentineldf/internal/model"
)

func TestFuseBasicWeighting(t *testing.T) {
	f := New(Weights{Heuristic: 0.4, Embedding: 0.6, Unicode: 0.0}, 70)

	heuristic := model.Signal{Kind: model.SignalHeuristic, Score: 0.5, Reasons: []string{"pattern_match"}}
	embed := model.Signal{Kind: model.SignalEmbedding, Score: 0.9, Reasons: []string{"anomalous"}}
	unicode := model.Signal{Kind: model.SignalUnicode, Score: 0.0}

	res := f.Fuse("doc-1", heuristic, embed, unicode, true)

	wantRisk := int((0.4*0.5 + 0.6*0.9) * 100)
	if res.Risk != wantRisk {
		t.Errorf("Risk = %d, want %d", res.Risk, wantRisk)
	}
	if !res.Quarantine {
		t.Errorf("expected quarantine at risk=%d threshold=70", res.Risk)
	}
	if res.Action != model.ActionQuarantine {
		t.Errorf("Action = %q, want quarantine", res.Action)
	}
}

func TestFuseRenormalizesWhenEmbeddingUnavailable(t *testing.T) {
	f := New(Weights{Heuristic: 0.4, Embedding: 0.6, Unicode: 0.0}, 70)

	heuristic := model.Signal{Kind: model.SignalHeuristic, Score: 1.0}
	embed := model.Signal{Kind: model.SignalEmbedding, Score: 0, Reasons: []string{"embedding_unavailable"}}
	unicode := model.Signal{Kind: model.SignalUnicode, Score: 0.0}

	res := f.Fuse("doc-2", heuristic, embed, unicode, false)

	if res.Risk != 100 {
		t.Errorf("Risk = %d, want 100 (heuristic weight fully renormalized onto 1.0 score)", res.Risk)
	}
	if res.Signals.Embedding != 0 {
		t.Errorf("Embedding signal score should report raw 0, got %v", res.Signals.Embedding)
	}
}

func TestFuseRiskClampedToRange(t *testing.T) {
	f := New(Weights{Heuristic: 1.0, Embedding: 0, Unicode: 0}, 50)
	res := f.Fuse("doc-3",
		model.Signal{Score: 1.5},
		model.Signal{Score: 0},
		model.Signal{Score: 0},
		false,
	)
	if res.Risk > 100 || res.Risk < 0 {
		t.Errorf("Risk = %d, must be clamped to [0,100]", res.Risk)
	}
}

func TestConfidenceFloorIsAlwaysPointFive(t *testing.T) {
	if c := computeConfidence(nil); c != 0.5 {
		t.Errorf("empty signal set confidence = %v, want 0.5 floor", c)
	}
	if c := computeConfidence([]float64{0.0}); c < 0.5 {
		t.Errorf("single zero-score signal confidence = %v, want >= 0.5", c)
	}
	// Maximal disagreement should still respect the floor.
	if c := computeConfidence([]float64{0.0, 1.0, 0.5}); c < 0.5 {
		t.Errorf("disagreeing signals confidence = %v, want >= 0.5 floor", c)
	}
}

func TestConfidenceHighWhenSignalsAgree(t *testing.T) {
	agree := computeConfidence([]float64{0.8, 0.82, 0.79})
	disagree := computeConfidence([]float64{0.1, 0.9, 0.5})
	if agree <= disagree {
		t.Errorf("agreeing signals confidence (%v) should exceed disagreeing signals confidence (%v)", agree, disagree)
	}
}

func TestMergeReasonsDedupsAndTruncates(t *testing.T) {
	var sigs []model.Signal
	for i := 0; i < 20; i++ {
		sigs = append(sigs, model.Signal{Reasons: []string{"pattern_match", "entropy_spike"}})
	}
	reasons, _ := mergeReasonsAndSpans(sigs...)
	if len(reasons) > 12 {
		t.Errorf("len(reasons) = %d, want <= 12", len(reasons))
	}
	if len(reasons) != 2 {
		t.Errorf("len(reasons) = %d, want 2 (deduped)", len(reasons))
	}
}

func TestMergeSpansOverlappingSameReason(t *testing.T) {
	sigs := []model.Signal{
		{Spans: []model.Span{{Start: 0, End: 10, Reason: "pattern_match"}}},
		{Spans: []model.Span{{Start: 5, End: 20, Reason: "pattern_match"}}},
	}
	_, spans := mergeReasonsAndSpans(sigs...)
	if len(spans) != 1 {
		t.Fatalf("len(spans) = %d, want 1 merged span", len(spans))
	}
	if spans[0].Start != 0 || spans[0].End != 20 {
		t.Errorf("merged span = [%d,%d], want [0,20]", spans[0].Start, spans[0].End)
	}
}

func TestMergeSpansDistinctReasonsNotMerged(t *testing.T) {
	sigs := []model.Signal{
		{Spans: []model.Span{{Start: 0, End: 10, Reason: "pattern_match"}}},
		{Spans: []model.Span{{Start: 5, End: 20, Reason: "entropy_spike"}}},
	}
	_, spans := mergeReasonsAndSpans(sigs...)
	if len(spans) != 2 {
		t.Errorf("len(spans) = %d, want 2 (different reasons must not merge)", len(spans))
	}
}
