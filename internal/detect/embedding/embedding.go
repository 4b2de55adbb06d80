// Package embedding implements the fixed-width vector anomaly detector.
// Determinism is the load-bearing requirement here: the same canonical
// text must produce a bitwise-identical vector and score on every run,
// so the embedding function is a deterministic hash-based feature map
// rather than a live model call. A sentence-transformer would need a
// native inference runtime that cannot guarantee bit-for-bit determinism
// across hardware.
package embedding

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"sort"
	"strings"

	"github.com/sentineldf/sentineldf/internal/model"
)

// Dimensions is the fixed vector width every embedding carries.
const Dimensions = 384

// Identity is the (model_id, model_version) pair that participates in the
// embedding cache key.
type Identity struct {
	ModelID      string
	ModelVersion string
}

// Detector produces deterministic embeddings and scores them against a
// baseline population using a fixed-seed anomaly model.
type Detector struct {
	identity Identity
	baseline *Baseline
}

// New constructs a Detector. baseline may be nil, in which case every
// score degrades to 0 with the embedding_unavailable reason instead of
// failing.
func New(identity Identity, baseline *Baseline) *Detector {
	return &Detector{identity: identity, baseline: baseline}
}

// Identity reports the model identity used in cache keys.
func (d *Detector) Identity() Identity { return d.identity }

// Embed produces the fixed-width deterministic vector for canonical text.
func Embed(canonical string) []float32 {
	vec := make([]float32, Dimensions)
	if strings.TrimSpace(canonical) == "" {
		return vec
	}

	tokens := strings.Fields(canonical)
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		seed := h.Sum64()
		// Scatter each token's contribution across a handful of
		// dimensions derived from successive hash rounds, so the vector
		// reflects vocabulary composition rather than a single bucket.
		for round := 0; round < 4; round++ {
			seed = splitmix64(seed)
			idx := int(seed % uint64(Dimensions))
			sign := float32(1)
			if seed&1 == 1 {
				sign = -1
			}
			weight := float32((seed>>1)&0xFFFF) / 65535.0
			vec[idx] += sign * weight
		}
	}

	normalize(vec)
	return vec
}

func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	z := x
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

func normalize(vec []float32) {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range vec {
		vec[i] /= norm
	}
}

// EncodeVector serializes a vector to a deterministic byte form for cache
// storage.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.BigEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// ScoreVector calibrates an already-embedded vector against the
// detector's baseline, used on a cache hit where the vector itself was
// persisted but the calibrated score was not (calibration is cheap and
// re-deriving it avoids caching a value that would silently go stale if
// the baseline were refit without a model_version bump).
func (d *Detector) ScoreVector(vec []float32) model.Signal {
	if d.baseline == nil {
		return model.Signal{Kind: model.SignalEmbedding, Score: 0, Reasons: []string{"embedding_unavailable"}, Spans: []model.Span{}}
	}
	anomaly := d.baseline.AnomalyScore(vec)
	score := d.baseline.Calibrate(anomaly)
	return model.Signal{
		Kind:    model.SignalEmbedding,
		Score:   score,
		Reasons: []string{},
		Spans:   []model.Span{},
		Features: map[string]interface{}{
			"raw_anomaly_score": anomaly,
		},
	}
}

// Score runs the detector over a batch of canonical texts and returns
// one Signal per input, in input order.
func (d *Detector) Score(ctx context.Context, canonicalTexts []string) []model.Signal {
	out := make([]model.Signal, len(canonicalTexts))
	if d.baseline == nil {
		for i := range out {
			out[i] = model.Signal{
				Kind:    model.SignalEmbedding,
				Score:   0,
				Reasons: []string{"embedding_unavailable"},
				Spans:   []model.Span{},
			}
		}
		return out
	}

	for i, text := range canonicalTexts {
		select {
		case <-ctx.Done():
			out[i] = model.Signal{Kind: model.SignalEmbedding, Score: 0, Reasons: []string{"embedding_unavailable"}, Spans: []model.Span{}}
			continue
		default:
		}
		vec := Embed(text)
		anomaly := d.baseline.AnomalyScore(vec)
		score := d.baseline.Calibrate(anomaly)
		out[i] = model.Signal{
			Kind:    model.SignalEmbedding,
			Score:   score,
			Reasons: []string{},
			Spans:   []model.Span{},
			Features: map[string]interface{}{
				"raw_anomaly_score": anomaly,
			},
		}
	}
	return out
}

// sortedFloat64s is a tiny helper kept local to avoid pulling in a sort
// utility package for a single call site (baseline percentile fitting).
func sortedFloat64s(vals []float64) []float64 {
	out := make([]float64, len(vals))
	copy(out, vals)
	sort.Float64s(out)
	return out
}
