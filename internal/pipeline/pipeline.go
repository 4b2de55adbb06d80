// Package pipeline orchestrates a batch scan end to end: normalization,
// cache probes, the heuristic and embedding detectors, and fusion, with
// input order preserved regardless of detector completion order.
package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sentineldf/sentineldf/internal/cache"
	"github.com/sentineldf/sentineldf/internal/detect/embedding"
	"github.com/sentineldf/sentineldf/internal/detect/heuristic"
	apierrors "github.com/sentineldf/sentineldf/internal/errors"
	"github.com/sentineldf/sentineldf/internal/fusion"
	"github.com/sentineldf/sentineldf/internal/model"
	"github.com/sentineldf/sentineldf/internal/normalize"
	"github.com/sentineldf/sentineldf/internal/validate"
)

// Config holds the pipeline's tunables, all sourced from internal/config.
type Config struct {
	WorkerPoolSize     int // 0 => hardware parallelism, resolved by caller
	WorkerQueueDepth   int
	EmbeddingBatchSize int // max texts per embedding scoring call
	Limits             validate.Limits
}

// Pipeline orchestrates a batch scan end to end. It owns no HTTP
// concerns; internal/httpapi adapts requests into Document sequences
// and calls RunBatch.
type Pipeline struct {
	cfg        Config
	cache      *cache.Cache
	heuristic  *heuristic.Detector
	unicode    *heuristic.UnicodeAnalyzer
	embedding  *embedding.Detector
	fuser      *fusion.Fuser
	inFlight   singleflight.Group
	sem        chan struct{} // bounds concurrent batches (back-pressure)
	writeOnMiss bool
}

// New constructs a Pipeline. writeOnMiss controls whether cache misses
// are populated; /v1/analyze runs with it false so lightweight probes
// never grow the cache.
func New(cfg Config, c *cache.Cache, h *heuristic.Detector, u *heuristic.UnicodeAnalyzer, e *embedding.Detector, f *fusion.Fuser, writeOnMiss bool) *Pipeline {
	depth := cfg.WorkerQueueDepth
	if depth <= 0 {
		depth = 64
	}
	return &Pipeline{
		cfg:         cfg,
		cache:       c,
		heuristic:   h,
		unicode:     u,
		embedding:   e,
		fuser:       f,
		sem:         make(chan struct{}, depth),
		writeOnMiss: writeOnMiss,
	}
}

// RunBatch executes the full pipeline over docs, in input order.
func (p *Pipeline) RunBatch(ctx context.Context, batchID string, docs []model.Document) (model.BatchResult, error) {
	if err := validate.Batch(docs, p.cfg.Limits); err != nil {
		return model.BatchResult{}, err
	}

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	default:
		return model.BatchResult{}, apierrors.New(apierrors.KindBusy, "worker pool saturated")
	}

	type prepared struct {
		doc       model.Document
		canonical string
		hash      string
	}
	preparedDocs := make([]prepared, len(docs))
	for i, d := range docs {
		norm := normalize.Normalize(d.Content)
		if err := validate.CanonicalNotEmpty(i, norm.Canonical); err != nil {
			return model.BatchResult{}, err
		}
		preparedDocs[i] = prepared{doc: d, canonical: norm.Canonical, hash: norm.HashHex()}
	}

	results := make([]model.ScanResult, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.WorkerPoolSize > 0 {
		g.SetLimit(p.cfg.WorkerPoolSize)
	}

	var embedMu sync.Mutex
	pendingEmbedTexts := make([]string, 0, len(docs))
	pendingEmbedIdx := make([]int, 0, len(docs))

	detectorVersion := p.heuristic.Version()
	modelIdentity := p.embedding.Identity()

	heuristicSignals := make([]model.Signal, len(docs))
	unicodeSignals := make([]model.Signal, len(docs))
	embeddingAvailable := make([]bool, len(docs))
	embeddingSignals := make([]model.Signal, len(docs))

	for idx := range preparedDocs {
		idx := idx
		pd := preparedDocs[idx]

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			unicodeSignals[idx] = p.unicode.Analyze(pd.doc.Content)

			if sig, ok := p.cache.GetHeuristic(pd.hash, detectorVersion); ok {
				heuristicSignals[idx] = sig
			} else {
				sigAny, err, _ := p.inFlight.Do("h:"+pd.hash, func() (interface{}, error) {
					return p.heuristic.Detect(pd.doc.Content, pd.canonical), nil
				})
				if err != nil {
					return err
				}
				sig := sigAny.(model.Signal)
				heuristicSignals[idx] = sig
				if p.writeOnMiss {
					_ = p.cache.SetHeuristic(pd.hash, detectorVersion, sig)
				}
			}

			if vecBytes, ok := p.cache.GetEmbedding(pd.hash, modelIdentity.ModelID, modelIdentity.ModelVersion); ok {
				vec := embedding.DecodeVector(vecBytes)
				sig := p.embedding.ScoreVector(vec)
				embeddingSignals[idx] = sig
				embeddingAvailable[idx] = signalAvailable(sig)
			} else {
				embedMu.Lock()
				pendingEmbedTexts = append(pendingEmbedTexts, pd.canonical)
				pendingEmbedIdx = append(pendingEmbedIdx, idx)
				embedMu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return model.BatchResult{}, apierrors.Wrap(apierrors.KindInternal, "detector fan-out failed", err)
	}

	batchSize := p.cfg.EmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = 128
	}
	for offset := 0; offset < len(pendingEmbedTexts); offset += batchSize {
		end := offset + batchSize
		if end > len(pendingEmbedTexts) {
			end = len(pendingEmbedTexts)
		}
		sigs := p.embedding.Score(ctx, pendingEmbedTexts[offset:end])
		for i, sig := range sigs {
			docIdx := pendingEmbedIdx[offset+i]
			embeddingSignals[docIdx] = sig
			embeddingAvailable[docIdx] = signalAvailable(sig)
			if p.writeOnMiss && embeddingAvailable[docIdx] {
				vec := embedding.Embed(preparedDocs[docIdx].canonical)
				_ = p.cache.SetEmbedding(preparedDocs[docIdx].hash, modelIdentity.ModelID, modelIdentity.ModelVersion, embedding.EncodeVector(vec))
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return model.BatchResult{}, apierrors.Wrap(apierrors.KindInternal, "batch cancelled before aggregation", err)
	}

	now := time.Now()
	for idx, pd := range preparedDocs {
		res := p.fuser.Fuse(pd.doc.ID, heuristicSignals[idx], embeddingSignals[idx], unicodeSignals[idx], embeddingAvailable[idx])
		res.Timestamp = now
		results[idx] = res
	}

	summary := summarize(results)
	return model.BatchResult{BatchID: batchID, Results: results, Summary: summary}, nil
}

// signalAvailable reports whether an embedding signal actually ran, as
// opposed to degrading with the embedding_unavailable reason. Fusion
// renormalizes weights onto the remaining signals when it did not.
func signalAvailable(sig model.Signal) bool {
	for _, r := range sig.Reasons {
		if r == "embedding_unavailable" {
			return false
		}
	}
	return true
}

func summarize(results []model.ScanResult) model.Summary {
	s := model.Summary{TotalDocs: len(results)}
	if len(results) == 0 {
		return s
	}
	var sumRisk int
	risks := make([]int, len(results))
	for i, r := range results {
		if r.Quarantine {
			s.QuarantinedCount++
		} else {
			s.AllowedCount++
		}
		sumRisk += r.Risk
		risks[i] = r.Risk
		if r.Risk > s.MaxRisk {
			s.MaxRisk = r.Risk
		}
	}
	s.AvgRisk = float64(sumRisk) / float64(len(results))
	s.P95Risk = percentileInt(risks, 0.95)
	return s
}

func percentileInt(vals []int, p float64) int {
	sorted := append([]int(nil), vals...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
