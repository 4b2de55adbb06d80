// Command sentineldf runs SentinelDF as an HTTP service, or, when
// -scan-file, -verify-file, -vacuum or -seed-baseline is given, as a
// one-shot CLI adjunct that exits with a status code. The -web flag is
// accepted but not read: the HTTP service is the default mode.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentineldf/sentineldf/internal/auth"
	"github.com/sentineldf/sentineldf/internal/cache"
	"github.com/sentineldf/sentineldf/internal/config"
	"github.com/sentineldf/sentineldf/internal/detect/embedding"
	"github.com/sentineldf/sentineldf/internal/detect/heuristic"
	"github.com/sentineldf/sentineldf/internal/fusion"
	"github.com/sentineldf/sentineldf/internal/httpapi"
	"github.com/sentineldf/sentineldf/internal/logging"
	"github.com/sentineldf/sentineldf/internal/mbom"
	"github.com/sentineldf/sentineldf/internal/model"
	"github.com/sentineldf/sentineldf/internal/normalize"
	"github.com/sentineldf/sentineldf/internal/pipeline"
	"github.com/sentineldf/sentineldf/internal/store"
	"github.com/sentineldf/sentineldf/internal/usage"
	"github.com/sentineldf/sentineldf/internal/validate"
)

func main() {
	_ = flag.Bool("web", false, "Run in web mode instead of CLI")
	port := flag.String("port", "8080", "Port to run the HTTP surface on")
	vacuumMode := flag.Bool("vacuum", false, "Run a one-shot cache vacuum pass and exit")
	seedBaseline := flag.String("seed-baseline", "", "Seed the embedding baseline from a directory of known-benign text files and exit")
	scanFile := flag.String("scan-file", "", "CLI mode: scan a single text file and print the result")
	verifyFile := flag.String("verify-file", "", "CLI mode: verify an MBOM JSON file")
	flag.Parse()

	logger, err := logging.Init()
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	c, err := cache.Open(cfg.CachePath, cfg.CacheHotEntries)
	if err != nil {
		logger.Fatal("failed to open cache", zap.Error(err))
	}
	defer c.Close()
	if c.Recovered {
		logger.Warn("cache store was corrupt and has been cleared", zap.String("path", cfg.CachePath))
	}

	if *vacuumMode {
		report, err := cache.Vacuum(context.Background(), c, cfg.DetectorVersion, cfg.EmbeddingModelID, cfg.EmbeddingModelVersion)
		if err != nil {
			logger.Fatal("vacuum failed", zap.Error(err))
		}
		fmt.Printf("vacuum complete: removed %d stale heuristic entries, %d stale embedding entries\n",
			report.HeuristicsRemoved, report.EmbeddingsRemoved)
		return
	}

	heuristicDetector := heuristic.New()
	unicodeAnalyzer := heuristic.NewUnicodeAnalyzer()

	identity := embedding.Identity{ModelID: cfg.EmbeddingModelID, ModelVersion: cfg.EmbeddingModelVersion}
	// The embedding baseline is fit from the Postgres-backed seed corpus
	// when a database is configured; in CLI-only deployments with no
	// DATABASE_URL the detector degrades (score 0, embedding_unavailable)
	// rather than failing to start.
	var baseline *embedding.Baseline
	var identityStore *store.Store
	if cfg.DatabaseURL != "" {
		identityStore, err = store.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to identity store", zap.Error(err))
		}
		defer identityStore.Close()
		if err := identityStore.EnsureSchema(context.Background()); err != nil {
			logger.Fatal("failed to ensure identity schema", zap.Error(err))
		}

		baselineStore := embedding.NewBaselineStore(identityStore.DB)
		if err := baselineStore.EnsureSchema(context.Background()); err != nil {
			logger.Fatal("failed to ensure baseline schema", zap.Error(err))
		}

		if *seedBaseline != "" {
			vectors, err := embedBaselineDir(*seedBaseline)
			if err != nil {
				logger.Fatal("failed to embed baseline corpus", zap.String("dir", *seedBaseline), zap.Error(err))
			}
			for _, vec := range vectors {
				if err := baselineStore.Add(context.Background(), identity, vec); err != nil {
					logger.Fatal("failed to store baseline embedding", zap.Error(err))
				}
			}
			fmt.Printf("seeded %d baseline embeddings from %s\n", len(vectors), *seedBaseline)
			return
		}

		vectors, err := baselineStore.Load(context.Background(), identity)
		if err != nil {
			logger.Warn("failed to load embedding baseline, detector will degrade", zap.Error(err))
		} else if len(vectors) > 0 {
			baseline = embedding.FitBaseline(vectors)
		}
	}
	if *seedBaseline != "" && identityStore == nil {
		logger.Fatal("DATABASE_URL is required to seed the embedding baseline")
	}

	embeddingDetector := embedding.New(identity, baseline)

	fuser := fusion.New(fusion.Weights{
		Heuristic: cfg.HeuristicWeight,
		Embedding: cfg.EmbeddingWeight,
		Unicode:   cfg.UnicodeWeight,
	}, cfg.QuarantineThreshold)

	workerPoolSize := cfg.WorkerPoolSize
	if workerPoolSize <= 0 {
		workerPoolSize = runtime.GOMAXPROCS(0)
	}
	pipelineCfg := pipeline.Config{
		WorkerPoolSize:     workerPoolSize,
		WorkerQueueDepth:   cfg.WorkerQueueDepth,
		EmbeddingBatchSize: cfg.EmbeddingBatchSize,
		Limits: validate.Limits{
			MaxDocsPerRequest: cfg.MaxDocsPerRequest,
			MaxDocBytes:       cfg.MaxDocBytes,
		},
	}
	scanPipeline := pipeline.New(pipelineCfg, c, heuristicDetector, unicodeAnalyzer, embeddingDetector, fuser, true)
	analyzePipeline := pipeline.New(pipelineCfg, c, heuristicDetector, unicodeAnalyzer, embeddingDetector, fuser, false)

	secrets := mbom.NewSecretStore("active", []byte(cfg.HMACSecret))

	if *scanFile != "" {
		os.Exit(runCLIScan(scanPipeline, *scanFile))
	}
	if *verifyFile != "" {
		os.Exit(runCLIVerify(secrets, *verifyFile))
	}

	if identityStore == nil {
		logger.Fatal("DATABASE_URL is required to run in web mode (identity & usage store)")
	}

	limiter := auth.NewTierLimiter([]auth.TierSetting{
		{Tier: "free", Capacity: float64(cfg.RateLimitBucketCapacity), Refill: cfg.RateLimitRefillPerSec},
		{Tier: "pro", Capacity: float64(cfg.RateLimitBucketCapacity) * 10, Refill: cfg.RateLimitRefillPerSec * 10},
		{Tier: "enterprise", Capacity: float64(cfg.RateLimitBucketCapacity) * 100, Refill: cfg.RateLimitRefillPerSec * 100},
	}, float64(cfg.RateLimitBucketCapacity), cfg.RateLimitRefillPerSec)

	gate := auth.NewGate(identityStore, limiter)
	recorder := usage.New(identityStore, cfg.UsageBufferCapacity, logger)
	defer recorder.Stop()

	server := httpapi.NewServer(logger, scanPipeline, analyzePipeline, gate, identityStore, recorder, secrets, "active")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	addr := ":" + *port
	logger.Info("starting SentinelDF", zap.String("addr", addr))
	if err := server.Start(ctx, addr); err != nil {
		logger.Error("http surface exited with error", zap.Error(err))
		os.Exit(1)
	}
}

// embedBaselineDir embeds every regular file in dir as one benign
// baseline sample, skipping files that are empty after normalization.
// The caller persists the vectors, so the anomaly scorer can be refit
// from the stored corpus on every subsequent start.
func embedBaselineDir(dir string) ([][]float32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read baseline corpus dir: %w", err)
	}

	var vectors [][]float32
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read baseline sample %s: %w", entry.Name(), err)
		}
		norm := normalize.Normalize(string(raw))
		if norm.Canonical == "" {
			continue
		}
		vectors = append(vectors, embedding.Embed(norm.Canonical))
	}
	return vectors, nil
}

// runCLIScan scans a single file's content and prints the result,
// exiting 0 when clean, 1 when quarantined, 2 on unreadable input.
func runCLIScan(p *pipeline.Pipeline, path string) int {
	content, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
		return 2
	}

	batch, err := p.RunBatch(context.Background(), uuid.New().String(), []model.Document{
		{ID: path, Content: string(content)},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
		return 2
	}

	out, _ := json.MarshalIndent(batch, "", "  ")
	fmt.Println(string(out))

	if batch.Summary.QuarantinedCount > 0 {
		return 1
	}
	return 0
}

// runCLIVerify verifies an MBOM JSON file: exit 0 on a valid signature,
// 3 on a signature mismatch, 2 on malformed input.
func runCLIVerify(secrets *mbom.SecretStore, path string) int {
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
		return 2
	}

	var m mbom.MBOM
	if err := json.Unmarshal(raw, &m); err != nil {
		fmt.Fprintf(os.Stderr, "malformed mbom: %v\n", err)
		return 2
	}

	result := mbom.Verify(m, secrets)
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if !result.Valid {
		return 3
	}
	return 0
}
