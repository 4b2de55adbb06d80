// Package cache is the persistent detector cache: a durable bbolt-backed
// store with a hot in-memory LRU tier in front of it, keyed on content
// hash plus detector/model version so that a detector-version bump or
// model upgrade transparently misses stale entries instead of serving
// them.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"

	apierrors "github.com/sentineldf/sentineldf/internal/errors"
	"github.com/sentineldf/sentineldf/internal/model"
)

// schemaVersion is bumped whenever the on-disk entry format changes in a
// way existing entries can't be read back from. Bumping it invalidates
// every entry regardless of hash or detector version.
const schemaVersion = 1

var (
	embeddingsBucket = []byte("embeddings")
	heuristicsBucket = []byte("heuristics")
	metaBucket       = []byte("meta")
)

const schemaVersionKey = "schema_version"

// Stats reports cumulative hit/miss counters since the cache was opened.
type Stats struct {
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Cache is the durable detector cache. The hot tier (lru) absorbs repeat
// lookups within a process lifetime; the durable tier (bbolt) survives
// restarts. Both tiers are safe for concurrent use.
type Cache struct {
	db  *bolt.DB
	hot *lru.Cache[string, []byte]

	hits   atomic.Uint64
	misses atomic.Uint64

	mu sync.Mutex // serializes Clear

	// Recovered reports that the store file was corrupt at open time and
	// was cleared and recreated. Callers log it once; it is never
	// surfaced to a client.
	Recovered bool
}

// Open opens (or creates) the bbolt database at path, ensures its buckets
// exist, and reconciles the stored schema version against the compiled
// one. A mismatch (including a freshly created store) clears all
// entries and stamps the current version. A file bbolt cannot open at
// all is corrupt: it is removed and recreated rather than refusing to
// start, with Recovered set so the caller can log the recovery once.
func Open(path string, hotSize int) (*Cache, error) {
	recovered := false
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			return nil, apierrors.Wrap(apierrors.KindCacheCorrupt,
				fmt.Sprintf("cache store %q is corrupt and could not be cleared", path), err)
		}
		recovered = true
		db, err = bolt.Open(path, 0600, nil)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindCacheCorrupt,
				fmt.Sprintf("cache store %q could not be recreated after clearing", path), err)
		}
	}

	hot, err := lru.New[string, []byte](hotSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create hot cache tier: %w", err)
	}

	c := &Cache{db: db, hot: hot, Recovered: recovered}
	if err := c.reconcileSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) reconcileSchema() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{embeddingsBucket, heuristicsBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %q: %w", b, err)
			}
		}
		meta := tx.Bucket(metaBucket)
		stored := meta.Get([]byte(schemaVersionKey))
		if stored != nil && string(stored) == fmt.Sprint(schemaVersion) {
			return nil
		}
		// Either first open or a schema bump: wipe both content buckets.
		if err := tx.DeleteBucket(embeddingsBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if err := tx.DeleteBucket(heuristicsBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if _, err := tx.CreateBucket(embeddingsBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(heuristicsBucket); err != nil {
			return err
		}
		return meta.Put([]byte(schemaVersionKey), []byte(fmt.Sprint(schemaVersion)))
	})
}

// Close releases the underlying bbolt file handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

func embeddingKey(hash, modelID, modelVersion string) string {
	return hash + "|" + modelID + "|" + modelVersion
}

func heuristicKey(hash, detectorVersion string) string {
	return hash + "|" + detectorVersion
}

// GetEmbedding returns the cached vector bytes for (hash, modelID,
// modelVersion), or ok=false on a miss.
func (c *Cache) GetEmbedding(hash, modelID, modelVersion string) (vec []byte, ok bool) {
	key := embeddingKey(hash, modelID, modelVersion)
	return c.get(embeddingsBucket, key)
}

// SetEmbedding stores vector bytes for (hash, modelID, modelVersion).
// Entries are immutable by convention; a racing write is idempotent
// because inputs are deterministic, so last-writer-wins is safe.
func (c *Cache) SetEmbedding(hash, modelID, modelVersion string, vec []byte) error {
	key := embeddingKey(hash, modelID, modelVersion)
	return c.set(embeddingsBucket, key, vec)
}

// GetHeuristic returns the cached Signal for (hash, detectorVersion), or
// ok=false on a miss.
func (c *Cache) GetHeuristic(hash, detectorVersion string) (sig model.Signal, ok bool) {
	key := heuristicKey(hash, detectorVersion)
	raw, hit := c.get(heuristicsBucket, key)
	if !hit {
		return model.Signal{}, false
	}
	if err := json.Unmarshal(raw, &sig); err != nil {
		// A partial or corrupt entry must never be returned as a hit.
		return model.Signal{}, false
	}
	return sig, true
}

// SetHeuristic stores a Signal for (hash, detectorVersion).
func (c *Cache) SetHeuristic(hash, detectorVersion string, sig model.Signal) error {
	raw, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encode heuristic signal: %w", err)
	}
	key := heuristicKey(hash, detectorVersion)
	return c.set(heuristicsBucket, key, raw)
}

func (c *Cache) get(bucket []byte, key string) ([]byte, bool) {
	tierKey := string(bucket) + "/" + key
	if v, ok := c.hot.Get(tierKey); ok {
		c.hits.Add(1)
		return v, true
	}

	var out []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || out == nil {
		c.misses.Add(1)
		return nil, false
	}

	c.hot.Add(tierKey, out)
	c.hits.Add(1)
	return out, true
}

func (c *Cache) set(bucket []byte, key string, value []byte) error {
	tierKey := string(bucket) + "/" + key
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucket)
		}
		return b.Put([]byte(key), value)
	})
	if err != nil {
		return err
	}
	c.hot.Add(tierKey, value)
	return nil
}

// Stats reports cumulative hit/miss counts and the derived hit rate.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{Hits: hits, Misses: misses, HitRate: rate}
}

// Clear empties both durable buckets and the hot tier, and resets
// counters. Open does not use it: a store found corrupt at open time is
// removed and recreated there instead.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(embeddingsBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if err := tx.DeleteBucket(heuristicsBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if _, err := tx.CreateBucket(embeddingsBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(heuristicsBucket); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	c.hot.Purge()
	c.hits.Store(0)
	c.misses.Store(0)
	return nil
}
