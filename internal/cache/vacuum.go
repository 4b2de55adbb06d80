package cache

import (
	"context"
	"strings"

	bolt "go.etcd.io/bbolt"
)

// VacuumReport summarizes what a vacuum pass removed.
type VacuumReport struct {
	EmbeddingsRemoved int
	HeuristicsRemoved int
}

// Vacuum sweeps stale entries whose version component no longer matches
// the current detector/model identity, freeing space left behind by a
// detector_version or model upgrade. Stale entries are harmless until
// then; lookups under the current versions can never hit them. It is
// invoked from a CLI flag rather than a background goroutine, keeping
// the request path free of a scheduling loop.
func Vacuum(ctx context.Context, c *Cache, currentDetectorVersion, currentModelID, currentModelVersion string) (VacuumReport, error) {
	var report VacuumReport

	err := c.db.Update(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		heuristics := tx.Bucket(heuristicsBucket)
		var staleHeuristicKeys [][]byte
		cur := heuristics.Cursor()
		for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
			if !strings.HasSuffix(string(k), "|"+currentDetectorVersion) {
				staleHeuristicKeys = append(staleHeuristicKeys, append([]byte(nil), k...))
			}
		}
		for _, k := range staleHeuristicKeys {
			if err := heuristics.Delete(k); err != nil {
				return err
			}
		}
		report.HeuristicsRemoved = len(staleHeuristicKeys)

		embeddings := tx.Bucket(embeddingsBucket)
		currentSuffix := "|" + currentModelID + "|" + currentModelVersion
		var staleEmbeddingKeys [][]byte
		cur = embeddings.Cursor()
		for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
			if !strings.HasSuffix(string(k), currentSuffix) {
				staleEmbeddingKeys = append(staleEmbeddingKeys, append([]byte(nil), k...))
			}
		}
		for _, k := range staleEmbeddingKeys {
			if err := embeddings.Delete(k); err != nil {
				return err
			}
		}
		report.EmbeddingsRemoved = len(staleEmbeddingKeys)

		return nil
	})
	if err != nil {
		return VacuumReport{}, err
	}

	c.hot.Purge()
	return report, nil
}
