package httpapi

import (
	"sync"

	"github.com/sentineldf/sentineldf/internal/model"
)

// batchRing is a small in-memory, fixed-capacity lookup from batch_id to
// its most recent BatchResult, letting /v1/mbom sign a batch that was
// just scanned without standing up a separate results store.
type batchRing struct {
	mu       sync.Mutex
	capacity int
	order    []string
	byID     map[string]model.BatchResult
}

func newBatchRing(capacity int) *batchRing {
	if capacity <= 0 {
		capacity = 256
	}
	return &batchRing{capacity: capacity, byID: make(map[string]model.BatchResult)}
}

// Put records batch, evicting the oldest entry once capacity is
// exceeded.
func (r *batchRing) Put(batch model.BatchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[batch.BatchID]; !exists {
		r.order = append(r.order, batch.BatchID)
	}
	r.byID[batch.BatchID] = batch

	for len(r.order) > r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.byID, oldest)
	}
}

// Get implements BatchResultLookup.
func (r *batchRing) Get(batchID string) (model.BatchResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[batchID]
	return b, ok
}
