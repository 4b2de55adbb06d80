// Package usage implements the non-blocking usage recorder: a buffered
// channel with a single background drainer, so the HTTP response never
// waits on persistence. Under back-pressure a record is degraded in
// place (response_time_ms dropped first) before the record itself is
// dropped.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentineldf/sentineldf/internal/store"
)

// Record is one pending usage entry. ResponseTimeMs is a pointer so the
// drainer can drop it (nil) under back-pressure without losing the rest
// of the row.
type Record struct {
	UserID           uuid.UUID
	APIKeyID         uuid.UUID
	Endpoint         string
	Timestamp        time.Time
	DocumentsScanned int
	TokensUsed       int
	CostCents        int
	ResponseTimeMs   *int
	StatusCode       int
}

// Writer is the subset of store.Store the recorder persists through.
type Writer interface {
	InsertUsageRecord(ctx context.Context, r store.UsageRecord) error
}

// Recorder owns the buffered channel and its single drainer goroutine.
type Recorder struct {
	ch     chan Record
	writer Writer
	logger *zap.Logger
	done   chan struct{}
}

// New starts a Recorder with the given buffer capacity. Call Stop to
// drain remaining entries and shut the background goroutine down.
func New(writer Writer, capacity int, logger *zap.Logger) *Recorder {
	r := &Recorder{
		ch:     make(chan Record, capacity),
		writer: writer,
		logger: logger,
		done:   make(chan struct{}),
	}
	go r.drain()
	return r
}

// Record enqueues a usage row without blocking the caller. If the buffer
// is full, response_time_ms is dropped first and the record is still
// attempted with a short non-blocking send; if that also fails the
// record itself is dropped and logged; delivery is at-least-once,
// best-effort.
func (r *Recorder) Record(rec Record) {
	select {
	case r.ch <- rec:
		return
	default:
	}

	degraded := rec
	degraded.ResponseTimeMs = nil
	select {
	case r.ch <- degraded:
	default:
		if r.logger != nil {
			r.logger.Warn("usage buffer full, dropping record",
				zap.String("endpoint", rec.Endpoint),
				zap.String("user_id", rec.UserID.String()))
		}
	}
}

func (r *Recorder) drain() {
	for rec := range r.ch {
		r.persist(rec)
	}
	close(r.done)
}

func (r *Recorder) persist(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := r.writer.InsertUsageRecord(ctx, store.UsageRecord{
		UserID:           rec.UserID,
		APIKeyID:         rec.APIKeyID,
		Endpoint:         rec.Endpoint,
		Timestamp:        rec.Timestamp,
		DocumentsScanned: rec.DocumentsScanned,
		TokensUsed:       rec.TokensUsed,
		CostCents:        rec.CostCents,
		ResponseTimeMs:   rec.ResponseTimeMs,
		StatusCode:       rec.StatusCode,
	})
	if err != nil && r.logger != nil {
		r.logger.Error("usage record persist failed", zap.Error(err))
	}
}

// Stop closes the channel and waits for the drainer to flush pending
// entries, used at graceful shutdown.
func (r *Recorder) Stop() {
	close(r.ch)
	<-r.done
}
