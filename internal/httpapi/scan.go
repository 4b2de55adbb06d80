package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sentineldf/sentineldf/internal/auth"
	apierrors "github.com/sentineldf/sentineldf/internal/errors"
	"github.com/sentineldf/sentineldf/internal/model"
	"github.com/sentineldf/sentineldf/internal/pipeline"
	"github.com/sentineldf/sentineldf/internal/usage"
)

// scanRequest is the wire shape of the /v1/scan and /v1/analyze bodies.
type scanRequest struct {
	Docs     []docInput `json:"docs" binding:"required"`
	BatchID  string     `json:"batch_id"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

type docInput struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

type scanResponse struct {
	Results []model.ScanResult `json:"results"`
	Summary model.Summary      `json:"summary"`
}

func (s *Server) handleScan(c *gin.Context) {
	s.runBatchEndpoint(c, "/v1/scan", s.scanPipeline)
}

func (s *Server) handleAnalyze(c *gin.Context) {
	s.runBatchEndpoint(c, "/v1/analyze", s.analyzePipeline)
}

func (s *Server) runBatchEndpoint(c *gin.Context, endpoint string, p *pipeline.Pipeline) {
	start := time.Now()

	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierrors.Wrap(apierrors.KindInvalidInput, "malformed request body", err))
		return
	}

	identity, err := s.gate.Authenticate(c.Request.Context(), c.GetHeader("Authorization"), len(req.Docs))
	if err != nil {
		writeError(c, err)
		return
	}

	docs := make([]model.Document, len(req.Docs))
	for i, d := range req.Docs {
		docs[i] = model.Document{ID: d.ID, Content: d.Content, Metadata: d.Metadata}
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.New().String()
	}

	batch, err := p.RunBatch(c.Request.Context(), batchID, docs)
	if err != nil {
		statusCode := http.StatusInternalServerError
		if apiErr, ok := apierrors.As(err); ok {
			statusCode = statusForKind(apiErr.Kind)
		}
		// A rejected batch scanned zero documents, so it must not count
		// against the monthly quota; the row itself is still recorded.
		s.recordUsage(identity, endpoint, 0, start, statusCode)
		writeError(c, err)
		return
	}
	statusCode := http.StatusOK
	s.batches.Put(batch)

	results := paginate(batch.Results, req.Page, req.PageSize)

	s.recordUsage(identity, endpoint, len(req.Docs), start, statusCode)
	c.JSON(http.StatusOK, scanResponse{Results: results, Summary: batch.Summary})
}

func paginate(results []model.ScanResult, page, pageSize int) []model.ScanResult {
	if pageSize <= 0 {
		return results
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(results) {
		return []model.ScanResult{}
	}
	end := start + pageSize
	if end > len(results) {
		end = len(results)
	}
	return results[start:end]
}

func (s *Server) recordUsage(identity auth.Identity, endpoint string, docCount int, start time.Time, statusCode int) {
	elapsedMs := int(time.Since(start).Milliseconds())
	s.recorder.Record(usage.Record{
		UserID:           identity.User.ID,
		APIKeyID:         identity.APIKey.ID,
		Endpoint:         endpoint,
		Timestamp:        time.Now(),
		DocumentsScanned: docCount,
		ResponseTimeMs:   &elapsedMs,
		StatusCode:       statusCode,
	})
}
