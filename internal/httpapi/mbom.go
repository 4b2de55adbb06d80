package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apierrors "github.com/sentineldf/sentineldf/internal/errors"
	"github.com/sentineldf/sentineldf/internal/mbom"
)

type mbomSignRequest struct {
	BatchID    string `json:"batch_id" binding:"required"`
	ApprovedBy string `json:"approved_by" binding:"required"`
}

func (s *Server) handleMBOMSign(c *gin.Context) {
	var req mbomSignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierrors.Wrap(apierrors.KindInvalidInput, "malformed mbom sign request", err))
		return
	}

	batch, ok := s.batches.Get(req.BatchID)
	if !ok {
		writeError(c, apierrors.Newf(apierrors.KindInvalidInput, "unknown batch_id %q", req.BatchID))
		return
	}

	signed, err := mbom.Sign(batch, req.ApprovedBy, s.activeSecretID, s.secrets, time.Now(), func() string { return uuid.New().String() })
	if err != nil {
		writeError(c, apierrors.Wrap(apierrors.KindInternal, "failed to sign mbom", err))
		return
	}

	c.JSON(http.StatusOK, signed)
}

func (s *Server) handleMBOMVerify(c *gin.Context) {
	var m mbom.MBOM
	if err := c.ShouldBindJSON(&m); err != nil {
		writeError(c, apierrors.Wrap(apierrors.KindInvalidInput, "malformed mbom", err))
		return
	}
	result := mbom.Verify(m, s.secrets)
	c.JSON(http.StatusOK, result)
}
