package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sentineldf/sentineldf/internal/auth"
	apierrors "github.com/sentineldf/sentineldf/internal/errors"
)

type keyCreateRequest struct {
	Name string `json:"name"`
}

type keyCreateResponse struct {
	ID        string `json:"id"`
	Key       string `json:"key"` // shown exactly once
	KeyPrefix string `json:"key_prefix"`
	Name      string `json:"name"`
}

func (s *Server) handleKeysCreate(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		writeError(c, apierrors.New(apierrors.KindInternal, "identity missing from context"))
		return
	}

	var req keyCreateRequest
	_ = c.ShouldBindJSON(&req) // name is optional

	plaintext, hash, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		writeError(c, apierrors.Wrap(apierrors.KindInternal, "key generation failed", err))
		return
	}

	id, err := s.store.CreateAPIKey(c.Request.Context(), identity.User.ID, hash, prefix, req.Name)
	if err != nil {
		writeError(c, apierrors.Wrap(apierrors.KindInternal, "failed to persist api key", err))
		return
	}

	c.JSON(http.StatusOK, keyCreateResponse{ID: id.String(), Key: plaintext, KeyPrefix: prefix, Name: req.Name})
}

type keyMeResponse struct {
	ID         string     `json:"id"`
	KeyPrefix  string     `json:"key_prefix"`
	Name       string     `json:"name"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func (s *Server) handleKeysMe(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		writeError(c, apierrors.New(apierrors.KindInternal, "identity missing from context"))
		return
	}
	k := identity.APIKey
	c.JSON(http.StatusOK, keyMeResponse{
		ID: k.ID.String(), KeyPrefix: k.KeyPrefix, Name: k.Name,
		IsActive: k.IsActive, CreatedAt: k.CreatedAt, LastUsedAt: k.LastUsedAt,
	})
}

func (s *Server) handleKeysDelete(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		writeError(c, apierrors.New(apierrors.KindInternal, "identity missing from context"))
		return
	}

	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, apierrors.New(apierrors.KindInvalidInput, "malformed key id"))
		return
	}

	// Ownership enforced in the store layer: a key may only be revoked
	// by the user that owns it.
	if err := s.store.DeactivateAPIKey(c.Request.Context(), keyID, identity.User.ID); err != nil {
		writeError(c, apierrors.Wrap(apierrors.KindForbidden, "key not found for this user", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

type usageResponse struct {
	DocumentsScannedThisMonth int `json:"documents_scanned_this_month"`
	MonthlyQuota              int `json:"monthly_quota"`
}

func (s *Server) handleKeysUsage(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		writeError(c, apierrors.New(apierrors.KindInternal, "identity missing from context"))
		return
	}

	used, err := s.store.DocumentsScannedThisMonth(c.Request.Context(), identity.User.ID, time.Now())
	if err != nil {
		writeError(c, apierrors.Wrap(apierrors.KindInternal, "usage lookup failed", err))
		return
	}

	c.JSON(http.StatusOK, usageResponse{
		DocumentsScannedThisMonth: used,
		MonthlyQuota:              identity.User.MonthlyQuota,
	})
}
