package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sentineldf/sentineldf/internal/auth"
	apierrors "github.com/sentineldf/sentineldf/internal/errors"
)

const identityContextKey = "sentineldf.identity"

// authenticated wraps a handler with the auth gate, checking quota
// against a flat batch size of 1. That is correct for every endpoint
// except /v1/scan and /v1/analyze, which authenticate inline once they
// know the real document count (see handleScan/handleAnalyze). The gate
// only checks quota; usage is consumed by the usage rows that scan and
// analyze record.
func (s *Server) authenticated(next gin.HandlerFunc) gin.HandlerFunc {
	return s.authenticatedForSize(next, 1)
}

// authenticatedForSize runs the gate with an explicit quota-check size,
// then calls next with the resolved auth.Identity stashed in the context.
func (s *Server) authenticatedForSize(next gin.HandlerFunc, size int) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := s.gate.Authenticate(c.Request.Context(), c.GetHeader("Authorization"), size)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(identityContextKey, identity)
		next(c)
	}
}

func identityFromContext(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityContextKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := v.(auth.Identity)
	return identity, ok
}

// writeError maps an *errors.APIError (or any error) to the wire error
// shape and its status code.
func writeError(c *gin.Context, err error) {
	apiErr, ok := apierrors.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"code": apierrors.KindInternal, "message": err.Error()})
		return
	}

	status := statusForKind(apiErr.Kind)
	if apiErr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(apiErr.RetryAfter))
	}
	c.JSON(status, gin.H{"code": apiErr.Kind, "message": apiErr.Detail})
}

func statusForKind(kind apierrors.Kind) int {
	switch kind {
	case apierrors.KindInvalidInput:
		return http.StatusBadRequest
	case apierrors.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case apierrors.KindUnauthenticated:
		return http.StatusUnauthorized
	case apierrors.KindForbidden:
		return http.StatusForbidden
	case apierrors.KindQuotaExceeded, apierrors.KindRateLimited:
		return http.StatusTooManyRequests
	case apierrors.KindBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
