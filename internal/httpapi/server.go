// Package httpapi is the HTTP surface: request/response schemas, auth
// wiring, and error-kind-to-status-code mapping over gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sentineldf/sentineldf/internal/auth"
	"github.com/sentineldf/sentineldf/internal/mbom"
	"github.com/sentineldf/sentineldf/internal/pipeline"
	"github.com/sentineldf/sentineldf/internal/store"
	"github.com/sentineldf/sentineldf/internal/usage"
)

// Server wires the HTTP surface over the scan/analyze pipelines, the
// auth gate, the usage recorder, and the MBOM signer.
type Server struct {
	router *gin.Engine
	logger *zap.Logger

	scanPipeline    *pipeline.Pipeline
	analyzePipeline *pipeline.Pipeline
	gate            *auth.Gate
	store           *store.Store
	recorder        *usage.Recorder
	secrets         *mbom.SecretStore
	activeSecretID  string
	batches         *batchRing
}

// NewServer builds the gin.Engine and registers every route.
func NewServer(logger *zap.Logger, scanP, analyzeP *pipeline.Pipeline, gate *auth.Gate, st *store.Store, rec *usage.Recorder, secrets *mbom.SecretStore, activeSecretID string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		c.Set("logger", logger)
		c.Next()
	})

	s := &Server{
		router:          router,
		logger:          logger,
		scanPipeline:    scanP,
		analyzePipeline: analyzeP,
		gate:            gate,
		store:           st,
		recorder:        rec,
		secrets:         secrets,
		activeSecretID:  activeSecretID,
		batches:         newBatchRing(256),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	// /v1/scan and /v1/analyze authenticate inline after decoding the
	// body, because quota enforcement needs the batch size, which only
	// the handler's own JSON decode can determine. Every other endpoint
	// checks quota against a flat batch size of 1 and uses the plain
	// authenticated() wrapper.
	v1 := s.router.Group("/v1")
	v1.POST("/scan", s.handleScan)
	v1.POST("/analyze", s.handleAnalyze)
	v1.POST("/mbom", s.authenticated(s.handleMBOMSign))
	v1.POST("/mbom/verify", s.authenticated(s.handleMBOMVerify))
	v1.GET("/keys/usage", s.authenticated(s.handleKeysUsage))
	v1.POST("/keys/create", s.authenticated(s.handleKeysCreate))
	v1.GET("/keys/me", s.authenticated(s.handleKeysMe))
	v1.DELETE("/keys/:id", s.authenticated(s.handleKeysDelete))
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start runs the HTTP listener until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.logger.Info("starting HTTP surface", zap.String("address", addr))

	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP surface")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
