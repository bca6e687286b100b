// Package api exposes the HTTP surface: session creation and SSE streaming,
// the one-shot analysis endpoint, artifact downloads, health and cache
// administration.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/logsleuth/logsleuth/pkg/configstore"
	"github.com/logsleuth/logsleuth/pkg/database"
	"github.com/logsleuth/logsleuth/pkg/llmcache"
	"github.com/logsleuth/logsleuth/pkg/logcache"
	"github.com/logsleuth/logsleuth/pkg/pipeline"
	"github.com/logsleuth/logsleuth/pkg/session"
)

// Server holds the HTTP handlers' collaborators.
type Server struct {
	// baseCtx parents every session so runs survive the request that
	// created them. Cancelling it stops all in-flight pipelines.
	baseCtx context.Context

	registry *session.Registry
	orch     *pipeline.Orchestrator
	store    *configstore.Store
	gateway  *llmcache.Gateway
	logCache *logcache.Cache
	db       *database.Client // nil when the database is not configured

	analysisDir string
}

// NewServer creates the API server. db and logCache may be nil.
func NewServer(
	baseCtx context.Context,
	registry *session.Registry,
	orch *pipeline.Orchestrator,
	store *configstore.Store,
	gateway *llmcache.Gateway,
	logCache *logcache.Cache,
	db *database.Client,
	analysisDir string,
) *Server {
	return &Server{
		baseCtx:     baseCtx,
		registry:    registry,
		orch:        orch,
		store:       store,
		gateway:     gateway,
		logCache:    logCache,
		db:          db,
		analysisDir: analysisDir,
	}
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.POST("/api/chat", s.CreateChat)
	r.GET("/api/chat/stream/:session_id", s.StreamChat)
	r.POST("/stream-analysis", s.StreamAnalysis)
	r.GET("/download", s.Download)
	r.GET("/download/", s.Download)

	r.GET("/health", s.Health)
	r.GET("/cache/ping", s.CachePing)
	r.GET("/cache/stats", s.CacheStats)
	r.POST("/cache/delete", s.CacheDelete)
	r.POST("/cache/clear-l1", s.CacheClearL1)

	return r
}

// errorResponse is the uniform JSON error body.
func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// abort helpers keep handler bodies short.
func badRequest(c *gin.Context, message string) {
	errorResponse(c, http.StatusBadRequest, message)
}
