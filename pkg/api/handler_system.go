package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/logsleuth/logsleuth/pkg/version"
)

// Health handles GET /health. It always answers 200 so load balancers keep
// routing while dependencies recover; per-dependency state is in the body.
func (s *Server) Health(c *gin.Context) {
	db := "not configured"
	if s.db != nil {
		db = "ok"
		if err := s.db.Health(c.Request.Context()); err != nil {
			db = err.Error()
		}
	}

	l2 := "not configured"
	if latency, err := s.gateway.Ping(c.Request.Context()); err == nil {
		l2 = latency.String()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"version":  version.Full(),
		"database": db,
		"cache_l2": l2,
	})
}

// CachePing handles GET /cache/ping with an L2 round-trip.
func (s *Server) CachePing(c *gin.Context) {
	latency, err := s.gateway.Ping(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "latency": latency.String()})
}

// CacheStats handles GET /cache/stats for both the LLM and log caches.
func (s *Server) CacheStats(c *gin.Context) {
	resp := gin.H{"llm": s.gateway.Stats()}
	if s.logCache != nil {
		resp["logs"] = s.logCache.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

// CacheDelete handles POST /cache/delete, evicting the given LLM cache keys
// from both tiers.
func (s *Server) CacheDelete(c *gin.Context) {
	var req struct {
		Keys []string `json:"keys" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.gateway.DeleteMany(c.Request.Context(), req.Keys); err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": len(req.Keys)})
}

// CacheClearL1 handles POST /cache/clear-l1.
func (s *Server) CacheClearL1(c *gin.Context) {
	s.gateway.ClearL1()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
