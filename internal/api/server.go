package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketlens/internal/cache"
	"marketlens/internal/jobs"
	"marketlens/internal/logger"
	"marketlens/internal/types"
)

// Server exposes the job-query surface over HTTP: start an analysis, poll a
// job, read a cached dataset.
type Server struct {
	orch  *jobs.Orchestrator
	cache *cache.Cache
}

// New creates the API server over its collaborators.
func New(orch *jobs.Orchestrator, c *cache.Cache) *Server {
	return &Server{orch: orch, cache: c}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/analysis/:symbol", s.startAnalysis)
		api.GET("/jobs/:id", s.getJob)
		api.GET("/cache/:symbol/:dataType", s.getCached)
	}
	return r
}

// Run serves until the listener fails or the process exits.
func (s *Server) Run(addr string) error {
	return s.Router().Run(addr)
}

// startAnalysis is idempotent: repeated calls inside the dedupe window return
// the same job.
func (s *Server) startAnalysis(c *gin.Context) {
	symbol := c.Param("symbol")

	job, err := s.orch.StartOrReuse(c.Request.Context(), symbol)
	if err != nil {
		logger.ErrorWithErr(c.Request.Context(), "Failed to start analysis", err, "symbol", symbol)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":   job.ID,
		"symbol":   job.Symbol,
		"status":   job.Status,
		"phase":    job.Phase,
		"progress": job.Progress,
	})
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.orch.GetJobStatus(c.Request.Context(), c.Param("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"job_id":   job.ID,
		"symbol":   job.Symbol,
		"status":   job.Status,
		"phase":    job.Phase,
		"progress": job.Progress,
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	if job.Verdict != "" {
		resp["verdict"] = json.RawMessage(job.Verdict)
	}
	if job.CompletedAt != nil {
		resp["completed_at"] = job.CompletedAt
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getCached(c *gin.Context) {
	symbol := c.Param("symbol")
	dataType := types.DataType(c.Param("dataType"))

	entry, err := s.cache.Get(c.Request.Context(), symbol, dataType)
	if errors.Is(err, cache.ErrMiss) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no live entry for key"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":        entry.Symbol,
		"data_type":     entry.DataType,
		"quality_score": entry.QualityScore,
		"created_at":    entry.CreatedAt,
		"expires_at":    entry.ExpiresAt,
		"payload":       json.RawMessage(entry.Payload),
	})
}

