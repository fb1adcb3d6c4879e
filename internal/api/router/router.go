package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ontimehq/shorts-pipeline/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "shorts-api-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		shorts := v1.Group("/shorts")
		{
			// POST /api/v1/shorts/import - Ingest one source URL
			shorts.POST("/import", jobHandler.ImportShort)

			// POST /api/v1/shorts/import/recent - Run the selector over the catalog
			shorts.POST("/import/recent", jobHandler.BatchImportRecent)

			// GET /api/v1/shorts/ready - Playable feed
			shorts.GET("/ready", jobHandler.ListReady)

			// GET /api/v1/shorts/metrics - Capacity and status snapshot
			shorts.GET("/metrics", jobHandler.Metrics)

			jobs := shorts.Group("/jobs")
			{
				// GET /api/v1/shorts/jobs - List jobs with filtering and pagination
				jobs.GET("", jobHandler.ListJobs)

				// GET /api/v1/shorts/jobs/:job_id - Get job details
				jobs.GET("/:job_id", jobHandler.GetJob)

				// POST /api/v1/shorts/jobs/:job_id/retry - Re-queue a failed job
				jobs.POST("/:job_id/retry", jobHandler.RetryJob)

				// GET /api/v1/shorts/jobs/:job_id/preview - Master playlist URL
				jobs.GET("/:job_id/preview", jobHandler.Preview)
			}
		}
	}

	return r
}
