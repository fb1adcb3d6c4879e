package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ontimehq/shorts-pipeline/internal/api/dto"
	"github.com/ontimehq/shorts-pipeline/internal/selector"
	"github.com/ontimehq/shorts-pipeline/internal/shorts"
	"github.com/ontimehq/shorts-pipeline/internal/storage"
)

// ImportShort handles POST /api/v1/shorts/import
// Creates an ingestion job for a source URL, deduplicating against existing
// ready or in-flight jobs for the same video under the tenant.
func (h *JobHandler) ImportShort(c *gin.Context) {
	tenant := tenantFrom(c)

	var req dto.CreateShortJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	profile, ok := normalizeProfile(req.LadderProfile)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "ladder_profile must be standard or premium",
		})
		return
	}

	class := req.ContentClass
	if class == "" {
		class = shorts.ClassNormal
	}
	if !shorts.ValidClass(class) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid content_class",
		})
		return
	}

	videoID := shorts.VideoIDFromURL(req.SourceURL)
	existing, err := h.storage.FindExisting(c.Request.Context(), tenant, videoID, req.SourceURL)
	if err == nil {
		status := http.StatusOK
		if existing.Status != shorts.StatusReady {
			status = http.StatusAccepted
		}
		c.JSON(status, dto.CreateShortJobResponse{
			JobID:   existing.ID,
			Status:  existing.Status,
			Deduped: true,
		})
		return
	}
	if !errors.Is(err, shorts.ErrJobNotFound) {
		h.logger.Error("Dedupe lookup failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	job := &shorts.Job{
		ID:            uuid.New().String(),
		Tenant:        tenant,
		SourceURL:     req.SourceURL,
		Status:        shorts.StatusQueued,
		ContentClass:  class,
		LadderProfile: profile,
	}
	if err := h.storage.CreateJob(c.Request.Context(), job); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	if err := h.queue.EnqueueJob(c.Request.Context(), job.ID); err != nil {
		// Job stays queued; a later batch run or operator retry re-enqueues.
		h.logger.Error("Job created but enqueue failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	c.JSON(http.StatusAccepted, dto.CreateShortJobResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

// GetJob handles GET /api/v1/shorts/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.storage.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, shorts.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

// ListJobs handles GET /api/v1/shorts/jobs
// Lists the tenant's jobs with optional status filter and cursor pagination.
func (h *JobHandler) ListJobs(c *gin.Context) {
	tenant := tenantFrom(c)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}
	if req.Status != "" && !shorts.ValidStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid status filter",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.storage.ListJobs(c.Request.Context(), storage.JobFilter{
		Tenant:   tenant,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	out := make([]dto.JobResponse, len(jobs))
	for i := range jobs {
		out[i] = jobToResponse(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor, err = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       out,
		NextCursor: nextCursor,
	})
}

// RetryJob handles POST /api/v1/shorts/jobs/:job_id/retry
// Re-queues a failed job, clearing its error and bumping retry_count.
func (h *JobHandler) RetryJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.storage.RetryJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, shorts.ErrJobNotClaimable) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Only failed jobs can be retried",
			})
			return
		}
		h.logger.Error("Failed to retry job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retry job",
		})
		return
	}

	if err := h.queue.EnqueueJob(c.Request.Context(), job.ID); err != nil {
		h.logger.Error("Retry enqueue failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// BatchImportRecent handles POST /api/v1/shorts/import/recent
// Runs the selector over the tenant's recent catalog videos.
func (h *JobHandler) BatchImportRecent(c *gin.Context) {
	tenant := tenantFrom(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	fair := c.Query("fair") == "1" || c.Query("fair") == "true"

	results, err := h.selector.EnqueueRecent(c.Request.Context(), tenant, selector.Options{
		Limit: limit,
		Fair:  fair,
	})
	if err != nil {
		h.logger.Error("Batch import failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to import recent shorts",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(results),
		"results": results,
	})
}

// ListReady handles GET /api/v1/shorts/ready
// The playable feed: latest ready jobs with absolute HLS URLs.
func (h *JobHandler) ListReady(c *gin.Context) {
	tenant := tenantFrom(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	jobs, err := h.storage.ListReady(c.Request.Context(), tenant, limit)
	if err != nil {
		h.logger.Error("Failed to list ready shorts", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list ready shorts",
		})
		return
	}

	out := make([]dto.ReadyShortResponse, len(jobs))
	for i, job := range jobs {
		out[i] = dto.ReadyShortResponse{
			JobID:        job.ID,
			HLSMasterURL: job.HLSMasterURL,
			AbsoluteHLS:  h.publicBase + job.HLSMasterURL,
			UsedBytes:    job.UsedBytes,
			UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(out),
		"results": out,
	})
}

// Preview handles GET /api/v1/shorts/jobs/:job_id/preview
// Returns the master playlist URL for a ready job, optionally signed.
func (h *JobHandler) Preview(c *gin.Context) {
	tenant := tenantFrom(c)
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.storage.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, shorts.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}
	if job.Tenant != tenant {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Wrong tenant",
		})
		return
	}
	if job.Status != shorts.StatusReady || job.HLSMasterURL == "" {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Not ready",
		})
		return
	}

	resp := dto.PreviewResponse{URL: job.HLSMasterURL}
	if c.Query("signed") == "1" || c.Query("signed") == "true" {
		resp.SignedURL = SignURL(h.signingKey, job.HLSMasterURL, time.Now().Add(10*time.Minute))
	}
	c.JSON(http.StatusOK, resp)
}
