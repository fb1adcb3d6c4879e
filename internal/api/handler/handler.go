package handler

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ontimehq/shorts-pipeline/internal/api/dto"
	"github.com/ontimehq/shorts-pipeline/internal/selector"
	"github.com/ontimehq/shorts-pipeline/internal/shorts"
	"github.com/ontimehq/shorts-pipeline/internal/storage"
)

// DefaultTenant is assumed when no X-Tenant-Id header is sent.
const DefaultTenant = "ontime"

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Storage     *storage.Storage
	Queue       selector.Enqueuer
	Selector    *selector.Selector
	PublicBase  string
	SigningKey  string
	MetricsPath string
}

// JobHandler handles short-job HTTP requests.
type JobHandler struct {
	logger      *slog.Logger
	storage     *storage.Storage
	queue       selector.Enqueuer
	selector    *selector.Selector
	publicBase  string
	signingKey  string
	metricsPath string
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:      deps.Logger,
		storage:     deps.Storage,
		queue:       deps.Queue,
		selector:    deps.Selector,
		publicBase:  deps.PublicBase,
		signingKey:  deps.SigningKey,
		metricsPath: deps.MetricsPath,
	}
}

// tenantFrom resolves the request tenant from the X-Tenant-Id header or the
// tenant query parameter.
func tenantFrom(c *gin.Context) string {
	if t := c.GetHeader("X-Tenant-Id"); t != "" {
		return t
	}
	if t := c.Query("tenant"); t != "" {
		return t
	}
	return DefaultTenant
}

// jobToResponse maps a domain job onto the status-query shape.
func jobToResponse(job *shorts.Job) dto.JobResponse {
	return dto.JobResponse{
		ID:              job.ID,
		Tenant:          job.Tenant,
		Status:          job.Status,
		ContentClass:    job.ContentClass,
		LadderProfile:   job.LadderProfile,
		DurationSeconds: job.DurationSeconds,
		ReservedBytes:   job.ReservedBytes,
		UsedBytes:       job.UsedBytes,
		HLSMasterURL:    job.HLSMasterURL,
		ErrorMessage:    job.ErrorMessage,
		RetryCount:      job.RetryCount,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
	}
}

// normalizeProfile maps the public profile names onto ladder names.
func normalizeProfile(p string) (string, bool) {
	switch p {
	case "", "standard", shorts.ProfileShortsV1:
		return shorts.ProfileShortsV1, true
	case "premium", shorts.ProfileShortsPremium:
		return shorts.ProfileShortsPremium, true
	}
	return "", false
}
