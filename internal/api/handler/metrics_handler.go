package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/ontimehq/shorts-pipeline/internal/metrics"
	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

// Metrics handles GET /api/v1/shorts/metrics
// Serves the last snapshot the worker wrote, plus the tenant's latest ready
// short so dashboards can link straight to playable output.
func (h *JobHandler) Metrics(c *gin.Context) {
	tenant := tenantFrom(c)

	var snapshot *metrics.Snapshot
	data, err := os.ReadFile(h.metricsPath)
	if err == nil {
		var s metrics.Snapshot
		if jsonErr := json.Unmarshal(data, &s); jsonErr != nil {
			h.logger.Warn("Corrupt metrics snapshot", slog.String("error", jsonErr.Error()))
		} else {
			snapshot = &s
		}
	} else if !os.IsNotExist(err) {
		h.logger.Warn("Failed to read metrics snapshot", slog.String("error", err.Error()))
	}

	resp := gin.H{
		"snapshot": snapshot,
	}

	latest, err := h.storage.LatestReady(c.Request.Context(), tenant)
	if err == nil {
		resp["latest_ready"] = gin.H{
			"job_id":         latest.ID,
			"hls_master_url": latest.HLSMasterURL,
			"updated_at":     latest.UpdatedAt,
		}
	} else if !errors.Is(err, shorts.ErrJobNotFound) {
		h.logger.Warn("Failed to look up latest ready short", slog.String("error", err.Error()))
	}

	c.JSON(http.StatusOK, resp)
}
