package handlers

import (
	"net/http"
	"strconv"
	"time"

	"facewatch/internal/core/models"
	"facewatch/internal/db/repository"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const maxDetectionLimit = 1000

type detectionResponse struct {
	models.Detection
	SnapshotURL string `json:"snapshot_url,omitempty"`
}

// handleListDetections liefert das Erkennungsprotokoll, neueste zuerst.
// Filter: camera_id, person_id, since (RFC3339), limit, offset.
func (h *Handler) handleListDetections(c *gin.Context) {
	filter := repository.DetectionFilter{
		CameraID:   c.Query("camera_id"),
		IdentityID: c.Query("person_id"),
		Limit:      100,
	}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "invalid_request")
			return
		}
		if n > maxDetectionLimit {
			n = maxDetectionLimit
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(c, http.StatusBadRequest, "invalid_request")
			return
		}
		filter.Offset = n
	}
	if v := c.Query("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid_request")
			return
		}
		filter.Since = ts
	}

	rows, total, err := h.repo.ListDetections(c.Request.Context(), filter)
	if err != nil {
		log.WithError(err).Error("Failed to list detections")
		respondError(c, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]detectionResponse, 0, len(rows))
	for _, d := range rows {
		resp := detectionResponse{Detection: d}
		if d.SnapshotPath != "" {
			resp.SnapshotURL = h.snapshots.URL(d.SnapshotPath)
		}
		out = append(out, resp)
	}

	c.JSON(http.StatusOK, gin.H{
		"detections": out,
		"total":      total,
		"limit":      filter.Limit,
		"offset":     filter.Offset,
	})
}
