package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"facewatch/internal/core/models"
	"facewatch/internal/core/processor"
	"facewatch/internal/db/repository"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

type registerCameraRequest struct {
	ID          string                 `json:"id" binding:"required"`
	SourceURI   string                 `json:"source_uri" binding:"required"`
	DisplayName string                 `json:"display_name"`
	Location    string                 `json:"location"`
	Metadata    map[string]interface{} `json:"metadata"`
}

type cameraResponse struct {
	models.Camera
	State   string `json:"state"`
	Running bool   `json:"running"`
}

// handleRegisterCamera legt eine Kamera an (oder aktualisiert sie) und startet ihren Worker.
// Ändert sich die Quelle einer laufenden Kamera, wird der Worker neu gestartet.
func (h *Handler) handleRegisterCamera(c *gin.Context) {
	var req registerCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "camera_id_required")
		return
	}

	ctx := c.Request.Context()
	camera := models.Camera{
		ID:          req.ID,
		SourceURI:   req.SourceURI,
		DisplayName: req.DisplayName,
		Location:    req.Location,
	}
	if req.Metadata != nil {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid_request")
			return
		}
		camera.Metadata = datatypes.JSON(raw)
	}

	existing, err := h.repo.GetCamera(ctx, req.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.WithError(err).WithField("camera_id", req.ID).Error("Failed to load camera")
		respondError(c, http.StatusInternalServerError, "internal_error")
		return
	}
	if existing != nil {
		camera.CreatedAt = existing.CreatedAt
	}

	if err := h.repo.SaveCamera(ctx, &camera); err != nil {
		log.WithError(err).WithField("camera_id", req.ID).Error("Failed to save camera")
		respondError(c, http.StatusInternalServerError, "internal_error")
		return
	}

	if existing != nil && existing.SourceURI != camera.SourceURI {
		log.WithField("camera_id", camera.ID).Info("Camera source changed, restarting worker")
		h.supervisor.Stop(camera.ID)
	}

	started, err := h.supervisor.Start(camera)
	if err != nil {
		log.WithError(err).WithField("camera_id", camera.ID).Error("Failed to start camera worker")
		status := http.StatusInternalServerError
		if errors.Is(err, processor.ErrSupervisorStopped) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"error":  h.translate(c, "camera_start_failed"),
			"camera": camera,
		})
		return
	}

	log.WithFields(log.Fields{"camera_id": camera.ID, "started": started}).Info("Camera registered")
	c.JSON(http.StatusCreated, gin.H{"camera": camera, "started": started})
}

// handleListCameras liefert die Kamera-Registry samt Worker-Zustand
func (h *Handler) handleListCameras(c *gin.Context) {
	cameras, err := h.repo.ListCameras(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("Failed to list cameras")
		respondError(c, http.StatusInternalServerError, "internal_error")
		return
	}

	states := make(map[string]processor.WorkerStatus)
	for _, st := range h.supervisor.List() {
		states[st.CameraID] = st
	}

	out := make([]cameraResponse, 0, len(cameras))
	for _, cam := range cameras {
		resp := cameraResponse{Camera: cam, State: processor.StateStopped.String()}
		if st, ok := states[cam.ID]; ok {
			resp.State = st.State.String()
			resp.Running = true
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, gin.H{"cameras": out, "count": len(out)})
}

// handleCameraStatus liefert den Status aller laufenden Worker
func (h *Handler) handleCameraStatus(c *gin.Context) {
	workers := h.supervisor.List()
	c.JSON(http.StatusOK, gin.H{"workers": workers, "count": len(workers)})
}

// handleDeleteCamera stoppt den Worker und entfernt die Kamera aus der Registry
func (h *Handler) handleDeleteCamera(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if _, err := h.repo.GetCamera(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, http.StatusNotFound, "camera_not_found")
			return
		}
		respondError(c, http.StatusInternalServerError, "internal_error")
		return
	}

	stopped := h.supervisor.Stop(id)
	if err := h.repo.DeleteCamera(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.WithError(err).WithField("camera_id", id).Error("Failed to delete camera")
		respondError(c, http.StatusInternalServerError, "internal_error")
		return
	}

	log.WithField("camera_id", id).Info("Camera deleted")
	c.JSON(http.StatusOK, gin.H{"deleted": id, "stopped": stopped})
}
