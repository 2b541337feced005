package handlers

import (
	"encoding/json"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"facewatch/internal/core/models"
	"facewatch/internal/db/repository"
	"facewatch/internal/integrations/facerecognition"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"
	"gorm.io/datatypes"
)

const maxEnrollmentImage = 10 << 20

// handleEnrollPerson registriert eine Person anhand eines Referenzbildes.
// Formularfelder: name, metadata (JSON, optional), image (Datei).
func (h *Handler) handleEnrollPerson(c *gin.Context) {
	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		respondError(c, http.StatusBadRequest, "person_name_required")
		return
	}

	var metadata datatypes.JSON
	if raw := strings.TrimSpace(c.PostForm("metadata")); raw != "" {
		if !json.Valid([]byte(raw)) {
			respondError(c, http.StatusBadRequest, "invalid_request")
			return
		}
		metadata = datatypes.JSON(raw)
	}

	header, err := c.FormFile("image")
	if err != nil {
		respondError(c, http.StatusBadRequest, "image_required")
		return
	}
	if header.Size > maxEnrollmentImage {
		respondError(c, http.StatusRequestEntityTooLarge, "image_invalid")
		return
	}
	file, err := header.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "image_required")
		return
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		log.WithError(err).Debug("Rejected enrollment image")
		respondError(c, http.StatusBadRequest, "image_invalid")
		return
	}

	ctx := c.Request.Context()
	embedding, err := h.embedder.Embed(ctx, img)
	if err != nil {
		if errors.Is(err, facerecognition.ErrNoFace) {
			respondError(c, http.StatusUnprocessableEntity, "no_face")
			return
		}
		log.WithError(err).Error("Failed to compute enrollment embedding")
		respondError(c, http.StatusBadGateway, "embedding_failed")
		return
	}

	encrypted, err := h.cipher.Encrypt(embedding)
	if err != nil {
		log.WithError(err).Error("Failed to encrypt embedding")
		respondError(c, http.StatusInternalServerError, "internal_error")
		return
	}

	identity := models.Identity{
		ID:        uuid.NewString(),
		Name:      name,
		Metadata:  metadata,
		Embedding: encrypted,
	}
	if err := h.repo.CreateIdentity(ctx, &identity); err != nil {
		log.WithError(err).Error("Failed to store identity")
		respondError(c, http.StatusInternalServerError, "internal_error")
		return
	}

	// neue Identität sofort für den Abgleich verfügbar machen
	if err := h.identities.Refresh(ctx); err != nil {
		log.WithError(err).Warn("Identity cache refresh after enrollment failed")
	}

	log.WithFields(log.Fields{"person_id": identity.ID, "name": name, "format": format}).Info("Person enrolled")
	c.JSON(http.StatusCreated, gin.H{"person": identity, "embedding_size": len(embedding)})
}

// handleListPersons liefert alle registrierten Personen (ohne Embeddings)
func (h *Handler) handleListPersons(c *gin.Context) {
	identities, err := h.repo.ListIdentities(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("Failed to list persons")
		respondError(c, http.StatusInternalServerError, "internal_error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"persons": identities, "count": len(identities)})
}

// handleDeletePerson entfernt eine Person; ihr Protokoll bleibt erhalten
func (h *Handler) handleDeletePerson(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if err := h.repo.DeleteIdentity(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, http.StatusNotFound, "person_not_found")
			return
		}
		log.WithError(err).WithField("person_id", id).Error("Failed to delete person")
		respondError(c, http.StatusInternalServerError, "internal_error")
		return
	}

	if err := h.identities.Refresh(ctx); err != nil {
		log.WithError(err).Warn("Identity cache refresh after delete failed")
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
