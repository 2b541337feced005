package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// handleSystemStats liefert Prozess-, Worker- und Datenbestandsstatistiken
func (h *Handler) handleSystemStats(c *gin.Context) {
	stats := h.stats.Collect()

	counts, err := h.repo.GetStatistics(c.Request.Context())
	if err != nil {
		log.WithError(err).Warn("Failed to load database statistics")
	}

	c.JSON(http.StatusOK, gin.H{
		"system":   stats,
		"database": counts,
	})
}

// handleHealth meldet die Betriebsbereitschaft
func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"identities": h.identities.Len(),
		"workers":    len(h.supervisor.List()),
	})
}
