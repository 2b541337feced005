package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleSnapshot liefert eine gespeicherte Snapshot-Datei
func (h *Handler) handleSnapshot(c *gin.Context) {
	f, info, err := h.snapshots.Open(c.Param("filename"))
	if err != nil {
		respondError(c, http.StatusNotFound, "snapshot_not_found")
		return
	}
	defer f.Close()

	c.Header("Cache-Control", "public, max-age=86400")
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}
