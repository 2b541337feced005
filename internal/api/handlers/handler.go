package handlers

import (
	"context"
	"image"
	"sync"

	"facewatch/config"
	"facewatch/internal/api/middleware"
	"facewatch/internal/core/models"
	"facewatch/internal/core/processor"
	"facewatch/internal/db/repository"
	"facewatch/internal/livefeed"
	"facewatch/internal/metrics"
	"facewatch/internal/server/alerts"
	"facewatch/internal/storage"
	"facewatch/internal/utils"

	"github.com/gin-gonic/gin"
)

// CameraSupervisor startet und stoppt Kamera-Worker
type CameraSupervisor interface {
	Start(camera models.Camera) (bool, error)
	Stop(cameraID string) bool
	List() []processor.WorkerStatus
}

// IdentityCache ist der im Speicher gehaltene Identitätsbestand
type IdentityCache interface {
	Refresh(ctx context.Context) error
	Len() int
}

// FaceEmbedder berechnet das Embedding des größten Gesichts eines Bildes
type FaceEmbedder interface {
	Embed(ctx context.Context, img image.Image) ([]float32, error)
}

// EmbeddingEncrypter verschlüsselt Embeddings für die Ablage in der Datenbank
type EmbeddingEncrypter interface {
	Encrypt(embedding []float32) (string, error)
}

// FrameStore liefert das jeweils letzte Livebild einer Kamera
type FrameStore interface {
	Latest(cameraID string) (livefeed.Frame, bool)
}

// Deps bündelt die Abhängigkeiten der HTTP-Handler
type Deps struct {
	Config     *config.Config
	Repo       repository.Repository
	Supervisor CameraSupervisor
	Identities IdentityCache
	Embedder   FaceEmbedder
	Cipher     EmbeddingEncrypter
	Frames     FrameStore
	Snapshots  *storage.SnapshotStore
	Hub        *alerts.Hub
	Metrics    *metrics.Metrics // optional
}

// Handler implementiert die HTTP-Schnittstelle
type Handler struct {
	cfg         *config.Config
	repo        repository.Repository
	supervisor  CameraSupervisor
	identities  IdentityCache
	embedder    FaceEmbedder
	cipher      EmbeddingEncrypter
	frames      FrameStore
	snapshots   *storage.SnapshotStore
	hub         *alerts.Hub
	metrics     *metrics.Metrics
	stats       *utils.Collector
	placeholder []byte

	closeOnce sync.Once
	done      chan struct{}
}

// NewHandler erstellt die Handler
func NewHandler(deps Deps) (*Handler, error) {
	placeholder, err := renderPlaceholder(deps.Config.Camera.JPEGQuality)
	if err != nil {
		return nil, err
	}
	var hub utils.AlertStatsProvider
	if deps.Hub != nil {
		hub = deps.Hub
	}
	return &Handler{
		cfg:         deps.Config,
		repo:        deps.Repo,
		supervisor:  deps.Supervisor,
		identities:  deps.Identities,
		embedder:    deps.Embedder,
		cipher:      deps.Cipher,
		frames:      deps.Frames,
		snapshots:   deps.Snapshots,
		hub:         deps.Hub,
		metrics:     deps.Metrics,
		stats:       utils.NewCollector(deps.Supervisor, hub, deps.Identities),
		placeholder: placeholder,
		done:        make(chan struct{}),
	}, nil
}

// Close beendet alle laufenden Streams (MJPEG, WebSocket, SSE)
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// RegisterRoutes registriert alle Routen
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	authOn := h.cfg.Auth.Enabled
	viewer := middleware.RequireRole(authOn, models.RoleViewer)
	operator := middleware.RequireRole(authOn, models.RoleOperator)
	admin := middleware.RequireRole(authOn, models.RoleAdmin)

	router.GET("/healthz", h.handleHealth)
	if h.metrics != nil && h.cfg.Metrics.Enabled {
		router.GET(h.cfg.Metrics.Path, gin.WrapH(h.metrics.Handler()))
	}

	router.GET("/stream/:camera_id", viewer, h.handleStream)
	router.GET("/snapshots/:filename", viewer, h.handleSnapshot)
	router.GET("/ws/alerts", viewer, h.handleAlertsWebSocket)
	router.GET("/events", viewer, h.handleAlertsSSE)

	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		auth.POST("/login", h.handleLogin)
		auth.POST("/logout", h.handleLogout)
		auth.POST("/register", admin, h.handleRegisterUser)
		auth.GET("/me", viewer, h.handleMe)

		api.POST("/cameras", operator, h.handleRegisterCamera)
		api.GET("/cameras", viewer, h.handleListCameras)
		api.GET("/cameras/status", viewer, h.handleCameraStatus)
		api.DELETE("/cameras/:id", operator, h.handleDeleteCamera)

		api.POST("/persons", operator, h.handleEnrollPerson)
		api.GET("/persons", viewer, h.handleListPersons)
		api.DELETE("/persons/:id", operator, h.handleDeletePerson)

		api.GET("/detections", viewer, h.handleListDetections)

		api.GET("/system/stats", viewer, h.handleSystemStats)
	}
}

// respondError antwortet mit einer übersetzten Fehlermeldung
func respondError(c *gin.Context, status int, messageID string) {
	c.AbortWithStatusJSON(status, gin.H{"error": middleware.T(c, messageID), "code": messageID})
}

func (h *Handler) translate(c *gin.Context, messageID string) string {
	return middleware.T(c, messageID)
}
