package processor

import (
	"context"
	"encoding/json"
	"image"
	"image/draw"
	"sync/atomic"
	"time"

	"facewatch/config"
	"facewatch/internal/core/models"
	"facewatch/internal/identity"
	"facewatch/internal/integrations/facerecognition"
	"facewatch/internal/logger"
	"facewatch/internal/matcher"
	"facewatch/internal/metrics"
	"facewatch/internal/server/alerts"
	"facewatch/internal/storage"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// State ist der Lebenszyklus-Zustand eines Kamera-Workers
type State int32

const (
	StateStarting State = iota
	StateStreaming
	StateRecovering
	StateStopped
)

var stateNames = []string{"starting", "streaming", "recovering", "stopped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText liefert den Namen für JSON-Ausgaben
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FaceAnalyzer liefert getrackte Gesichter und Embeddings
type FaceAnalyzer interface {
	Observe(ctx context.Context, frame image.Image) ([]facerecognition.TrackedFace, error)
	Embed(ctx context.Context, crop image.Image) ([]float32, error)
}

// IdentitySource ist der Identitäts-Cache aus Sicht des Workers
type IdentitySource interface {
	Snapshot() []identity.Identity
	EnsureLoaded(ctx context.Context)
}

// FrameSink nimmt den jeweils neuesten Frame für Livestreams entgegen
type FrameSink interface {
	Set(cameraID string, data []byte)
}

// AlertPublisher stellt Alarme zu, ohne zu blockieren
type AlertPublisher interface {
	Publish(alert alerts.Alert)
}

// DetectionStore ist das Erkennungsprotokoll
type DetectionStore interface {
	InsertDetection(ctx context.Context, detection *models.Detection) error
}

// SnapshotWriter speichert Beweisbilder
type SnapshotWriter interface {
	Write(name string, data []byte) (string, error)
	URL(name string) string
}

// WorkerConfig enthält die Laufzeitparameter eines Workers
type WorkerConfig struct {
	ReadTimeout         time.Duration
	ReconnectBackoff    time.Duration
	ReopenAfterFailures int
	MinCropSize         int
	DetectEveryNFrames  int
	WriteTimeout        time.Duration
	JPEGQuality         int
}

// NewWorkerConfig übernimmt die Werte aus der Anwendungskonfiguration
func NewWorkerConfig(cfg *config.Config) WorkerConfig {
	return WorkerConfig{
		ReadTimeout:         cfg.Camera.ReadTimeout,
		ReconnectBackoff:    cfg.Camera.ReconnectBackoff,
		ReopenAfterFailures: cfg.Camera.ReopenAfterFailures,
		MinCropSize:         cfg.Recognition.MinCropSize,
		DetectEveryNFrames:  cfg.Recognition.DetectEveryNFrames,
		WriteTimeout:        cfg.Storage.WriteTimeout,
		JPEGQuality:         cfg.Camera.JPEGQuality,
	}
}

func (c *WorkerConfig) applyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = time.Second
	}
	if c.MinCropSize <= 0 {
		c.MinCropSize = 8
	}
	if c.DetectEveryNFrames <= 0 {
		c.DetectEveryNFrames = 1
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// Deps sind die von allen Workern geteilten Komponenten
type Deps struct {
	Identities IdentitySource
	Matcher    matcher.Matcher
	Frames     FrameSink
	Alerts     AlertPublisher
	Detections DetectionStore
	Snapshots  SnapshotWriter
	Metrics    *metrics.Metrics
	Config     WorkerConfig
}

// CameraWorker verarbeitet den Videostrom genau einer Kamera
type CameraWorker struct {
	camera   models.Camera
	source   FrameSource
	analyzer FaceAnalyzer
	policy   AlertPolicy
	deps     Deps
	cfg      WorkerConfig
	logger   *log.Entry

	state       atomic.Int32
	framesRead  atomic.Uint64
	matches     atomic.Uint64
	lastFrameAt atomic.Int64

	opened   bool
	failures int
	now      func() time.Time
}

// NewCameraWorker erstellt einen Worker; source, analyzer und policy gehören exklusiv diesem Worker
func NewCameraWorker(camera models.Camera, source FrameSource, analyzer FaceAnalyzer, policy AlertPolicy, deps Deps) *CameraWorker {
	cfg := deps.Config
	cfg.applyDefaults()
	if policy == nil {
		policy = EveryMatch{}
	}
	w := &CameraWorker{
		camera:   camera,
		source:   source,
		analyzer: analyzer,
		policy:   policy,
		deps:     deps,
		cfg:      cfg,
		logger:   logger.ForCamera(camera.ID),
		now:      time.Now,
	}
	w.state.Store(int32(StateStarting))
	return w
}

// Camera liefert die Kamera des Workers
func (w *CameraWorker) Camera() models.Camera { return w.camera }

// State liefert den aktuellen Zustand
func (w *CameraWorker) State() State { return State(w.state.Load()) }

func (w *CameraWorker) setState(s State) {
	prev := State(w.state.Swap(int32(s)))
	if prev != s {
		w.logger.Infof("Camera worker %s -> %s", prev, s)
	}
	if w.deps.Metrics != nil {
		w.deps.Metrics.SetWorkerState(w.camera.ID, s.String(), stateNames)
	}
}

// Run betreibt die Zustandsmaschine, bis ctx beendet wird. Die Quelle ist danach geschlossen.
func (w *CameraWorker) Run(ctx context.Context) {
	defer w.shutdown()

	w.setState(StateStarting)
	w.deps.Identities.EnsureLoaded(ctx)

	if !w.open(ctx) {
		w.setState(StateRecovering)
	}

	for {
		if ctx.Err() != nil {
			return
		}

		if w.State() == StateRecovering {
			if !sleepCtx(ctx, w.cfg.ReconnectBackoff) {
				return
			}
			if !w.opened && !w.open(ctx) {
				continue
			}
		}

		frame, err := w.read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.readFailed(err)
			continue
		}

		w.failures = 0
		w.setState(StateStreaming)
		w.processFrame(ctx, frame)
	}
}

func (w *CameraWorker) open(ctx context.Context) bool {
	if err := w.source.Open(ctx); err != nil {
		if ctx.Err() == nil {
			w.logger.WithError(err).Warn("Failed to open camera source")
			w.countReadError()
		}
		return false
	}
	w.opened = true
	w.logger.WithField("source", w.camera.SourceURI).Info("Camera source opened")
	return true
}

func (w *CameraWorker) read(ctx context.Context) (*Frame, error) {
	rctx, cancel := context.WithTimeout(ctx, w.cfg.ReadTimeout)
	defer cancel()
	return w.source.Read(rctx)
}

func (w *CameraWorker) readFailed(err error) {
	w.failures++
	w.countReadError()
	w.logger.WithError(err).WithField("failures", w.failures).Warn("Frame read failed")
	w.setState(StateRecovering)

	if w.cfg.ReopenAfterFailures > 0 && w.failures%w.cfg.ReopenAfterFailures == 0 && w.opened {
		w.logger.Info("Reopening camera source after repeated failures")
		if err := w.source.Close(); err != nil {
			w.logger.WithError(err).Debug("Closing camera source failed")
		}
		w.opened = false
	}
}

func (w *CameraWorker) countReadError() {
	if w.deps.Metrics != nil {
		w.deps.Metrics.ReadErrors.WithLabelValues(w.camera.ID).Inc()
	}
}

func (w *CameraWorker) shutdown() {
	if w.opened {
		if err := w.source.Close(); err != nil {
			w.logger.WithError(err).Warn("Failed to close camera source")
		}
		w.opened = false
	}
	w.setState(StateStopped)
}

// processFrame führt die Erkennung für einen Frame aus. Fehler einzelner Schritte überspringen
// nur den betroffenen Track oder Frame.
func (w *CameraWorker) processFrame(ctx context.Context, frame *Frame) {
	start := time.Now()
	n := w.framesRead.Add(1)
	w.lastFrameAt.Store(w.now().UnixNano())

	if frame.JPEG == nil {
		data, err := encodeJPEG(frame.Image, w.cfg.JPEGQuality)
		if err != nil {
			w.logger.WithError(err).Warn("Failed to encode frame")
			return
		}
		frame.JPEG = data
	}
	w.deps.Frames.Set(w.camera.ID, frame.JPEG)

	m := w.deps.Metrics
	if m != nil {
		m.FramesRead.WithLabelValues(w.camera.ID).Inc()
		defer func() { m.FrameDuration.WithLabelValues(w.camera.ID).Observe(time.Since(start).Seconds()) }()
	}

	if (n-1)%uint64(w.cfg.DetectEveryNFrames) != 0 {
		return
	}

	tracks, err := w.analyzer.Observe(ctx, frame.Image)
	if err != nil {
		w.logger.WithError(err).Warn("Face detection failed, skipping frame")
		if m != nil {
			m.DetectErrors.WithLabelValues(w.camera.ID).Inc()
		}
		return
	}

	bounds := frame.Image.Bounds()
	for _, tf := range tracks {
		if ctx.Err() != nil {
			return
		}
		if !tf.Confirmed {
			continue
		}

		box := tf.Box
		box.X1, box.X2 = box.X1-bounds.Min.X, box.X2-bounds.Min.X
		box.Y1, box.Y2 = box.Y1-bounds.Min.Y, box.Y2-bounds.Min.Y
		box, ok := box.Clamp(bounds.Dx(), bounds.Dy(), w.cfg.MinCropSize)
		if !ok {
			continue
		}

		crop := cropImage(frame.Image, box.Rect().Add(bounds.Min))
		embedding, err := w.analyzer.Embed(ctx, crop)
		if err != nil {
			w.logger.WithError(err).WithField("track_id", tf.TrackID).Debug("Embedding failed, skipping track")
			if m != nil {
				m.EmbedErrors.WithLabelValues(w.camera.ID).Inc()
			}
			continue
		}

		result, ok := w.deps.Matcher.Match(embedding, w.deps.Identities.Snapshot())
		if !ok {
			continue
		}

		ts := frame.CapturedAt
		if ts.IsZero() {
			ts = w.now()
		}
		if !w.policy.Allow(result.Identity.ID, tf.TrackID, ts) {
			if m != nil {
				m.Suppressed.WithLabelValues(w.camera.ID).Inc()
			}
			continue
		}

		w.raise(ctx, frame, tf.TrackID, box, result, ts)
	}
}

// raise speichert Snapshot und Protokolleintrag (in dieser Reihenfolge) und meldet den Alarm
func (w *CameraWorker) raise(ctx context.Context, frame *Frame, trackID string, box facerecognition.BoundingBox, result matcher.Result, ts time.Time) {
	w.matches.Add(1)
	if w.deps.Metrics != nil {
		w.deps.Metrics.Matches.WithLabelValues(w.camera.ID).Inc()
	}

	fields := log.Fields{"track_id": trackID, "person_id": result.Identity.ID, "distance": result.Distance}
	w.logger.WithFields(fields).Infof("Recognized %s", result.Identity.Name)

	// Der laufende Frame wird auch beim Stoppen noch vollständig gespeichert
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.WriteTimeout)
	defer cancel()

	xywh := box.XYWH()
	snapshot := ""
	name, err := w.deps.Snapshots.Write(storage.SnapshotName(w.camera.ID, ts, trackID), frame.JPEG)
	if err != nil {
		w.logger.WithError(err).WithFields(fields).Error("Failed to write snapshot, detection not logged")
		w.countPersistError("snapshot")
	} else {
		snapshot = name
		bbox, _ := json.Marshal(xywh)
		raw, _ := json.Marshal(map[string]any{"bbox": xywh, "track_id": trackID, "camera": w.camera.Name()})
		det := &models.Detection{
			IdentityID:   result.Identity.ID,
			CameraID:     w.camera.ID,
			Timestamp:    ts.UTC(),
			Confidence:   result.Distance,
			SnapshotPath: name,
			BoundingBox:  datatypes.JSON(bbox),
			TrackID:      trackID,
			RawMetadata:  datatypes.JSON(raw),
		}
		if err := w.deps.Detections.InsertDetection(pctx, det); err != nil {
			w.logger.WithError(err).WithFields(fields).Error("Failed to insert detection log entry")
			w.countPersistError("log")
		}
	}

	w.deps.Alerts.Publish(alerts.Alert{
		CameraID:   w.camera.ID,
		Timestamp:  ts.UTC(),
		Person:     alerts.Person{ID: result.Identity.ID, Name: result.Identity.Name},
		Confidence: result.Distance,
		Snapshot:   w.deps.Snapshots.URL(snapshot),
		TrackID:    trackID,
		BBox:       xywh,
	})
}

func (w *CameraWorker) countPersistError(kind string) {
	if w.deps.Metrics != nil {
		w.deps.Metrics.PersistErrors.WithLabelValues(w.camera.ID, kind).Inc()
	}
}

// WorkerStatus beschreibt einen Worker für die API
type WorkerStatus struct {
	CameraID    string    `json:"camera_id"`
	Name        string    `json:"name"`
	State       State     `json:"state"`
	FramesRead  uint64    `json:"frames_read"`
	Matches     uint64    `json:"matches"`
	LastFrameAt time.Time `json:"last_frame_at"`
}

// Status liefert eine Momentaufnahme der Zähler
func (w *CameraWorker) Status() WorkerStatus {
	st := WorkerStatus{
		CameraID:   w.camera.ID,
		Name:       w.camera.Name(),
		State:      w.State(),
		FramesRead: w.framesRead.Load(),
		Matches:    w.matches.Load(),
	}
	if ns := w.lastFrameAt.Load(); ns != 0 {
		st.LastFrameAt = time.Unix(0, ns).UTC()
	}
	return st
}

func cropImage(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
