package processor

import (
	"context"
	"errors"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"facewatch/internal/core/models"
	"facewatch/internal/identity"
	"facewatch/internal/integrations/facerecognition"
	"facewatch/internal/livefeed"
	"facewatch/internal/matcher"
	"facewatch/internal/metrics"
	"facewatch/internal/server/alerts"
	"facewatch/internal/storage"

	"github.com/spf13/afero"
)

// fakeSource liefert maxFrames Frames und blockiert danach bis zum Abbruch
type fakeSource struct {
	openErr   error
	readErr   error
	maxFrames int
	onRead    func(n int)
	closeGate chan struct{} // Close blockiert, bis der Kanal geschlossen ist

	opens  atomic.Int32
	closes atomic.Int32
	reads  atomic.Int32
	isOpen atomic.Bool
}

func (s *fakeSource) Open(ctx context.Context) error {
	s.opens.Add(1)
	if s.openErr != nil {
		return s.openErr
	}
	s.isOpen.Store(true)
	return nil
}

func (s *fakeSource) Read(ctx context.Context) (*Frame, error) {
	n := int(s.reads.Add(1))
	if s.onRead != nil {
		s.onRead(n)
	}
	if s.readErr != nil {
		return nil, s.readErr
	}
	if n > s.maxFrames {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &Frame{
		Image:      image.NewRGBA(image.Rect(0, 0, 64, 64)),
		JPEG:       []byte{byte(n)},
		CapturedAt: time.Unix(1700000000, int64(n)),
	}, nil
}

func (s *fakeSource) Close() error {
	if s.closeGate != nil {
		<-s.closeGate
	}
	s.closes.Add(1)
	s.isOpen.Store(false)
	return nil
}

type fakeAnalyzer struct {
	tracks    []facerecognition.TrackedFace
	detectErr func(call int) error
	embedding []float32
	failCrop  image.Rectangle // Embed schlägt für genau diesen Ausschnitt fehl

	observes atomic.Int32
	embeds   atomic.Int32
	mu       sync.Mutex
	lastCrop image.Rectangle
}

func (a *fakeAnalyzer) Observe(ctx context.Context, frame image.Image) ([]facerecognition.TrackedFace, error) {
	n := int(a.observes.Add(1))
	if a.detectErr != nil {
		if err := a.detectErr(n); err != nil {
			return nil, err
		}
	}
	return a.tracks, nil
}

func (a *fakeAnalyzer) Embed(ctx context.Context, crop image.Image) ([]float32, error) {
	a.embeds.Add(1)
	a.mu.Lock()
	a.lastCrop = crop.Bounds()
	a.mu.Unlock()
	if !a.failCrop.Empty() && crop.Bounds() == a.failCrop {
		return nil, errBoom
	}
	return a.embedding, nil
}

type staticIdentities struct{ ids []identity.Identity }

func (s staticIdentities) Snapshot() []identity.Identity { return s.ids }
func (s staticIdentities) EnsureLoaded(context.Context)  {}

type fakeDetections struct {
	mu        sync.Mutex
	rows      []models.Detection
	err       error
	snapshots afero.Fs
	dir       string
	missing   int // Einträge ohne vorhandenen Snapshot
}

func (f *fakeDetections) InsertDetection(ctx context.Context, d *models.Detection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshots != nil {
		if ok, _ := afero.Exists(f.snapshots, f.dir+"/"+d.SnapshotPath); !ok {
			f.missing++
		}
	}
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, *d)
	return nil
}

func (f *fakeDetections) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type collectingPublisher struct {
	mu     sync.Mutex
	alerts []alerts.Alert
}

func (c *collectingPublisher) Publish(a alerts.Alert) {
	c.mu.Lock()
	c.alerts = append(c.alerts, a)
	c.mu.Unlock()
}

func (c *collectingPublisher) all() []alerts.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]alerts.Alert(nil), c.alerts...)
}

func (c *collectingPublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

// atDistance liefert einen Einheitsvektor mit Kosinus-Distanz d zu [1, 0]
func atDistance(d float64) []float32 {
	cos := 1 - d
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

type testEnv struct {
	deps       Deps
	frames     *livefeed.Buffer
	detections *fakeDetections
	fs         afero.Fs
}

func newTestEnv(ids []identity.Identity) *testEnv {
	fs := afero.NewMemMapFs()
	frames := livefeed.NewBuffer()
	dets := &fakeDetections{snapshots: fs, dir: "/snapshots"}
	return &testEnv{
		frames:     frames,
		detections: dets,
		fs:         fs,
		deps: Deps{
			Identities: staticIdentities{ids: ids},
			Matcher:    matcher.New(0.36),
			Frames:     frames,
			Detections: dets,
			Snapshots:  storage.NewSnapshotStoreFs(fs, "/snapshots", "/snapshots"),
			Metrics:    metrics.New(),
			Config: WorkerConfig{
				ReadTimeout:         time.Second,
				ReconnectBackoff:    5 * time.Millisecond,
				ReopenAfterFailures: 3,
				MinCropSize:         8,
				WriteTimeout:        time.Second,
			},
		},
	}
}

var errBoom = errors.New("boom")

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
