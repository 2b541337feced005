package processor

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"facewatch/internal/core/models"
	"facewatch/internal/identity"
	"facewatch/internal/integrations/facerecognition"
	"facewatch/internal/server/alerts"
	"facewatch/internal/storage"

	"github.com/spf13/afero"
)

var testCamera = models.Camera{ID: "cam1", SourceURI: "rtsp://test", DisplayName: "Front"}

var registry = []identity.Identity{
	{ID: "p1", Name: "Alice", Embedding: atDistance(0.5)},
	{ID: "p2", Name: "Bob", Embedding: atDistance(0.2)},
}

func confirmedTrack(id string, x1, y1, x2, y2 int) facerecognition.TrackedFace {
	return facerecognition.TrackedFace{
		TrackID:   id,
		Box:       facerecognition.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
		Confirmed: true,
	}
}

func runWorker(t *testing.T, w *CameraWorker) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
}

func TestWorkerStaysRecoveringUntilStopped(t *testing.T) {
	env := newTestEnv(registry)
	env.deps.Alerts = &collectingPublisher{}
	src := &fakeSource{openErr: errBoom}
	w := NewCameraWorker(testCamera, src, &fakeAnalyzer{}, nil, env.deps)

	stop := runWorker(t, w)
	if !waitFor(time.Second, func() bool { return src.opens.Load() >= 3 }) {
		t.Fatalf("expected repeated open attempts, got %d", src.opens.Load())
	}
	if st := w.State(); st != StateRecovering {
		t.Fatalf("state = %s, want recovering", st)
	}
	stop()

	if st := w.State(); st != StateStopped {
		t.Fatalf("state after stop = %s", st)
	}
	if src.closes.Load() != 0 {
		t.Error("never-opened source must not be closed")
	}
}

func TestWorkerReopensAfterRepeatedReadFailures(t *testing.T) {
	env := newTestEnv(registry)
	env.deps.Alerts = &collectingPublisher{}
	src := &fakeSource{readErr: errBoom}
	w := NewCameraWorker(testCamera, src, &fakeAnalyzer{}, nil, env.deps)

	stop := runWorker(t, w)
	if !waitFor(2*time.Second, func() bool { return src.opens.Load() >= 2 }) {
		t.Fatalf("expected reopen after failures, opens=%d reads=%d", src.opens.Load(), src.reads.Load())
	}
	stop()

	if src.isOpen.Load() {
		t.Fatal("source must be closed after stop")
	}
	if w.State() != StateStopped {
		t.Fatalf("state = %s", w.State())
	}
}

func TestEveryFrameReachesLiveBufferBeforeNextRead(t *testing.T) {
	env := newTestEnv(registry)
	env.deps.Alerts = &collectingPublisher{}

	var violations atomic.Int32
	src := &fakeSource{maxFrames: 5}
	src.onRead = func(n int) {
		if n == 1 || n > 6 {
			return
		}
		data, ok := env.frames.Get(testCamera.ID)
		if !ok || len(data) != 1 || int(data[0]) != n-1 {
			violations.Add(1)
		}
	}
	w := NewCameraWorker(testCamera, src, &fakeAnalyzer{}, nil, env.deps)

	stop := runWorker(t, w)
	if !waitFor(time.Second, func() bool { return src.reads.Load() >= 6 }) {
		t.Fatalf("expected 6 reads, got %d", src.reads.Load())
	}
	if w.State() != StateStreaming {
		t.Errorf("state = %s, want streaming", w.State())
	}
	stop()

	if violations.Load() != 0 {
		t.Fatalf("%d frames were not in the live buffer before the next read", violations.Load())
	}
	if st := w.Status(); st.FramesRead != 5 {
		t.Errorf("frames read = %d", st.FramesRead)
	}
}

// Ein bestätigter Track, passende Identität: genau ein Protokolleintrag, ein Snapshot
// und ein Alarm, der alle Abonnenten erreicht.
func TestRecognizedTrackProducesOneRecordSnapshotAndAlert(t *testing.T) {
	env := newTestEnv(registry)
	hub := alerts.NewHub(16, 4)
	env.deps.Alerts = hub
	subA, subB := hub.Subscribe(), hub.Subscribe()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	analyzer := &fakeAnalyzer{
		tracks:    []facerecognition.TrackedFace{confirmedTrack("7", 10, 10, 40, 40)},
		embedding: []float32{1, 0},
	}
	src := &fakeSource{maxFrames: 1}
	w := NewCameraWorker(testCamera, src, analyzer, nil, env.deps)
	stop := runWorker(t, w)

	var got []alerts.Alert
	for _, sub := range []*alerts.Subscription{subA, subB} {
		select {
		case msg := <-sub.C():
			got = append(got, msg.Alert)
		case <-time.After(2 * time.Second):
			t.Fatal("alert not delivered to every subscriber")
		}
	}
	stop()

	if env.detections.count() != 1 {
		t.Fatalf("expected 1 detection record, got %d", env.detections.count())
	}
	if env.detections.missing != 0 {
		t.Fatal("detection record written before its snapshot")
	}
	rec := env.detections.rows[0]
	if rec.IdentityID != "p2" || rec.TrackID != "7" || rec.CameraID != "cam1" {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.Confidence < 0.199 || rec.Confidence > 0.201 {
		t.Errorf("confidence = %v, want 0.2", rec.Confidence)
	}

	files, _ := afero.ReadDir(env.fs, "/snapshots")
	if len(files) != 1 || files[0].Name() != rec.SnapshotPath {
		t.Fatalf("expected exactly the recorded snapshot, have %d files", len(files))
	}

	for _, a := range got {
		if a.Person.ID != "p2" || a.Person.Name != "Bob" || a.TrackID != "7" {
			t.Errorf("unexpected alert %+v", a)
		}
		if a.Snapshot != "/snapshots/"+rec.SnapshotPath {
			t.Errorf("alert snapshot = %s", a.Snapshot)
		}
		if a.BBox != [4]int{10, 10, 30, 30} {
			t.Errorf("bbox = %v", a.BBox)
		}
	}
}

func TestSmallAndUnconfirmedTracksSkipEmbedding(t *testing.T) {
	env := newTestEnv(registry)
	pub := &collectingPublisher{}
	env.deps.Alerts = pub

	unconfirmed := confirmedTrack("2", 10, 10, 40, 40)
	unconfirmed.Confirmed = false
	analyzer := &fakeAnalyzer{
		tracks: []facerecognition.TrackedFace{
			confirmedTrack("1", 10, 10, 15, 40), // 5px breit
			unconfirmed,
			confirmedTrack("3", 60, 60, 90, 90), // nach Clamp 3px
		},
		embedding: []float32{1, 0},
	}
	src := &fakeSource{maxFrames: 3}
	w := NewCameraWorker(testCamera, src, analyzer, nil, env.deps)
	stop := runWorker(t, w)
	waitFor(time.Second, func() bool { return src.reads.Load() >= 4 })
	stop()

	if analyzer.embeds.Load() != 0 {
		t.Fatalf("embed called %d times", analyzer.embeds.Load())
	}
	if pub.count() != 0 || env.detections.count() != 0 {
		t.Fatal("no alert or record expected")
	}
}

func TestEmbedFailureSkipsOnlyThatTrack(t *testing.T) {
	env := newTestEnv(registry)
	pub := &collectingPublisher{}
	env.deps.Alerts = pub

	analyzer := &fakeAnalyzer{
		tracks: []facerecognition.TrackedFace{
			confirmedTrack("1", 0, 0, 20, 20),
			confirmedTrack("2", 30, 30, 60, 60),
		},
		embedding: []float32{1, 0},
		failCrop:  image.Rect(0, 0, 20, 20),
	}
	src := &fakeSource{maxFrames: 1}
	w := NewCameraWorker(testCamera, src, analyzer, nil, env.deps)
	stop := runWorker(t, w)
	waitFor(time.Second, func() bool { return pub.count() >= 1 })
	stop()

	all := pub.all()
	if len(all) != 1 || all[0].TrackID != "2" {
		t.Fatalf("expected a single alert for track 2, got %+v", all)
	}
}

func TestDetectionFailureSkipsFrameOnly(t *testing.T) {
	env := newTestEnv(registry)
	pub := &collectingPublisher{}
	env.deps.Alerts = pub

	analyzer := &fakeAnalyzer{
		tracks:    []facerecognition.TrackedFace{confirmedTrack("1", 10, 10, 40, 40)},
		embedding: []float32{1, 0},
		detectErr: func(call int) error {
			if call == 1 {
				return errBoom
			}
			return nil
		},
	}
	src := &fakeSource{maxFrames: 2}
	w := NewCameraWorker(testCamera, src, analyzer, nil, env.deps)
	stop := runWorker(t, w)
	waitFor(time.Second, func() bool { return pub.count() >= 1 })
	stop()

	if pub.count() != 1 {
		t.Fatalf("expected one alert from the second frame, got %d", pub.count())
	}
	if w.State() != StateStopped {
		t.Fatalf("state = %s", w.State())
	}
}

func TestPersistenceFailuresStillPublish(t *testing.T) {
	t.Run("log write fails", func(t *testing.T) {
		env := newTestEnv(registry)
		pub := &collectingPublisher{}
		env.deps.Alerts = pub
		env.detections.err = errors.New("store down")

		analyzer := &fakeAnalyzer{tracks: []facerecognition.TrackedFace{confirmedTrack("1", 10, 10, 40, 40)}, embedding: []float32{1, 0}}
		w := NewCameraWorker(testCamera, &fakeSource{maxFrames: 1}, analyzer, nil, env.deps)
		stop := runWorker(t, w)
		ok := waitFor(time.Second, func() bool { return pub.count() == 1 })
		stop()
		if !ok {
			t.Fatal("alert must be published despite log failure")
		}
	})

	t.Run("snapshot write fails", func(t *testing.T) {
		env := newTestEnv(registry)
		pub := &collectingPublisher{}
		env.deps.Alerts = pub
		env.deps.Snapshots = storage.NewSnapshotStoreFs(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/snapshots", "/snapshots")

		analyzer := &fakeAnalyzer{tracks: []facerecognition.TrackedFace{confirmedTrack("1", 10, 10, 40, 40)}, embedding: []float32{1, 0}}
		w := NewCameraWorker(testCamera, &fakeSource{maxFrames: 1}, analyzer, nil, env.deps)
		stop := runWorker(t, w)
		ok := waitFor(time.Second, func() bool { return pub.count() == 1 })
		stop()
		if !ok {
			t.Fatal("alert must be published despite snapshot failure")
		}
		if env.detections.count() != 0 {
			t.Fatal("no log entry may exist without its snapshot")
		}
		if pub.all()[0].Snapshot != "" {
			t.Errorf("alert must not reference a missing snapshot")
		}
	})
}

func TestAlertPolicySuppressesRepeats(t *testing.T) {
	env := newTestEnv(registry)
	pub := &collectingPublisher{}
	env.deps.Alerts = pub

	analyzer := &fakeAnalyzer{tracks: []facerecognition.TrackedFace{confirmedTrack("1", 10, 10, 40, 40)}, embedding: []float32{1, 0}}
	src := &fakeSource{maxFrames: 4}
	w := NewCameraWorker(testCamera, src, analyzer, NewOncePerTrack(time.Minute), env.deps)
	stop := runWorker(t, w)
	waitFor(time.Second, func() bool { return src.reads.Load() >= 5 })
	stop()

	if pub.count() != 1 || env.detections.count() != 1 {
		t.Fatalf("expected one alert and one record, got %d and %d", pub.count(), env.detections.count())
	}
}

func TestNoMatchNoAlert(t *testing.T) {
	env := newTestEnv([]identity.Identity{
		{ID: "p1", Embedding: atDistance(0.9)},
		{ID: "p2", Embedding: atDistance(0.5)},
	})
	pub := &collectingPublisher{}
	env.deps.Alerts = pub

	analyzer := &fakeAnalyzer{tracks: []facerecognition.TrackedFace{confirmedTrack("1", 10, 10, 40, 40)}, embedding: []float32{1, 0}}
	src := &fakeSource{maxFrames: 2}
	w := NewCameraWorker(testCamera, src, analyzer, nil, env.deps)
	stop := runWorker(t, w)
	waitFor(time.Second, func() bool { return src.reads.Load() >= 3 })
	stop()

	if analyzer.embeds.Load() != 2 {
		t.Errorf("expected one embed per frame, got %d", analyzer.embeds.Load())
	}
	if pub.count() != 0 {
		t.Fatalf("expected no alerts, got %d", pub.count())
	}
}
