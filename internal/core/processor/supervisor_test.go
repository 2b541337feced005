package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"facewatch/internal/core/models"
)

type fakeRegistry struct {
	cameras []models.Camera
	err     error
}

func (r fakeRegistry) ListCameras(ctx context.Context) ([]models.Camera, error) {
	return r.cameras, r.err
}

type factoryRecorder struct {
	mu      sync.Mutex
	calls   map[string]int
	sources map[string]*fakeSource
	fail    map[string]bool
	gate    chan struct{}
	env     *testEnv
}

func newFactoryRecorder() *factoryRecorder {
	env := newTestEnv(nil)
	env.deps.Alerts = &collectingPublisher{}
	return &factoryRecorder{
		calls:   make(map[string]int),
		sources: make(map[string]*fakeSource),
		fail:    make(map[string]bool),
		env:     env,
	}
}

func (f *factoryRecorder) factory(cam models.Camera) (*CameraWorker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[cam.ID]++
	if f.fail[cam.ID] {
		return nil, errors.New("unsupported source")
	}
	src := &fakeSource{maxFrames: 1, closeGate: f.gate}
	f.sources[cam.ID] = src
	return NewCameraWorker(cam, src, &fakeAnalyzer{}, nil, f.env.deps), nil
}

func TestStartIsIdempotent(t *testing.T) {
	rec := newFactoryRecorder()
	s := NewSupervisor(context.Background(), rec.factory)
	defer s.StopAll()

	cam := models.Camera{ID: "cam1", SourceURI: "rtsp://x"}
	started, err := s.Start(cam)
	if err != nil || !started {
		t.Fatalf("first start: %v %v", started, err)
	}
	started, err = s.Start(cam)
	if err != nil || started {
		t.Fatalf("second start must be a no-op: %v %v", started, err)
	}
	if rec.calls["cam1"] != 1 {
		t.Fatalf("factory called %d times", rec.calls["cam1"])
	}
	if len(s.List()) != 1 {
		t.Fatalf("expected exactly one worker")
	}
}

func TestStopAllWaitsForWorkers(t *testing.T) {
	rec := newFactoryRecorder()
	s := NewSupervisor(context.Background(), rec.factory)

	var stoppedIDs []string
	var mu sync.Mutex
	s.OnStop(func(id string) {
		mu.Lock()
		stoppedIDs = append(stoppedIDs, id)
		mu.Unlock()
	})

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Start(models.Camera{ID: id}); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
	}
	for _, id := range []string{"a", "b", "c"} {
		src := rec.sources[id]
		if !waitFor(time.Second, func() bool { return src.isOpen.Load() }) {
			t.Fatalf("source %s never opened", id)
		}
	}

	s.StopAll()

	for id, src := range rec.sources {
		if src.isOpen.Load() {
			t.Errorf("source %s still open after StopAll", id)
		}
	}
	if len(stoppedIDs) != 3 {
		t.Errorf("expected 3 stop callbacks, got %d", len(stoppedIDs))
	}
	if _, err := s.Start(models.Camera{ID: "d"}); !errors.Is(err, ErrSupervisorStopped) {
		t.Errorf("expected ErrSupervisorStopped, got %v", err)
	}
}

func TestStopSingleCamera(t *testing.T) {
	rec := newFactoryRecorder()
	s := NewSupervisor(context.Background(), rec.factory)
	defer s.StopAll()

	s.Start(models.Camera{ID: "a"})
	s.Start(models.Camera{ID: "b"})

	if !s.Stop("a") {
		t.Fatal("expected a to be stopped")
	}
	if s.Stop("a") {
		t.Fatal("second stop must report false")
	}
	if s.Running("a") || !s.Running("b") {
		t.Fatal("only a should be stopped")
	}

	// nach dem Stoppen kann die Kamera erneut gestartet werden
	if started, err := s.Start(models.Camera{ID: "a"}); err != nil || !started {
		t.Fatalf("restart: %v %v", started, err)
	}
}

func TestRestartWaitsForStoppingWorker(t *testing.T) {
	rec := newFactoryRecorder()
	rec.gate = make(chan struct{})
	s := NewSupervisor(context.Background(), rec.factory)
	defer s.StopAll()

	cam := models.Camera{ID: "cam1"}
	if _, err := s.Start(cam); err != nil {
		t.Fatal(err)
	}
	rec.mu.Lock()
	first := rec.sources["cam1"]
	rec.gate = nil
	rec.mu.Unlock()

	if !waitFor(2*time.Second, func() bool { return first.isOpen.Load() }) {
		t.Fatal("first worker never opened its source")
	}

	stopped := make(chan bool, 1)
	go func() { stopped <- s.Stop("cam1") }()

	// der erste Worker hängt jetzt in Close
	time.Sleep(20 * time.Millisecond)
	if s.Running("cam1") {
		t.Error("a stopping worker must not be reported as running")
	}

	restarted := make(chan bool, 1)
	go func() {
		ok, _ := s.Start(cam)
		restarted <- ok
	}()

	select {
	case <-restarted:
		t.Fatal("second worker started while the first still held its source")
	case <-time.After(50 * time.Millisecond):
	}
	rec.mu.Lock()
	calls := rec.calls["cam1"]
	rec.mu.Unlock()
	if calls != 1 {
		t.Fatalf("factory called %d times before the first worker ended", calls)
	}

	close(first.closeGate)
	if !<-stopped {
		t.Error("Stop should report the stopped worker")
	}
	select {
	case ok := <-restarted:
		if !ok {
			t.Fatal("restart after stop should start a new worker")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not resume after the previous worker ended")
	}
	if first.closes.Load() != 1 {
		t.Errorf("first source closed %d times", first.closes.Load())
	}
	if len(s.List()) != 1 {
		t.Errorf("expected exactly one worker, got %d", len(s.List()))
	}
}

func TestStartAllToleratesCameraFailures(t *testing.T) {
	rec := newFactoryRecorder()
	rec.fail["broken"] = true
	s := NewSupervisor(context.Background(), rec.factory)
	defer s.StopAll()

	n, err := s.StartAll(context.Background(), fakeRegistry{cameras: []models.Camera{{ID: "a"}, {ID: "broken"}, {ID: "c"}}})
	if err != nil {
		t.Fatalf("start all: %v", err)
	}
	if n != 2 {
		t.Fatalf("started %d cameras, want 2", n)
	}
	if !s.Running("a") || !s.Running("c") || s.Running("broken") {
		t.Fatal("unexpected running set")
	}

	if _, err := s.StartAll(context.Background(), fakeRegistry{err: errors.New("db down")}); err == nil {
		t.Fatal("expected registry error")
	}
}
