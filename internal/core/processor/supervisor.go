package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"facewatch/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// ErrSupervisorStopped wird nach StopAll von Start zurückgegeben
var ErrSupervisorStopped = errors.New("supervisor stopped")

// WorkerFactory baut einen Worker samt eigener Quelle und eigenem Tracker
type WorkerFactory func(camera models.Camera) (*CameraWorker, error)

// CameraLister ist die Kamera-Registry aus Sicht des Supervisors
type CameraLister interface {
	ListCameras(ctx context.Context) ([]models.Camera, error)
}

type workerHandle struct {
	worker *CameraWorker
	cancel context.CancelFunc
	done   chan struct{}
	// stopping bleibt gesetzt, bis der Worker beendet und aus der Map entfernt ist
	stopping bool
}

// Supervisor verwaltet genau einen Worker pro aktiver Kamera
type Supervisor struct {
	ctx     context.Context
	factory WorkerFactory

	mu      sync.Mutex
	workers map[string]*workerHandle
	stopped bool

	onStop func(cameraID string)
}

// NewSupervisor erstellt einen Supervisor. Worker laufen, bis ctx endet oder Stop/StopAll gerufen wird.
func NewSupervisor(ctx context.Context, factory WorkerFactory) *Supervisor {
	return &Supervisor{
		ctx:     ctx,
		factory: factory,
		workers: make(map[string]*workerHandle),
	}
}

// OnStop registriert einen Callback nach dem Beenden eines Workers (z.B. Livebild entfernen)
func (s *Supervisor) OnStop(fn func(cameraID string)) {
	s.onStop = fn
}

// Start startet den Worker einer Kamera. Läuft bereits einer, passiert nichts (started=false).
// Wird gerade ein Worker derselben Kamera gestoppt, wartet Start auf dessen Ende.
func (s *Supervisor) Start(camera models.Camera) (bool, error) {
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return false, ErrSupervisorStopped
		}
		h, ok := s.workers[camera.ID]
		if !ok {
			break
		}
		if !h.stopping {
			s.mu.Unlock()
			return false, nil
		}
		s.mu.Unlock()
		<-h.done
	}
	defer s.mu.Unlock()

	worker, err := s.factory(camera)
	if err != nil {
		return false, fmt.Errorf("create worker for camera %s: %w", camera.ID, err)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	h := &workerHandle{worker: worker, cancel: cancel, done: make(chan struct{})}
	s.workers[camera.ID] = h

	go func() {
		defer close(h.done)
		worker.Run(ctx)

		s.mu.Lock()
		if s.workers[camera.ID] == h {
			delete(s.workers, camera.ID)
		}
		s.mu.Unlock()
	}()

	log.WithField("camera_id", camera.ID).Infof("Started camera worker for %s", camera.Name())
	return true, nil
}

// Stop beendet den Worker einer Kamera und wartet auf sein Ende. Läuft der Stopp
// bereits an anderer Stelle, wird nur gewartet (false).
func (s *Supervisor) Stop(cameraID string) bool {
	s.mu.Lock()
	h, ok := s.workers[cameraID]
	first := ok && !h.stopping
	if first {
		h.stopping = true
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	h.cancel()
	<-h.done
	if first {
		s.afterStop(cameraID)
	}
	return first
}

// StopAll beendet alle Worker und wartet, bis jeder seine Quelle geschlossen hat
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	s.stopped = true
	handles := make(map[string]*workerHandle)
	var pending []*workerHandle // Worker, die Stop gerade beendet
	for id, h := range s.workers {
		if h.stopping {
			pending = append(pending, h)
			continue
		}
		h.stopping = true
		handles[id] = h
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for id, h := range handles {
		<-h.done
		s.afterStop(id)
	}
	for _, h := range pending {
		<-h.done
	}
	log.Infof("Stopped %d camera workers", len(handles))
}

func (s *Supervisor) afterStop(cameraID string) {
	log.WithField("camera_id", cameraID).Info("Camera worker stopped")
	if s.onStop != nil {
		s.onStop(cameraID)
	}
}

// StartAll lädt die Kamera-Registry und startet alle Kameras. Fehler einzelner Kameras
// werden protokolliert; nur ein Fehler beim Laden der Registry wird zurückgegeben.
func (s *Supervisor) StartAll(ctx context.Context, registry CameraLister) (int, error) {
	cameras, err := registry.ListCameras(ctx)
	if err != nil {
		return 0, fmt.Errorf("load camera registry: %w", err)
	}

	started := 0
	for _, cam := range cameras {
		ok, err := s.Start(cam)
		if err != nil {
			log.WithError(err).WithField("camera_id", cam.ID).Error("Failed to start camera")
			continue
		}
		if ok {
			started++
		}
	}
	log.Infof("Started %d of %d registered cameras", started, len(cameras))
	return started, nil
}

// Running meldet, ob für die Kamera ein Worker läuft
func (s *Supervisor) Running(cameraID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.workers[cameraID]
	return ok && !h.stopping
}

// List liefert den Status aller Worker, sortiert nach Kamera-ID
func (s *Supervisor) List() []WorkerStatus {
	s.mu.Lock()
	out := make([]WorkerStatus, 0, len(s.workers))
	for _, h := range s.workers {
		out = append(out, h.worker.Status())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}
