package cleanup

import (
	"context"
	"sync"
	"time"

	"facewatch/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// DetectionPruner löscht alte Erkennungen und liefert die gelöschten Einträge
type DetectionPruner interface {
	DeleteDetectionsBefore(ctx context.Context, cutoff time.Time) ([]models.Detection, error)
}

// SnapshotRemover entfernt Snapshot-Dateien
type SnapshotRemover interface {
	Remove(name string) error
}

// Result fasst einen Bereinigungslauf zusammen
type Result struct {
	Detections      int
	Snapshots       int
	SnapshotsFailed int
}

// Service löscht periodisch Erkennungen, die älter als die Aufbewahrungsfrist sind, samt Snapshots.
type Service struct {
	detections    DetectionPruner
	snapshots     SnapshotRemover
	retentionDays int
	checkInterval time.Duration
	now           func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewService erstellt den Bereinigungsdienst. Bei retentionDays <= 0 ist die Bereinigung deaktiviert (nil).
func NewService(detections DetectionPruner, snapshots SnapshotRemover, retentionDays int, checkInterval time.Duration) *Service {
	if retentionDays <= 0 {
		log.Info("Automatic cleanup disabled (retention_days <= 0).")
		return nil
	}
	if checkInterval <= 0 {
		checkInterval = 24 * time.Hour
	}
	log.Infof("Initializing CleanupService: RetentionDays=%d, CheckInterval=%s", retentionDays, checkInterval)
	return &Service{
		detections:    detections,
		snapshots:     snapshots,
		retentionDays: retentionDays,
		checkInterval: checkInterval,
		now:           time.Now,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// StartBackgroundCleanup führt sofort einen Lauf aus und danach in jedem Intervall
func (s *Service) StartBackgroundCleanup() {
	if s == nil {
		return
	}
	log.Info("Starting background cleanup routine...")

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.checkInterval)
		defer ticker.Stop()

		s.RunCleanupCycle(context.Background())
		for {
			select {
			case <-ticker.C:
				log.Info("Running scheduled cleanup cycle...")
				s.RunCleanupCycle(context.Background())
			case <-s.stopChan:
				log.Info("Stopping background cleanup routine.")
				return
			}
		}
	}()
}

// StopBackgroundCleanup beendet die Hintergrundroutine und wartet auf einen laufenden Zyklus
func (s *Service) StopBackgroundCleanup() {
	if s == nil {
		return
	}
	started := false
	s.stopOnce.Do(func() {
		close(s.stopChan)
		started = true
	})
	if started {
		select {
		case <-s.done:
		case <-time.After(30 * time.Second):
			log.Warn("Cleanup routine did not stop in time")
		}
	}
}

// RunCleanupCycle löscht alle Erkennungen vor dem Stichtag und anschließend ihre Snapshots.
// Fehler beim Löschen einzelner Dateien brechen den Lauf nicht ab.
func (s *Service) RunCleanupCycle(ctx context.Context) Result {
	var res Result
	if s == nil {
		return res
	}

	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	log.Infof("Cleanup: Deleting detections older than %s", cutoff.Format(time.RFC3339))

	deleted, err := s.detections.DeleteDetectionsBefore(ctx, cutoff)
	if err != nil {
		log.Errorf("Cleanup: Error deleting old detections: %v", err)
		return res
	}
	res.Detections = len(deleted)
	if len(deleted) == 0 {
		log.Info("Cleanup: No old detections found to delete.")
		return res
	}

	for _, d := range deleted {
		if d.SnapshotPath == "" {
			continue
		}
		if err := s.snapshots.Remove(d.SnapshotPath); err != nil {
			log.Warnf("Cleanup: Failed to delete snapshot '%s' for detection %d: %v", d.SnapshotPath, d.ID, err)
			res.SnapshotsFailed++
			continue
		}
		res.Snapshots++
	}

	log.Infof("Cleanup cycle finished. Detections: %d, Snapshots removed: %d, Failed: %d",
		res.Detections, res.Snapshots, res.SnapshotsFailed)
	return res
}
