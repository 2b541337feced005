package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"facewatch/internal/core/models"

	"gorm.io/gorm"
)

// ErrNotFound wird zurückgegeben, wenn ein Datensatz nicht existiert
var ErrNotFound = errors.New("record not found")

// DetectionFilter schränkt die Abfrage des Erkennungsprotokolls ein
type DetectionFilter struct {
	CameraID   string
	IdentityID string
	Since      time.Time
	Limit      int
	Offset     int
}

// Repository definiert die Schnittstelle für die Datenbank-Operationen
type Repository interface {
	// Identity-Methoden
	ListIdentities(ctx context.Context) ([]models.Identity, error)
	GetIdentity(ctx context.Context, id string) (*models.Identity, error)
	CreateIdentity(ctx context.Context, identity *models.Identity) error
	DeleteIdentity(ctx context.Context, id string) error

	// Kamera-Methoden
	ListCameras(ctx context.Context) ([]models.Camera, error)
	GetCamera(ctx context.Context, id string) (*models.Camera, error)
	SaveCamera(ctx context.Context, camera *models.Camera) error
	DeleteCamera(ctx context.Context, id string) error

	// Erkennungsprotokoll
	InsertDetection(ctx context.Context, detection *models.Detection) error
	ListDetections(ctx context.Context, filter DetectionFilter) ([]models.Detection, int64, error)
	DeleteDetectionsBefore(ctx context.Context, cutoff time.Time) ([]models.Detection, error)

	// Benutzer-Methoden
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CountUsers(ctx context.Context) (int64, error)

	GetStatistics(ctx context.Context) (models.Statistics, error)
}

// GormRepository implementiert die Repository-Schnittstelle über GORM (SQLite oder PostgreSQL)
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository erstellt eine neue Repository-Instanz
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Identity-Methoden

// ListIdentities liefert alle Identitäten aufsteigend nach ID sortiert
func (r *GormRepository) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	var identities []models.Identity
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&identities).Error; err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return identities, nil
}

// GetIdentity holt eine Identität anhand ihrer ID
func (r *GormRepository) GetIdentity(ctx context.Context, id string) (*models.Identity, error) {
	var identity models.Identity
	if err := r.db.WithContext(ctx).First(&identity, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &identity, nil
}

// CreateIdentity speichert eine neue Identität
func (r *GormRepository) CreateIdentity(ctx context.Context, identity *models.Identity) error {
	return r.db.WithContext(ctx).Create(identity).Error
}

// DeleteIdentity löscht eine Identität
func (r *GormRepository) DeleteIdentity(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Identity{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Kamera-Methoden

// ListCameras liefert alle registrierten Kameras
func (r *GormRepository) ListCameras(ctx context.Context) ([]models.Camera, error) {
	var cameras []models.Camera
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&cameras).Error; err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	return cameras, nil
}

func (r *GormRepository) GetCamera(ctx context.Context, id string) (*models.Camera, error) {
	var camera models.Camera
	if err := r.db.WithContext(ctx).First(&camera, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &camera, nil
}

// SaveCamera legt eine Kamera an oder aktualisiert sie
func (r *GormRepository) SaveCamera(ctx context.Context, camera *models.Camera) error {
	return r.db.WithContext(ctx).Save(camera).Error
}

func (r *GormRepository) DeleteCamera(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Camera{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Erkennungsprotokoll

// InsertDetection schreibt einen Eintrag ins Erkennungsprotokoll
func (r *GormRepository) InsertDetection(ctx context.Context, detection *models.Detection) error {
	return r.db.WithContext(ctx).Create(detection).Error
}

// ListDetections liefert Einträge absteigend nach Zeitstempel, mit Gesamtanzahl
func (r *GormRepository) ListDetections(ctx context.Context, filter DetectionFilter) ([]models.Detection, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Detection{})
	if filter.CameraID != "" {
		query = query.Where("camera_id = ?", filter.CameraID)
	}
	if filter.IdentityID != "" {
		query = query.Where("identity_id = ?", filter.IdentityID)
	}
	if !filter.Since.IsZero() {
		query = query.Where("timestamp >= ?", filter.Since)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var detections []models.Detection
	if err := query.Order("timestamp DESC").Limit(limit).Offset(filter.Offset).Find(&detections).Error; err != nil {
		return nil, 0, err
	}
	return detections, total, nil
}

// DeleteDetectionsBefore löscht alte Einträge und liefert die gelöschten Datensätze zurück,
// damit der Aufrufer die zugehörigen Snapshots entfernen kann
func (r *GormRepository) DeleteDetectionsBefore(ctx context.Context, cutoff time.Time) ([]models.Detection, error) {
	var deleted []models.Detection
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("timestamp < ?", cutoff).Find(&deleted).Error; err != nil {
			return err
		}
		if len(deleted) == 0 {
			return nil
		}
		return tx.Where("timestamp < ?", cutoff).Delete(&models.Detection{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("delete detections before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return deleted, nil
}

// Benutzer-Methoden

func (r *GormRepository) CreateUser(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *GormRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *GormRepository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error
	return count, err
}

// GetStatistics gibt Statistiken über die gespeicherten Daten zurück
func (r *GormRepository) GetStatistics(ctx context.Context) (models.Statistics, error) {
	var stats models.Statistics
	db := r.db.WithContext(ctx)

	if err := db.Model(&models.Identity{}).Count(&stats.IdentityCount).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&models.Camera{}).Count(&stats.CameraCount).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&models.Detection{}).Count(&stats.DetectionCount).Error; err != nil {
		return stats, err
	}

	var latest models.Detection
	err := db.Order("timestamp DESC").First(&latest).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return stats, err
	}
	stats.LatestDetection = latest.Timestamp
	return stats, nil
}
