package models

import (
	"time"

	"gorm.io/datatypes"
)

// Rollen der Benutzerkonten
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Identity repräsentiert eine bekannte Person mit verschlüsseltem Referenz-Embedding
type Identity struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Name      string         `gorm:"index;not null" json:"name"`
	Metadata  datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	Embedding string         `gorm:"type:text;not null" json:"-"` // base64(nonce||ciphertext)
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Camera repräsentiert eine registrierte Videoquelle
type Camera struct {
	ID          string         `gorm:"primaryKey;size:128" json:"id"`
	SourceURI   string         `gorm:"not null" json:"source_uri"`
	DisplayName string         `json:"display_name"`
	Location    string         `json:"location,omitempty"`
	Metadata    datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Name liefert den Anzeigenamen oder die ID
func (c Camera) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.ID
}

// Detection ist ein unveränderlicher Eintrag im Erkennungsprotokoll
type Detection struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	IdentityID   string         `gorm:"index;not null;size:36" json:"person_id"`
	CameraID     string         `gorm:"index;not null;size:128" json:"camera_id"`
	Timestamp    time.Time      `gorm:"index" json:"timestamp"`
	Confidence   float64        `json:"confidence"` // Kosinus-Distanz des besten Treffers
	SnapshotPath string         `json:"snapshot_path"`
	BoundingBox  datatypes.JSON `gorm:"type:json" json:"bbox"` // [x, y, w, h]
	TrackID      string         `gorm:"index" json:"track_id"`
	RawMetadata  datatypes.JSON `gorm:"type:json" json:"raw_metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// User repräsentiert ein Benutzerkonto der Bedienoberfläche
type User struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Email          string    `gorm:"uniqueIndex;not null" json:"email"`
	HashedPassword string    `gorm:"not null" json:"-"`
	Role           string    `gorm:"not null;default:viewer" json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// Statistics fasst den Datenbestand zusammen
type Statistics struct {
	IdentityCount   int64     `json:"identity_count"`
	CameraCount     int64     `json:"camera_count"`
	DetectionCount  int64     `json:"detection_count"`
	LatestDetection time.Time `json:"latest_detection"`
}
