package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config repräsentiert die Hauptkonfiguration der Anwendung
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	DB          DBConfig          `mapstructure:"db"`
	Security    SecurityConfig    `mapstructure:"security"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	InsightFace InsightFaceConfig `mapstructure:"insightface"`
	CompreFace  CompreFaceConfig  `mapstructure:"compreface"`
	Tracker     TrackerConfig     `mapstructure:"tracker"`
	Camera      CameraConfig      `mapstructure:"camera"`
	Stream      StreamConfig      `mapstructure:"stream"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	Storage     StorageConfig     `mapstructure:"storage"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Cleanup     CleanupConfig     `mapstructure:"cleanup"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig enthält Server-bezogene Einstellungen
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	DataDir         string        `mapstructure:"data_dir"`
	SnapshotDir     string        `mapstructure:"snapshot_dir"`
	SnapshotURL     string        `mapstructure:"snapshot_url"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownGrace   time.Duration `mapstructure:"shutdown_grace"`
	DefaultLanguage string        `mapstructure:"default_language"` // Sprache der API-Fehlermeldungen (de, en)
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig enthält Datenbankeinstellungen
type DBConfig struct {
	Driver   string `mapstructure:"driver"`   // "sqlite" oder "postgres"
	File     string `mapstructure:"file"`     // für SQLite
	Username string `mapstructure:"username"` // für PostgreSQL
	Password string `mapstructure:"password"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// SecurityConfig enthält den Schlüssel für die Verschlüsselung gespeicherter Embeddings
type SecurityConfig struct {
	EmbeddingKey string `mapstructure:"embedding_key"` // base64, 32 Byte
}

// AuthConfig steuert Sitzungen und Benutzerkonten
type AuthConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	SessionSecret string `mapstructure:"session_secret"`
	AdminEmail    string `mapstructure:"admin_email"`
	AdminPassword string `mapstructure:"admin_password"`
}

// RecognitionConfig enthält die Parameter des Abgleichs
type RecognitionConfig struct {
	// insightface oder compreface
	Backend                 string        `mapstructure:"backend"`
	SimilarityThreshold     float64       `mapstructure:"similarity_threshold"` // maximale Kosinus-Distanz
	IdentityRefreshInterval time.Duration `mapstructure:"identity_refresh_interval"`
	MinCropSize             int           `mapstructure:"min_crop_size"`
	DetectEveryNFrames      int           `mapstructure:"detect_every_n_frames"`
}

// InsightFaceConfig enthält die Einstellungen für den InsightFace-Dienst
type InsightFaceConfig struct {
	URL                string        `mapstructure:"url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	DetectionThreshold float64       `mapstructure:"detection_threshold"`
	RetrySize          int           `mapstructure:"retry_size"`
}

// CompreFaceConfig enthält die Einstellungen für den CompreFace-Detection-Dienst
type CompreFaceConfig struct {
	URL              string        `mapstructure:"url"`
	DetectionAPIKey  string        `mapstructure:"detection_api_key"`
	Timeout          time.Duration `mapstructure:"timeout"`
	DetProbThreshold float64       `mapstructure:"det_prob_threshold"`
	RetrySize        int           `mapstructure:"retry_size"`
}

// TrackerConfig enthält die Parameter des IoU-Trackers
type TrackerConfig struct {
	MaxAge       int     `mapstructure:"max_age"`
	NInit        int     `mapstructure:"n_init"`
	IOUThreshold float64 `mapstructure:"iou_threshold"`
}

// CameraConfig enthält die Einstellungen der Kamera-Worker
type CameraConfig struct {
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	ReconnectBackoff    time.Duration `mapstructure:"reconnect_backoff"`
	ReopenAfterFailures int           `mapstructure:"reopen_after_failures"`
	JPEGQuality         int           `mapstructure:"jpeg_quality"`
	SnapshotInterval    time.Duration `mapstructure:"snapshot_interval"` // Abfrageintervall für HTTP-Snapshot-Quellen
}

// StreamConfig enthält die Einstellungen für MJPEG-Livestreams
type StreamConfig struct {
	FPS                int           `mapstructure:"fps"`
	PlaceholderTimeout time.Duration `mapstructure:"placeholder_timeout"`
}

// AlertsConfig enthält die Einstellungen für Alarme
type AlertsConfig struct {
	Policy           string        `mapstructure:"policy"` // every_match, once_per_track, cooldown
	Cooldown         time.Duration `mapstructure:"cooldown"`
	TrackTTL         time.Duration `mapstructure:"track_ttl"` // once_per_track vergisst Tracks danach
	QueueSize        int           `mapstructure:"queue_size"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
}

// StorageConfig enthält Einstellungen für Snapshots und Erkennungsprotokoll
type StorageConfig struct {
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MQTTConfig enthält die Konfiguration für den MQTT-Client
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

// CleanupConfig enthält Bereinigungseinstellungen
type CleanupConfig struct {
	RetentionDays int           `mapstructure:"retention_days"`
	Interval      time.Duration `mapstructure:"interval"`
}

// MetricsConfig steuert den Prometheus-Endpunkt
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Addr liefert die Listen-Adresse des HTTP-Servers
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load lädt die Konfiguration aus Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration
	v.SetEnvPrefix("FACEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// Validate prüft Werte, die sich nicht über Standardwerte absichern lassen
func (c *Config) Validate() error {
	if c.Recognition.SimilarityThreshold < 0 || c.Recognition.SimilarityThreshold > 2 {
		return fmt.Errorf("recognition.similarity_threshold must be within [0, 2], got %v", c.Recognition.SimilarityThreshold)
	}
	switch c.Recognition.Backend {
	case "insightface":
	case "compreface":
		if c.CompreFace.DetectionAPIKey == "" {
			return fmt.Errorf("compreface.detection_api_key is required for the compreface backend")
		}
	default:
		return fmt.Errorf("unknown recognition.backend %q", c.Recognition.Backend)
	}
	switch c.Alerts.Policy {
	case "every_match", "once_per_track", "cooldown":
	default:
		return fmt.Errorf("unknown alerts.policy %q", c.Alerts.Policy)
	}
	if c.Alerts.Policy == "once_per_track" && c.Alerts.TrackTTL <= 0 {
		return fmt.Errorf("alerts.track_ttl must be positive for policy once_per_track")
	}
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}
	if c.Stream.FPS <= 0 {
		return fmt.Errorf("stream.fps must be positive")
	}
	return nil
}

// setDefaults legt Standardwerte für die Konfiguration fest
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.snapshot_dir", "/data/snapshots")
	v.SetDefault("server.snapshot_url", "/snapshots")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_grace", 10*time.Second)
	v.SetDefault("server.default_language", "en")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/facewatch.log")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.file", "/data/facewatch.db")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.admin_email", "admin@localhost")

	// Erkennung
	v.SetDefault("recognition.backend", "insightface")
	v.SetDefault("recognition.similarity_threshold", 0.36)
	v.SetDefault("recognition.identity_refresh_interval", 60*time.Second)
	v.SetDefault("recognition.min_crop_size", 8)
	v.SetDefault("recognition.detect_every_n_frames", 1)

	v.SetDefault("insightface.url", "http://localhost:18081")
	v.SetDefault("insightface.timeout", 10*time.Second)
	v.SetDefault("insightface.detection_threshold", 0.5)
	v.SetDefault("insightface.retry_size", 160)

	v.SetDefault("compreface.url", "http://localhost:8000")
	v.SetDefault("compreface.timeout", 10*time.Second)
	v.SetDefault("compreface.det_prob_threshold", 0.8)
	v.SetDefault("compreface.retry_size", 160)

	v.SetDefault("tracker.max_age", 30)
	v.SetDefault("tracker.n_init", 1)
	v.SetDefault("tracker.iou_threshold", 0.3)

	v.SetDefault("camera.read_timeout", 10*time.Second)
	v.SetDefault("camera.reconnect_backoff", time.Second)
	v.SetDefault("camera.reopen_after_failures", 10)
	v.SetDefault("camera.jpeg_quality", 85)
	v.SetDefault("camera.snapshot_interval", 500*time.Millisecond)

	v.SetDefault("stream.fps", 25)
	v.SetDefault("stream.placeholder_timeout", 5*time.Second)

	v.SetDefault("alerts.policy", "every_match")
	v.SetDefault("alerts.cooldown", 30*time.Second)
	v.SetDefault("alerts.track_ttl", 10*time.Minute)
	v.SetDefault("alerts.queue_size", 256)
	v.SetDefault("alerts.subscriber_buffer", 32)

	v.SetDefault("storage.write_timeout", 5*time.Second)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "facewatch")
	v.SetDefault("mqtt.topic", "facewatch/alerts")

	v.SetDefault("cleanup.retention_days", 30)
	v.SetDefault("cleanup.interval", 24*time.Hour)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// ensureDirectories stellt sicher, dass alle erforderlichen Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if err := os.MkdirAll(cfg.Server.SnapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	// Datenbank-Verzeichnis (nur SQLite)
	if cfg.DB.Driver == "sqlite" && cfg.DB.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.File), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
