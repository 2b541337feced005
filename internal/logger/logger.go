package logger

import (
	"io"
	"os"
	"path/filepath"

	"facewatch/config"

	log "github.com/sirupsen/logrus"
)

// Init konfiguriert den globalen logrus-Logger. Die zurückgegebene Funktion schließt die Logdatei.
func Init(cfg config.LogConfig) (func(), error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to 'info': %v", cfg.Level, err)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	// stdout immer, damit Container-Logs vollständig sind
	writers := []io.Writer{os.Stdout}
	closeFn := func() {}

	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(logDir, 0750); err != nil {
			log.Errorf("Failed to create log directory '%s': %v", logDir, err)
		} else {
			file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
			if err != nil {
				log.Errorf("Failed to open log file '%s': %v", cfg.File, err)
			} else {
				writers = append(writers, file)
				closeFn = func() { _ = file.Close() }
				log.Infof("Logging additionally to file: %s", cfg.File)
			}
		}
	}

	log.SetOutput(io.MultiWriter(writers...))

	log.WithField("level", level.String()).Info("Logger initialized")
	return closeFn, nil
}

// ForCamera liefert einen Logger mit Kamera-Kontext
func ForCamera(cameraID string) *log.Entry {
	return log.WithFields(log.Fields{"component": "camera", "camera_id": cameraID})
}
