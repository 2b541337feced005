package provider

import (
	"context"
	"fmt"

	"facewatch/config"
	"facewatch/internal/integrations/compreface"
	"facewatch/internal/integrations/facerecognition"
	"facewatch/internal/integrations/insightface"

	log "github.com/sirupsen/logrus"
)

// Backend ist ein Detector, dessen Erreichbarkeit sich prüfen lässt
type Backend interface {
	facerecognition.Detector
	IsAvailable(ctx context.Context) bool
}

// CreateDetector wählt das Erkennungs-Backend anhand von recognition.backend
func CreateDetector(cfg *config.Config) (Backend, error) {
	switch cfg.Recognition.Backend {
	case "", "insightface":
		log.Infof("Using InsightFace at %s for face detection", cfg.InsightFace.URL)
		return insightface.NewService(cfg.InsightFace), nil
	case "compreface":
		log.Infof("Using CompreFace at %s for face detection", cfg.CompreFace.URL)
		return compreface.NewService(cfg.CompreFace), nil
	default:
		return nil, fmt.Errorf("unknown recognition backend %q", cfg.Recognition.Backend)
	}
}
