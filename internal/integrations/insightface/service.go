package insightface

import (
	"context"
	"errors"
	"fmt"
	"image"

	"facewatch/config"
	"facewatch/internal/integrations/facerecognition"

	log "github.com/sirupsen/logrus"
)

// Service implementiert facerecognition.Detector über den InsightFace-Dienst
type Service struct {
	client    *APIClient
	threshold float64
	retrySize int
}

// NewService erstellt einen neuen InsightFace-Service
func NewService(cfg config.InsightFaceConfig) *Service {
	return &Service{
		client:    NewAPIClient(cfg),
		threshold: cfg.DetectionThreshold,
		retrySize: cfg.RetrySize,
	}
}

// IsAvailable prüft, ob der InsightFace-Dienst verfügbar ist
func (s *Service) IsAvailable(ctx context.Context) bool {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		log.WithFields(logFields).WithError(err).Warn("InsightFace not reachable")
	}
	return ok
}

// Detect erkennt Gesichter in einem Frame
func (s *Service) Detect(ctx context.Context, img image.Image) ([]facerecognition.Detection, error) {
	resp, err := s.client.detect(ctx, img, detectRequest{threshold: s.threshold})
	if err != nil {
		return nil, fmt.Errorf("fehler bei der Gesichtserkennung: %w", err)
	}

	out := make([]facerecognition.Detection, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		box, ok := toBox(f.BoundingBox)
		if !ok {
			continue
		}
		out = append(out, facerecognition.Detection{Box: box, Score: f.Confidence, Embedding: f.Embedding})
	}
	return out, nil
}

// Embed berechnet das Embedding eines Gesichtsausschnitts. Findet das Modell kein Gesicht,
// wird der Ausschnitt einmal auf retrySize×retrySize skaliert und erneut geprüft.
func (s *Service) Embed(ctx context.Context, crop image.Image) ([]float32, error) {
	emb, err := s.embedOnce(ctx, crop)
	if !errors.Is(err, facerecognition.ErrNoFace) || s.retrySize <= 0 {
		return emb, err
	}
	return s.embedOnce(ctx, facerecognition.Resize(crop, s.retrySize))
}

func (s *Service) embedOnce(ctx context.Context, img image.Image) ([]float32, error) {
	resp, err := s.client.detect(ctx, img, detectRequest{threshold: s.threshold, embedding: true})
	if err != nil {
		return nil, err
	}

	// größtes Gesicht im Ausschnitt verwenden
	var best *apiFace
	bestArea := -1
	for i := range resp.Faces {
		f := &resp.Faces[i]
		if len(f.Embedding) == 0 {
			continue
		}
		box, ok := toBox(f.BoundingBox)
		if !ok {
			continue
		}
		if area := box.Width() * box.Height(); area > bestArea {
			best, bestArea = f, area
		}
	}
	if best == nil {
		return nil, facerecognition.ErrNoFace
	}
	return best.Embedding, nil
}

func toBox(b []int) (facerecognition.BoundingBox, bool) {
	if len(b) != 4 {
		return facerecognition.BoundingBox{}, false
	}
	return facerecognition.BoundingBox{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]}, true
}
