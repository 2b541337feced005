package compreface

import (
	"context"
	"errors"
	"fmt"
	"image"

	"facewatch/config"
	"facewatch/internal/integrations/facerecognition"

	log "github.com/sirupsen/logrus"
)

// Service implementiert facerecognition.Detector über den CompreFace-Detection-Dienst
type Service struct {
	client    *Client
	retrySize int
}

// NewService erstellt einen neuen CompreFace-Service
func NewService(cfg config.CompreFaceConfig) *Service {
	return &Service{client: NewClient(cfg), retrySize: cfg.RetrySize}
}

// IsAvailable prüft, ob CompreFace erreichbar ist
func (s *Service) IsAvailable(ctx context.Context) bool {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		log.WithError(err).Warn("CompreFace not reachable")
	}
	return ok
}

// Detect erkennt Gesichter samt Embeddings in einem Frame
func (s *Service) Detect(ctx context.Context, img image.Image) ([]facerecognition.Detection, error) {
	resp, err := s.client.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	out := make([]facerecognition.Detection, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, facerecognition.Detection{
			Box:       toBox(r.Box),
			Score:     r.Box.Probability,
			Embedding: r.Embedding,
		})
	}
	return out, nil
}

// Embed liefert das Embedding des größten Gesichts im Ausschnitt, bei ErrNoFace nach einem skalierten zweiten Versuch
func (s *Service) Embed(ctx context.Context, crop image.Image) ([]float32, error) {
	emb, err := s.embedOnce(ctx, crop)
	if !errors.Is(err, facerecognition.ErrNoFace) || s.retrySize <= 0 {
		return emb, err
	}
	return s.embedOnce(ctx, facerecognition.Resize(crop, s.retrySize))
}

func (s *Service) embedOnce(ctx context.Context, img image.Image) ([]float32, error) {
	resp, err := s.client.Detect(ctx, img)
	if err != nil {
		return nil, err
	}

	var best []float32
	bestArea := -1
	for _, r := range resp.Result {
		if len(r.Embedding) == 0 {
			continue
		}
		box := toBox(r.Box)
		if area := box.Width() * box.Height(); area > bestArea {
			best, bestArea = r.Embedding, area
		}
	}
	if best == nil {
		return nil, facerecognition.ErrNoFace
	}
	return best, nil
}

func toBox(b Box) facerecognition.BoundingBox {
	return facerecognition.BoundingBox{X1: b.XMin, Y1: b.YMin, X2: b.XMax, Y2: b.YMax}
}
