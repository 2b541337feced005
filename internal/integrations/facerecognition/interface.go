package facerecognition

import (
	"context"
	"errors"
	"image"
)

// ErrNoFace wird von Embed zurückgegeben, wenn im Ausschnitt kein Gesicht gefunden wurde
var ErrNoFace = errors.New("no face found")

// BoundingBox enthält die Koordinaten eines Gesichts im Bild (x1, y1, x2, y2)
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width liefert x2 - x1
func (b BoundingBox) Width() int { return b.X2 - b.X1 }

// Height liefert y2 - y1
func (b BoundingBox) Height() int { return b.Y2 - b.Y1 }

// Rect wandelt die Box in ein image.Rectangle um
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// XYWH liefert [x, y, w, h] für das Erkennungsprotokoll
func (b BoundingBox) XYWH() [4]int {
	return [4]int{b.X1, b.Y1, b.Width(), b.Height()}
}

// Clamp begrenzt die Box auf [0, 0, w-1, h-1]. ok ist false, wenn Breite oder Höhe danach kleiner als minSize ist.
func (b BoundingBox) Clamp(w, h, minSize int) (BoundingBox, bool) {
	c := BoundingBox{
		X1: max(0, b.X1),
		Y1: max(0, b.Y1),
		X2: min(w-1, b.X2),
		Y2: min(h-1, b.Y2),
	}
	if c.Width() < minSize || c.Height() < minSize {
		return c, false
	}
	return c, true
}

// Detection ist ein erkanntes Gesicht; Embedding ist optional
type Detection struct {
	Box       BoundingBox `json:"bbox"`
	Score     float64     `json:"score"`
	Embedding []float32   `json:"embedding,omitempty"`
}

// TrackedFace ist eine Gesichtsbeobachtung mit stabiler Track-ID über mehrere Frames
type TrackedFace struct {
	TrackID   string
	Box       BoundingBox
	Score     float64
	Confirmed bool
}

// Detector kapselt das Erkennungs- und Embedding-Modell
type Detector interface {
	// Detect findet Gesichter in einem Frame
	Detect(ctx context.Context, img image.Image) ([]Detection, error)

	// Embed berechnet das Embedding eines Gesichtsausschnitts
	Embed(ctx context.Context, crop image.Image) ([]float32, error)
}

// Tracker ordnet Erkennungen über Frames hinweg Tracks zu. Eine Instanz gehört genau einem Kamera-Worker.
type Tracker interface {
	Update(detections []Detection) []TrackedFace
}

// Analyzer verbindet Detector und Tracker zu einem einheitlichen Aufruf pro Frame
type Analyzer struct {
	detector Detector
	tracker  Tracker
}

// NewAnalyzer erstellt einen Analyzer für genau einen Kamera-Worker
func NewAnalyzer(detector Detector, tracker Tracker) *Analyzer {
	return &Analyzer{detector: detector, tracker: tracker}
}

// Observe erkennt Gesichter im Frame und aktualisiert den Tracker
func (a *Analyzer) Observe(ctx context.Context, frame image.Image) ([]TrackedFace, error) {
	detections, err := a.detector.Detect(ctx, frame)
	if err != nil {
		return nil, err
	}
	return a.tracker.Update(detections), nil
}

// Embed delegiert an den Detector
func (a *Analyzer) Embed(ctx context.Context, crop image.Image) ([]float32, error) {
	return a.detector.Embed(ctx, crop)
}
