package processor

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"time"
)

// Frame ist ein dekodiertes Videobild; JPEG ist optional und wird bei Bedarf erzeugt
type Frame struct {
	Image      image.Image
	JPEG       []byte
	CapturedAt time.Time
}

// FrameSource liefert Frames einer Kamera. Read muss ctx respektieren (begrenzte Wartezeit).
type FrameSource interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (*Frame, error)
	Close() error
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
