package handlers

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	mjpegBoundary = "frame"
	// Platzhalter wird bei ausbleibenden Frames höchstens so oft wiederholt
	placeholderRepeat = time.Second
)

// renderPlaceholder erzeugt das JPEG, das bei fehlendem Livebild gesendet wird
func renderPlaceholder(quality int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 360))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 32, G: 32, B: 32, A: 255}), image.Point{}, draw.Src)

	const text = "NO SIGNAL"
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(color.RGBA{R: 200, G: 200, B: 200, A: 255}), Face: face}
	width := d.MeasureString(text).Round()
	d.Dot = fixed.P((img.Bounds().Dx()-width)/2, img.Bounds().Dy()/2)
	d.DrawString(text)

	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}

func writeMJPEGPart(w io.Writer, data []byte) error {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(data))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// handleStream liefert das Livebild einer Kamera als MJPEG. Ein Frame wird nur gesendet, wenn er neu ist;
// bleiben Frames länger als stream.placeholder_timeout aus, wird ein Platzhalter gesendet.
func (h *Handler) handleStream(c *gin.Context) {
	cameraID := c.Param("camera_id")
	fps := h.cfg.Stream.FPS
	if fps <= 0 {
		fps = 25
	}
	timeout := h.cfg.Stream.PlaceholderTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	logger := log.WithField("camera_id", cameraID)
	logger.Debug("MJPEG client connected")
	defer logger.Debug("MJPEG client disconnected")

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	var lastSeq uint64
	var lastPlaceholder time.Time
	ctx := c.Request.Context()

	for {
		var data []byte
		frame, ok := h.frames.Latest(cameraID)
		switch {
		case ok && time.Since(frame.UpdatedAt) <= timeout:
			if frame.Seq != lastSeq {
				data = frame.Data
				lastSeq = frame.Seq
				lastPlaceholder = time.Time{}
			}
		case time.Since(lastPlaceholder) >= placeholderRepeat:
			data = h.placeholder
			lastPlaceholder = time.Now()
		}

		if data != nil {
			if err := writeMJPEGPart(c.Writer, data); err != nil {
				return
			}
			c.Writer.Flush()
		}

		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
		}
	}
}
