package opencv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"facewatch/internal/core/processor"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// ErrStreamEnded wird gemeldet, wenn die Quelle keine Frames mehr liefert
var ErrStreamEnded = errors.New("video stream ended")

// ErrNotOpen wird von Read vor Open oder nach Close zurückgegeben
var ErrNotOpen = errors.New("capture not open")

// DefaultCloseTimeout begrenzt, wie lange Close auf die Freigabe der Quelle wartet
const DefaultCloseTimeout = 10 * time.Second

// videoReader ist der von readLoop genutzte Ausschnitt von gocv.VideoCapture
type videoReader interface {
	Read(m *gocv.Mat) bool
	Close() error
}

type captured struct {
	frame *processor.Frame
	err   error
}

// Capture liest Frames aus einer RTSP-URL, Datei oder einem Geräteindex über OpenCV.
// Ein Lese-Goroutine hält immer nur den neuesten Frame vor.
type Capture struct {
	uri          string
	jpegQuality  int
	closeTimeout time.Duration

	mu     sync.Mutex
	frames chan captured
	stop   chan struct{}
	// done wird geschlossen, nachdem readLoop die Quelle freigegeben hat
	done chan struct{}
}

// NewCapture erstellt eine noch nicht geöffnete Quelle
func NewCapture(uri string, jpegQuality int) *Capture {
	return &Capture{uri: uri, jpegQuality: jpegQuality, closeTimeout: DefaultCloseTimeout}
}

// Open öffnet die Videoquelle. Das Öffnen selbst ist nicht abbrechbar und läuft daher im Hintergrund.
func (c *Capture) Open(ctx context.Context) error {
	c.mu.Lock()
	prev := c.done
	c.mu.Unlock()
	if prev != nil {
		// die vorherige Verbindung muss freigegeben sein, bevor eine neue entsteht
		select {
		case <-prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	type result struct {
		vc  *gocv.VideoCapture
		err error
	}
	ch := make(chan result, 1)
	go func() {
		vc, err := gocv.OpenVideoCapture(c.uri)
		if err == nil && !vc.IsOpened() {
			vc.Close()
			err = fmt.Errorf("konnte Videoquelle nicht öffnen: %s", c.uri)
		}
		ch <- result{vc: vc, err: err}
	}()

	select {
	case <-ctx.Done():
		// verspätet geöffnete Quelle wieder freigeben
		go func() {
			if r := <-ch; r.err == nil {
				r.vc.Close()
			}
		}()
		return ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		r.vc.Set(gocv.VideoCaptureBufferSize, 1)
		c.start(r.vc)
		return nil
	}
}

func (c *Capture) start(vc videoReader) {
	c.mu.Lock()
	c.frames = make(chan captured, 1)
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	frames, stop, done := c.frames, c.stop, c.done
	c.mu.Unlock()

	go c.readLoop(vc, frames, stop, done)
}

func (c *Capture) readLoop(vc videoReader, frames chan captured, stop, done chan struct{}) {
	mat := gocv.NewMat()
	defer func() {
		mat.Close()
		if err := vc.Close(); err != nil {
			log.WithError(err).WithField("uri", c.uri).Debug("Closing video capture failed")
		}
		close(done)
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if ok := vc.Read(&mat); !ok || mat.Empty() {
			push(frames, captured{err: ErrStreamEnded})
			return
		}

		frame, err := c.convert(mat)
		if err != nil {
			log.WithError(err).WithField("uri", c.uri).Debug("Dropping undecodable frame")
			continue
		}
		push(frames, captured{frame: frame})
	}
}

func (c *Capture) convert(mat gocv.Mat) (*processor.Frame, error) {
	now := time.Now()
	img, err := mat.ToImage()
	if err != nil {
		return nil, err
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, c.jpegQuality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	// GetBytes zeigt in nativen Speicher, der mit Close freigegeben wird
	data := append([]byte(nil), buf.GetBytes()...)
	return &processor.Frame{Image: img, JPEG: data, CapturedAt: now}, nil
}

// push ersetzt einen noch nicht abgeholten Frame durch den neuen
func push(frames chan captured, item captured) {
	for {
		select {
		case frames <- item:
			return
		default:
		}
		select {
		case <-frames:
		default:
		}
	}
}

// Read wartet auf den nächsten Frame, höchstens bis ctx endet
func (c *Capture) Read(ctx context.Context) (*processor.Frame, error) {
	c.mu.Lock()
	frames, stop := c.frames, c.stop
	c.mu.Unlock()
	if frames == nil {
		return nil, ErrNotOpen
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-stop:
		return nil, ErrNotOpen
	case item := <-frames:
		if item.err != nil {
			// Fehler für folgende Aufrufe erhalten
			push(frames, item)
			return nil, item.err
		}
		return item.frame, nil
	}
}

// Close beendet den Lese-Goroutine und wartet, bis dieser die Quelle freigegeben hat,
// höchstens closeTimeout lang
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.stop != nil {
		close(c.stop)
	}
	c.frames = nil
	c.stop = nil
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return nil
	}
	timer := time.NewTimer(c.closeTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		log.WithField("uri", c.uri).Warnf("Video capture still blocked in read after %s", c.closeTimeout)
		return fmt.Errorf("close %s: timed out after %s", c.uri, c.closeTimeout)
	}
}
