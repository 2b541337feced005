package frigate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"facewatch/internal/core/processor"

	log "github.com/sirupsen/logrus"
)

// ErrClosed wird von Read nach Close zurückgegeben
var ErrClosed = errors.New("snapshot source closed")

const maxSnapshotSize = 20 << 20

// SnapshotURL übersetzt eine Quell-URI in die abzufragende Snapshot-URL.
// frigate://host:port/kamera zeigt auf /api/<kamera>/latest.jpg einer Frigate-Instanz,
// http(s)-URLs auf .jpg/.jpeg/.png werden unverändert übernommen. Alle anderen URIs
// (RTSP, MJPEG über HTTP, Dateien, Geräte) liefern ok=false.
func SnapshotURL(uri string) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", false
	}
	switch u.Scheme {
	case "http", "https":
		switch strings.ToLower(path.Ext(u.Path)) {
		case ".jpg", ".jpeg", ".png":
			return uri, true
		}
		return "", false
	case "frigate":
		camera := strings.Trim(u.Path, "/")
		if u.Host == "" || camera == "" {
			return "", false
		}
		return (&url.URL{Scheme: "http", Host: u.Host, Path: "/api/" + camera + "/latest.jpg"}).String(), true
	default:
		return "", false
	}
}

// SnapshotSource fragt ein Einzelbild periodisch per HTTP ab
type SnapshotSource struct {
	url        string
	interval   time.Duration
	httpClient *http.Client

	mu       sync.Mutex
	open     bool
	lastPoll time.Time
}

// NewSnapshotSource erstellt eine Quelle für eine Snapshot-URL
func NewSnapshotSource(snapshotURL string, interval, timeout time.Duration) *SnapshotSource {
	return &SnapshotSource{
		url:        snapshotURL,
		interval:   interval,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Open prüft, ob der Snapshot abrufbar ist
func (s *SnapshotSource) Open(ctx context.Context) error {
	if _, _, err := s.fetch(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.open = true
	s.lastPoll = time.Time{}
	s.mu.Unlock()
	log.WithField("url", s.url).Debug("Snapshot source opened")
	return nil
}

// Read wartet bis zum nächsten Abfragezeitpunkt und lädt den aktuellen Snapshot
func (s *SnapshotSource) Read(ctx context.Context) (*processor.Frame, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	wait := time.Until(s.lastPoll.Add(s.interval))
	s.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	img, data, err := s.fetch(ctx)
	s.mu.Lock()
	s.lastPoll = time.Now()
	open := s.open
	s.mu.Unlock()
	if !open {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, err
	}

	frame := &processor.Frame{Image: img, CapturedAt: time.Now()}
	if isJPEG(data) {
		frame.JPEG = data
	}
	return frame, nil
}

// Close beendet die Quelle
func (s *SnapshotSource) Close() error {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	return nil
}

func (s *SnapshotSource) fetch(ctx context.Context) (image.Image, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("failed to download snapshot, status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotSize))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return img, data, nil
}

func isJPEG(data []byte) bool {
	return len(data) > 2 && data[0] == 0xFF && data[1] == 0xD8
}
