package frigate

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 24)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSnapshotURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"frigate://nvr:5000/front_door", "http://nvr:5000/api/front_door/latest.jpg", true},
		{"http://cam.local/snap.jpg", "http://cam.local/snap.jpg", true},
		{"https://cam.local/snap.jpg", "https://cam.local/snap.jpg", true},
		{"http://cam.local/video.mjpg", "", false},
		{"frigate://nvr:5000/", "", false},
		{"rtsp://cam.local/stream", "", false},
		{"0", "", false},
	}
	for _, c := range cases {
		got, ok := SnapshotURL(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("SnapshotURL(%q) = %q, %v; want %q, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestSnapshotSourceReadsFrames(t *testing.T) {
	body := jpegBytes(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(body)
	}))
	defer srv.Close()

	src := NewSnapshotSource(srv.URL, 10*time.Millisecond, time.Second)
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	for i := 0; i < 2; i++ {
		frame, err := src.Read(context.Background())
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if frame.Image.Bounds().Dx() != 32 || !bytes.Equal(frame.JPEG, body) {
			t.Fatalf("unexpected frame %v", frame.Image.Bounds())
		}
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 requests (open + 2 reads), got %d", hits.Load())
	}
}

func TestSnapshotSourceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "camera offline", http.StatusNotFound)
	}))
	defer srv.Close()

	src := NewSnapshotSource(srv.URL, time.Millisecond, time.Second)
	if err := src.Open(context.Background()); err == nil {
		t.Fatal("expected open to fail for 404")
	}
	if _, err := src.Read(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed before open, got %v", err)
	}
}

func TestSnapshotSourceReadHonorsContext(t *testing.T) {
	body := jpegBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	src := NewSnapshotSource(srv.URL, time.Hour, time.Second)
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := src.Read(context.Background()); err != nil {
		t.Fatalf("first read: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := src.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
