package opencv

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"facewatch/internal/core/processor"

	gocv "gocv.io/x/gocv"
)

// blockingReader hängt in Read, bis release geschlossen wird
type blockingReader struct {
	entered chan struct{}
	release chan struct{}
	closed  atomic.Bool
}

func newBlockingReader() *blockingReader {
	return &blockingReader{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (r *blockingReader) Read(*gocv.Mat) bool {
	select {
	case r.entered <- struct{}{}:
	default:
	}
	<-r.release
	return false
}

func (r *blockingReader) Close() error {
	r.closed.Store(true)
	return nil
}

func TestPushKeepsNewestItem(t *testing.T) {
	frames := make(chan captured, 1)
	first := &processor.Frame{}
	second := &processor.Frame{}

	push(frames, captured{frame: first})
	push(frames, captured{frame: second})

	if got := <-frames; got.frame != second {
		t.Fatal("expected the newest frame to replace the stale one")
	}
	select {
	case <-frames:
		t.Fatal("mailbox must hold at most one item")
	default:
	}
}

func TestReadBeforeOpen(t *testing.T) {
	c := NewCapture("rtsp://example.invalid/stream", 80)
	if _, err := c.Read(context.Background()); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close without open: %v", err)
	}
}

func TestCloseWaitsForHandleRelease(t *testing.T) {
	c := NewCapture("rtsp://example.invalid/stream", 80)
	reader := newBlockingReader()
	c.start(reader)
	<-reader.entered

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while the read loop still held the capture")
	case <-time.After(50 * time.Millisecond):
	}

	close(reader.release)
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the read loop ended")
	}
	if !reader.closed.Load() {
		t.Fatal("capture handle was not released before Close returned")
	}
}

func TestCloseTimesOutOnStuckRead(t *testing.T) {
	c := NewCapture("rtsp://example.invalid/stream", 80)
	c.closeTimeout = 20 * time.Millisecond
	reader := newBlockingReader()
	defer close(reader.release)
	c.start(reader)
	<-reader.entered

	if err := c.Close(); err == nil {
		t.Fatal("expected an error when the read loop does not finish in time")
	}
}

func TestOpenWaitsForPreviousLoop(t *testing.T) {
	c := NewCapture("rtsp://example.invalid/stream", 80)
	c.closeTimeout = 10 * time.Millisecond
	reader := newBlockingReader()
	c.start(reader)
	<-reader.entered
	_ = c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := c.Open(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected Open to wait for the previous handle, got %v", err)
	}
	close(reader.release)
}
