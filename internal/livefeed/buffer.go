package livefeed

import (
	"sync"
	"time"
)

// Frame ist das zuletzt empfangene JPEG einer Kamera
type Frame struct {
	Data      []byte
	Seq       uint64
	UpdatedAt time.Time
}

// Buffer hält pro Kamera genau einen Frame (last value wins).
// Schreiber überschreiben, Leser erhalten immer den neuesten Stand.
type Buffer struct {
	mu     sync.RWMutex
	frames map[string]Frame
	now    func() time.Time
}

// NewBuffer erstellt einen leeren Buffer
func NewBuffer() *Buffer {
	return &Buffer{frames: make(map[string]Frame), now: time.Now}
}

// Set ersetzt den Frame einer Kamera. Data wird nicht kopiert und darf danach nicht verändert werden.
func (b *Buffer) Set(cameraID string, data []byte) {
	b.mu.Lock()
	prev := b.frames[cameraID]
	b.frames[cameraID] = Frame{Data: data, Seq: prev.Seq + 1, UpdatedAt: b.now()}
	b.mu.Unlock()
}

// Get liefert die Bytes des letzten Frames
func (b *Buffer) Get(cameraID string) ([]byte, bool) {
	f, ok := b.Latest(cameraID)
	return f.Data, ok
}

// Latest liefert den letzten Frame mit Metadaten
func (b *Buffer) Latest(cameraID string) (Frame, bool) {
	b.mu.RLock()
	f, ok := b.frames[cameraID]
	b.mu.RUnlock()
	return f, ok
}

// Delete entfernt den Frame einer Kamera, z.B. nach dem Stoppen des Workers
func (b *Buffer) Delete(cameraID string) {
	b.mu.Lock()
	delete(b.frames, cameraID)
	b.mu.Unlock()
}

// Cameras liefert alle Kameras mit mindestens einem Frame
func (b *Buffer) Cameras() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.frames))
	for id := range b.frames {
		ids = append(ids, id)
	}
	return ids
}
