package alerts

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Person ist die Identität im Alarm
type Person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Alert ist ein Erkennungsereignis für Live-Abonnenten
type Alert struct {
	CameraID   string    `json:"camera_id"`
	Timestamp  time.Time `json:"timestamp"`
	Person     Person    `json:"person"`
	Confidence float64   `json:"confidence"`
	Snapshot   string    `json:"snapshot"`
	TrackID    string    `json:"track_id"`
	BBox       [4]int    `json:"bbox"` // [x, y, w, h]
}

// envelope ist das Wire-Format {type, data}
type envelope struct {
	Type string `json:"type"`
	Data Alert  `json:"data"`
}

// Message wird an Abonnenten zugestellt; Payload ist das fertig serialisierte JSON
type Message struct {
	Alert   Alert
	Payload []byte
}

// Subscription ist ein registrierter Empfänger mit begrenztem Puffer
type Subscription struct {
	id     uint64
	ch     chan Message
	closed bool
}

// C liefert den Empfangskanal. Er wird geschlossen, wenn der Abonnent entfernt wird.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// ID liefert die interne Kennung
func (s *Subscription) ID() uint64 {
	return s.id
}

// Stats enthält die Zähler des Hubs
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Delivered   uint64 `json:"delivered"`
	Evicted     uint64 `json:"evicted"`
	Subscribers int    `json:"subscribers"`
}

// Hub verteilt Alarme an alle Abonnenten. Produzenten stellen nur in die Eingangsqueue,
// die Zustellung läuft sequenziell in Run.
type Hub struct {
	mu          sync.Mutex
	subscribers map[uint64]*Subscription
	nextID      uint64
	bufferSize  int

	inbound chan Alert

	published atomic.Uint64
	dropped   atomic.Uint64
	delivered atomic.Uint64
	evicted   atomic.Uint64
	closed    atomic.Bool
}

// NewHub erstellt einen Hub mit Eingangsqueue und Puffergröße pro Abonnent
func NewHub(queueSize, subscriberBuffer int) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	if subscriberBuffer <= 0 {
		subscriberBuffer = 32
	}
	return &Hub{
		subscribers: make(map[uint64]*Subscription),
		bufferSize:  subscriberBuffer,
		inbound:     make(chan Alert, queueSize),
	}
}

// Subscribe registriert einen neuen Abonnenten
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{id: h.nextID, ch: make(chan Message, h.bufferSize)}
	if h.closed.Load() {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	h.subscribers[sub.id] = sub
	log.Infof("Alert subscriber %d registered. Total subscribers: %d", sub.id, len(h.subscribers))
	return sub
}

// Unsubscribe entfernt einen Abonnenten; mehrfacher Aufruf ist unschädlich
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sub)
}

// remove erwartet gehaltenen Mutex
func (h *Hub) remove(sub *Subscription) {
	if sub == nil || sub.closed {
		return
	}
	delete(h.subscribers, sub.id)
	sub.closed = true
	close(sub.ch)
	log.Infof("Alert subscriber %d removed. Total subscribers: %d", sub.id, len(h.subscribers))
}

// SubscriberCount liefert die Anzahl aktiver Abonnenten
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Publish stellt einen Alarm in die Queue, ohne zu blockieren
func (h *Hub) Publish(alert Alert) {
	select {
	case h.inbound <- alert:
		h.published.Add(1)
	default:
		h.dropped.Add(1)
		log.WithField("camera_id", alert.CameraID).Warn("Alert queue full, alert dropped")
	}
}

// Run verteilt Alarme, bis ctx beendet wird. Beim Beenden werden alle Abonnenten geschlossen.
func (h *Hub) Run(ctx context.Context) {
	log.Info("Alert hub started")
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-h.inbound:
			h.Deliver(alert)
		}
	}
}

// Deliver stellt einen Alarm synchron an alle Abonnenten zu. Ein Abonnent mit vollem Puffer
// gilt als ausgefallen und wird entfernt; die übrigen sind nicht betroffen.
func (h *Hub) Deliver(alert Alert) {
	payload, err := json.Marshal(envelope{Type: "detection", Data: alert})
	if err != nil {
		log.WithError(err).Error("Failed to marshal alert")
		return
	}
	msg := Message{Alert: alert, Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	log.Debugf("Broadcasting alert to %d subscribers", len(h.subscribers))

	for _, sub := range h.subscribers {
		select {
		case sub.ch <- msg:
			h.delivered.Add(1)
		default:
			log.Warnf("Alert subscriber %d is not keeping up, removing", sub.id)
			h.evicted.Add(1)
			h.remove(sub)
		}
	}
}

// Stats liefert die aktuellen Zähler
func (h *Hub) Stats() Stats {
	return Stats{
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
		Delivered:   h.delivered.Load(),
		Evicted:     h.evicted.Load(),
		Subscribers: h.SubscriberCount(),
	}
}

// Closed meldet, ob Run beendet wurde
func (h *Hub) Closed() bool {
	return h.closed.Load()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed.Store(true)
	for _, sub := range h.subscribers {
		h.remove(sub)
	}
	log.Info("Alert hub stopped")
}
