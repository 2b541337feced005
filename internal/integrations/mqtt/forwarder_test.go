package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"facewatch/internal/server/alerts"
)

type recordingPublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics)
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestForwarderPublishesPerCameraTopic(t *testing.T) {
	hub := alerts.NewHub(8, 8)
	pub := &recordingPublisher{}
	fwd := NewForwarder(hub, pub, "facewatch/alerts/")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		fwd.Run(ctx)
		close(done)
	}()
	if !waitFor(time.Second, func() bool { return hub.SubscriberCount() == 1 }) {
		t.Fatal("forwarder did not subscribe")
	}

	hub.Deliver(alerts.Alert{CameraID: "front", Person: alerts.Person{ID: "p1", Name: "Alice"}})
	hub.Deliver(alerts.Alert{CameraID: "back", Person: alerts.Person{ID: "p2", Name: "Bob"}})

	if !waitFor(time.Second, func() bool { return pub.count() == 2 }) {
		t.Fatalf("expected 2 published messages, got %d", pub.count())
	}

	pub.mu.Lock()
	if pub.topics[0] != "facewatch/alerts/front" || pub.topics[1] != "facewatch/alerts/back" {
		t.Errorf("unexpected topics: %v", pub.topics)
	}
	var msg struct {
		Type string       `json:"type"`
		Data alerts.Alert `json:"data"`
	}
	if err := json.Unmarshal(pub.payloads[0], &msg); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	pub.mu.Unlock()
	if msg.Type != "detection" || msg.Data.Person.Name != "Alice" {
		t.Errorf("unexpected payload: %+v", msg)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarder did not stop")
	}
	if hub.SubscriberCount() != 0 {
		t.Error("forwarder must unsubscribe on stop")
	}
}

func TestForwarderSurvivesPublishErrors(t *testing.T) {
	hub := alerts.NewHub(8, 8)
	pub := &recordingPublisher{err: errors.New("not connected")}
	fwd := NewForwarder(hub, pub, "t")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fwd.Run(ctx)
	waitFor(time.Second, func() bool { return hub.SubscriberCount() == 1 })

	hub.Deliver(alerts.Alert{CameraID: "a"})
	hub.Deliver(alerts.Alert{CameraID: "a"})

	if !waitFor(time.Second, func() bool { return pub.count() == 2 }) {
		t.Fatalf("forwarder stopped after publish error, got %d", pub.count())
	}
}

func TestForwarderStopsWhenHubCloses(t *testing.T) {
	hub := alerts.NewHub(8, 8)
	fwd := NewForwarder(hub, &recordingPublisher{}, "t")

	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	done := make(chan struct{})
	go func() {
		fwd.Run(context.Background())
		close(done)
	}()
	waitFor(time.Second, func() bool { return hub.SubscriberCount() == 1 })

	stopHub()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarder kept running after hub shutdown")
	}
}
