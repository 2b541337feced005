package mqtt

import (
	"context"
	"strings"

	"facewatch/internal/server/alerts"

	log "github.com/sirupsen/logrus"
)

// Publisher ist das Ziel des Forwarders
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Forwarder abonniert den Alarm-Hub und veröffentlicht jeden Alarm unter <topic>/<camera_id>
type Forwarder struct {
	hub       *alerts.Hub
	publisher Publisher
	topic     string
}

// NewForwarder erstellt einen Forwarder für das angegebene Basis-Topic
func NewForwarder(hub *alerts.Hub, publisher Publisher, topic string) *Forwarder {
	return &Forwarder{
		hub:       hub,
		publisher: publisher,
		topic:     strings.TrimSuffix(topic, "/"),
	}
}

// Topic liefert das Ziel-Topic einer Kamera
func (f *Forwarder) Topic(cameraID string) string {
	return f.topic + "/" + cameraID
}

// Run leitet Alarme weiter, bis ctx endet oder der Hub das Abonnement schließt.
// Wird der Forwarder wegen eines vollen Puffers entfernt, meldet er sich neu an.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		sub := f.hub.Subscribe()
		if !f.drain(ctx, sub) {
			f.hub.Unsubscribe(sub)
			return
		}
		log.Warn("MQTT forwarder fell behind and was evicted, resubscribing")
	}
}

// drain liefert true, wenn der Hub das Abonnement geschlossen hat und ctx noch aktiv ist
func (f *Forwarder) drain(ctx context.Context, sub *alerts.Subscription) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-sub.C():
			if !ok {
				return ctx.Err() == nil && !f.hub.Closed()
			}
			if err := f.publisher.Publish(f.Topic(msg.Alert.CameraID), msg.Payload); err != nil {
				log.WithError(err).WithField("camera_id", msg.Alert.CameraID).Warn("Failed to forward alert via MQTT")
			}
		}
	}
}
