package processor

import (
	"fmt"
	"time"

	"facewatch/config"
)

// AlertPolicy entscheidet, ob ein akzeptierter Treffer gespeichert und gemeldet wird.
// Jede Instanz gehört einem Kamera-Worker und wird nur aus dessen Goroutine benutzt.
type AlertPolicy interface {
	Allow(identityID, trackID string, at time.Time) bool
}

// NewAlertPolicy erstellt die konfigurierte Policy
func NewAlertPolicy(cfg config.AlertsConfig) (AlertPolicy, error) {
	switch cfg.Policy {
	case "", "every_match":
		return EveryMatch{}, nil
	case "once_per_track":
		if cfg.TrackTTL <= 0 {
			return nil, fmt.Errorf("alerts.track_ttl must be positive for policy once_per_track")
		}
		return NewOncePerTrack(cfg.TrackTTL), nil
	case "cooldown":
		if cfg.Cooldown <= 0 {
			return nil, fmt.Errorf("alerts.cooldown must be positive for policy cooldown")
		}
		return NewCooldown(cfg.Cooldown), nil
	default:
		return nil, fmt.Errorf("unknown alert policy %q", cfg.Policy)
	}
}

// EveryMatch meldet jeden Treffer in jedem verarbeiteten Frame
type EveryMatch struct{}

func (EveryMatch) Allow(string, string, time.Time) bool { return true }

const pruneThreshold = 256

// OncePerTrack meldet jede Kombination aus Track und Identität nur einmal
type OncePerTrack struct {
	ttl  time.Duration
	seen map[string]time.Time
}

// NewOncePerTrack vergisst Tracks, die länger als ttl nicht mehr gesehen wurden
func NewOncePerTrack(ttl time.Duration) *OncePerTrack {
	return &OncePerTrack{ttl: ttl, seen: make(map[string]time.Time)}
}

func (p *OncePerTrack) Allow(identityID, trackID string, at time.Time) bool {
	key := trackID + "\x00" + identityID
	_, known := p.seen[key]
	p.seen[key] = at
	if len(p.seen) > pruneThreshold {
		for k, last := range p.seen {
			if at.Sub(last) > p.ttl {
				delete(p.seen, k)
			}
		}
	}
	return !known
}

// Cooldown meldet eine Identität höchstens einmal pro Intervall
type Cooldown struct {
	interval time.Duration
	last     map[string]time.Time
}

func NewCooldown(interval time.Duration) *Cooldown {
	return &Cooldown{interval: interval, last: make(map[string]time.Time)}
}

func (p *Cooldown) Allow(identityID, _ string, at time.Time) bool {
	if last, ok := p.last[identityID]; ok && at.Sub(last) < p.interval {
		return false
	}
	p.last[identityID] = at
	return true
}
