package identity

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Identity ist eine bekannte Person mit entschlüsseltem Embedding
type Identity struct {
	ID        string
	Name      string
	Embedding []float32
}

// Loader lädt den vollständigen Identitätsbestand
type Loader interface {
	LoadIdentities(ctx context.Context) ([]Identity, error)
}

// Cache hält einen unveränderlichen Schnappschuss aller Identitäten.
// Leser sehen immer entweder den alten oder den neuen Bestand vollständig.
type Cache struct {
	loader   Loader
	snapshot atomic.Pointer[[]Identity]

	refreshMu   sync.Mutex
	lastRefresh atomic.Int64 // unix nano, 0 = nie erfolgreich geladen

	onRefresh func(count int)
}

// NewCache erstellt einen leeren Cache
func NewCache(loader Loader) *Cache {
	c := &Cache{loader: loader}
	empty := []Identity{}
	c.snapshot.Store(&empty)
	return c
}

// OnRefresh registriert einen Callback nach jedem erfolgreichen Laden (z.B. für Metriken)
func (c *Cache) OnRefresh(fn func(count int)) {
	c.onRefresh = fn
}

// Snapshot liefert den aktuellen Bestand, sortiert nach ID. Der Slice darf nicht verändert werden.
func (c *Cache) Snapshot() []Identity {
	return *c.snapshot.Load()
}

// Len liefert die Anzahl der geladenen Identitäten
func (c *Cache) Len() int {
	return len(c.Snapshot())
}

// LastRefresh liefert den Zeitpunkt des letzten erfolgreichen Ladens
func (c *Cache) LastRefresh() time.Time {
	ns := c.lastRefresh.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Refresh lädt den Bestand neu. Bei einem Fehler bleibt der bisherige Schnappschuss erhalten.
func (c *Cache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	loaded, err := c.loader.LoadIdentities(ctx)
	if err != nil {
		log.WithError(err).WithField("cached", c.Len()).Warn("Identity refresh failed, keeping previous cache")
		return err
	}

	sorted := make([]Identity, len(loaded))
	copy(sorted, loaded)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	c.snapshot.Store(&sorted)
	c.lastRefresh.Store(time.Now().UnixNano())
	if c.onRefresh != nil {
		c.onRefresh(len(sorted))
	}
	log.WithField("count", len(sorted)).Debug("Identity cache refreshed")
	return nil
}

// EnsureLoaded lädt den Bestand, falls noch nie erfolgreich geladen wurde
func (c *Cache) EnsureLoaded(ctx context.Context) {
	if c.lastRefresh.Load() != 0 {
		return
	}
	_ = c.Refresh(ctx)
}

// Run aktualisiert den Cache periodisch, bis ctx beendet wird
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Infof("Identity cache refresh running every %s", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}
