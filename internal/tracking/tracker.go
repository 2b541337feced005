package tracking

import (
	"sort"
	"strconv"

	"facewatch/config"
	"facewatch/internal/integrations/facerecognition"
)

type track struct {
	id              string
	box             facerecognition.BoundingBox
	score           float64
	hits            int
	timeSinceUpdate int
	confirmed       bool
}

// IOUTracker ist ein SORT-ähnlicher Tracker auf Basis der Überlappung (IoU).
// Nicht nebenläufig verwendbar: jede Kamera besitzt eine eigene Instanz.
type IOUTracker struct {
	tracks []*track
	nextID int
	maxAge int
	nInit  int
	minIOU float64
}

// NewIOUTracker erstellt einen Tracker gemäß Konfiguration
func NewIOUTracker(cfg config.TrackerConfig) *IOUTracker {
	t := &IOUTracker{maxAge: cfg.MaxAge, nInit: cfg.NInit, minIOU: cfg.IOUThreshold}
	if t.maxAge <= 0 {
		t.maxAge = 30
	}
	if t.nInit <= 0 {
		t.nInit = 1
	}
	if t.minIOU <= 0 {
		t.minIOU = 0.3
	}
	return t
}

type pair struct {
	track, det int
	iou        float64
}

// Update ordnet Erkennungen bestehenden Tracks zu und liefert die im aktuellen Frame gesehenen Tracks
func (t *IOUTracker) Update(detections []facerecognition.Detection) []facerecognition.TrackedFace {
	for _, tr := range t.tracks {
		tr.timeSinceUpdate++
	}

	// Greedy-Zuordnung nach absteigender IoU
	var candidates []pair
	for ti, tr := range t.tracks {
		for di, det := range detections {
			if v := iou(tr.box, det.Box); v >= t.minIOU {
				candidates = append(candidates, pair{ti, di, v})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].iou > candidates[j].iou })

	trackUsed := make([]bool, len(t.tracks))
	detUsed := make([]bool, len(detections))
	seen := make([]*track, 0, len(detections))

	for _, c := range candidates {
		if trackUsed[c.track] || detUsed[c.det] {
			continue
		}
		trackUsed[c.track], detUsed[c.det] = true, true
		tr := t.tracks[c.track]
		tr.box = detections[c.det].Box
		tr.score = detections[c.det].Score
		tr.hits++
		tr.timeSinceUpdate = 0
		if tr.hits >= t.nInit {
			tr.confirmed = true
		}
		seen = append(seen, tr)
	}

	for di, det := range detections {
		if detUsed[di] {
			continue
		}
		t.nextID++
		tr := &track{
			id:        strconv.Itoa(t.nextID),
			box:       det.Box,
			score:     det.Score,
			hits:      1,
			confirmed: t.nInit <= 1,
		}
		t.tracks = append(t.tracks, tr)
		seen = append(seen, tr)
	}

	// Vorläufige Tracks verschwinden beim ersten Fehlen, bestätigte nach maxAge Frames
	alive := t.tracks[:0]
	for _, tr := range t.tracks {
		if tr.timeSinceUpdate == 0 {
			alive = append(alive, tr)
			continue
		}
		if tr.confirmed && tr.timeSinceUpdate <= t.maxAge {
			alive = append(alive, tr)
		}
	}
	t.tracks = alive

	out := make([]facerecognition.TrackedFace, len(seen))
	for i, tr := range seen {
		out[i] = facerecognition.TrackedFace{TrackID: tr.id, Box: tr.box, Score: tr.score, Confirmed: tr.confirmed}
	}
	return out
}

// Len liefert die Anzahl aktiver Tracks
func (t *IOUTracker) Len() int {
	return len(t.tracks)
}

func iou(a, b facerecognition.BoundingBox) float64 {
	x1, y1 := max(a.X1, b.X1), max(a.Y1, b.Y1)
	x2, y2 := min(a.X2, b.X2), min(a.Y2, b.Y2)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := float64((x2 - x1) * (y2 - y1))
	union := float64(a.Width()*a.Height()+b.Width()*b.Height()) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
