package matcher

import (
	"math"

	"facewatch/internal/identity"
)

// DefaultThreshold ist die maximale Kosinus-Distanz für einen Treffer
const DefaultThreshold = 0.36

const epsilon = 1e-10

// Result beschreibt den besten Kandidaten eines Abgleichs
type Result struct {
	Identity identity.Identity
	Distance float64
}

// Matcher vergleicht ein Embedding mit dem Identitätsbestand
type Matcher struct {
	Threshold float64
}

// New erstellt einen Matcher; ein Schwellwert <= 0 ergibt DefaultThreshold
func New(threshold float64) Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Matcher{Threshold: threshold}
}

// CosineDistance berechnet 1 - cos(a, b) im Bereich [0, 2]. ok ist false bei ungleicher Länge.
func CosineDistance(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	cos := dot / ((math.Sqrt(na) + epsilon) * (math.Sqrt(nb) + epsilon))
	d := 1 - cos
	switch {
	case d < 0:
		d = 0
	case d > 2:
		d = 2
	}
	return d, true
}

// Best liefert den Kandidaten mit minimaler Distanz. Bei Gleichstand gewinnt der zuerst gefundene.
// Identitäten mit fehlendem oder falsch dimensioniertem Embedding werden übersprungen.
func Best(query []float32, identities []identity.Identity) (Result, bool) {
	var best Result
	found := false
	for _, id := range identities {
		d, ok := CosineDistance(query, id.Embedding)
		if !ok {
			continue
		}
		if !found || d < best.Distance {
			best = Result{Identity: id, Distance: d}
			found = true
		}
	}
	return best, found
}

// Match liefert den besten Kandidaten, sofern seine Distanz den Schwellwert nicht überschreitet
func (m Matcher) Match(query []float32, identities []identity.Identity) (Result, bool) {
	best, ok := Best(query, identities)
	if !ok || best.Distance > m.Threshold {
		return Result{}, false
	}
	return best, true
}
