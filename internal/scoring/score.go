// Package scoring turns one day's fused signals into 0-100 recovery, sleep
// and stress scores.
package scoring

import (
	"errors"
	"math"
	"time"
)

// ErrNoSignal is returned when none of a score's inputs are present.
var ErrNoSignal = errors.New("no usable signal")

// Kind names a score
type Kind string

const (
	KindRecovery Kind = "recovery"
	KindSleep    Kind = "sleep"
	KindStress   Kind = "stress"
)

// Band is the qualitative bucket of a score
type Band string

const (
	BandHigh     Band = "high"     // 80-100
	BandModerate Band = "moderate" // 60-79
	BandFair     Band = "fair"     // 40-59
	BandLow      Band = "low"      // 0-39
)

var labels = map[Kind]map[Band]string{
	KindRecovery: {
		BandHigh:     "Fully recovered",
		BandModerate: "Recovered",
		BandFair:     "Partially recovered",
		BandLow:      "Not recovered",
	},
	KindSleep: {
		BandHigh:     "Excellent",
		BandModerate: "Good",
		BandFair:     "Fair",
		BandLow:      "Poor",
	},
	KindStress: {
		BandHigh:     "Very high",
		BandModerate: "High",
		BandFair:     "Moderate",
		BandLow:      "Low",
	},
}

// BandFor maps a score value to its band and display label.
func BandFor(kind Kind, value int) (Band, string) {
	var b Band
	switch {
	case value >= 80:
		b = BandHigh
	case value >= 60:
		b = BandModerate
	case value >= 40:
		b = BandFair
	default:
		b = BandLow
	}
	return b, labels[kind][b]
}

// Component is one weighted sub-score. Unavailable components carry no weight.
type Component struct {
	Name      string
	Value     int
	Weight    float64
	Available bool
}

// Score is a finished 0-100 score with its breakdown.
type Score struct {
	Kind       Kind
	Value      int
	Band       Band
	Label      string
	Components []Component
}

// Component looks up a sub-score by name
func (s Score) Component(name string) (Component, bool) {
	for _, c := range s.Components {
		if c.Name == name {
			return c, true
		}
	}
	return Component{}, false
}

// Bundle is one day's fused inputs. Absent readings and baselines are nil.
type Bundle struct {
	Date time.Time

	HRV         *float64
	HRVBaseline *float64

	RestingHR         *float64
	RestingHRBaseline *float64

	SleepSeconds  *float64
	SleepBaseline *float64

	Respiratory         *float64
	RespiratoryBaseline *float64

	CTL *float64
	ATL *float64
	TSB *float64

	RecentStrain float64

	// PriorSleepScore is the sleep score computed for the night before Date.
	PriorSleepScore *int
	WakeEvents      *int
}

// part is an intermediate sub-score before rounding.
type part struct {
	name   string
	value  float64
	weight float64
	ok     bool
}

// weighted averages the available parts with renormalized weights.
func weighted(kind Kind, parts []part) (Score, error) {
	var sum, weights float64
	components := make([]Component, 0, len(parts))
	for _, p := range parts {
		c := Component{Name: p.name, Weight: p.weight, Available: p.ok}
		if p.ok {
			v := clamp(p.value, 0, 100)
			c.Value = round(v)
			sum += v * p.weight
			weights += p.weight
		}
		components = append(components, c)
	}
	if weights <= 0 {
		return Score{Kind: kind, Components: components}, ErrNoSignal
	}
	return finish(kind, sum/weights, components), nil
}

func finish(kind Kind, value float64, components []Component) Score {
	v := round(clamp(value, 0, 100))
	band, label := BandFor(kind, v)
	return Score{
		Kind:       kind,
		Value:      v,
		Band:       band,
		Label:      label,
		Components: components,
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64) int {
	return int(math.Round(v))
}

func ratioOK(v, base *float64) bool {
	return v != nil && base != nil && *base > 0
}
