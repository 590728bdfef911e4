package scoring

import (
	"math"
	"time"

	"readiness/internal/analysis"
	"readiness/internal/store"
)

// DefaultSleepNeed is used when the configured need is implausible.
const DefaultSleepNeed = 8 * time.Hour

// SleepWeights are the relative weights of the sleep components
type SleepWeights struct {
	Performance  float64
	Efficiency   float64
	Stages       float64
	Disturbances float64
	Consistency  float64
}

// DefaultSleepWeights returns the standard mix
func DefaultSleepWeights() SleepWeights {
	return SleepWeights{
		Performance:  0.35,
		Efficiency:   0.20,
		Stages:       0.20,
		Disturbances: 0.10,
		Consistency:  0.15,
	}
}

// SleepInput is last night's main session plus the bed/wake timing baselines
// in clock minutes.
type SleepInput struct {
	Session         *store.SleepSession
	BedtimeBaseline *float64
	WakeBaseline    *float64
	Weights         *SleepWeights
}

// ClampSleepNeed replaces a need outside 4-12 hours with the default.
func ClampSleepNeed(need time.Duration) time.Duration {
	if need < 4*time.Hour || need > 12*time.Hour {
		return DefaultSleepNeed
	}
	return need
}

// Sleep scores one night against the athlete's sleep need.
func Sleep(in SleepInput, need time.Duration) (Score, error) {
	w := DefaultSleepWeights()
	if in.Weights != nil {
		w = *in.Weights
	}
	parts := []part{
		{name: "performance", weight: w.Performance},
		{name: "efficiency", weight: w.Efficiency},
		{name: "stages", weight: w.Stages},
		{name: "disturbances", weight: w.Disturbances},
		{name: "consistency", weight: w.Consistency},
	}

	s := in.Session
	if s == nil || s.AsleepSeconds <= 0 {
		return weighted(KindSleep, parts)
	}
	need = ClampSleepNeed(need)

	parts[0].value = s.AsleepSeconds / need.Seconds() * 100
	parts[0].ok = true

	// 60% efficiency scores 0, 90% and above scores 100
	if s.InBedSeconds > 0 {
		eff := s.AsleepSeconds / s.InBedSeconds
		parts[1].value = (eff - 0.60) / 0.30 * 100
		parts[1].ok = true
	}

	// deep plus REM at 45% of sleep is ideal
	if restorative := s.DeepSeconds + s.REMSeconds; restorative > 0 {
		parts[2].value = restorative / s.AsleepSeconds / 0.45 * 100
		parts[2].ok = true
	}

	parts[3].value = 100 - 8*float64(s.WakeEvents)
	parts[3].ok = true

	var deviations []float64
	if in.BedtimeBaseline != nil {
		deviations = append(deviations, clockDiff(analysis.BedtimeMinutes(s.Start), *in.BedtimeBaseline))
	}
	if in.WakeBaseline != nil {
		deviations = append(deviations, clockDiff(analysis.WakeMinutes(s.End), *in.WakeBaseline))
	}
	if len(deviations) > 0 {
		var sum float64
		for _, d := range deviations {
			sum += d
		}
		parts[4].value = 100 - sum/float64(len(deviations))/90*100
		parts[4].ok = true
	}

	return weighted(KindSleep, parts)
}

// clockDiff is the shortest distance between two minute-of-day values.
func clockDiff(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 24*60)
	return math.Min(d, 24*60-d)
}
