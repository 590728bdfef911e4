// Package alert computes a per-athlete stress alert threshold from recent history.
package alert

import "math"

// Config bounds the threshold
type Config struct {
	Default    float64 // used until MinHistory days exist
	Min        float64
	Max        float64
	MinHistory int
	Window     int
}

// DefaultConfig returns the standard 40-70 band over 30 days
func DefaultConfig() Config {
	return Config{
		Default:    60,
		Min:        40,
		Max:        70,
		MinHistory: 7,
		Window:     30,
	}
}

const (
	sigmaMultiplier = 1.5
	fitnessPivot    = 70.0 // CTL at which no adjustment applies
	fitnessSpan     = 60.0
	fitnessPoints   = 10.0
)

// Threshold is a computed alert cutoff
type Threshold struct {
	Value      float64
	Mean       float64
	StdDev     float64
	Calibrated bool // false when the default was used
}

// Compute derives the threshold from trailing daily stress scores, oldest
// first, and current fitness.
func Compute(history []float64, ctl float64, cfg Config) Threshold {
	if cfg.Window > 0 && len(history) > cfg.Window {
		history = history[len(history)-cfg.Window:]
	}
	if len(history) < cfg.MinHistory || len(history) == 0 {
		return Threshold{Value: cfg.Default}
	}

	mean, sd := meanStdDev(history)
	adjust := clamp((ctl-fitnessPivot)/fitnessSpan, -1, 1) * fitnessPoints
	value := clamp(mean+sigmaMultiplier*sd+adjust, cfg.Min, cfg.Max)

	return Threshold{
		Value:      value,
		Mean:       mean,
		StdDev:     sd,
		Calibrated: true,
	}
}

// Alert is the outcome of checking today's stress against a threshold
type Alert struct {
	Fire      bool
	Stress    int
	Threshold float64
	Margin    float64 // stress minus threshold
}

// Evaluate fires when today's acute stress exceeds the threshold.
func Evaluate(stress int, th Threshold) Alert {
	margin := float64(stress) - th.Value
	return Alert{
		Fire:      margin > 0,
		Stress:    stress,
		Threshold: th.Value,
		Margin:    margin,
	}
}

// meanStdDev uses the population standard deviation.
func meanStdDev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
