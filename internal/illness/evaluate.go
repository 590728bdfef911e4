// Package illness flags early signs of illness from deviations against the
// athlete's own baselines.
package illness

import (
	"math"
	"sort"
	"time"

	"readiness/internal/analysis"
)

// Severity grades an indicator
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// SignalType names one deviation check
type SignalType string

const (
	RHRElevated         SignalType = "rhr_elevated"
	HRVDepressed        SignalType = "hrv_depressed"
	RespiratoryElevated SignalType = "respiratory_elevated"
	SleepShort          SignalType = "sleep_short"
)

// Thresholds are the relative deviations that count as a signal.
var Thresholds = map[SignalType]float64{
	RHRElevated:         0.05,
	HRVDepressed:        0.15,
	RespiratoryElevated: 0.07,
	SleepShort:          0.25,
}

const (
	confirmDays  = 2 // crossings needed in the lookback
	lookbackDays = 3
	strongFactor = 2.0 // a single day this far past threshold counts on its own
)

// Signal is one deviation that crossed its threshold.
type Signal struct {
	Type         SignalType
	DeviationPct float64 // signed percentage vs baseline
	Value        float64
	Baseline     float64
	DaysCrossed  int
}

// Indicator is the result of one analysis. A None severity is a clear result.
type Indicator struct {
	Severity   Severity
	Confidence float64
	Signals    []Signal
	AnalyzedAt time.Time
}

// Found reports whether any signal fired
func (i *Indicator) Found() bool {
	return i != nil && i.Severity != SeverityNone
}

// Has reports whether a signal type fired
func (i *Indicator) Has(t SignalType) bool {
	if i == nil {
		return false
	}
	for _, s := range i.Signals {
		if s.Type == t {
			return true
		}
	}
	return false
}

// DayReading is one day's readings; nil means no data.
type DayReading struct {
	Date         time.Time
	HRV          *float64
	RestingHR    *float64
	Respiratory  *float64
	SleepSeconds *float64
}

// Input is everything Evaluate needs. Days is oldest first and ends today.
type Input struct {
	Days      []DayReading
	Baselines analysis.Baselines
	Now       time.Time
}

type check struct {
	typ      SignalType
	baseline *float64
	value    func(DayReading) *float64
	// deviation is positive in the unhealthy direction
	deviation func(v, base float64) float64
}

func rise(v, base float64) float64 { return (v - base) / base }
func drop(v, base float64) float64 { return (base - v) / base }

// Evaluate checks each signal over the last three days.
func Evaluate(in Input) *Indicator {
	checks := []check{
		{RHRElevated, in.Baselines.RestingHR, func(d DayReading) *float64 { return d.RestingHR }, rise},
		{HRVDepressed, in.Baselines.HRV, func(d DayReading) *float64 { return d.HRV }, drop},
		{RespiratoryElevated, in.Baselines.Respiratory, func(d DayReading) *float64 { return d.Respiratory }, rise},
		{SleepShort, in.Baselines.SleepSeconds, func(d DayReading) *float64 { return d.SleepSeconds }, drop},
	}

	days := in.Days
	if len(days) > lookbackDays {
		days = days[len(days)-lookbackDays:]
	}

	ind := &Indicator{Severity: SeverityNone, AnalyzedAt: in.Now}
	strong := false
	for _, c := range checks {
		sig, isStrong, ok := evaluateCheck(c, days)
		if !ok {
			continue
		}
		ind.Signals = append(ind.Signals, sig)
		strong = strong || isStrong
	}

	sort.Slice(ind.Signals, func(i, j int) bool { return ind.Signals[i].Type < ind.Signals[j].Type })
	ind.Severity = severity(ind)
	ind.Confidence = confidence(ind, strong)
	return ind
}

func evaluateCheck(c check, days []DayReading) (Signal, bool, bool) {
	if c.baseline == nil || *c.baseline <= 0 || len(days) == 0 {
		return Signal{}, false, false
	}
	base := *c.baseline
	threshold := Thresholds[c.typ]

	crossed := 0
	var latest *Signal
	for _, d := range days {
		v := c.value(d)
		if v == nil {
			continue
		}
		dev := c.deviation(*v, base)
		if dev < threshold {
			continue
		}
		crossed++
		latest = &Signal{
			Type:         c.typ,
			DeviationPct: (*v - base) / base * 100,
			Value:        *v,
			Baseline:     base,
		}
	}

	var strong bool
	if today := c.value(days[len(days)-1]); today != nil {
		strong = c.deviation(*today, base) >= strongFactor*threshold
	}

	if latest == nil || (crossed < confirmDays && !strong) {
		return Signal{}, false, false
	}
	latest.DaysCrossed = crossed
	return *latest, strong, true
}

func severity(ind *Indicator) Severity {
	n := len(ind.Signals)
	combo := ind.Has(RHRElevated) && ind.Has(HRVDepressed)
	switch {
	case n == 0:
		return SeverityNone
	case n >= 3:
		return SeveritySevere
	case n == 2 || combo:
		return SeverityModerate
	default:
		return SeverityMild
	}
}

func confidence(ind *Indicator, strong bool) float64 {
	n := len(ind.Signals)
	if n == 0 {
		return 0
	}
	c := 0.2 + 0.2*float64(n)
	if ind.Has(RHRElevated) && ind.Has(HRVDepressed) {
		c += 0.1
	}
	if strong {
		c += 0.1
	}
	return math.Min(1, c)
}
