package analysis

import (
	"math"
	"sort"
	"time"

	"readiness/internal/store"
)

// HRZones represents athlete's heart rate zones
type HRZones struct {
	RestingHR   float64
	MaxHR       float64
	ThresholdHR float64
	Female      bool
}

// DefaultZones returns sensible defaults if not configured
func DefaultZones() HRZones {
	return HRZones{
		RestingHR:   50,
		MaxHR:       185,
		ThresholdHR: 165,
	}
}

func (z HRZones) coefficient() float64 {
	if z.Female {
		return 1.67
	}
	return 1.92
}

// hrRatio is the heart rate reserve fraction, clamped to [0, 1].
func (z HRZones) hrRatio(hr float64) float64 {
	reserve := z.MaxHR - z.RestingHR
	if reserve <= 0 {
		return 0
	}
	return clamp01((hr - z.RestingHR) / reserve)
}

const (
	caloriesPerMinute = 10.0
	defaultWindowDays = 42
	atlWindowDays     = 7
)

// EstimateDuration returns the session's duration in seconds, estimating it from
// distance at a typical speed for the type, or from calories, when absent.
func EstimateDuration(a store.Activity) (float64, bool) {
	if a.Duration != nil && *a.Duration > 0 {
		return *a.Duration, true
	}
	if a.Distance != nil && *a.Distance > 0 {
		if speed, ok := typicalSpeed[NormalizeType(a.Type)]; ok {
			return *a.Distance / speed, true
		}
	}
	if a.Calories != nil && *a.Calories > 0 {
		return *a.Calories / caloriesPerMinute * 60, true
	}
	return 0, false
}

// TRIMP calculates Training Impulse (Banister model)
// TRIMP = duration (min) * ΔHR ratio * e^(b * ΔHR ratio)
// where b = 1.92 for men, 1.67 for women
func TRIMP(activity store.Activity, zones HRZones) float64 {
	if activity.AvgHeartrate == nil || *activity.AvgHeartrate <= 0 {
		return 0
	}
	seconds, ok := EstimateDuration(activity)
	if !ok {
		return 0
	}

	ratio := zones.hrRatio(*activity.AvgHeartrate)
	b := zones.coefficient()
	return seconds / 60.0 * ratio * math.Exp(b*ratio)
}

// HRSS calculates Heart Rate Stress Score, normalized so that one hour at
// threshold heart rate scores 100.
func HRSS(activity store.Activity, zones HRZones) float64 {
	trimp := TRIMP(activity, zones)
	if trimp == 0 {
		return 0
	}

	threshold := zones.ThresholdHR
	if threshold <= zones.RestingHR || threshold >= zones.MaxHR {
		threshold = zones.RestingHR + 0.85*(zones.MaxHR-zones.RestingHR)
	}
	rt := zones.hrRatio(threshold)
	thresholdTRIMP := 60 * rt * math.Exp(zones.coefficient()*rt)
	if thresholdTRIMP <= 0 {
		return 0
	}

	return trimp / thresholdTRIMP * 100
}

// SessionImpulse returns the TSS-like training impulse of one session: the
// provider's training stress when supplied, then an intensity-factor estimate,
// then heart-rate stress.
func SessionImpulse(a store.Activity, zones HRZones) float64 {
	if a.TrainingStress != nil && *a.TrainingStress > 0 {
		return *a.TrainingStress
	}
	if a.IntensityFactor != nil && *a.IntensityFactor > 0 {
		if seconds, ok := EstimateDuration(a); ok {
			hours := seconds / 3600
			return hours * *a.IntensityFactor * *a.IntensityFactor * 100
		}
	}
	return HRSS(a, zones)
}

// LoadSeries holds one impulse per calendar day, oldest first, with explicit
// zeros for rest days. The last element is the end day.
type LoadSeries []float64

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// BuildImpulseSeries buckets session impulses into the days-long window ending on end.
func BuildImpulseSeries(activities []store.Activity, end time.Time, days int, zones HRZones) LoadSeries {
	if days <= 0 {
		days = defaultWindowDays
	}
	series := make(LoadSeries, days)
	last := dayStart(end)
	first := last.AddDate(0, 0, -(days - 1))

	for _, a := range activities {
		start := a.StartLocal
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, last.Location())
		if day.Before(first) || day.After(last) {
			continue
		}
		idx := int(math.Round(day.Sub(first).Hours() / 24))
		if idx < 0 || idx >= days {
			continue
		}
		series[idx] += SessionImpulse(a, zones)
	}
	return series
}

// NonzeroDays counts days carrying any training impulse
func (s LoadSeries) NonzeroDays() int {
	n := 0
	for _, v := range s {
		if v > 0 {
			n++
		}
	}
	return n
}

// LoadMethod records where a TrainingLoad came from.
type LoadMethod string

const (
	MethodPlatform LoadMethod = "platform"
	MethodComputed LoadMethod = "computed"
	MethodDevice   LoadMethod = "device"
)

// TrainingLoad is one day's fitness/fatigue snapshot.
type TrainingLoad struct {
	CTL           float64
	ATL           float64
	TSB           float64
	Method        LoadMethod
	LowConfidence bool
	NonzeroDays   int
}

func ema(values []float64, lambda float64) float64 {
	if len(values) == 0 {
		return 0
	}
	avg := values[0]
	for _, v := range values[1:] {
		avg += lambda * (v - avg)
	}
	return avg
}

// ComputeLoad derives CTL over the full series and ATL over its trailing week,
// each seeded with its own first value.
func ComputeLoad(series LoadSeries) TrainingLoad {
	ctlDecay := 2.0 / (42.0 + 1.0)
	atlDecay := 2.0 / (7.0 + 1.0)

	trailing := series
	if len(trailing) > atlWindowDays {
		trailing = trailing[len(trailing)-atlWindowDays:]
	}

	ctl := ema(series, ctlDecay)
	atl := ema(trailing, atlDecay)
	nonzero := series.NonzeroDays()

	return TrainingLoad{
		CTL:           ctl,
		ATL:           atl,
		TSB:           ctl - atl,
		Method:        MethodComputed,
		LowConfidence: nonzero < atlWindowDays,
		NonzeroDays:   nonzero,
	}
}

// RecentStrain sums the trailing week of impulses.
func RecentStrain(series LoadSeries) float64 {
	trailing := series
	if len(trailing) > atlWindowDays {
		trailing = trailing[len(trailing)-atlWindowDays:]
	}
	var sum float64
	for _, v := range trailing {
		sum += v
	}
	return sum
}

// LoadInputs are the activity lists ResolveTrainingLoad chooses between.
type LoadInputs struct {
	Coaching  []store.Activity // raw coaching-platform sessions
	Canonical []store.Activity // deduplicated set across providers
	Device    []store.Activity // device-recorded workouts
	End       time.Time
	Days      int
	Zones     HRZones
}

// ResolveTrainingLoad prefers the coaching platform's own CTL/ATL from its most
// recent activity, falls back to computing from the canonical set, and uses
// device workouts alone when the coaching platform supplied nothing.
func ResolveTrainingLoad(in LoadInputs) TrainingLoad {
	if latest := latestPlatformLoad(in.Coaching); latest != nil {
		ctl, atl := *latest.PlatformCTL, *latest.PlatformATL
		return TrainingLoad{
			CTL:    ctl,
			ATL:    atl,
			TSB:    ctl - atl,
			Method: MethodPlatform,
		}
	}

	if len(in.Coaching) == 0 {
		load := ComputeLoad(BuildImpulseSeries(in.Device, in.End, in.Days, in.Zones))
		load.Method = MethodDevice
		return load
	}

	return ComputeLoad(BuildImpulseSeries(in.Canonical, in.End, in.Days, in.Zones))
}

func latestPlatformLoad(activities []store.Activity) *store.Activity {
	var latest *store.Activity
	for i := range activities {
		a := &activities[i]
		if a.PlatformCTL == nil || a.PlatformATL == nil {
			continue
		}
		if latest == nil || a.StartLocal.After(latest.StartLocal) {
			latest = a
		}
	}
	return latest
}

// DailyLoad represents training load for a single day
type DailyLoad struct {
	Date time.Time
	Load float64
}

// DailyLoads converts sessions into per-session loads for trend charts.
func DailyLoads(activities []store.Activity, zones HRZones) []DailyLoad {
	loads := make([]DailyLoad, 0, len(activities))
	for _, a := range activities {
		loads = append(loads, DailyLoad{Date: a.StartLocal, Load: SessionImpulse(a, zones)})
	}
	return loads
}

// FitnessMetrics represents CTL/ATL/TSB for a day
type FitnessMetrics struct {
	Date time.Time
	CTL  float64 // Chronic Training Load (42-day EMA) - "Fitness"
	ATL  float64 // Acute Training Load (7-day EMA) - "Fatigue"
	TSB  float64 // Training Stress Balance (CTL - ATL) - "Form"
}

// CalculateFitnessTrend computes a running CTL/ATL/TSB for every day between
// the first load and end, starting from zero fitness.
func CalculateFitnessTrend(dailyLoads []DailyLoad, end time.Time) []FitnessMetrics {
	if len(dailyLoads) == 0 {
		return nil
	}

	sorted := make([]DailyLoad, len(dailyLoads))
	copy(sorted, dailyLoads)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	ctlDecay := 2.0 / (42.0 + 1.0)
	atlDecay := 2.0 / (7.0 + 1.0)

	loadMap := make(map[string]float64)
	for _, dl := range sorted {
		loadMap[dl.Date.Format(store.DateLayout)] += dl.Load
	}

	startDate := dayStart(sorted[0].Date)
	endDate := dayStart(end)
	if last := dayStart(sorted[len(sorted)-1].Date); last.After(endDate) {
		endDate = last
	}

	var metrics []FitnessMetrics
	var ctl, atl float64
	for d := startDate; !d.After(endDate); d = d.AddDate(0, 0, 1) {
		load := loadMap[d.Format(store.DateLayout)] // 0 on rest days

		ctl = ctl + ctlDecay*(load-ctl)
		atl = atl + atlDecay*(load-atl)

		metrics = append(metrics, FitnessMetrics{
			Date: d,
			CTL:  ctl,
			ATL:  atl,
			TSB:  ctl - atl,
		})
	}

	return metrics
}

// FormDescription returns a human-readable description of TSB
func FormDescription(tsb float64) string {
	switch {
	case tsb > 25:
		return "Very fresh (possibly detrained)"
	case tsb > 10:
		return "Fresh and ready to race"
	case tsb > 0:
		return "Neutral - good for training"
	case tsb > -10:
		return "Slightly fatigued"
	case tsb > -25:
		return "Tired but building fitness"
	default:
		return "Very fatigued - rest needed"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
