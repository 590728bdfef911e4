package analysis

import (
	"sort"
	"time"

	"readiness/internal/store"
)

// DailyValue is one calendar day's aggregated reading
type DailyValue struct {
	Date  time.Time
	Value float64
}

// DailyMeans averages samples per calendar day, oldest first.
func DailyMeans(samples []store.Sample) []DailyValue {
	type acc struct {
		day   time.Time
		sum   float64
		count int
	}
	byDay := make(map[string]*acc)
	for _, s := range samples {
		key := s.Timestamp.Format(store.DateLayout)
		a, ok := byDay[key]
		if !ok {
			a = &acc{day: dayStart(s.Timestamp)}
			byDay[key] = a
		}
		a.sum += s.Value
		a.count++
	}

	out := make([]DailyValue, 0, len(byDay))
	for _, a := range byDay {
		out = append(out, DailyValue{Date: a.day, Value: a.sum / float64(a.count)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// SleepDurations totals asleep seconds per wake-up day, oldest first.
func SleepDurations(sessions []store.SleepSession) []DailyValue {
	totals := make(map[string]*DailyValue)
	for _, s := range sessions {
		key := s.End.Format(store.DateLayout)
		v, ok := totals[key]
		if !ok {
			v = &DailyValue{Date: dayStart(s.End)}
			totals[key] = v
		}
		v.Value += s.AsleepSeconds
	}

	out := make([]DailyValue, 0, len(totals))
	for _, v := range totals {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// BedtimeMinutes is minutes after noon, so bedtimes either side of midnight stay ordered.
func BedtimeMinutes(t time.Time) float64 {
	m := t.Hour()*60 + t.Minute() - 12*60
	if m < 0 {
		m += 24 * 60
	}
	return float64(m)
}

// WakeMinutes is minutes after midnight
func WakeMinutes(t time.Time) float64 {
	return float64(t.Hour()*60 + t.Minute())
}

// mainSessions keeps the longest session per wake-up day, oldest first.
func mainSessions(sessions []store.SleepSession) []store.SleepSession {
	longest := make(map[string]store.SleepSession)
	for _, s := range sessions {
		key := s.End.Format(store.DateLayout)
		if cur, ok := longest[key]; !ok || s.AsleepSeconds > cur.AsleepSeconds {
			longest[key] = s
		}
	}
	out := make([]store.SleepSession, 0, len(longest))
	for _, s := range longest {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].End.Before(out[j].End) })
	return out
}

// MainSession returns the longest session that ended on day, if any.
func MainSession(sessions []store.SleepSession, day time.Time) *store.SleepSession {
	key := day.Format(store.DateLayout)
	for _, s := range mainSessions(sessions) {
		if s.End.Format(store.DateLayout) == key {
			s := s
			return &s
		}
	}
	return nil
}

// Baseline is the mean of the values in the window days before asOf. The asOf
// day itself is excluded and days without data are skipped rather than
// counted as zero. Returns nil when fewer than minDays days carry data.
func Baseline(values []DailyValue, asOf time.Time, window, minDays int) *float64 {
	if window <= 0 {
		return nil
	}
	if minDays < 1 {
		minDays = 1
	}
	end := dayStart(asOf)
	start := end.AddDate(0, 0, -window)

	var sum float64
	var n int
	for _, v := range values {
		d := dayStart(v.Date)
		if d.Before(start) || !d.Before(end) {
			continue
		}
		sum += v.Value
		n++
	}
	if n < minDays {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}

// ValueOn returns the value recorded for day, if any.
func ValueOn(values []DailyValue, day time.Time) *float64 {
	key := day.Format(store.DateLayout)
	for _, v := range values {
		if v.Date.Format(store.DateLayout) == key {
			val := v.Value
			return &val
		}
	}
	return nil
}

// BaselineWindows are per-metric lookbacks in days
type BaselineWindows struct {
	HRV         int
	RHR         int
	Sleep       int
	Respiratory int
	MinDays     int
}

// DefaultBaselineWindows returns the standard lookbacks
func DefaultBaselineWindows() BaselineWindows {
	return BaselineWindows{
		HRV:         30,
		RHR:         30,
		Sleep:       14,
		Respiratory: 30,
		MinDays:     3,
	}
}

// History is the raw input to ComputeBaselines.
type History struct {
	HRV         []store.Sample
	RestingHR   []store.Sample
	Respiratory []store.Sample
	Sleep       []store.SleepSession
}

// Baselines holds trailing averages; a nil field means not enough history.
type Baselines struct {
	HRV            *float64
	RestingHR      *float64
	SleepSeconds   *float64
	Respiratory    *float64
	BedtimeMinutes *float64
	WakeMinutes    *float64
}

// ComputeBaselines computes every baseline as of asOf.
func ComputeBaselines(h History, asOf time.Time, w BaselineWindows) Baselines {
	var bed, wake []DailyValue
	for _, s := range mainSessions(h.Sleep) {
		day := dayStart(s.End)
		bed = append(bed, DailyValue{Date: day, Value: BedtimeMinutes(s.Start)})
		wake = append(wake, DailyValue{Date: day, Value: WakeMinutes(s.End)})
	}

	return Baselines{
		HRV:            Baseline(DailyMeans(h.HRV), asOf, w.HRV, w.MinDays),
		RestingHR:      Baseline(DailyMeans(h.RestingHR), asOf, w.RHR, w.MinDays),
		SleepSeconds:   Baseline(SleepDurations(h.Sleep), asOf, w.Sleep, w.MinDays),
		Respiratory:    Baseline(DailyMeans(h.Respiratory), asOf, w.Respiratory, w.MinDays),
		BedtimeMinutes: Baseline(bed, asOf, w.Sleep, w.MinDays),
		WakeMinutes:    Baseline(wake, asOf, w.Sleep, w.MinDays),
	}
}
