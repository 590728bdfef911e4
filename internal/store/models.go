package store

import "time"

// DateLayout is the key format for everything stored per calendar day.
const DateLayout = "2006-01-02"

// Provider identifies where an activity came from.
type Provider string

const (
	ProviderCoaching Provider = "coaching" // coaching platform, computes training stress
	ProviderSocial   Provider = "social"   // fitness-social platform
	ProviderDevice   Provider = "device"   // platform health store / device workouts
)

// Auth represents OAuth tokens for one provider
type Auth struct {
	Provider     Provider  `db:"provider"`
	AthleteID    int64     `db:"athlete_id"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresAt    time.Time `db:"expires_at"`
}

// Activity is one completed exercise session as reported by a single provider.
// ID is only unique within Provider.
type Activity struct {
	ID              string
	Provider        Provider
	Name            string
	Type            string
	StartLocal      time.Time
	Duration        *float64 // seconds
	Distance        *float64 // meters
	AvgPower        *float64
	MaxPower        *float64
	AvgHeartrate    *float64
	MaxHeartrate    *float64
	AvgCadence      *float64
	ElevationGain   *float64 // meters
	TrainingStress  *float64 // provider-computed TSS-like value
	IntensityFactor *float64
	Calories        *float64
	PlatformCTL     *float64 // coaching platform fitness after this activity
	PlatformATL     *float64 // coaching platform fatigue after this activity
}

// HasComputedMetrics reports whether the provider supplied training stress or intensity.
func (a Activity) HasComputedMetrics() bool {
	return a.TrainingStress != nil || a.IntensityFactor != nil
}

// Metric names a scalar sample series in the health store.
type Metric string

const (
	MetricHRV             Metric = "hrv"
	MetricRestingHR       Metric = "resting_hr"
	MetricRespiratoryRate Metric = "respiratory_rate"
)

// Sample is one timestamped scalar reading
type Sample struct {
	Metric    Metric
	Timestamp time.Time
	Value     float64
	Source    string
}

// SleepSession is one night of sleep with its stage breakdown. Durations are seconds.
type SleepSession struct {
	ID            int64
	Start         time.Time
	End           time.Time
	InBedSeconds  float64
	AsleepSeconds float64
	DeepSeconds   float64
	REMSeconds    float64
	LightSeconds  float64
	AwakeSeconds  float64
	WakeEvents    int
	Source        string
}

// DailyRecord is the persisted per-day view of all derived scores.
type DailyRecord struct {
	Date string

	Recovery     *int
	RecoveryBand string
	Sleep        *int
	SleepBand    string

	StressAcute   *int
	StressChronic *int
	StressBand    string

	// Components holds sub-scores keyed "<score>.<component>".
	Components map[string]int

	CTL               float64
	ATL               float64
	TSB               float64
	LoadMethod        string
	LoadLowConfidence bool
	RecentStrain      float64

	StressThreshold float64
	StressAlert     bool

	IllnessSeverity string

	FormDescription string
	Brief           string

	ComputedAt time.Time
}

// Day parses the record's date key
func (r *DailyRecord) Day() (time.Time, error) {
	return time.Parse(DateLayout, r.Date)
}
