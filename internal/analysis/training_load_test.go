package analysis

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readiness/internal/store"
)

func floatPtr(v float64) *float64 { return &v }

const (
	lambdaCTL = 2.0 / 43.0
	lambdaATL = 2.0 / 8.0
)

func TestDefaultZones(t *testing.T) {
	zones := DefaultZones()

	assert.Equal(t, 50.0, zones.RestingHR)
	assert.Equal(t, 185.0, zones.MaxHR)
	assert.Equal(t, 165.0, zones.ThresholdHR)
	assert.False(t, zones.Female)
}

func TestTRIMP(t *testing.T) {
	defaultZones := DefaultZones()

	tests := []struct {
		name     string
		activity store.Activity
		zones    HRZones
		expected float64
		delta    float64
	}{
		{
			name: "one hour at 150 bpm",
			activity: store.Activity{
				Duration:     floatPtr(3600),
				AvgHeartrate: floatPtr(150),
			},
			zones: defaultZones,
			// hrRatio = (150-50)/(185-50) = 0.741
			// TRIMP = 60 * 0.741 * e^(1.92*0.741)
			expected: 184.3,
			delta:    1,
		},
		{
			name:     "no HR data available",
			activity: store.Activity{Duration: floatPtr(3600)},
			zones:    defaultZones,
			expected: 0,
		},
		{
			name: "zero HR reserve",
			activity: store.Activity{
				Duration:     floatPtr(3600),
				AvgHeartrate: floatPtr(150),
			},
			zones:    HRZones{RestingHR: 150, MaxHR: 150},
			expected: 0,
		},
		{
			name: "HR above max clamps ratio to 1",
			activity: store.Activity{
				Duration:     floatPtr(3600),
				AvgHeartrate: floatPtr(200),
			},
			zones:    defaultZones,
			expected: 60 * math.Exp(1.92),
			delta:    0.01,
		},
		{
			name: "female coefficient",
			activity: store.Activity{
				Duration:     floatPtr(3600),
				AvgHeartrate: floatPtr(185),
			},
			zones:    HRZones{RestingHR: 50, MaxHR: 185, Female: true},
			expected: 60 * math.Exp(1.67),
			delta:    0.01,
		},
		{
			name: "duration estimated from distance",
			activity: store.Activity{
				Type:         "Run",
				Distance:     floatPtr(2.8 * 3600),
				AvgHeartrate: floatPtr(150),
			},
			zones:    defaultZones,
			expected: 184.3,
			delta:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, TRIMP(tt.activity, tt.zones), tt.delta+1e-9)
		})
	}
}

func TestHRSSNormalizedToThresholdHour(t *testing.T) {
	zones := DefaultZones()

	atThreshold := store.Activity{Duration: floatPtr(3600), AvgHeartrate: floatPtr(165)}
	assert.InDelta(t, 100, HRSS(atThreshold, zones), 1e-6)

	twoHours := store.Activity{Duration: floatPtr(7200), AvgHeartrate: floatPtr(165)}
	assert.InDelta(t, 200, HRSS(twoHours, zones), 1e-6)

	easy := store.Activity{Duration: floatPtr(3600), AvgHeartrate: floatPtr(150)}
	assert.InDelta(t, 70.3, HRSS(easy, zones), 0.5)

	assert.Zero(t, HRSS(store.Activity{Duration: floatPtr(3600)}, zones))
}

func TestSessionImpulse(t *testing.T) {
	zones := DefaultZones()

	tests := []struct {
		name     string
		activity store.Activity
		expected float64
	}{
		{
			name: "provider training stress wins",
			activity: store.Activity{
				Duration:       floatPtr(3600),
				AvgHeartrate:   floatPtr(165),
				TrainingStress: floatPtr(42),
			},
			expected: 42,
		},
		{
			name: "intensity factor estimate",
			activity: store.Activity{
				Duration:        floatPtr(7200),
				IntensityFactor: floatPtr(0.8),
			},
			expected: 2 * 0.64 * 100,
		},
		{
			name:     "heart rate fallback",
			activity: store.Activity{Duration: floatPtr(3600), AvgHeartrate: floatPtr(165)},
			expected: 100,
		},
		{
			name:     "nothing to go on",
			activity: store.Activity{Type: "yoga"},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, SessionImpulse(tt.activity, zones), 1e-6)
		})
	}
}

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		name     string
		activity store.Activity
		want     float64
		ok       bool
	}{
		{"explicit duration", store.Activity{Duration: floatPtr(1800)}, 1800, true},
		{"run distance", store.Activity{Type: "Run", Distance: floatPtr(2800)}, 1000, true},
		{"ride distance", store.Activity{Type: "VirtualRide", Distance: floatPtr(7000)}, 1000, true},
		{"unknown type falls to calories", store.Activity{Type: "Yoga", Distance: floatPtr(100), Calories: floatPtr(100)}, 600, true},
		{"nothing", store.Activity{Type: "run"}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := EstimateDuration(tt.activity)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestComputeLoad(t *testing.T) {
	t.Run("all zeros", func(t *testing.T) {
		load := ComputeLoad(make(LoadSeries, 42))
		assert.Zero(t, load.CTL)
		assert.Zero(t, load.ATL)
		assert.Zero(t, load.TSB)
		assert.True(t, load.LowConfidence)
	})

	t.Run("single nonzero impulse", func(t *testing.T) {
		series := make(LoadSeries, 42)
		series[38] = 100

		load := ComputeLoad(series)
		assert.Greater(t, load.CTL, 0.0)
		assert.Greater(t, load.ATL, 0.0)
		assert.Less(t, load.CTL, lambdaCTL*100)
		assert.InDelta(t, lambdaCTL*100*math.Pow(1-lambdaCTL, 3), load.CTL, 1e-9)
		assert.InDelta(t, lambdaATL*100*math.Pow(1-lambdaATL, 3), load.ATL, 1e-9)
		assert.InDelta(t, load.CTL-load.ATL, load.TSB, 1e-12)
		assert.Equal(t, 1, load.NonzeroDays)
	})

	t.Run("constant load is steady", func(t *testing.T) {
		series := make(LoadSeries, 42)
		for i := range series {
			series[i] = 50
		}
		load := ComputeLoad(series)
		assert.InDelta(t, 50, load.CTL, 1e-9)
		assert.InDelta(t, 50, load.ATL, 1e-9)
		assert.InDelta(t, 0, load.TSB, 1e-9)
		assert.False(t, load.LowConfidence)
	})

	t.Run("ATL seeded from trailing week", func(t *testing.T) {
		series := make(LoadSeries, 42)
		series[35] = 80 // first of the trailing 7
		load := ComputeLoad(series)
		assert.InDelta(t, 80*math.Pow(1-lambdaATL, 6), load.ATL, 1e-9)
	})

	t.Run("short series", func(t *testing.T) {
		load := ComputeLoad(LoadSeries{10, 20})
		assert.InDelta(t, 10+lambdaCTL*10, load.CTL, 1e-9)
		assert.InDelta(t, 10+lambdaATL*10, load.ATL, 1e-9)
	})

	t.Run("empty series", func(t *testing.T) {
		load := ComputeLoad(nil)
		assert.Zero(t, load.CTL)
		assert.Zero(t, load.ATL)
	})
}

func TestBuildImpulseSeries(t *testing.T) {
	end := time.Date(2024, 3, 31, 20, 0, 0, 0, time.UTC)
	zones := DefaultZones()

	activities := []store.Activity{
		{StartLocal: time.Date(2024, 3, 31, 7, 0, 0, 0, time.UTC), TrainingStress: floatPtr(40)},
		{StartLocal: time.Date(2024, 3, 31, 18, 0, 0, 0, time.UTC), TrainingStress: floatPtr(20)},
		{StartLocal: time.Date(2024, 2, 19, 7, 0, 0, 0, time.UTC), TrainingStress: floatPtr(30)}, // day 0
		{StartLocal: time.Date(2024, 2, 18, 7, 0, 0, 0, time.UTC), TrainingStress: floatPtr(99)}, // outside
		{StartLocal: time.Date(2024, 4, 1, 7, 0, 0, 0, time.UTC), TrainingStress: floatPtr(99)},  // future
	}

	series := BuildImpulseSeries(activities, end, 42, zones)
	require.Len(t, series, 42)
	assert.Equal(t, 60.0, series[41], "same-day sessions are summed")
	assert.Equal(t, 30.0, series[0])
	assert.Equal(t, 2, series.NonzeroDays())
	assert.Equal(t, 0.0, series[20], "rest days are explicit zeros")

	assert.Len(t, BuildImpulseSeries(nil, end, 0, zones), 42)
}

func TestRecentStrain(t *testing.T) {
	series := make(LoadSeries, 42)
	series[34] = 500 // just outside the trailing week
	series[35] = 10
	series[41] = 5
	assert.Equal(t, 15.0, RecentStrain(series))
	assert.Equal(t, 3.0, RecentStrain(LoadSeries{1, 2}))
}

func TestResolveTrainingLoad(t *testing.T) {
	end := time.Date(2024, 3, 31, 20, 0, 0, 0, time.UTC)
	day := func(d int) time.Time { return end.AddDate(0, 0, -d) }

	coachingWithPlatform := []store.Activity{
		{ID: "old", StartLocal: day(3), PlatformCTL: floatPtr(40), PlatformATL: floatPtr(30)},
		{ID: "new", StartLocal: day(1), PlatformCTL: floatPtr(55), PlatformATL: floatPtr(70)},
		{ID: "bare", StartLocal: day(0), TrainingStress: floatPtr(50)},
	}
	canonical := []store.Activity{{StartLocal: day(0), TrainingStress: floatPtr(84)}}
	device := []store.Activity{{StartLocal: day(0), Duration: floatPtr(3600), AvgHeartrate: floatPtr(165)}}

	t.Run("platform values preferred from most recent", func(t *testing.T) {
		load := ResolveTrainingLoad(LoadInputs{
			Coaching:  coachingWithPlatform,
			Canonical: canonical,
			End:       end,
			Days:      42,
			Zones:     DefaultZones(),
		})
		assert.Equal(t, MethodPlatform, load.Method)
		assert.Equal(t, 55.0, load.CTL)
		assert.Equal(t, 70.0, load.ATL)
		assert.Equal(t, -15.0, load.TSB)
	})

	t.Run("computed from canonical set", func(t *testing.T) {
		load := ResolveTrainingLoad(LoadInputs{
			Coaching:  []store.Activity{{StartLocal: day(0), TrainingStress: floatPtr(84)}},
			Canonical: canonical,
			Device:    device,
			End:       end,
			Days:      42,
			Zones:     DefaultZones(),
		})
		assert.Equal(t, MethodComputed, load.Method)
		assert.InDelta(t, lambdaCTL*84, load.CTL, 1e-9)
	})

	t.Run("device fallback without coaching data", func(t *testing.T) {
		load := ResolveTrainingLoad(LoadInputs{
			Canonical: canonical,
			Device:    device,
			End:       end,
			Days:      42,
			Zones:     DefaultZones(),
		})
		assert.Equal(t, MethodDevice, load.Method)
		assert.InDelta(t, lambdaCTL*100, load.CTL, 1e-6)
		assert.True(t, load.LowConfidence)
	})
}

func TestCalculateFitnessTrend(t *testing.T) {
	baseDate := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	t.Run("empty loads", func(t *testing.T) {
		assert.Nil(t, CalculateFitnessTrend(nil, baseDate))
	})

	t.Run("fills rest days through end", func(t *testing.T) {
		loads := []DailyLoad{{Date: baseDate, Load: 100}}
		metrics := CalculateFitnessTrend(loads, baseDate.AddDate(0, 0, 2))
		require.Len(t, metrics, 3)

		assert.InDelta(t, lambdaCTL*100, metrics[0].CTL, 1e-9)
		assert.InDelta(t, lambdaATL*100, metrics[0].ATL, 1e-9)
		assert.Less(t, metrics[2].ATL, metrics[1].ATL, "fatigue decays on rest days")
		for _, m := range metrics {
			assert.InDelta(t, m.CTL-m.ATL, m.TSB, 1e-12)
		}
	})

	t.Run("sums same-day loads and ignores input order", func(t *testing.T) {
		loads := []DailyLoad{
			{Date: baseDate.AddDate(0, 0, 1), Load: 10},
			{Date: baseDate, Load: 30},
			{Date: baseDate.Add(3 * time.Hour), Load: 20},
		}
		metrics := CalculateFitnessTrend(loads, baseDate)
		require.Len(t, metrics, 2)
		assert.InDelta(t, lambdaCTL*50, metrics[0].CTL, 1e-9)
		assert.Equal(t, 30.0, loads[1].Load, "input slice is not reordered")
	})
}

func TestDailyLoads(t *testing.T) {
	loads := DailyLoads([]store.Activity{
		{StartLocal: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), TrainingStress: floatPtr(45)},
	}, DefaultZones())
	require.Len(t, loads, 1)
	assert.Equal(t, 45.0, loads[0].Load)
}

func TestFormDescription(t *testing.T) {
	tests := []struct {
		tsb      float64
		expected string
	}{
		{30, "Very fresh (possibly detrained)"},
		{15, "Fresh and ready to race"},
		{5, "Neutral - good for training"},
		{-5, "Slightly fatigued"},
		{-15, "Tired but building fitness"},
		{-30, "Very fatigued - rest needed"},
		{25, "Fresh and ready to race"},
		{0, "Slightly fatigued"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormDescription(tt.tsb))
		})
	}
}
