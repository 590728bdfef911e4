package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestAuthRoundTripPerProvider(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.GetAuth(ctx, ProviderSocial)
	assert.ErrorIs(t, err, ErrNoAuth)

	expires := time.Unix(1700000000, 0)
	require.NoError(t, db.SaveAuth(ctx, &Auth{
		Provider:     ProviderSocial,
		AthleteID:    42,
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    expires,
	}))

	got, err := db.GetAuth(ctx, ProviderSocial)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.AthleteID)
	assert.Equal(t, "access", got.AccessToken)
	assert.True(t, got.ExpiresAt.Equal(expires))

	require.NoError(t, db.UpdateTokens(ctx, ProviderSocial, "a2", "r2", expires.Add(time.Hour)))
	got, err = db.GetAuth(ctx, ProviderSocial)
	require.NoError(t, err)
	assert.Equal(t, "a2", got.AccessToken)
	assert.Equal(t, "r2", got.RefreshToken)

	err = db.UpdateTokens(ctx, ProviderCoaching, "x", "y", expires)
	assert.ErrorIs(t, err, ErrNoAuth)
}

func TestActivitiesUpsertAndQuery(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 10, 7, 30, 0, 0, time.UTC)

	run := &Activity{
		ID:             "100",
		Provider:       ProviderCoaching,
		Name:           "Morning run",
		Type:           "run",
		StartLocal:     day,
		Duration:       floatPtr(3600),
		Distance:       floatPtr(10000),
		TrainingStress: floatPtr(72),
		PlatformCTL:    floatPtr(55),
	}
	require.NoError(t, db.UpsertActivity(ctx, run))

	// same id under another provider is a different row
	require.NoError(t, db.UpsertActivity(ctx, &Activity{
		ID: "100", Provider: ProviderSocial, Type: "run", StartLocal: day.Add(5 * time.Minute),
	}))

	got, err := db.GetActivity(ctx, ProviderCoaching, "100")
	require.NoError(t, err)
	assert.Equal(t, "Morning run", got.Name)
	require.NotNil(t, got.TrainingStress)
	assert.Equal(t, 72.0, *got.TrainingStress)
	assert.Nil(t, got.AvgPower)
	assert.True(t, got.StartLocal.Equal(day))

	run.Name = "Renamed"
	require.NoError(t, db.UpsertActivity(ctx, run))
	got, err = db.GetActivity(ctx, ProviderCoaching, "100")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	_, err = db.GetActivity(ctx, ProviderDevice, "100")
	assert.ErrorIs(t, err, ErrActivityNotFound)

	list, err := db.ListActivities(ctx, ProviderCoaching, day.Add(-time.Hour), day.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, list, 1)

	counts, err := db.CountActivities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[ProviderCoaching])
	assert.Equal(t, 1, counts[ProviderSocial])

	assert.Error(t, db.UpsertActivity(ctx, &Activity{Type: "run"}))
}

func TestWorkoutsFiltersDeviceByType(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)

	for i, typ := range []string{"run", "ride", "swim"} {
		require.NoError(t, db.UpsertActivity(ctx, &Activity{
			ID:         string(rune('a' + i)),
			Provider:   ProviderDevice,
			Type:       typ,
			StartLocal: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, db.UpsertActivity(ctx, &Activity{
		ID: "z", Provider: ProviderSocial, Type: "run", StartLocal: base,
	}))

	tests := []struct {
		name  string
		types []string
		want  int
	}{
		{"all types", nil, 3},
		{"single type", []string{"run"}, 1},
		{"two types", []string{"run", "swim"}, 2},
		{"unknown type", []string{"yoga"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.Workouts(ctx, base.Add(-time.Hour), base.Add(24*time.Hour), tt.types)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
			for _, a := range got {
				assert.Equal(t, ProviderDevice, a.Provider)
			}
		})
	}
}

func TestSamplesRangeAndDedup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)

	var samples []Sample
	for i := 0; i < 5; i++ {
		samples = append(samples, Sample{
			Metric:    MetricHRV,
			Timestamp: base.AddDate(0, 0, i),
			Value:     float64(50 + i),
			Source:    "watch",
		})
	}
	samples = append(samples, Sample{Metric: MetricRestingHR, Timestamp: base, Value: 48, Source: "watch"})
	require.NoError(t, db.SaveSamples(ctx, samples))

	// rewriting an existing reading replaces its value
	require.NoError(t, db.SaveSamples(ctx, []Sample{{Metric: MetricHRV, Timestamp: base, Value: 99, Source: "watch"}}))

	got, err := db.Samples(ctx, MetricHRV, base, base.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 99.0, got[0].Value)
	assert.Equal(t, 52.0, got[2].Value)

	rhr, err := db.Samples(ctx, MetricRestingHR, base, base.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Len(t, rhr, 1)

	assert.NoError(t, db.SaveSamples(ctx, nil))
}

func TestSleepSessions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)

	s := &SleepSession{
		Start:         start,
		End:           start.Add(8 * time.Hour),
		InBedSeconds:  8 * 3600,
		AsleepSeconds: 7 * 3600,
		DeepSeconds:   3600,
		REMSeconds:    5400,
		WakeEvents:    2,
		Source:        "watch",
	}
	require.NoError(t, db.SaveSleepSession(ctx, s))
	s.WakeEvents = 3
	require.NoError(t, db.SaveSleepSession(ctx, s))

	got, err := db.SleepSessions(ctx, start, start.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].WakeEvents)
	assert.Equal(t, 7.0*3600, got[0].AsleepSeconds)
	assert.True(t, got[0].End.Equal(start.Add(8*time.Hour)))
}

func TestDailyRecords(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.GetDailyRecord(ctx, "2024-03-10")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	rec := &DailyRecord{
		Date:         "2024-03-10",
		Recovery:     intPtr(72),
		RecoveryBand: "good",
		Components:   map[string]int{"recovery.hrv": 80},
		CTL:          50,
		ATL:          60,
		TSB:          -10,
		LoadMethod:   "platform",
		StressAlert:  true,
		ComputedAt:   time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.UpsertDailyRecord(ctx, rec))

	got, err := db.GetDailyRecord(ctx, "2024-03-10")
	require.NoError(t, err)
	require.NotNil(t, got.Recovery)
	assert.Equal(t, 72, *got.Recovery)
	assert.Nil(t, got.Sleep)
	assert.Equal(t, 80, got.Components["recovery.hrv"])
	assert.True(t, got.StressAlert)
	assert.False(t, got.LoadLowConfidence)

	// same-day recompute replaces the row
	rec.Recovery = intPtr(65)
	require.NoError(t, db.UpsertDailyRecord(ctx, rec))
	require.NoError(t, db.UpsertDailyRecord(ctx, &DailyRecord{Date: "2024-03-11", ComputedAt: rec.ComputedAt}))

	list, err := db.ListDailyRecords(ctx, "2024-03-01", "2024-03-31")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 65, *list[0].Recovery)
	assert.Equal(t, "2024-03-11", list[1].Date)

	require.NoError(t, db.UpdateBrief(ctx, "2024-03-10", "Easy day."))
	got, err = db.GetDailyRecord(ctx, "2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, "Easy day.", got.Brief)
	assert.ErrorIs(t, db.UpdateBrief(ctx, "2023-01-01", "x"), ErrRecordNotFound)

	assert.Error(t, db.UpsertDailyRecord(ctx, &DailyRecord{Date: "bad"}))
}

func TestSyncState(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	v, err := db.GetSyncState(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, db.SetSyncState(ctx, "coaching.last_sync", "2024-03-10T08:00:00Z"))
	require.NoError(t, db.SetSyncState(ctx, "coaching.last_sync", "2024-03-11T08:00:00Z"))
	v, err = db.GetSyncState(ctx, "coaching.last_sync")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-11T08:00:00Z", v)
}
