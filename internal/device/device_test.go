package device

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tormoder/fit"

	"readiness/internal/store"
)

func setupTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFromSession(t *testing.T) {
	start := time.Date(2024, 3, 10, 6, 30, 0, 0, time.UTC)
	berlin := time.FixedZone("CET", 3600)

	tests := []struct {
		name    string
		session fit.SessionMsg
		check   func(t *testing.T, a store.Activity)
		wantErr bool
	}{
		{
			name: "running session",
			session: fit.SessionMsg{
				StartTime:           start,
				Sport:               fit.SportRunning,
				TotalTimerTime:      3600000, // ms
				TotalDistance:       1000000, // cm
				AvgHeartRate:        150,
				MaxHeartRate:        math.MaxUint8,
				AvgPower:            math.MaxUint16,
				MaxPower:            math.MaxUint16,
				AvgCadence:          math.MaxUint8,
				TotalAscent:         math.MaxUint16,
				TotalCalories:       720,
				TrainingStressScore: math.MaxUint16,
				IntensityFactor:     math.MaxUint16,
			},
			check: func(t *testing.T, a store.Activity) {
				assert.Equal(t, store.ProviderDevice, a.Provider)
				assert.Equal(t, "run", a.Type)
				assert.Equal(t, time.Date(2024, 3, 10, 7, 30, 0, 0, time.UTC), a.StartLocal, "wall clock in athlete zone")
				assert.InDelta(t, 3600, *a.Duration, 1e-6)
				assert.InDelta(t, 10000, *a.Distance, 1e-6)
				assert.Equal(t, 150.0, *a.AvgHeartrate)
				assert.Equal(t, 720.0, *a.Calories)
				assert.Nil(t, a.MaxHeartrate)
				assert.Nil(t, a.AvgPower)
				assert.Nil(t, a.TrainingStress)
				assert.Nil(t, a.IntensityFactor)
			},
		},
		{
			name: "head unit training stress",
			session: fit.SessionMsg{
				StartTime:           start,
				Sport:               fit.SportCycling,
				TrainingStressScore: 855,
				IntensityFactor:     820,
				AvgHeartRate:        math.MaxUint8,
				MaxHeartRate:        math.MaxUint8,
				AvgCadence:          math.MaxUint8,
				AvgPower:            230,
				MaxPower:            math.MaxUint16,
				TotalAscent:         math.MaxUint16,
				TotalCalories:       math.MaxUint16,
			},
			check: func(t *testing.T, a store.Activity) {
				assert.Equal(t, "ride", a.Type)
				assert.InDelta(t, 85.5, *a.TrainingStress, 1e-9)
				assert.InDelta(t, 0.82, *a.IntensityFactor, 1e-9)
				assert.Equal(t, 230.0, *a.AvgPower)
				assert.True(t, a.HasComputedMetrics())
			},
		},
		{
			name:    "missing start",
			session: fit.SessionMsg{Sport: fit.SportRunning},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.session
			a, err := FromSession(&s, berlin)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, a)
		})
	}
}

func TestFromSessionStableID(t *testing.T) {
	s := fit.SessionMsg{StartTime: time.Date(2024, 3, 10, 6, 30, 0, 0, time.UTC), Sport: fit.SportRowing}

	a, err := FromSession(&s, time.UTC)
	require.NoError(t, err)
	b, err := FromSession(&s, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID, "re-import must map onto the same row")
	assert.Equal(t, "row", a.Type)
}

func TestDecodeFITRejectsGarbage(t *testing.T) {
	_, err := DecodeFIT(bytes.NewReader([]byte("definitely not a fit file")), time.UTC)
	assert.Error(t, err)
}

func TestImportFITSkipsBadFiles(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.fit")
	require.NoError(t, os.WriteFile(bad, []byte("junk"), 0600))

	n, errs := ImportFIT(context.Background(), db, []string{bad, filepath.Join(dir, "missing.fit")}, time.UTC)
	assert.Equal(t, 0, n)
	assert.Len(t, errs, 2)
}

func TestImportHealth(t *testing.T) {
	db := setupTestDB(t)
	doc := `{
	  "samples": [
	    {"metric": "hrv", "ts": "2024-03-10T06:30:00", "value": 55.5},
	    {"metric": "resting_hr", "ts": "2024-03-10T06:30:00", "value": 48, "source": "watch"},
	    {"metric": "steps", "ts": "2024-03-10T06:30:00", "value": 1000},
	    {"metric": "hrv", "ts": "not a time", "value": 50}
	  ],
	  "sleep": [
	    {"start": "2024-03-09T23:00:00", "end": "2024-03-10T07:00:00", "in_bed": 28800, "asleep": 26000,
	     "deep": 5000, "rem": 6000, "light": 15000, "awake": 2800, "wake_events": 2},
	    {"start": "2024-03-10T07:00:00", "end": "2024-03-10T06:00:00"}
	  ]
	}`

	summary, err := ImportHealth(context.Background(), db, strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, ImportSummary{Samples: 2, Sleep: 1, Skipped: 3}, summary)

	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	hrv, err := db.Samples(context.Background(), store.MetricHRV, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, hrv, 1)
	assert.Equal(t, 55.5, hrv[0].Value)
	assert.Equal(t, "device", hrv[0].Source)

	sessions, err := db.SleepSessions(context.Background(), day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 2, sessions[0].WakeEvents)

	_, err = ImportHealth(context.Background(), db, strings.NewReader("{"))
	assert.Error(t, err)
}

func TestSourceListsDeviceWorkouts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	dur := 1800.0
	for _, a := range []store.Activity{
		{ID: "d1", Provider: store.ProviderDevice, Type: "run", StartLocal: now.Add(-2 * time.Hour), Duration: &dur},
		{ID: "d2", Provider: store.ProviderDevice, Type: "walk", StartLocal: now.AddDate(0, 0, -10), Duration: &dur},
		{ID: "s1", Provider: store.ProviderSocial, Type: "run", StartLocal: now.Add(-2 * time.Hour), Duration: &dur},
	} {
		a := a
		require.NoError(t, db.UpsertActivity(ctx, &a))
	}

	src := NewSource(db)
	src.now = func() time.Time { return now }

	acts, err := src.ListActivities(ctx, now.AddDate(0, 0, -3))
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "d1", acts[0].ID)
	assert.Equal(t, store.ProviderDevice, src.Name())
}
