package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readiness/internal/analysis"
	"readiness/internal/brief"
	"readiness/internal/cache"
	"readiness/internal/metrics"
	"readiness/internal/provider"
	"readiness/internal/store"
)

var passDay = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func passClock() time.Time { return passDay.Add(9 * time.Hour) }

// seedHealth writes two weeks of steady readings and a rough today: HRV down
// 20% and resting HR up 12%.
func seedHealth(t *testing.T, db *store.DB) {
	t.Helper()
	ctx := context.Background()

	var samples []store.Sample
	for i := 14; i >= 0; i-- {
		day := passDay.AddDate(0, 0, -i)
		hrv, rhr := 60.0, 50.0
		if i == 0 {
			hrv, rhr = 48, 56
		}
		ts := day.Add(7 * time.Hour)
		samples = append(samples,
			store.Sample{Metric: store.MetricHRV, Timestamp: ts, Value: hrv, Source: "watch"},
			store.Sample{Metric: store.MetricRestingHR, Timestamp: ts, Value: rhr, Source: "watch"},
		)

		sleep := &store.SleepSession{
			Start:         day.Add(-time.Hour),
			End:           day.Add(7 * time.Hour),
			InBedSeconds:  8 * 3600,
			AsleepSeconds: 7.5 * 3600,
			DeepSeconds:   1.5 * 3600,
			REMSeconds:    1.75 * 3600,
			LightSeconds:  4.25 * 3600,
			AwakeSeconds:  0.5 * 3600,
			WakeEvents:    2,
			Source:        "watch",
		}
		require.NoError(t, db.SaveSleepSession(ctx, sleep))
	}
	require.NoError(t, db.SaveSamples(ctx, samples))
}

func newDaily(t *testing.T, db DailyStore, syncer *SyncService, opts ...DailyOption) *DailyService {
	t.Helper()
	set := DefaultSettings()
	set.Timeout = 2 * time.Second
	c := cache.New(cache.WithClock(passClock))
	return NewDailyService(db, syncer, c, set, append([]DailyOption{WithClock(passClock)}, opts...)...)
}

func TestCalculateFullPass(t *testing.T) {
	db := setupTestDB(t)
	seedHealth(t, db)

	run := activity(store.ProviderCoaching, "c1", "run", passDay.AddDate(0, 0, -1).Add(7*time.Hour), 60)
	run.TrainingStress = floatPtr(70)
	syncer := NewSyncService(db,
		&provider.Static{Provider: store.ProviderCoaching, Activities: []store.Activity{run}},
		&provider.Static{Provider: store.ProviderSocial, Activities: []store.Activity{
			// same session as c1, reported by the social platform
			activity(store.ProviderSocial, "s1", "run", passDay.AddDate(0, 0, -1).Add(7*time.Hour+5*time.Minute), 58),
		}},
	)

	reg := metrics.New()
	svc := newDaily(t, db, syncer, WithMetrics(reg))

	rec, err := svc.Calculate(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, "2024-03-15", rec.Date)
	require.NotNil(t, rec.Sleep)
	require.NotNil(t, rec.Recovery)
	require.NotNil(t, rec.StressAcute)
	require.NotNil(t, rec.StressChronic)
	assert.Equal(t, *rec.StressAcute, *rec.StressChronic, "no prior days, chronic equals acute")
	assert.NotEmpty(t, rec.SleepBand)
	assert.NotEmpty(t, rec.RecoveryBand)
	assert.Contains(t, rec.Components, "recovery.hrv")
	assert.Contains(t, rec.Components, "recovery.rhr")
	assert.Contains(t, rec.Components, "sleep.efficiency")
	assert.Equal(t, string(analysis.MethodComputed), rec.LoadMethod)
	assert.True(t, rec.LoadLowConfidence)
	assert.Greater(t, rec.CTL, 0.0)
	assert.Contains(t, rec.Components, "recovery.form")
	assert.Equal(t, 60.0, rec.StressThreshold, "uncalibrated threshold")
	assert.Equal(t, "mild", rec.IllnessSeverity, "resting HR far above baseline today")
	assert.NotEmpty(t, rec.FormDescription)

	stored, err := db.GetDailyRecord(context.Background(), "2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, *rec.Recovery, *stored.Recovery)
	assert.Equal(t, rec.Components, stored.Components)

	ind, err := svc.Illness().Last()
	require.NoError(t, err)
	assert.Equal(t, "mild", string(ind.Severity))
}

func TestCalculateWithoutProviders(t *testing.T) {
	db := setupTestDB(t)
	seedHealth(t, db)
	svc := newDaily(t, db, nil)

	rec, err := svc.Calculate(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, rec.Recovery)
	_, hasForm := rec.Components["recovery.form"]
	assert.False(t, hasForm, "no training load without activities")
	assert.Zero(t, rec.CTL)
}

func TestCalculateNoData(t *testing.T) {
	db := setupTestDB(t)
	svc := newDaily(t, db, nil)

	rec, err := svc.Calculate(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, rec.Recovery)
	assert.Nil(t, rec.Sleep)
	assert.Equal(t, "none", rec.IllnessSeverity)
}

// countingStore counts sample reads and can hold them until released.
type countingStore struct {
	*store.DB
	reads   atomic.Int32
	hold    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (s *countingStore) Samples(ctx context.Context, m store.Metric, from, to time.Time) ([]store.Sample, error) {
	s.reads.Add(1)
	if s.hold != nil {
		s.once.Do(func() { close(s.entered) })
		select {
		case <-s.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.DB.Samples(ctx, m, from, to)
}

func TestCalculateMemoizedPerDay(t *testing.T) {
	db := setupTestDB(t)
	seedHealth(t, db)
	cs := &countingStore{DB: db}
	svc := newDaily(t, cs, nil)
	ctx := context.Background()

	first, err := svc.Calculate(ctx, false)
	require.NoError(t, err)
	reads := cs.reads.Load()

	second, err := svc.Calculate(ctx, false)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, reads, cs.reads.Load(), "second call must not fetch")

	t.Run("persisted record survives a restart", func(t *testing.T) {
		fresh := newDaily(t, cs, nil)
		rec, err := fresh.Calculate(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, *first.Recovery, *rec.Recovery)
		assert.Equal(t, reads, cs.reads.Load())
	})

	t.Run("force recomputes", func(t *testing.T) {
		again, err := svc.Calculate(ctx, true)
		require.NoError(t, err)
		assert.NotSame(t, first, again)
		assert.Equal(t, *first.Recovery, *again.Recovery)
	})
}

func TestCalculateInFlight(t *testing.T) {
	db := setupTestDB(t)
	cs := &countingStore{DB: db, hold: make(chan struct{}), entered: make(chan struct{})}
	svc := newDaily(t, cs, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Calculate(context.Background(), false)
		done <- err
	}()

	<-cs.entered
	_, err := svc.Calculate(context.Background(), true)
	assert.ErrorIs(t, err, ErrPassInFlight)

	close(cs.hold)
	require.NoError(t, <-done)
}

func TestCalculateTimeoutPublishesNothing(t *testing.T) {
	db := setupTestDB(t)
	seedHealth(t, db)

	previous := &store.DailyRecord{Date: "2024-03-14", Components: map[string]int{}, ComputedAt: passDay.Add(-15 * time.Hour)}
	require.NoError(t, db.UpsertDailyRecord(context.Background(), previous))

	cs := &countingStore{DB: db, hold: make(chan struct{}), entered: make(chan struct{})}
	defer close(cs.hold)

	set := DefaultSettings()
	set.Timeout = 50 * time.Millisecond
	svc := NewDailyService(cs, nil, cache.New(cache.WithClock(passClock)), set, WithClock(passClock))

	events, cancel := svc.Subscribe()
	defer cancel()

	_, err := svc.Calculate(context.Background(), true)
	assert.ErrorIs(t, err, ErrPassTimeout)

	_, err = db.GetDailyRecord(context.Background(), "2024-03-15")
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
	_, err = svc.Today(context.Background())
	assert.Error(t, err)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event for %s", ev.Date)
	default:
	}
}

func TestCalculateSurvivesCanceledSharedFetch(t *testing.T) {
	db := setupTestDB(t)
	seedHealth(t, db)
	cs := &countingStore{DB: db, hold: make(chan struct{}), entered: make(chan struct{})}
	svc := newDaily(t, cs, nil)

	// an illness check starts the sample fetches the pass will join
	illCtx, cancelIll := context.WithCancel(context.Background())
	illDone := make(chan error, 1)
	go func() {
		_, err := svc.Illness().Analyze(illCtx, false)
		illDone <- err
	}()
	<-cs.entered

	type result struct {
		rec *store.DailyRecord
		err error
	}
	passDone := make(chan result, 1)
	go func() {
		rec, err := svc.Calculate(context.Background(), false)
		passDone <- result{rec, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelIll()
	assert.ErrorIs(t, <-illDone, context.Canceled)
	close(cs.hold)

	r := <-passDone
	require.NoError(t, r.err)
	assert.Contains(t, r.rec.Components, "recovery.hrv")
	assert.Contains(t, r.rec.Components, "recovery.rhr")

	again, err := svc.Calculate(context.Background(), false)
	require.NoError(t, err)
	assert.Same(t, r.rec, again)
}

func TestCalculateTimeoutKeepsGuardUntilComputeReturns(t *testing.T) {
	db := setupTestDB(t)
	seedHealth(t, db)

	// the second clock read happens while scoring; holding it keeps compute
	// running past the timeout regardless of cancellation
	var reads atomic.Int32
	gate := make(chan struct{})
	clock := func() time.Time {
		if reads.Add(1) == 2 {
			select {
			case <-gate:
			case <-time.After(5 * time.Second):
			}
		}
		return passClock()
	}

	set := DefaultSettings()
	set.Timeout = 300 * time.Millisecond
	svc := NewDailyService(db, nil, cache.New(cache.WithClock(passClock)), set, WithClock(clock))

	_, err := svc.Calculate(context.Background(), true)
	require.ErrorIs(t, err, ErrPassTimeout)

	_, err = svc.Calculate(context.Background(), true)
	assert.ErrorIs(t, err, ErrPassInFlight, "timed-out compute is still running")

	close(gate)
	require.Eventually(t, func() bool { return !svc.running.Load() }, 2*time.Second, 5*time.Millisecond)

	rec, err := svc.Calculate(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", rec.Date)
}

func TestSubscribe(t *testing.T) {
	db := setupTestDB(t)
	seedHealth(t, db)
	svc := newDaily(t, db, nil)

	events, cancel := svc.Subscribe()

	rec, err := svc.Calculate(context.Background(), false)
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, "2024-03-15", ev.Date)
		assert.Same(t, rec, ev.Record)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}

	cancel()
	cancel()
	_, err = svc.Calculate(context.Background(), true)
	require.NoError(t, err)
	select {
	case <-events:
		t.Fatal("event after cancel")
	default:
	}
}

func TestChronicStressUsesPriorDays(t *testing.T) {
	db := setupTestDB(t)
	seedHealth(t, db)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		v := 20
		rec := &store.DailyRecord{
			Date:        passDay.AddDate(0, 0, -i).Format(store.DateLayout),
			StressAcute: &v,
			Components:  map[string]int{},
			ComputedAt:  passDay.AddDate(0, 0, -i),
		}
		require.NoError(t, db.UpsertDailyRecord(ctx, rec))
	}

	svc := newDaily(t, db, nil)
	rec, err := svc.Calculate(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, rec.StressAcute)

	want := (6*20 + *rec.StressAcute + 3) / 7
	assert.InDelta(t, want, *rec.StressChronic, 1)
	// ten calibrated days of 20 put the threshold at the floor
	assert.Equal(t, 40.0, rec.StressThreshold)
}

func TestBriefRequest(t *testing.T) {
	recovery := 85
	rec := &store.DailyRecord{Date: "2024-03-15", Recovery: &recovery, CTL: 50, TSB: -4.26, IllnessSeverity: ""}
	acts := []store.Activity{activity(store.ProviderCoaching, "c1", "Run", passDay.Add(7*time.Hour), 45)}
	acts[0].TrainingStress = floatPtr(55)

	req := BriefRequest(rec, brief.Deltas{HRVPct: floatPtr(5)}, acts, analysis.DefaultZones())

	assert.Equal(t, "2024-03-15", req.Date)
	assert.Equal(t, brief.Range{Low: 45, High: 70}, req.TrainingStressRange)
	assert.Equal(t, -4.3, req.TSB)
	assert.Equal(t, "none", req.Illness)
	require.Len(t, req.Activities, 1)
	assert.Equal(t, "run", req.Activities[0].Type)
	assert.Equal(t, 45.0, req.Activities[0].DurationMinutes)
	require.NotNil(t, req.Activities[0].TrainingStress)
	assert.Equal(t, 55.0, *req.Activities[0].TrainingStress)

	t.Run("low fitness and no recovery", func(t *testing.T) {
		req := BriefRequest(&store.DailyRecord{Date: "2024-03-15", CTL: 5}, brief.Deltas{}, nil, analysis.DefaultZones())
		assert.Equal(t, brief.Range{Low: 12, High: 20}, req.TrainingStressRange)
		assert.Empty(t, req.Activities)
	})
}

type fakeBriefer struct {
	calls int
	last  brief.Request
	err   error
}

func (f *fakeBriefer) Generate(_ context.Context, req brief.Request) (brief.Response, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return brief.Response{}, f.err
	}
	return brief.Response{Text: "Easy day."}, nil
}

func TestBrief(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		svc := newDaily(t, setupTestDB(t), nil)
		_, err := svc.Brief(ctx)
		assert.ErrorIs(t, err, brief.ErrDisabled)
	})

	t.Run("stores text on the record", func(t *testing.T) {
		db := setupTestDB(t)
		seedHealth(t, db)
		fb := &fakeBriefer{}
		svc := newDaily(t, db, nil, WithBriefer(fb))

		resp, err := svc.Brief(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Easy day.", resp.Text)
		assert.Equal(t, "2024-03-15", fb.last.Date)
		require.NotNil(t, fb.last.Deltas.HRVPct)
		assert.InDelta(t, -20, *fb.last.Deltas.HRVPct, 0.01)

		rec, err := svc.Today(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Easy day.", rec.Brief)
		stored, err := db.GetDailyRecord(ctx, "2024-03-15")
		require.NoError(t, err)
		assert.Equal(t, "Easy day.", stored.Brief)
	})

	t.Run("generation error", func(t *testing.T) {
		db := setupTestDB(t)
		fb := &fakeBriefer{err: errors.New("upstream down")}
		svc := newDaily(t, db, nil, WithBriefer(fb))
		_, err := svc.Brief(ctx)
		assert.Error(t, err)
	})
}

func TestLoadTrend(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	for i := 1; i <= 20; i++ {
		a := activity(store.ProviderSocial, "s"+strconv.Itoa(i), "run", time.Now().UTC().AddDate(0, 0, -i), 45)
		a.TrainingStress = floatPtr(50)
		require.NoError(t, db.UpsertActivity(ctx, &a))
	}

	svc := NewDailyService(db, NewSyncService(db), cache.New(), DefaultSettings())
	trend, err := svc.LoadTrend(ctx, 14)
	require.NoError(t, err)
	require.NotEmpty(t, trend)
	assert.LessOrEqual(t, len(trend), 14)
	last := trend[len(trend)-1]
	assert.Greater(t, last.CTL, 0.0)
	assert.Greater(t, last.ATL, 0.0)
}

func TestSettingsFromConfig(t *testing.T) {
	set := DefaultSettings()
	assert.Equal(t, 90*time.Minute, set.Dedup)
	assert.Equal(t, 8*time.Hour, set.SleepNeed)
	assert.Equal(t, 30, set.Windows.HRV)
	assert.Equal(t, 14, set.Windows.Sleep)
	assert.Equal(t, 3, set.Windows.MinDays)
	assert.Equal(t, 60.0, set.Alert.Default)
	assert.Equal(t, 7, set.Alert.MinHistory)
	assert.False(t, set.Zones.Female)
	assert.Equal(t, 0.40, set.Recovery.HRV)
	assert.Equal(t, 30.0, set.Stress.TrainingLoad)
	assert.Equal(t, 43, set.lookback())
}

func TestAbsorbFetch(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		err     error
		wantErr error
	}{
		{name: "source failure is absorbed", ctx: context.Background(), err: provider.ErrUnavailable},
		{name: "slow source is absorbed", ctx: context.Background(), err: context.DeadlineExceeded},
		{name: "canceled fetch fails the pass", ctx: context.Background(), err: context.Canceled, wantErr: context.Canceled},
		{name: "canceled pass", ctx: canceled, err: provider.ErrUnavailable, wantErr: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := absorbFetch(tt.ctx, KindSamples, tt.err)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
