package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"readiness/internal/alert"
	"readiness/internal/analysis"
	"readiness/internal/brief"
	"readiness/internal/cache"
	"readiness/internal/config"
	"readiness/internal/illness"
	"readiness/internal/metrics"
	"readiness/internal/scoring"
	"readiness/internal/store"
)

// Cache kinds used by the daily pipeline
const (
	KindDaily      = "daily"
	KindSamples    = "samples"
	KindSleep      = "sleep"
	KindActivities = "activities"
	KindRecords    = "records"
)

const (
	loadDays      = 42
	alertDays     = 30
	illnessDays   = 3
	chronicWindow = 6
)

var (
	// ErrPassInFlight is returned when a calculation is already running
	ErrPassInFlight = errors.New("daily calculation already in progress")
	// ErrPassTimeout is returned when a pass loses the race against its deadline.
	// Nothing from the pass is published.
	ErrPassTimeout = errors.New("daily calculation timed out")
)

// DailyStore is the health store and daily record contract the pipeline reads and writes
type DailyStore interface {
	Samples(ctx context.Context, metric store.Metric, from, to time.Time) ([]store.Sample, error)
	SleepSessions(ctx context.Context, from, to time.Time) ([]store.SleepSession, error)
	GetDailyRecord(ctx context.Context, date string) (*store.DailyRecord, error)
	UpsertDailyRecord(ctx context.Context, rec *store.DailyRecord) error
	ListDailyRecords(ctx context.Context, from, to string) ([]store.DailyRecord, error)
	UpdateBrief(ctx context.Context, date, brief string) error
}

// Briefer generates the daily brief text
type Briefer interface {
	Generate(ctx context.Context, req brief.Request) (brief.Response, error)
}

// Settings are the tunables of a scoring pass
type Settings struct {
	Zones           analysis.HRZones
	SleepNeed       time.Duration
	Recovery        scoring.RecoveryWeights
	Stress          scoring.StressWeights
	Alert           alert.Config
	Dedup           time.Duration
	Windows         analysis.BaselineWindows
	HistoryDays     int
	Timeout         time.Duration
	IllnessInterval time.Duration
}

// DefaultSettings mirrors config.DefaultConfig
func DefaultSettings() Settings {
	cfg := config.DefaultConfig()
	return SettingsFromConfig(&cfg)
}

// SettingsFromConfig maps the user configuration onto pass settings
func SettingsFromConfig(cfg *config.Config) Settings {
	a := cfg.Athlete
	sw := cfg.Scoring.Stress
	rw := cfg.Scoring.Recovery
	al := alert.DefaultConfig()
	al.Default, al.Min, al.Max = cfg.Scoring.Alert.Default, cfg.Scoring.Alert.Min, cfg.Scoring.Alert.Max
	w := cfg.Pipeline.Baselines

	return Settings{
		Zones: analysis.HRZones{
			RestingHR:   a.RestingHR,
			MaxHR:       a.MaxHR,
			ThresholdHR: a.ThresholdHR,
			Female:      a.Gender == "female",
		},
		SleepNeed: cfg.SleepNeed(),
		Recovery:  scoring.RecoveryWeights{HRV: rw.HRV, RHR: rw.RHR, Sleep: rw.Sleep, Form: rw.Form},
		Stress: scoring.StressWeights{
			HRV:             sw.HRV,
			RHR:             sw.RHR,
			RecoveryDeficit: sw.RecoveryDeficit,
			TrainingLoad:    sw.TrainingLoad,
			SleepDisruption: sw.SleepDisruption,
		},
		Alert: al,
		Dedup: cfg.Scoring.DedupTolerance,
		Windows: analysis.BaselineWindows{
			HRV:         w.HRV,
			RHR:         w.RHR,
			Sleep:       w.Sleep,
			Respiratory: w.Respiratory,
			MinDays:     cfg.Pipeline.MinBaselineDays,
		},
		HistoryDays:     cfg.Pipeline.HistoryDays,
		Timeout:         cfg.Pipeline.Timeout,
		IllnessInterval: cfg.Pipeline.IllnessInterval,
	}
}

func (s Settings) lookback() int {
	days := s.HistoryDays
	for _, w := range []int{loadDays, alertDays, s.Windows.HRV, s.Windows.RHR, s.Windows.Sleep, s.Windows.Respiratory} {
		if w+1 > days {
			days = w + 1
		}
	}
	return days
}

// Event announces a newly published daily record
type Event struct {
	Date   string
	Record *store.DailyRecord
}

// passDetail keeps what the brief request needs beyond the persisted record
type passDetail struct {
	date   string
	deltas brief.Deltas
	today  []store.Activity
}

// DailyService runs the daily scoring pipeline and answers record queries.
type DailyService struct {
	db      DailyStore
	syncer  *SyncService
	cache   *cache.Cache
	illness *illness.Detector
	metrics *metrics.Registry
	briefer Briefer
	set     Settings
	now     func() time.Time

	running atomic.Bool

	mu      sync.Mutex
	detail  passDetail
	subs    map[int]chan Event
	nextSub int
}

// DailyOption configures a DailyService
type DailyOption func(*DailyService)

// WithMetrics records pass outcomes and scores
func WithMetrics(m *metrics.Registry) DailyOption {
	return func(d *DailyService) { d.metrics = m }
}

// WithBriefer enables brief generation
func WithBriefer(b Briefer) DailyOption {
	return func(d *DailyService) { d.briefer = b }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) DailyOption {
	return func(d *DailyService) { d.now = now }
}

// NewDailyService wires the pipeline. syncer may be nil when no provider is configured.
func NewDailyService(db DailyStore, syncer *SyncService, c *cache.Cache, set Settings, opts ...DailyOption) *DailyService {
	if set.Timeout <= 0 {
		set.Timeout = 8 * time.Second
	}
	if set.Windows == (analysis.BaselineWindows{}) {
		set.Windows = analysis.DefaultBaselineWindows()
	}

	d := &DailyService{
		db:     db,
		syncer: syncer,
		cache:  c,
		set:    set,
		now:    time.Now,
		subs:   make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.illness = illness.NewDetector(c, set.IllnessInterval, d.illnessInput)
	d.illness.SetClock(func() time.Time { return d.now() })
	return d
}

// Illness exposes the detector sharing this pipeline's cache
func (d *DailyService) Illness() *illness.Detector {
	return d.illness
}

// wallDay is the local calendar day as stored: wall clock fields in UTC.
func wallDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (d *DailyService) today() time.Time {
	return wallDay(d.now())
}

func dailyKey(date string) cache.Key {
	return cache.Key{Kind: KindDaily, Date: date}
}

// Calculate returns today's record, computing it at most once per day unless
// force is set. A second call while a pass runs gets ErrPassInFlight; a pass
// exceeding the timeout returns ErrPassTimeout and leaves the previous record
// in place.
func (d *DailyService) Calculate(ctx context.Context, force bool) (*store.DailyRecord, error) {
	day := d.today()
	date := day.Format(store.DateLayout)

	if !force {
		if rec, ok := d.cachedRecord(date); ok {
			return rec, nil
		}
	}

	if !d.running.CompareAndSwap(false, true) {
		return nil, ErrPassInFlight
	}
	// a pass that loses the race keeps the guard until its compute returns
	held := true
	defer func() {
		if held {
			d.running.Store(false)
		}
	}()

	if !force {
		// a record persisted earlier today (e.g. before a restart) still counts
		if rec, err := d.db.GetDailyRecord(ctx, date); err == nil && !rec.ComputedAt.IsZero() {
			d.cache.Set(dailyKey(date), rec, 24*time.Hour)
			return rec, nil
		}
	}

	passID := uuid.NewString()
	logger := log.With().Str("pass_id", passID).Str("date", date).Logger()
	started := time.Now()

	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		rec    *store.DailyRecord
		detail passDetail
		err    error
	}
	done := make(chan outcome, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		rec, detail, err := d.compute(passCtx, day, force)
		done <- outcome{rec: rec, detail: detail, err: err}
	}()
	releaseWhenFinished := func() {
		held = false
		go func() {
			<-finished
			d.running.Store(false)
		}()
	}

	timer := time.NewTimer(d.set.Timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			d.observePass("error", started)
			logger.Error().Err(out.err).Msg("daily pass failed")
			return nil, out.err
		}
		if err := d.publish(ctx, out.rec, out.detail); err != nil {
			d.observePass("error", started)
			return nil, err
		}
		d.observePass("ok", started)
		logger.Info().Dur("took", time.Since(started)).Msg("daily pass published")
		return out.rec, nil

	case <-timer.C:
		cancel()
		releaseWhenFinished()
		d.observePass("timeout", started)
		logger.Warn().Dur("timeout", d.set.Timeout).Msg("daily pass timed out, keeping previous record")
		return nil, ErrPassTimeout

	case <-ctx.Done():
		releaseWhenFinished()
		d.observePass("canceled", started)
		return nil, ctx.Err()
	}
}

func (d *DailyService) cachedRecord(date string) (*store.DailyRecord, bool) {
	v, ok := d.cache.Peek(dailyKey(date))
	if !ok {
		return nil, false
	}
	rec, ok := v.(*store.DailyRecord)
	return rec, ok
}

func (d *DailyService) observePass(result string, started time.Time) {
	if d.metrics != nil {
		d.metrics.ObservePass(result, time.Since(started))
	}
}

// inputs is everything one pass fetches before scoring
type inputs struct {
	hrv      []store.Sample
	rhr      []store.Sample
	resp     []store.Sample
	sleep    []store.SleepSession
	coaching []store.Activity
	social   []store.Activity
	device   []store.Activity
	prior    []store.DailyRecord
}

// absorbFetch turns a fetch failure into missing data unless the pass or the
// fetch was canceled. A canceled fetch fails the pass so no record is
// published without that signal.
func absorbFetch(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("fetching %s: %w", what, err)
	}
	log.Warn().Str("kind", what).Err(err).Msg("fetch failed, continuing without it")
	return nil
}

func (d *DailyService) fetchHealth(g *errgroup.Group, ctx context.Context, day time.Time, in *inputs) {
	date := day.Format(store.DateLayout)
	from := day.AddDate(0, 0, -d.set.lookback())
	to := day.AddDate(0, 0, 1)

	for metric, dst := range map[store.Metric]*[]store.Sample{
		store.MetricHRV:             &in.hrv,
		store.MetricRestingHR:       &in.rhr,
		store.MetricRespiratoryRate: &in.resp,
	} {
		g.Go(func() error {
			key := cache.Key{Kind: KindSamples, Date: date, Params: string(metric)}
			v, err := cache.Fetch(ctx, d.cache, key, 0, func(ctx context.Context) ([]store.Sample, error) {
				return d.db.Samples(ctx, metric, from, to)
			})
			if err != nil {
				return absorbFetch(ctx, KindSamples+":"+string(metric), err)
			}
			*dst = v
			return nil
		})
	}

	g.Go(func() error {
		key := cache.Key{Kind: KindSleep, Date: date}
		v, err := cache.Fetch(ctx, d.cache, key, 0, func(ctx context.Context) ([]store.SleepSession, error) {
			return d.db.SleepSessions(ctx, from, to)
		})
		if err != nil {
			return absorbFetch(ctx, KindSleep, err)
		}
		in.sleep = v
		return nil
	})
}

func (d *DailyService) fetchActivities(g *errgroup.Group, ctx context.Context, day time.Time, in *inputs) {
	if d.syncer == nil {
		return
	}
	date := day.Format(store.DateLayout)
	since := day.AddDate(0, 0, -(loadDays - 1))

	for p, dst := range map[store.Provider]*[]store.Activity{
		store.ProviderCoaching: &in.coaching,
		store.ProviderSocial:   &in.social,
		store.ProviderDevice:   &in.device,
	} {
		g.Go(func() error {
			key := cache.Key{Kind: KindActivities, Date: date, Params: string(p)}
			v, err := cache.Fetch(ctx, d.cache, key, 0, func(ctx context.Context) ([]store.Activity, error) {
				return d.syncer.Activities(ctx, p, since)
			})
			if err != nil {
				return absorbFetch(ctx, KindActivities+":"+string(p), err)
			}
			*dst = v
			return nil
		})
	}
}

func (d *DailyService) fetchPrior(g *errgroup.Group, ctx context.Context, day time.Time, in *inputs) {
	date := day.Format(store.DateLayout)
	from := day.AddDate(0, 0, -alertDays).Format(store.DateLayout)
	to := day.AddDate(0, 0, -1).Format(store.DateLayout)

	g.Go(func() error {
		key := cache.Key{Kind: KindRecords, Date: date, Params: "prior"}
		v, err := cache.Fetch(ctx, d.cache, key, 0, func(ctx context.Context) ([]store.DailyRecord, error) {
			return d.db.ListDailyRecords(ctx, from, to)
		})
		if err != nil {
			return absorbFetch(ctx, KindRecords, err)
		}
		in.prior = v
		return nil
	})
}

// gather issues every fetch concurrently and joins them. Which provider wins
// is decided afterwards, never by completion order.
func (d *DailyService) gather(ctx context.Context, day time.Time) (*inputs, error) {
	in := &inputs{}
	g, gctx := errgroup.WithContext(ctx)
	d.fetchHealth(g, gctx, day, in)
	d.fetchActivities(g, gctx, day, in)
	d.fetchPrior(g, gctx, day, in)
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

func (in *inputs) history() analysis.History {
	return analysis.History{HRV: in.hrv, RestingHR: in.rhr, Respiratory: in.resp, Sleep: in.sleep}
}

func (d *DailyService) illnessInput(ctx context.Context) (illness.Input, error) {
	day := d.today()
	in := &inputs{}
	g, gctx := errgroup.WithContext(ctx)
	d.fetchHealth(g, gctx, day, in)
	if err := g.Wait(); err != nil {
		return illness.Input{}, err
	}
	return buildIllnessInput(in, day, d.set.Windows, d.now()), nil
}

func buildIllnessInput(in *inputs, day time.Time, w analysis.BaselineWindows, now time.Time) illness.Input {
	hrv := analysis.DailyMeans(in.hrv)
	rhr := analysis.DailyMeans(in.rhr)
	resp := analysis.DailyMeans(in.resp)
	sleep := analysis.SleepDurations(in.sleep)

	days := make([]illness.DayReading, 0, illnessDays)
	for i := illnessDays - 1; i >= 0; i-- {
		dd := day.AddDate(0, 0, -i)
		days = append(days, illness.DayReading{
			Date:         dd,
			HRV:          analysis.ValueOn(hrv, dd),
			RestingHR:    analysis.ValueOn(rhr, dd),
			Respiratory:  analysis.ValueOn(resp, dd),
			SleepSeconds: analysis.ValueOn(sleep, dd),
		})
	}

	return illness.Input{
		Days:      days,
		Baselines: analysis.ComputeBaselines(in.history(), day, w),
		Now:       now,
	}
}

// compute fetches and scores without publishing anything.
func (d *DailyService) compute(ctx context.Context, day time.Time, force bool) (*store.DailyRecord, passDetail, error) {
	in, err := d.gather(ctx, day)
	if err != nil {
		return nil, passDetail{}, err
	}

	rec, detail := d.score(in, day)

	// Illness shares the cache entries gather just filled
	ind, err := d.illness.Analyze(ctx, force)
	switch {
	case err == nil:
		rec.IllnessSeverity = string(ind.Severity)
	case ctx.Err() != nil:
		return nil, passDetail{}, ctx.Err()
	default:
		log.Warn().Err(err).Msg("illness analysis unavailable")
	}

	return rec, detail, nil
}

// score runs the pure part of a pass: baselines, sleep, recovery, stress,
// chronic stress and the alert threshold.
func (d *DailyService) score(in *inputs, day time.Time) (*store.DailyRecord, passDetail) {
	date := day.Format(store.DateLayout)
	rec := &store.DailyRecord{Date: date, Components: map[string]int{}, ComputedAt: d.now()}

	base := analysis.ComputeBaselines(in.history(), day, d.set.Windows)
	hrv := analysis.ValueOn(analysis.DailyMeans(in.hrv), day)
	rhr := analysis.ValueOn(analysis.DailyMeans(in.rhr), day)
	resp := analysis.ValueOn(analysis.DailyMeans(in.resp), day)
	sleepSecs := analysis.ValueOn(analysis.SleepDurations(in.sleep), day)

	// Sleep
	main := analysis.MainSession(in.sleep, day)
	var wakeEvents *int
	if main != nil {
		n := main.WakeEvents
		wakeEvents = &n
	}
	sleepScore, sleepErr := scoring.Sleep(scoring.SleepInput{
		Session:         main,
		BedtimeBaseline: base.BedtimeMinutes,
		WakeBaseline:    base.WakeMinutes,
	}, d.set.SleepNeed)
	if sleepErr == nil {
		v := sleepScore.Value
		rec.Sleep = &v
		rec.SleepBand = string(sleepScore.Band)
		addComponents(rec, sleepScore)
	}

	// Training load from the canonical activity set
	merged := analysis.Merge(in.coaching, in.social, in.device, analysis.MergeOptions{Tolerance: d.set.Dedup})
	load := analysis.ResolveTrainingLoad(analysis.LoadInputs{
		Coaching:  in.coaching,
		Canonical: merged.Activities,
		Device:    in.device,
		End:       day,
		Days:      loadDays,
		Zones:     d.set.Zones,
	})
	series := analysis.BuildImpulseSeries(merged.Activities, day, loadDays, d.set.Zones)
	rec.CTL, rec.ATL, rec.TSB = load.CTL, load.ATL, load.TSB
	rec.LoadMethod = string(load.Method)
	rec.LoadLowConfidence = load.LowConfidence
	rec.RecentStrain = analysis.RecentStrain(series)
	rec.FormDescription = analysis.FormDescription(load.TSB)

	ctl, atl, tsb := load.CTL, load.ATL, load.TSB
	hasLoad := load.Method == analysis.MethodPlatform || len(merged.Activities) > 0

	// Recovery
	bundle := scoring.Bundle{
		Date:                day,
		HRV:                 hrv,
		HRVBaseline:         base.HRV,
		RestingHR:           rhr,
		RestingHRBaseline:   base.RestingHR,
		SleepSeconds:        sleepSecs,
		SleepBaseline:       base.SleepSeconds,
		Respiratory:         resp,
		RespiratoryBaseline: base.Respiratory,
		RecentStrain:        rec.RecentStrain,
		PriorSleepScore:     rec.Sleep,
		WakeEvents:          wakeEvents,
	}
	if hasLoad {
		bundle.CTL, bundle.ATL, bundle.TSB = &ctl, &atl, &tsb
	}
	recovery, recErr := scoring.Recovery(bundle, d.set.Recovery)
	if recErr == nil {
		v := recovery.Value
		rec.Recovery = &v
		rec.RecoveryBand = string(recovery.Band)
		addComponents(rec, recovery)
	}

	// Stress
	stressIn := scoring.StressInput{
		HRV:               hrv,
		HRVBaseline:       base.HRV,
		RestingHR:         rhr,
		RestingHRBaseline: base.RestingHR,
		Recovery:          rec.Recovery,
		Sleep:             rec.Sleep,
		WakeEvents:        wakeEvents,
	}
	if hasLoad {
		stressIn.ATL, stressIn.CTL = &atl, &ctl
	}
	stress, stressErr := scoring.Stress(stressIn, d.set.Stress)

	var history []float64
	var recent []int
	weekAgo := day.AddDate(0, 0, -chronicWindow).Format(store.DateLayout)
	for _, p := range in.prior {
		if p.StressAcute == nil || p.Date >= date {
			continue
		}
		history = append(history, float64(*p.StressAcute))
		if p.Date >= weekAgo {
			recent = append(recent, *p.StressAcute)
		}
	}

	th := alert.Compute(history, ctl, d.set.Alert)
	rec.StressThreshold = th.Value

	if stressErr == nil {
		acute := stress.Value
		chronic := scoring.ChronicStress(recent, acute)
		rec.StressAcute = &acute
		rec.StressChronic = &chronic
		rec.StressBand = string(stress.Band)
		addComponents(rec, stress)
		rec.StressAlert = alert.Evaluate(acute, th).Fire
	}

	detail := passDetail{
		date:   date,
		deltas: deltas(hrv, base.HRV, rhr, base.RestingHR, sleepSecs, base.SleepSeconds),
		today:  activitiesOn(merged.Activities, day),
	}
	return rec, detail
}

func addComponents(rec *store.DailyRecord, s scoring.Score) {
	for _, c := range s.Components {
		if c.Available {
			rec.Components[string(s.Kind)+"."+c.Name] = c.Value
		}
	}
}

func pctDelta(v, base *float64) *float64 {
	if v == nil || base == nil || *base == 0 {
		return nil
	}
	d := (*v - *base) / *base * 100
	d = math.Round(d*10) / 10
	return &d
}

func deltas(hrv, hrvBase, rhr, rhrBase, sleep, sleepBase *float64) brief.Deltas {
	return brief.Deltas{
		HRVPct:       pctDelta(hrv, hrvBase),
		RestingHRPct: pctDelta(rhr, rhrBase),
		SleepPct:     pctDelta(sleep, sleepBase),
	}
}

func activitiesOn(acts []store.Activity, day time.Time) []store.Activity {
	var out []store.Activity
	for _, a := range acts {
		if wallDay(a.StartLocal).Equal(day) {
			out = append(out, a)
		}
	}
	return out
}

// publish persists a finished pass and announces it. It runs only for a pass
// that beat the timeout.
func (d *DailyService) publish(ctx context.Context, rec *store.DailyRecord, detail passDetail) error {
	if err := d.db.UpsertDailyRecord(ctx, rec); err != nil {
		return fmt.Errorf("saving daily record: %w", err)
	}
	d.cache.Set(dailyKey(rec.Date), rec, 24*time.Hour)
	// tomorrow's pass must see today's stress in its history
	d.cache.InvalidateKind(KindRecords)

	if d.metrics != nil {
		for kind, v := range map[string]*int{"recovery": rec.Recovery, "sleep": rec.Sleep, "stress": rec.StressAcute} {
			if v != nil {
				d.metrics.SetScore(kind, *v)
			}
		}
		if rec.StressAlert {
			d.metrics.StressAlerts.Inc()
		}
		if rec.IllnessSeverity != "" && rec.IllnessSeverity != string(illness.SeverityNone) {
			d.metrics.IllnessFound.WithLabelValues(rec.IllnessSeverity).Inc()
		}
	}

	d.mu.Lock()
	d.detail = detail
	for _, ch := range d.subs {
		select {
		case ch <- Event{Date: rec.Date, Record: rec}:
		default:
			// slow subscriber: replace its pending event with the newest one
			select {
			case <-ch:
			default:
			}
			ch <- Event{Date: rec.Date, Record: rec}
		}
	}
	d.mu.Unlock()
	return nil
}

// Subscribe returns a channel receiving each published record and a cancel
// func. Only the newest undelivered event is kept.
func (d *DailyService) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 1)
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = ch
	d.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
		})
	}
}

// Today returns today's record if one has been published, without computing.
func (d *DailyService) Today(ctx context.Context) (*store.DailyRecord, error) {
	return d.Record(ctx, d.today().Format(store.DateLayout))
}

// Record returns the record for a date
func (d *DailyService) Record(ctx context.Context, date string) (*store.DailyRecord, error) {
	if rec, ok := d.cachedRecord(date); ok {
		return rec, nil
	}
	return d.db.GetDailyRecord(ctx, date)
}

// History returns records in [from, to], oldest first
func (d *DailyService) History(ctx context.Context, from, to string) ([]store.DailyRecord, error) {
	return d.db.ListDailyRecords(ctx, from, to)
}

// stressRange is the suggested fraction of CTL to train at, by recovery band
var stressRange = map[scoring.Band][2]float64{
	scoring.BandHigh:     {0.9, 1.4},
	scoring.BandModerate: {0.6, 1.0},
	scoring.BandFair:     {0.3, 0.7},
	scoring.BandLow:      {0, 0.4},
}

// minRangeBase keeps the suggested range usable for athletes with little fitness
const minRangeBase = 20.0

// BriefRequest builds the brief service payload from a record, the
// baseline deltas and the day's completed activities.
func BriefRequest(rec *store.DailyRecord, deltas brief.Deltas, activities []store.Activity, zones analysis.HRZones) brief.Request {
	band := scoring.BandModerate
	if rec.Recovery != nil {
		band, _ = scoring.BandFor(scoring.KindRecovery, *rec.Recovery)
	}
	f := stressRange[band]
	base := math.Max(rec.CTL, minRangeBase)

	summaries := make([]brief.ActivitySummary, 0, len(activities))
	for _, a := range activities {
		s := brief.ActivitySummary{Name: a.Name, Type: analysis.NormalizeType(a.Type)}
		if secs, ok := analysis.EstimateDuration(a); ok {
			s.DurationMinutes = math.Round(secs/60*10) / 10
		}
		if impulse := analysis.SessionImpulse(a, zones); impulse > 0 {
			v := math.Round(impulse*10) / 10
			s.TrainingStress = &v
		}
		summaries = append(summaries, s)
	}

	severity := rec.IllnessSeverity
	if severity == "" {
		severity = string(illness.SeverityNone)
	}

	return brief.Request{
		Date:                rec.Date,
		Recovery:            rec.Recovery,
		Deltas:              deltas,
		TSB:                 math.Round(rec.TSB*10) / 10,
		TrainingStressRange: brief.Range{Low: math.Round(base * f[0]), High: math.Round(base * f[1])},
		Activities:          summaries,
		Illness:             severity,
	}
}

// Brief returns today's brief, calculating the day first if needed, and
// stores the text on the record.
func (d *DailyService) Brief(ctx context.Context) (brief.Response, error) {
	if d.briefer == nil {
		return brief.Response{}, brief.ErrDisabled
	}

	rec, err := d.Calculate(ctx, false)
	if err != nil {
		return brief.Response{}, err
	}

	d.mu.Lock()
	detail := d.detail
	d.mu.Unlock()
	if detail.date != rec.Date {
		detail = passDetail{}
	}

	resp, err := d.briefer.Generate(ctx, BriefRequest(rec, detail.deltas, detail.today, d.set.Zones))
	if err != nil {
		return brief.Response{}, err
	}

	if rec.Brief != resp.Text {
		if err := d.db.UpdateBrief(ctx, rec.Date, resp.Text); err != nil {
			log.Warn().Err(err).Str("date", rec.Date).Msg("storing brief")
		} else {
			updated := *rec
			updated.Brief = resp.Text
			d.cache.Set(dailyKey(rec.Date), &updated, 24*time.Hour)
		}
	}
	return resp, nil
}

// LoadTrend returns daily CTL/ATL/TSB for the last days, computed from
// stored activities of every provider after deduplication.
func (d *DailyService) LoadTrend(ctx context.Context, days int) ([]analysis.FitnessMetrics, error) {
	if d.syncer == nil {
		return nil, nil
	}
	if days <= 0 {
		days = loadDays
	}
	day := d.today()
	from := day.AddDate(0, 0, -(days + loadDays))
	to := day.AddDate(0, 0, 1)

	lists := make(map[store.Provider][]store.Activity)
	for _, p := range []store.Provider{store.ProviderCoaching, store.ProviderSocial, store.ProviderDevice} {
		acts, err := d.syncer.store.ListActivities(ctx, p, from, to)
		if err != nil {
			return nil, fmt.Errorf("reading %s activities: %w", p, err)
		}
		lists[p] = acts
	}

	merged := analysis.Merge(lists[store.ProviderCoaching], lists[store.ProviderSocial], lists[store.ProviderDevice],
		analysis.MergeOptions{Tolerance: d.set.Dedup})
	trend := analysis.CalculateFitnessTrend(analysis.DailyLoads(merged.Activities, d.set.Zones), day)
	if len(trend) > days {
		trend = trend[len(trend)-days:]
	}
	return trend, nil
}
