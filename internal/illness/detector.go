package illness

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"readiness/internal/cache"
)

// ErrNotAnalyzed is returned when no analysis has completed yet.
var ErrNotAnalyzed = errors.New("illness: not analyzed")

// CacheKind is the cache kind indicators are stored under
const CacheKind = "illness"

// State is what the detector is doing
type State int

const (
	Idle State = iota
	Analyzing
)

func (s State) String() string {
	if s == Analyzing {
		return "analyzing"
	}
	return "idle"
}

// Status is the outcome of the last analysis
type Status int

const (
	NotAnalyzed Status = iota
	Clear
	Found
)

func (s Status) String() string {
	switch s {
	case Clear:
		return "clear"
	case Found:
		return "found"
	default:
		return "not_analyzed"
	}
}

// InputFunc gathers the readings and baselines to evaluate
type InputFunc func(ctx context.Context) (Input, error)

// Detector runs Evaluate at most once per interval per day, sharing results
// through the cache.
type Detector struct {
	cache    *cache.Cache
	interval time.Duration
	load     InputFunc
	now      func() time.Time

	mu    sync.Mutex
	state State
	last  *Indicator
}

// NewDetector creates a detector. interval <= 0 means hourly.
func NewDetector(c *cache.Cache, interval time.Duration, load InputFunc) *Detector {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Detector{
		cache:    c,
		interval: interval,
		load:     load,
		now:      time.Now,
	}
}

// SetClock replaces time.Now, for tests
func (d *Detector) SetClock(now func() time.Time) {
	d.now = now
}

func (d *Detector) key() cache.Key {
	return cache.Key{Kind: CacheKind, Date: d.now().Format("2006-01-02")}
}

// Analyze returns today's indicator, computing it when the cached one is
// older than the interval or force is set. A call made while another is
// analyzing returns the previous result immediately.
func (d *Detector) Analyze(ctx context.Context, force bool) (*Indicator, error) {
	d.mu.Lock()
	if d.state == Analyzing {
		last := d.last
		d.mu.Unlock()
		log.Debug().Str("kind", CacheKind).Msg("analysis in progress, returning last result")
		if last == nil {
			return nil, ErrNotAnalyzed
		}
		return last, nil
	}
	d.state = Analyzing
	d.mu.Unlock()

	key := d.key()
	if force {
		d.cache.Invalidate(key)
	}

	ind, err := cache.Fetch(ctx, d.cache, key, d.interval, func(ctx context.Context) (*Indicator, error) {
		in, err := d.load(ctx)
		if err != nil {
			return nil, err
		}
		if in.Now.IsZero() {
			in.Now = d.now()
		}
		return Evaluate(in), nil
	})

	d.mu.Lock()
	d.state = Idle
	if err == nil {
		d.last = ind
	}
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ind.Found() {
		log.Info().
			Str("severity", string(ind.Severity)).
			Float64("confidence", ind.Confidence).
			Int("signals", len(ind.Signals)).
			Msg("illness indicator found")
	}
	return ind, nil
}

// Invalidate drops today's cached indicator so the next Analyze recomputes.
func (d *Detector) Invalidate() {
	d.cache.Invalidate(d.key())
	d.mu.Lock()
	d.last = nil
	d.mu.Unlock()
}

// Last returns the most recent indicator without analyzing.
func (d *Detector) Last() (*Indicator, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return nil, ErrNotAnalyzed
	}
	return d.last, nil
}

// State reports whether an analysis is running
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Status distinguishes a clear result from no result at all.
func (d *Detector) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.last == nil:
		return NotAnalyzed
	case d.last.Found():
		return Found
	default:
		return Clear
	}
}
