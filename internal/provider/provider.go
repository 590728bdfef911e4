// Package provider defines the activity source contract and a circuit-breaking
// guard that turns repeated provider failures into a fast ErrUnavailable.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"readiness/internal/store"
)

// ErrUnavailable marks a provider that failed or whose breaker is open.
// Callers absorb it and fall back to the last stored copy.
var ErrUnavailable = errors.New("provider unavailable")

// StatusError is a non-200 HTTP response from a provider API
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// Permanent reports whether a retry cannot succeed: rejected credentials or a
// missing resource. Rate limiting and server errors are transient.
func (e *StatusError) Permanent() bool {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// ReadStatusError drains up to 1KiB of a failed response into a StatusError
// and closes the body.
func ReadStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()
	return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func permanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Permanent()
}

// Source lists completed activities from one provider. Pagination is
// internal to the implementation and must be idempotent.
type Source interface {
	Name() store.Provider
	ListActivities(ctx context.Context, since time.Time) ([]store.Activity, error)
}

// Retry is a bounded retry policy with linear backoff
type Retry struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetry tries twice more after the first failure
var DefaultRetry = Retry{Attempts: 3, Backoff: 500 * time.Millisecond}

// BreakerConfig controls when a guard trips
type BreakerConfig struct {
	ConsecutiveFailures uint32
	MinRequests         uint32
	FailureRatio        float64
	Interval            time.Duration
	Timeout             time.Duration
}

// DefaultBreakerConfig trips after 3 straight failures or a 5% failure rate over 20 calls
var DefaultBreakerConfig = BreakerConfig{
	ConsecutiveFailures: 3,
	MinRequests:         20,
	FailureRatio:        0.05,
	Interval:            time.Minute,
	Timeout:             5 * time.Minute,
}

// Guard wraps a Source with a circuit breaker and retry policy
type Guard struct {
	src     Source
	breaker *gobreaker.CircuitBreaker
	retry   Retry
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewGuard creates a guarded source
func NewGuard(src Source, retry Retry, cfg BreakerConfig) *Guard {
	name := string(src.Name())
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if counts.Requests >= cfg.MinRequests {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio > cfg.FailureRatio
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("provider breaker state changed")
		},
	}

	if retry.Attempts < 1 {
		retry.Attempts = 1
	}

	return &Guard{
		src:     src,
		breaker: gobreaker.NewCircuitBreaker(settings),
		retry:   retry,
		sleep:   sleepCtx,
	}
}

// Name returns the wrapped provider's name
func (g *Guard) Name() store.Provider {
	return g.src.Name()
}

// State reports the breaker state ("closed", "half-open", "open")
func (g *Guard) State() string {
	return g.breaker.State().String()
}

// ListActivities calls the wrapped source through the breaker, retrying
// transient failures. Every final failure wraps ErrUnavailable.
func (g *Guard) ListActivities(ctx context.Context, since time.Time) ([]store.Activity, error) {
	var lastErr error
	for attempt := 1; attempt <= g.retry.Attempts; attempt++ {
		result, err := g.breaker.Execute(func() (interface{}, error) {
			return g.src.ListActivities(ctx, since)
		})
		if err == nil {
			return result.([]store.Activity), nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == g.retry.Attempts || permanent(err) {
			break
		}

		log.Debug().
			Str("provider", string(g.src.Name())).
			Int("attempt", attempt).
			Err(err).
			Msg("retrying provider")

		if err := g.sleep(ctx, g.retry.Backoff*time.Duration(attempt)); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, g.src.Name(), lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Static is an in-memory Source, used for stored copies and tests
type Static struct {
	Provider   store.Provider
	Activities []store.Activity
	Err        error
}

// Name implements Source
func (s *Static) Name() store.Provider { return s.Provider }

// ListActivities returns the activities that started at or after since
func (s *Static) ListActivities(_ context.Context, since time.Time) ([]store.Activity, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var out []store.Activity
	for _, a := range s.Activities {
		if !a.StartLocal.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}
