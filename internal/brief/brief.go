// Package brief builds the request for the remote daily-brief service and
// caches its plain-text answers per day.
package brief

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrDisabled is returned when no brief endpoint is configured
var ErrDisabled = errors.New("brief service not configured")

// Deltas are today's percent deviations from baseline; nil when unknown
type Deltas struct {
	HRVPct       *float64 `json:"hrv_pct"`
	RestingHRPct *float64 `json:"resting_hr_pct"`
	SleepPct     *float64 `json:"sleep_pct"`
}

// Range is a suggested training-stress window for the day
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// ActivitySummary is one of today's completed activities
type ActivitySummary struct {
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	DurationMinutes float64  `json:"duration_minutes"`
	TrainingStress  *float64 `json:"training_stress,omitempty"`
}

// Request is the payload sent to the brief service
type Request struct {
	Date                string            `json:"date"`
	Recovery            *int              `json:"recovery"`
	Deltas              Deltas            `json:"deltas"`
	TSB                 float64           `json:"tsb"`
	TrainingStressRange Range             `json:"training_stress_range"`
	Activities          []ActivitySummary `json:"activities"`
	Illness             string            `json:"illness"`
}

// Response is the brief text and whether it came from the cache
type Response struct {
	Text   string `json:"text"`
	Cached bool   `json:"cached"`
}

// Client calls the brief service and caches answers in a Store
type Client struct {
	endpoint   string
	httpClient *http.Client
	store      Store
	ttl        time.Duration
}

// NewClient creates a brief client. ttl <= 0 keeps briefs for a day.
func NewClient(endpoint string, store Store, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: 20 * time.Second},
		store:      store,
		ttl:        ttl,
	}
}

func cacheKey(date string) string {
	return "brief:" + date
}

// Generate returns the day's brief, from the cache when present
func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	if c.endpoint == "" {
		return Response{}, ErrDisabled
	}

	key := cacheKey(req.Date)
	text, ok, err := c.store.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("brief cache read failed")
	}
	if ok {
		return Response{Text: text, Cached: true}, nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encoding brief request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("calling brief service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Response{}, fmt.Errorf("brief service error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decoding brief: %w", err)
	}
	out.Cached = false

	if err := c.store.Set(ctx, key, out.Text, c.ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("brief cache write failed")
	}
	return out, nil
}

// Forget drops a cached brief so the next Generate calls the service
func (c *Client) Forget(ctx context.Context, date string) error {
	return c.store.Delete(ctx, cacheKey(date))
}

func logFallback(addr string, err error) {
	log.Warn().Str("addr", addr).Err(err).Msg("redis unavailable, caching briefs in memory")
}
