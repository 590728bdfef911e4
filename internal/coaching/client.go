// Package coaching is a client for the coaching platform's activity API.
// The platform computes training load, intensity and fitness/fatigue for
// every activity, which makes it the preferred training-load source.
package coaching

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"readiness/internal/provider"
	"readiness/internal/store"
)

const DefaultBaseURL = "https://intervals.icu/api/v1"

const (
	pageSize  = 200
	wallStamp = "2006-01-02T15:04:05"
)

// Activity is an activity as returned by the coaching platform
type Activity struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	StartDateLocal string   `json:"start_date_local"`
	MovingTime     *float64 `json:"moving_time"`
	ElapsedTime    *float64 `json:"elapsed_time"`
	Distance       *float64 `json:"distance"`
	AverageWatts   *float64 `json:"icu_average_watts"`
	MaxWatts       *float64 `json:"max_watts"`
	AverageHR      *float64 `json:"average_heartrate"`
	MaxHR          *float64 `json:"max_heartrate"`
	AverageCadence *float64 `json:"average_cadence"`
	ElevationGain  *float64 `json:"total_elevation_gain"`
	Calories       *float64 `json:"calories"`
	TrainingLoad   *float64 `json:"icu_training_load"`
	Intensity      *float64 `json:"icu_intensity"` // percent of threshold
	CTL            *float64 `json:"icu_ctl"`
	ATL            *float64 `json:"icu_atl"`
}

// Client talks to the coaching platform with API-key basic auth
type Client struct {
	httpClient *http.Client
	baseURL    string
	athleteID  string
	apiKey     string
	limiter    *rate.Limiter
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRate sets the request pacing
func WithRate(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewClient creates a coaching platform client
func NewClient(baseURL, athleteID, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		athleteID:  athleteID,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements provider.Source
func (c *Client) Name() store.Provider {
	return store.ProviderCoaching
}

// GetActivities fetches one page of activities between oldest and newest (inclusive dates)
func (c *Client) GetActivities(ctx context.Context, oldest, newest time.Time, page int) ([]Activity, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("oldest", oldest.Format(store.DateLayout))
	params.Set("newest", newest.Format(store.DateLayout))
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(pageSize))

	path := fmt.Sprintf("/athlete/%s/activities", url.PathEscape(c.athleteID))
	resp, err := c.get(ctx, path, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var activities []Activity
	if err := json.NewDecoder(resp.Body).Decode(&activities); err != nil {
		return nil, fmt.Errorf("decoding activities: %w", err)
	}
	return activities, nil
}

// ListActivities fetches every activity since the given time, converted to store activities
func (c *Client) ListActivities(ctx context.Context, since time.Time) ([]store.Activity, error) {
	newest := time.Now().AddDate(0, 0, 1)
	var out []store.Activity

	for page := 1; ; page++ {
		batch, err := c.GetActivities(ctx, since, newest, page)
		if err != nil {
			return nil, fmt.Errorf("fetching page %d: %w", page, err)
		}

		for _, a := range batch {
			act, err := a.ToActivity()
			if err != nil {
				return nil, err
			}
			if !act.StartLocal.Before(since) {
				out = append(out, act)
			}
		}

		if len(batch) < pageSize {
			break
		}
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth("API_KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ReadStatusError(resp)
	}
	return resp, nil
}

// ToActivity converts to the provider-neutral activity. Intensity arrives as a
// percentage and is stored as a factor.
func (a Activity) ToActivity() (store.Activity, error) {
	start, err := time.Parse(wallStamp, strings.TrimSuffix(a.StartDateLocal, "Z"))
	if err != nil {
		return store.Activity{}, fmt.Errorf("parsing start of activity %s: %w", a.ID, err)
	}

	duration := a.MovingTime
	if duration == nil {
		duration = a.ElapsedTime
	}

	var intensity *float64
	if a.Intensity != nil && *a.Intensity > 0 {
		f := *a.Intensity / 100
		intensity = &f
	}

	return store.Activity{
		ID:              a.ID,
		Provider:        store.ProviderCoaching,
		Name:            a.Name,
		Type:            a.Type,
		StartLocal:      start,
		Duration:        duration,
		Distance:        a.Distance,
		AvgPower:        a.AverageWatts,
		MaxPower:        a.MaxWatts,
		AvgHeartrate:    a.AverageHR,
		MaxHeartrate:    a.MaxHR,
		AvgCadence:      a.AverageCadence,
		ElevationGain:   a.ElevationGain,
		TrainingStress:  a.TrainingLoad,
		IntensityFactor: intensity,
		Calories:        a.Calories,
		PlatformCTL:     a.CTL,
		PlatformATL:     a.ATL,
	}, nil
}
