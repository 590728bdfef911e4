package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"readiness/internal/provider"
	"readiness/internal/store"
)

const BaseURL = "https://www.strava.com/api/v3"

const perPage = 100 // Max allowed by Strava

// Client lists a single athlete's activities from the social platform
type Client struct {
	httpClient  *http.Client
	baseURL     string
	rateLimiter *RateLimiter
}

// NewClient creates a client that authorizes requests from tokenSource
func NewClient(tokenSource oauth2.TokenSource) *Client {
	return NewClientWithHTTP(oauth2.NewClient(context.Background(), tokenSource), BaseURL)
}

// NewClientWithHTTP creates a client over an already authorized HTTP client
func NewClientWithHTTP(hc *http.Client, baseURL string) *Client {
	return &Client{
		httpClient:  hc,
		baseURL:     baseURL,
		rateLimiter: NewRateLimiter(),
	}
}

// Name implements provider.Source
func (c *Client) Name() store.Provider {
	return store.ProviderSocial
}

// ListActivities implements provider.Source. Every call walks the pages from
// since onwards, so repeated calls return the same set.
func (c *Client) ListActivities(ctx context.Context, since time.Time) ([]store.Activity, error) {
	var out []store.Activity

	for page := 1; ; page++ {
		batch, err := c.activitiesPage(ctx, since, page)
		if err != nil {
			return nil, fmt.Errorf("fetching page %d: %w", page, err)
		}
		for _, a := range batch {
			out = append(out, a.ToActivity())
		}
		if len(batch) < perPage {
			return out, nil
		}
	}
}

func (c *Client) activitiesPage(ctx context.Context, after time.Time, page int) ([]Activity, error) {
	params := url.Values{}
	if !after.IsZero() {
		params.Set("after", strconv.FormatInt(after.Unix(), 10))
	}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))

	var activities []Activity
	if err := c.getJSON(ctx, "/athlete/activities", params, &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// RateLimitStatus returns the requests left in the short and daily windows
func (c *Client) RateLimitStatus() (shortRemaining, dailyRemaining int) {
	return c.rateLimiter.Status()
}

// getJSON waits for the rate limiter, performs a GET and decodes the body into v.
// Non-200 responses become *provider.StatusError.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, v any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}

	c.rateLimiter.UpdateFromHeaders(resp.Header)

	if resp.StatusCode != http.StatusOK {
		return provider.ReadStatusError(resp)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
