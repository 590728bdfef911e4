package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"readiness/internal/auth"
	"readiness/internal/brief"
	"readiness/internal/cache"
	"readiness/internal/coaching"
	"readiness/internal/config"
	"readiness/internal/device"
	"readiness/internal/illness"
	"readiness/internal/metrics"
	"readiness/internal/provider"
	"readiness/internal/service"
	"readiness/internal/store"
	"readiness/internal/strava"
)

// app holds everything a command needs, wired from the config
type app struct {
	cfg     *config.Config
	db      *store.DB
	metrics *metrics.Registry
	cache   *cache.Cache
	syncer  *service.SyncService
	daily   *service.DailyService
	closers []io.Closer
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a := &app{cfg: cfg, db: db, metrics: metrics.New()}
	a.cache = cache.New(
		cache.WithPolicy(cachePolicy(cfg)),
		cache.WithObserver(a.metrics),
	)

	a.syncer = service.NewSyncService(db, a.sources(ctx)...)
	a.syncer.SetFailureRecorder(a.metrics)

	opts := []service.DailyOption{service.WithMetrics(a.metrics)}
	if cfg.Brief.Endpoint != "" {
		bs := brief.NewStore(ctx, cfg.Brief.RedisAddr)
		if c, ok := bs.(io.Closer); ok {
			a.closers = append(a.closers, c)
		}
		opts = append(opts, service.WithBriefer(brief.NewClient(cfg.Brief.Endpoint, bs, cfg.Brief.TTL)))
	}
	a.daily = service.NewDailyService(db, a.syncer, a.cache, service.SettingsFromConfig(cfg), opts...)

	return a, nil
}

func cachePolicy(cfg *config.Config) cache.Policy {
	return cache.Policy{
		TTLs: map[string]time.Duration{
			service.KindSamples:    cfg.Cache.Samples,
			service.KindSleep:      cfg.Cache.Sleep,
			service.KindActivities: cfg.Cache.Activities,
			service.KindRecords:    cfg.Cache.Records,
			service.KindDaily:      24 * time.Hour,
			illness.CacheKind:      cfg.Pipeline.IllnessInterval,
		},
		Default: 5 * time.Minute,
	}
}

// sources builds the guarded activity providers that are configured.
func (a *app) sources(ctx context.Context) []provider.Source {
	var out []provider.Source

	if a.cfg.HasCoaching() {
		c := a.cfg.Providers.Coaching
		client := coaching.NewClient(c.BaseURL, c.AthleteID, c.APIKey)
		out = append(out, provider.NewGuard(client, provider.DefaultRetry, provider.DefaultBreakerConfig))
	}

	if a.cfg.HasSocial() {
		ts, err := auth.StoredTokenSource(ctx, a.oauthConfig(), a.db, store.ProviderSocial)
		switch {
		case errors.Is(err, store.ErrNoAuth):
			log.Warn().Msg("social platform configured but not authorized, run `readiness login`")
		case err != nil:
			log.Warn().Err(err).Msg("social platform tokens unavailable")
		default:
			out = append(out, provider.NewGuard(strava.NewClient(ts), provider.DefaultRetry, provider.DefaultBreakerConfig))
		}
	}

	out = append(out, device.NewSource(a.db))
	return out
}

func (a *app) oauthConfig() *oauth2.Config {
	return auth.NewOAuthConfig(auth.Config{
		ClientID:     a.cfg.Providers.Social.ClientID,
		ClientSecret: a.cfg.Providers.Social.ClientSecret,
	})
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			log.Debug().Err(err).Msg("closing")
		}
	}
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("closing database")
	}
}
