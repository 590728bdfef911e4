package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"readiness/internal/provider"
	"readiness/internal/store"
)

const (
	// firstSyncDays is how far back a provider's first sync reaches
	firstSyncDays = 90
	// resyncOverlap re-fetches recent days to pick up edited activities
	resyncOverlap = 48 * time.Hour
)

// ActivityStore persists provider activities and sync bookmarks
type ActivityStore interface {
	UpsertActivity(ctx context.Context, a *store.Activity) error
	ListActivities(ctx context.Context, p store.Provider, from, to time.Time) ([]store.Activity, error)
	GetSyncState(ctx context.Context, key string) (string, error)
	SetSyncState(ctx context.Context, key, value string) error
}

// FailureRecorder counts absorbed provider failures
type FailureRecorder interface {
	ProviderFailed(provider string)
}

// SyncService pulls activities from every configured provider into the
// store and serves the stored copy when a provider is unavailable.
type SyncService struct {
	store    ActivityStore
	sources  map[store.Provider]provider.Source
	order    []store.Provider
	failures FailureRecorder
	now      func() time.Time
}

// NewSyncService creates a sync service over the given sources
func NewSyncService(db ActivityStore, sources ...provider.Source) *SyncService {
	s := &SyncService{
		store:   db,
		sources: make(map[store.Provider]provider.Source),
		now:     time.Now,
	}
	for _, src := range sources {
		if src == nil {
			continue
		}
		if _, dup := s.sources[src.Name()]; !dup {
			s.order = append(s.order, src.Name())
		}
		s.sources[src.Name()] = src
	}
	return s
}

// SetFailureRecorder reports absorbed failures, typically to metrics
func (s *SyncService) SetFailureRecorder(r FailureRecorder) {
	s.failures = r
}

// Providers lists the configured providers in registration order
func (s *SyncService) Providers() []store.Provider {
	return append([]store.Provider(nil), s.order...)
}

// SyncProgress reports progress during sync
type SyncProgress struct {
	Provider store.Provider
	Fetched  int
	Stored   int
	Err      error
}

// SyncResult contains the results of a sync operation
type SyncResult struct {
	ActivitiesFetched int
	ActivitiesStored  int
	Unavailable       []store.Provider
	Errors            []error
}

func syncKey(p store.Provider) string {
	return "last_sync:" + string(p)
}

// SyncAll syncs every provider. An unavailable provider is recorded in the
// result and does not stop the others.
func (s *SyncService) SyncAll(ctx context.Context, progress chan<- SyncProgress) (*SyncResult, error) {
	if progress != nil {
		defer close(progress)
	}

	result := &SyncResult{}
	for _, p := range s.order {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		since := s.syncStart(ctx, p)
		acts, err := s.sources[p].ListActivities(ctx, since)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			s.absorb(p, err)
			result.Unavailable = append(result.Unavailable, p)
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", p, err))
			if progress != nil {
				progress <- SyncProgress{Provider: p, Err: err}
			}
			continue
		}

		result.ActivitiesFetched += len(acts)
		stored, errs := s.persist(ctx, p, acts)
		result.ActivitiesStored += stored
		result.Errors = append(result.Errors, errs...)

		if err := s.store.SetSyncState(ctx, syncKey(p), s.now().Format(time.RFC3339)); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("saving %s sync state: %w", p, err))
		}

		if progress != nil {
			progress <- SyncProgress{Provider: p, Fetched: len(acts), Stored: stored}
		}
	}

	return result, nil
}

func (s *SyncService) syncStart(ctx context.Context, p store.Provider) time.Time {
	last, err := s.store.GetSyncState(ctx, syncKey(p))
	if err == nil && last != "" {
		if t, err := time.Parse(time.RFC3339, last); err == nil {
			return t.Add(-resyncOverlap)
		}
	}
	return s.now().AddDate(0, 0, -firstSyncDays)
}

func (s *SyncService) persist(ctx context.Context, p store.Provider, acts []store.Activity) (int, []error) {
	var errs []error
	stored := 0
	for i := range acts {
		a := acts[i]
		a.Provider = p
		if err := s.store.UpsertActivity(ctx, &a); err != nil {
			errs = append(errs, fmt.Errorf("storing %s activity %s: %w", p, a.ID, err))
			continue
		}
		stored++
	}
	return stored, errs
}

func (s *SyncService) absorb(p store.Provider, err error) {
	log.Warn().Str("provider", string(p)).Err(err).Msg("provider unavailable")
	if s.failures != nil {
		s.failures.ProviderFailed(string(p))
	}
}

// Activities returns a provider's activities since the given time: live when
// the provider answers, otherwise the last stored copy. Only context errors
// and a failing store are returned.
func (s *SyncService) Activities(ctx context.Context, p store.Provider, since time.Time) ([]store.Activity, error) {
	if src, ok := s.sources[p]; ok {
		acts, err := src.ListActivities(ctx, since)
		if err == nil {
			if _, errs := s.persist(ctx, p, acts); len(errs) > 0 {
				log.Warn().Str("provider", string(p)).Err(errors.Join(errs...)).Msg("storing fetched activities")
			}
			for i := range acts {
				acts[i].Provider = p
			}
			return acts, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.absorb(p, err)
	}

	stored, err := s.store.ListActivities(ctx, p, since, s.now().AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("reading stored %s activities: %w", p, err)
	}
	return stored, nil
}
