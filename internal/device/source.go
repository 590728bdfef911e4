package device

import (
	"context"
	"time"

	"readiness/internal/store"
)

// WorkoutQuerier reads stored device workouts
type WorkoutQuerier interface {
	Workouts(ctx context.Context, from, to time.Time, types []string) ([]store.Activity, error)
}

// Source serves imported device workouts as the device provider
type Source struct {
	db  WorkoutQuerier
	now func() time.Time
}

// NewSource creates a device provider over the health store
func NewSource(db WorkoutQuerier) *Source {
	return &Source{db: db, now: time.Now}
}

// Name implements provider.Source
func (s *Source) Name() store.Provider {
	return store.ProviderDevice
}

// ListActivities returns device workouts that started at or after since
func (s *Source) ListActivities(ctx context.Context, since time.Time) ([]store.Activity, error) {
	return s.db.Workouts(ctx, since, s.now().AddDate(0, 0, 1), nil)
}
