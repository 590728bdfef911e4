// Package device is the platform health store provider: device workouts
// imported from FIT files and health samples imported from JSON exports.
package device

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tormoder/fit"

	"readiness/internal/analysis"
	"readiness/internal/store"
)

// idSpace namespaces deterministic workout IDs so a re-import replaces the same row
var idSpace = uuid.MustParse("6f1d3c8e-5a0b-4e6f-9d2a-7c4b1e8f0a93")

// DecodeFIT reads an activity FIT file and converts its first session into a
// device workout. loc is the zone the athlete's wall clock was in.
func DecodeFIT(r io.Reader, loc *time.Location) (store.Activity, error) {
	decoded, err := fit.Decode(r)
	if err != nil {
		return store.Activity{}, fmt.Errorf("decode FIT file: %w", err)
	}

	activity, err := decoded.Activity()
	if err != nil {
		return store.Activity{}, fmt.Errorf("activity FIT expected: %w", err)
	}
	if len(activity.Sessions) == 0 {
		return store.Activity{}, fmt.Errorf("activity file has no session message")
	}

	return FromSession(activity.Sessions[0], loc)
}

// FromSession converts a FIT session summary. Fields holding the FIT invalid
// sentinel are left unset.
func FromSession(s *fit.SessionMsg, loc *time.Location) (store.Activity, error) {
	if loc == nil {
		loc = time.Local
	}

	start := validTime(s.StartTime)
	if start.IsZero() {
		return store.Activity{}, fmt.Errorf("session has no start time")
	}
	local := start.In(loc)
	wall := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), local.Second(), 0, time.UTC)

	sport := sportType(s.Sport)
	id := uuid.NewSHA1(idSpace, []byte(start.UTC().Format(time.RFC3339)+"/"+sport))

	a := store.Activity{
		ID:            id.String(),
		Provider:      store.ProviderDevice,
		Name:          fmt.Sprintf("%s workout", sport),
		Type:          sport,
		StartLocal:    wall,
		Duration:      positive(s.GetTotalTimerTimeScaled()),
		Distance:      positive(s.GetTotalDistanceScaled()),
		AvgPower:      positive(float64(validUint16(s.AvgPower))),
		MaxPower:      positive(float64(validUint16(s.MaxPower))),
		AvgHeartrate:  positive(float64(validUint8(s.AvgHeartRate))),
		MaxHeartrate:  positive(float64(validUint8(s.MaxHeartRate))),
		AvgCadence:    positive(float64(validUint8(s.AvgCadence))),
		ElevationGain: positive(float64(validUint16(s.TotalAscent))),
		Calories:      positive(float64(validUint16(s.TotalCalories))),
	}

	// Head units that compute TSS/IF report them scaled by 10 and 1000
	if tss := validUint16(s.TrainingStressScore); tss > 0 {
		a.TrainingStress = positive(float64(tss) / 10)
	}
	if intensity := validUint16(s.IntensityFactor); intensity > 0 {
		a.IntensityFactor = positive(float64(intensity) / 1000)
	}

	return a, nil
}

// WorkoutSaver persists device workouts
type WorkoutSaver interface {
	UpsertActivity(ctx context.Context, a *store.Activity) error
}

// ImportFIT decodes each file and stores it as a device workout. Files that
// fail to decode are reported and skipped.
func ImportFIT(ctx context.Context, db WorkoutSaver, paths []string, loc *time.Location) (imported int, errs []error) {
	for _, path := range paths {
		a, err := decodeFile(path, loc)
		if err != nil {
			log.Warn().Str("file", path).Err(err).Msg("skipping FIT file")
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if err := db.UpsertActivity(ctx, &a); err != nil {
			errs = append(errs, fmt.Errorf("%s: saving workout: %w", path, err))
			continue
		}
		imported++
	}
	return imported, errs
}

func decodeFile(path string, loc *time.Location) (store.Activity, error) {
	f, err := os.Open(path)
	if err != nil {
		return store.Activity{}, fmt.Errorf("open FIT file: %w", err)
	}
	defer f.Close()
	return DecodeFIT(f, loc)
}

func sportType(s fit.Sport) string {
	switch s {
	case fit.SportRunning:
		return analysis.TypeRun
	case fit.SportCycling:
		return analysis.TypeRide
	case fit.SportSwimming:
		return analysis.TypeSwim
	case fit.SportWalking:
		return analysis.TypeWalk
	case fit.SportHiking:
		return analysis.TypeHike
	case fit.SportRowing:
		return analysis.TypeRow
	case fit.SportTraining:
		return analysis.TypeStrength
	default:
		return analysis.TypeOther
	}
}

func validTime(t time.Time) time.Time {
	if t.IsZero() || fit.IsBaseTime(t) {
		return time.Time{}
	}
	return t
}

func validUint8(v uint8) uint8 {
	if v == math.MaxUint8 {
		return 0
	}
	return v
}

func validUint16(v uint16) uint16 {
	if v == math.MaxUint16 {
		return 0
	}
	return v
}

func positive(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return nil
	}
	return &v
}
