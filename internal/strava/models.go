package strava

import (
	"strconv"
	"time"

	"readiness/internal/store"
)

// Activity represents a Strava summary activity from the API
type Activity struct {
	ID                 int64     `json:"id"`
	Athlete            Athlete   `json:"athlete"`
	Name               string    `json:"name"`
	Type               string    `json:"type"`
	SportType          string    `json:"sport_type"`
	StartDate          time.Time `json:"start_date"`
	StartDateLocal     time.Time `json:"start_date_local"` // local wall clock, serialized with a Z suffix
	Timezone           string    `json:"timezone"`
	Distance           float64   `json:"distance"`             // meters
	MovingTime         int       `json:"moving_time"`          // seconds
	ElapsedTime        int       `json:"elapsed_time"`         // seconds
	TotalElevationGain float64   `json:"total_elevation_gain"` // meters
	AverageHeartrate   float64   `json:"average_heartrate"`    // bpm
	MaxHeartrate       float64   `json:"max_heartrate"`        // bpm
	AverageCadence     float64   `json:"average_cadence"`
	AverageWatts       float64   `json:"average_watts"`
	MaxWatts           float64   `json:"max_watts"`
	Kilojoules         float64   `json:"kilojoules"`
	Calories           float64   `json:"calories"`
	SufferScore        int       `json:"suffer_score"`
	HasHeartrate       bool      `json:"has_heartrate"`
}

// Athlete represents a Strava athlete (minimal info in activity response)
type Athlete struct {
	ID int64 `json:"id"`
}

// ToActivity converts to the provider-neutral activity. Zero values are
// treated as not reported. The suffer score is not a training stress value
// and is dropped.
func (a Activity) ToActivity() store.Activity {
	sport := a.SportType
	if sport == "" {
		sport = a.Type
	}

	duration := a.MovingTime
	if duration == 0 {
		duration = a.ElapsedTime
	}

	calories := a.Calories
	if calories == 0 {
		// Mechanical work in kJ is close to metabolic kcal at typical efficiency
		calories = a.Kilojoules
	}

	start := a.StartDateLocal
	return store.Activity{
		ID:            strconv.FormatInt(a.ID, 10),
		Provider:      store.ProviderSocial,
		Name:          a.Name,
		Type:          sport,
		StartLocal:    time.Date(start.Year(), start.Month(), start.Day(), start.Hour(), start.Minute(), start.Second(), 0, time.UTC),
		Duration:      positive(float64(duration)),
		Distance:      positive(a.Distance),
		AvgPower:      positive(a.AverageWatts),
		MaxPower:      positive(a.MaxWatts),
		AvgHeartrate:  positive(a.AverageHeartrate),
		MaxHeartrate:  positive(a.MaxHeartrate),
		AvgCadence:    positive(a.AverageCadence),
		ElevationGain: positive(a.TotalElevationGain),
		Calories:      positive(calories),
	}
}

func positive(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}
