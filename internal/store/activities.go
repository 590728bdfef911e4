package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrActivityNotFound is returned when an activity doesn't exist
var ErrActivityNotFound = errors.New("activity not found")

// wallLayout stores local wall-clock times without an offset so that range
// queries compare lexically across providers.
const wallLayout = "2006-01-02T15:04:05"

func formatWall(t time.Time) string {
	return t.Format(wallLayout)
}

func parseWall(s string) (time.Time, error) {
	return time.Parse(wallLayout, s)
}

type activityRow struct {
	Provider        string   `db:"provider"`
	ID              string   `db:"id"`
	Name            string   `db:"name"`
	Type            string   `db:"type"`
	StartLocal      string   `db:"start_local"`
	Duration        *float64 `db:"duration"`
	Distance        *float64 `db:"distance"`
	AvgPower        *float64 `db:"avg_power"`
	MaxPower        *float64 `db:"max_power"`
	AvgHeartrate    *float64 `db:"avg_heartrate"`
	MaxHeartrate    *float64 `db:"max_heartrate"`
	AvgCadence      *float64 `db:"avg_cadence"`
	ElevationGain   *float64 `db:"elevation_gain"`
	TrainingStress  *float64 `db:"training_stress"`
	IntensityFactor *float64 `db:"intensity_factor"`
	Calories        *float64 `db:"calories"`
	PlatformCTL     *float64 `db:"platform_ctl"`
	PlatformATL     *float64 `db:"platform_atl"`
}

const activityColumns = `provider, id, name, type, start_local, duration, distance,
	avg_power, max_power, avg_heartrate, max_heartrate, avg_cadence, elevation_gain,
	training_stress, intensity_factor, calories, platform_ctl, platform_atl`

func toActivityRow(a *Activity) activityRow {
	return activityRow{
		Provider:        string(a.Provider),
		ID:              a.ID,
		Name:            a.Name,
		Type:            a.Type,
		StartLocal:      formatWall(a.StartLocal),
		Duration:        a.Duration,
		Distance:        a.Distance,
		AvgPower:        a.AvgPower,
		MaxPower:        a.MaxPower,
		AvgHeartrate:    a.AvgHeartrate,
		MaxHeartrate:    a.MaxHeartrate,
		AvgCadence:      a.AvgCadence,
		ElevationGain:   a.ElevationGain,
		TrainingStress:  a.TrainingStress,
		IntensityFactor: a.IntensityFactor,
		Calories:        a.Calories,
		PlatformCTL:     a.PlatformCTL,
		PlatformATL:     a.PlatformATL,
	}
}

func (r activityRow) toActivity() (Activity, error) {
	start, err := parseWall(r.StartLocal)
	if err != nil {
		return Activity{}, fmt.Errorf("parsing start_local %q: %w", r.StartLocal, err)
	}
	return Activity{
		ID:              r.ID,
		Provider:        Provider(r.Provider),
		Name:            r.Name,
		Type:            r.Type,
		StartLocal:      start,
		Duration:        r.Duration,
		Distance:        r.Distance,
		AvgPower:        r.AvgPower,
		MaxPower:        r.MaxPower,
		AvgHeartrate:    r.AvgHeartrate,
		MaxHeartrate:    r.MaxHeartrate,
		AvgCadence:      r.AvgCadence,
		ElevationGain:   r.ElevationGain,
		TrainingStress:  r.TrainingStress,
		IntensityFactor: r.IntensityFactor,
		Calories:        r.Calories,
		PlatformCTL:     r.PlatformCTL,
		PlatformATL:     r.PlatformATL,
	}, nil
}

// UpsertActivity inserts or updates an activity
func (db *DB) UpsertActivity(ctx context.Context, a *Activity) error {
	if a.ID == "" || a.Provider == "" {
		return fmt.Errorf("activity needs provider and id")
	}
	_, err := db.NamedExecContext(ctx, `
		INSERT INTO activities (`+activityColumns+`, updated_at)
		VALUES (:provider, :id, :name, :type, :start_local, :duration, :distance,
			:avg_power, :max_power, :avg_heartrate, :max_heartrate, :avg_cadence, :elevation_gain,
			:training_stress, :intensity_factor, :calories, :platform_ctl, :platform_atl, CURRENT_TIMESTAMP)
		ON CONFLICT(provider, id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			start_local = excluded.start_local,
			duration = excluded.duration,
			distance = excluded.distance,
			avg_power = excluded.avg_power,
			max_power = excluded.max_power,
			avg_heartrate = excluded.avg_heartrate,
			max_heartrate = excluded.max_heartrate,
			avg_cadence = excluded.avg_cadence,
			elevation_gain = excluded.elevation_gain,
			training_stress = excluded.training_stress,
			intensity_factor = excluded.intensity_factor,
			calories = excluded.calories,
			platform_ctl = excluded.platform_ctl,
			platform_atl = excluded.platform_atl,
			updated_at = CURRENT_TIMESTAMP
	`, toActivityRow(a))
	return err
}

// GetActivity retrieves one provider's activity by id
func (db *DB) GetActivity(ctx context.Context, provider Provider, id string) (*Activity, error) {
	var row activityRow
	err := db.GetContext(ctx, &row, `SELECT `+activityColumns+` FROM activities WHERE provider = ? AND id = ?`,
		string(provider), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrActivityNotFound
		}
		return nil, err
	}
	a, err := row.toActivity()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListActivities returns a provider's activities starting in [from, to), newest first.
func (db *DB) ListActivities(ctx context.Context, provider Provider, from, to time.Time) ([]Activity, error) {
	var rows []activityRow
	err := db.SelectContext(ctx, &rows, `
		SELECT `+activityColumns+`
		FROM activities
		WHERE provider = ? AND start_local >= ? AND start_local < ?
		ORDER BY start_local DESC
	`, string(provider), formatWall(from), formatWall(to))
	if err != nil {
		return nil, err
	}
	return rowsToActivities(rows)
}

// Workouts answers the health-store workout query: device sessions in
// [from, to) optionally filtered by activity type.
func (db *DB) Workouts(ctx context.Context, from, to time.Time, types []string) ([]Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities
		WHERE provider = ? AND start_local >= ? AND start_local < ?`
	args := []interface{}{string(ProviderDevice), formatWall(from), formatWall(to)}

	if len(types) > 0 {
		in, inArgs, err := sqlx.In(` AND type IN (?)`, types)
		if err != nil {
			return nil, err
		}
		query += in
		args = append(args, inArgs...)
	}
	query += ` ORDER BY start_local DESC`

	var rows []activityRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return rowsToActivities(rows)
}

// CountActivities returns the number of stored activities per provider
func (db *DB) CountActivities(ctx context.Context) (map[Provider]int, error) {
	var rows []struct {
		Provider string `db:"provider"`
		Count    int    `db:"n"`
	}
	if err := db.SelectContext(ctx, &rows, `SELECT provider, COUNT(*) AS n FROM activities GROUP BY provider`); err != nil {
		return nil, err
	}
	counts := make(map[Provider]int, len(rows))
	for _, r := range rows {
		counts[Provider(r.Provider)] = r.Count
	}
	return counts, nil
}

func rowsToActivities(rows []activityRow) ([]Activity, error) {
	activities := make([]Activity, 0, len(rows))
	for _, r := range rows {
		a, err := r.toActivity()
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
