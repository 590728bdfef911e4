package store

import (
	"context"
	"fmt"
	"time"
)

type sampleRow struct {
	Metric string  `db:"metric"`
	TS     string  `db:"ts"`
	Value  float64 `db:"value"`
	Source string  `db:"source"`
}

// SaveSamples stores scalar samples, replacing duplicates for the same metric, time and source.
func (db *DB) SaveSamples(ctx context.Context, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO samples (metric, ts, value, source)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(metric, ts, source) DO UPDATE SET value = excluded.value
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range samples {
		if _, err := stmt.ExecContext(ctx, string(s.Metric), formatWall(s.Timestamp), s.Value, s.Source); err != nil {
			return fmt.Errorf("inserting %s sample: %w", s.Metric, err)
		}
	}

	return tx.Commit()
}

// Samples returns a metric's samples in [from, to), oldest first.
func (db *DB) Samples(ctx context.Context, metric Metric, from, to time.Time) ([]Sample, error) {
	var rows []sampleRow
	err := db.SelectContext(ctx, &rows, `
		SELECT metric, ts, value, source
		FROM samples
		WHERE metric = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, string(metric), formatWall(from), formatWall(to))
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(rows))
	for _, r := range rows {
		ts, err := parseWall(r.TS)
		if err != nil {
			return nil, fmt.Errorf("parsing ts %q: %w", r.TS, err)
		}
		samples = append(samples, Sample{
			Metric:    Metric(r.Metric),
			Timestamp: ts,
			Value:     r.Value,
			Source:    r.Source,
		})
	}
	return samples, nil
}

type sleepRow struct {
	ID         int64   `db:"id"`
	StartAt    string  `db:"start_at"`
	EndAt      string  `db:"end_at"`
	InBed      float64 `db:"in_bed"`
	Asleep     float64 `db:"asleep"`
	Deep       float64 `db:"deep"`
	REM        float64 `db:"rem"`
	Light      float64 `db:"light"`
	Awake      float64 `db:"awake"`
	WakeEvents int     `db:"wake_events"`
	Source     string  `db:"source"`
}

// SaveSleepSession inserts or updates a sleep session keyed by start time and source.
func (db *DB) SaveSleepSession(ctx context.Context, s *SleepSession) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sleep_sessions (start_at, end_at, in_bed, asleep, deep, rem, light, awake, wake_events, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(start_at, source) DO UPDATE SET
			end_at = excluded.end_at,
			in_bed = excluded.in_bed,
			asleep = excluded.asleep,
			deep = excluded.deep,
			rem = excluded.rem,
			light = excluded.light,
			awake = excluded.awake,
			wake_events = excluded.wake_events
	`, formatWall(s.Start), formatWall(s.End), s.InBedSeconds, s.AsleepSeconds,
		s.DeepSeconds, s.REMSeconds, s.LightSeconds, s.AwakeSeconds, s.WakeEvents, s.Source)
	return err
}

// SleepSessions returns sessions that ended in [from, to), oldest first.
func (db *DB) SleepSessions(ctx context.Context, from, to time.Time) ([]SleepSession, error) {
	var rows []sleepRow
	err := db.SelectContext(ctx, &rows, `
		SELECT id, start_at, end_at, in_bed, asleep, deep, rem, light, awake, wake_events, source
		FROM sleep_sessions
		WHERE end_at >= ? AND end_at < ?
		ORDER BY end_at ASC
	`, formatWall(from), formatWall(to))
	if err != nil {
		return nil, err
	}

	sessions := make([]SleepSession, 0, len(rows))
	for _, r := range rows {
		start, err := parseWall(r.StartAt)
		if err != nil {
			return nil, fmt.Errorf("parsing start_at %q: %w", r.StartAt, err)
		}
		end, err := parseWall(r.EndAt)
		if err != nil {
			return nil, fmt.Errorf("parsing end_at %q: %w", r.EndAt, err)
		}
		sessions = append(sessions, SleepSession{
			ID:            r.ID,
			Start:         start,
			End:           end,
			InBedSeconds:  r.InBed,
			AsleepSeconds: r.Asleep,
			DeepSeconds:   r.Deep,
			REMSeconds:    r.REM,
			LightSeconds:  r.Light,
			AwakeSeconds:  r.Awake,
			WakeEvents:    r.WakeEvents,
			Source:        r.Source,
		})
	}
	return sessions, nil
}
