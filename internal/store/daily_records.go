package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type dailyRow struct {
	Date              string  `db:"date"`
	Recovery          *int    `db:"recovery"`
	RecoveryBand      string  `db:"recovery_band"`
	Sleep             *int    `db:"sleep"`
	SleepBand         string  `db:"sleep_band"`
	StressAcute       *int    `db:"stress_acute"`
	StressChronic     *int    `db:"stress_chronic"`
	StressBand        string  `db:"stress_band"`
	Components        string  `db:"components"`
	CTL               float64 `db:"ctl"`
	ATL               float64 `db:"atl"`
	TSB               float64 `db:"tsb"`
	LoadMethod        string  `db:"load_method"`
	LoadLowConfidence int     `db:"load_low_confidence"`
	RecentStrain      float64 `db:"recent_strain"`
	StressThreshold   float64 `db:"stress_threshold"`
	StressAlert       int     `db:"stress_alert"`
	IllnessSeverity   string  `db:"illness_severity"`
	FormDescription   string  `db:"form_description"`
	Brief             string  `db:"brief"`
	ComputedAt        string  `db:"computed_at"`
}

const dailyColumns = `date, recovery, recovery_band, sleep, sleep_band, stress_acute, stress_chronic,
	stress_band, components, ctl, atl, tsb, load_method, load_low_confidence, recent_strain,
	stress_threshold, stress_alert, illness_severity, form_description, brief, computed_at`

func (r dailyRow) toRecord() (*DailyRecord, error) {
	computedAt, err := time.Parse(time.RFC3339, r.ComputedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing computed_at %q: %w", r.ComputedAt, err)
	}

	components := map[string]int{}
	if r.Components != "" {
		if err := json.Unmarshal([]byte(r.Components), &components); err != nil {
			return nil, fmt.Errorf("decoding components for %s: %w", r.Date, err)
		}
	}

	return &DailyRecord{
		Date:              r.Date,
		Recovery:          r.Recovery,
		RecoveryBand:      r.RecoveryBand,
		Sleep:             r.Sleep,
		SleepBand:         r.SleepBand,
		StressAcute:       r.StressAcute,
		StressChronic:     r.StressChronic,
		StressBand:        r.StressBand,
		Components:        components,
		CTL:               r.CTL,
		ATL:               r.ATL,
		TSB:               r.TSB,
		LoadMethod:        r.LoadMethod,
		LoadLowConfidence: r.LoadLowConfidence == 1,
		RecentStrain:      r.RecentStrain,
		StressThreshold:   r.StressThreshold,
		StressAlert:       r.StressAlert == 1,
		IllnessSeverity:   r.IllnessSeverity,
		FormDescription:   r.FormDescription,
		Brief:             r.Brief,
		ComputedAt:        computedAt,
	}, nil
}

// GetDailyRecord fetches the record for a date ("2006-01-02").
func (db *DB) GetDailyRecord(ctx context.Context, date string) (*DailyRecord, error) {
	var row dailyRow
	err := db.GetContext(ctx, &row, `SELECT `+dailyColumns+` FROM daily_records WHERE date = ?`, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toRecord()
}

// UpsertDailyRecord writes the whole record for its date, replacing any earlier same-day version.
func (db *DB) UpsertDailyRecord(ctx context.Context, rec *DailyRecord) error {
	if _, err := time.Parse(DateLayout, rec.Date); err != nil {
		return fmt.Errorf("invalid record date %q: %w", rec.Date, err)
	}

	components := rec.Components
	if components == nil {
		components = map[string]int{}
	}
	encoded, err := json.Marshal(components)
	if err != nil {
		return fmt.Errorf("encoding components: %w", err)
	}

	computedAt := rec.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now()
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO daily_records (`+dailyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			recovery = excluded.recovery,
			recovery_band = excluded.recovery_band,
			sleep = excluded.sleep,
			sleep_band = excluded.sleep_band,
			stress_acute = excluded.stress_acute,
			stress_chronic = excluded.stress_chronic,
			stress_band = excluded.stress_band,
			components = excluded.components,
			ctl = excluded.ctl,
			atl = excluded.atl,
			tsb = excluded.tsb,
			load_method = excluded.load_method,
			load_low_confidence = excluded.load_low_confidence,
			recent_strain = excluded.recent_strain,
			stress_threshold = excluded.stress_threshold,
			stress_alert = excluded.stress_alert,
			illness_severity = excluded.illness_severity,
			form_description = excluded.form_description,
			brief = excluded.brief,
			computed_at = excluded.computed_at
	`,
		rec.Date, rec.Recovery, rec.RecoveryBand, rec.Sleep, rec.SleepBand,
		rec.StressAcute, rec.StressChronic, rec.StressBand, string(encoded),
		rec.CTL, rec.ATL, rec.TSB, rec.LoadMethod, boolToInt(rec.LoadLowConfidence), rec.RecentStrain,
		rec.StressThreshold, boolToInt(rec.StressAlert), rec.IllnessSeverity,
		rec.FormDescription, rec.Brief, computedAt.Format(time.RFC3339),
	)
	return err
}

// UpdateBrief stores generated brief text on an existing record
func (db *DB) UpdateBrief(ctx context.Context, date, brief string) error {
	result, err := db.ExecContext(ctx, `UPDATE daily_records SET brief = ? WHERE date = ?`, brief, date)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ListDailyRecords returns records with from <= date <= to, oldest first.
func (db *DB) ListDailyRecords(ctx context.Context, from, to string) ([]DailyRecord, error) {
	var rows []dailyRow
	err := db.SelectContext(ctx, &rows, `
		SELECT `+dailyColumns+`
		FROM daily_records
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC
	`, from, to)
	if err != nil {
		return nil, err
	}

	records := make([]DailyRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}
