package store

import "github.com/jmoiron/sqlx"

// migrate runs all database migrations
func migrate(db *sqlx.DB) error {
	migrations := []string{
		// Provider tokens, one row per provider
		`CREATE TABLE IF NOT EXISTS auth (
			provider TEXT PRIMARY KEY,
			athlete_id INTEGER NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,

		// Activities from every provider; ids are only unique per provider
		`CREATE TABLE IF NOT EXISTS activities (
			provider TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			start_local TEXT NOT NULL,
			duration REAL,
			distance REAL,
			avg_power REAL,
			max_power REAL,
			avg_heartrate REAL,
			max_heartrate REAL,
			avg_cadence REAL,
			elevation_gain REAL,
			training_stress REAL,
			intensity_factor REAL,
			calories REAL,
			platform_ctl REAL,
			platform_atl REAL,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (provider, id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_activities_start ON activities(start_local)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(type)`,

		// Scalar health samples (HRV, resting HR, respiratory rate)
		`CREATE TABLE IF NOT EXISTS samples (
			metric TEXT NOT NULL,
			ts TEXT NOT NULL,
			value REAL NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (metric, ts, source)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_samples_metric_ts ON samples(metric, ts)`,

		// Sleep sessions with stage totals in seconds
		`CREATE TABLE IF NOT EXISTS sleep_sessions (
			id INTEGER PRIMARY KEY,
			start_at TEXT NOT NULL,
			end_at TEXT NOT NULL,
			in_bed REAL NOT NULL,
			asleep REAL NOT NULL,
			deep REAL NOT NULL DEFAULT 0,
			rem REAL NOT NULL DEFAULT 0,
			light REAL NOT NULL DEFAULT 0,
			awake REAL NOT NULL DEFAULT 0,
			wake_events INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT '',
			UNIQUE (start_at, source)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sleep_end ON sleep_sessions(end_at)`,

		// One row per calendar day
		`CREATE TABLE IF NOT EXISTS daily_records (
			date TEXT PRIMARY KEY,
			recovery INTEGER,
			recovery_band TEXT NOT NULL DEFAULT '',
			sleep INTEGER,
			sleep_band TEXT NOT NULL DEFAULT '',
			stress_acute INTEGER,
			stress_chronic INTEGER,
			stress_band TEXT NOT NULL DEFAULT '',
			components TEXT NOT NULL DEFAULT '{}',
			ctl REAL NOT NULL DEFAULT 0,
			atl REAL NOT NULL DEFAULT 0,
			tsb REAL NOT NULL DEFAULT 0,
			load_method TEXT NOT NULL DEFAULT '',
			load_low_confidence INTEGER NOT NULL DEFAULT 0,
			recent_strain REAL NOT NULL DEFAULT 0,
			stress_threshold REAL NOT NULL DEFAULT 0,
			stress_alert INTEGER NOT NULL DEFAULT 0,
			illness_severity TEXT NOT NULL DEFAULT '',
			form_description TEXT NOT NULL DEFAULT '',
			brief TEXT NOT NULL DEFAULT '',
			computed_at TEXT NOT NULL
		)`,

		// Sync State (key-value store for sync tracking)
		`CREATE TABLE IF NOT EXISTS sync_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}

	return nil
}
