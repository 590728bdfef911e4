package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNoAuth is returned when no authentication is stored
var ErrNoAuth = errors.New("no authentication stored")

// GetAuth retrieves the stored tokens for a provider
func (db *DB) GetAuth(ctx context.Context, provider Provider) (*Auth, error) {
	row := db.QueryRowContext(ctx, `
		SELECT athlete_id, access_token, refresh_token, expires_at
		FROM auth
		WHERE provider = ?
	`, string(provider))

	auth := Auth{Provider: provider}
	var expiresAt int64
	err := row.Scan(&auth.AthleteID, &auth.AccessToken, &auth.RefreshToken, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoAuth
	}
	if err != nil {
		return nil, err
	}

	auth.ExpiresAt = time.Unix(expiresAt, 0)
	return &auth, nil
}

// SaveAuth stores or updates a provider's tokens
func (db *DB) SaveAuth(ctx context.Context, auth *Auth) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO auth (provider, athlete_id, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(provider) DO UPDATE SET
			athlete_id = excluded.athlete_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = CURRENT_TIMESTAMP
	`, string(auth.Provider), auth.AthleteID, auth.AccessToken, auth.RefreshToken, auth.ExpiresAt.Unix())
	return err
}

// UpdateTokens updates just the access and refresh tokens
func (db *DB) UpdateTokens(ctx context.Context, provider Provider, accessToken, refreshToken string, expiresAt time.Time) error {
	result, err := db.ExecContext(ctx, `
		UPDATE auth
		SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE provider = ?
	`, accessToken, refreshToken, expiresAt.Unix(), string(provider))
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNoAuth
	}
	return nil
}
