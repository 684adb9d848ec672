package database

import (
	"context"
	"strings"
	"time"
)

// ============================================================================
// ANALYSIS CACHE (durable tier)
// ============================================================================

// UpsertCacheEntry stores or replaces one cache row.
func (r *Repository) UpsertCacheEntry(ctx context.Context, key, payload string, expiresAt time.Time) error {
	query := `
		INSERT INTO analysis_cache (cache_key, payload, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cache_key) DO UPDATE SET
			payload = EXCLUDED.payload,
			expires_at = EXCLUDED.expires_at
	`
	_, err := r.db.conn.ExecContext(ctx, query, key, payload, expiresAt)
	return err
}

// GetCacheEntry retrieves a cache row, filtering out expired entries even
// before the sweep removes them.
func (r *Repository) GetCacheEntry(ctx context.Context, key string, now time.Time) (*CacheEntry, error) {
	e := &CacheEntry{}
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT cache_key, payload, expires_at
		FROM analysis_cache
		WHERE cache_key = $1 AND expires_at > $2
	`, key, now).Scan(&e.Key, &e.Payload, &e.ExpiresAt)
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// DeleteCacheEntry removes one cache row.
func (r *Repository) DeleteCacheEntry(ctx context.Context, key string) error {
	_, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM analysis_cache WHERE cache_key = $1`, key)
	return err
}

// DeleteCacheByPrefix removes all rows whose key starts with prefix.
func (r *Repository) DeleteCacheByPrefix(ctx context.Context, prefix string) (int64, error) {
	// Escape LIKE metacharacters so a literal prefix matches literally.
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	res, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM analysis_cache WHERE cache_key LIKE $1 ESCAPE '\'`, escaped+"%")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SweepExpiredCache deletes rows past expiry.
func (r *Repository) SweepExpiredCache(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM analysis_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
