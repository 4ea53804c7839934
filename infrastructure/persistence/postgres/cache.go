package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"acecore/domain/analysis"
)

// ResultCache persists cached analysis results keyed by fingerprint. Expiry
// is settled on the database clock so every node agrees on freshness.
type ResultCache struct {
	db *DB
}

// NewResultCache builds a cache over the given pool.
func NewResultCache(db *DB) *ResultCache {
	return &ResultCache{db: db}
}

func (c *ResultCache) Put(ctx context.Context, cacheKey string, request *analysis.AnalysisRequest, ttl int) error {
	record, err := json.Marshal(request)
	if err != nil {
		return err
	}

	var amtName string
	if request.Type != nil {
		amtName = request.Type.Name
	}

	err = c.db.retry(ctx, func() error {
		_, err := c.db.ExecContext(ctx, `
			INSERT INTO analysis_result_cache (cache_key, amt_name, expires_at, record)
			VALUES ($1, $2, now() + make_interval(secs => $3), $4)
			ON CONFLICT (cache_key) DO UPDATE SET
				amt_name   = EXCLUDED.amt_name,
				expires_at = EXCLUDED.expires_at,
				record     = EXCLUDED.record`,
			cacheKey, amtName, ttl, record)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to cache result: %w", err)
	}
	return nil
}

func (c *ResultCache) Get(ctx context.Context, cacheKey string) (*analysis.AnalysisRequest, error) {
	var record []byte
	err := c.db.GetContext(ctx, &record, `
		SELECT record FROM analysis_result_cache
		WHERE cache_key = $1 AND expires_at > now()`, cacheKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached result: %w", err)
	}
	return decodeRequest(record)
}

func (c *ResultCache) DeleteExpired(ctx context.Context) (int, error) {
	var count int64
	err := c.db.retry(ctx, func() error {
		res, err := c.db.ExecContext(ctx,
			`DELETE FROM analysis_result_cache WHERE expires_at <= now()`)
		if err != nil {
			return err
		}
		count, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return int(count), nil
}

func (c *ResultCache) DeleteForModuleType(ctx context.Context, amtName string) error {
	err := c.db.retry(ctx, func() error {
		_, err := c.db.ExecContext(ctx,
			`DELETE FROM analysis_result_cache WHERE amt_name = $1`, amtName)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete cache entries for module type %s: %w", amtName, err)
	}
	return nil
}

func (c *ResultCache) Size(ctx context.Context, amtName string) (int, error) {
	query := `SELECT count(*) FROM analysis_result_cache WHERE expires_at > now()`
	args := []any{}
	if amtName != "" {
		query += ` AND amt_name = $1`
		args = append(args, amtName)
	}

	var count int
	if err := c.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return count, nil
}
