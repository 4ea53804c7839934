package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"acecore/domain/analysis"
)

// RequestTracker persists in-flight analysis request state. Requests are
// stored in their canonical encoding next to the columns the lookups filter
// on; the advisory lock and the expiration stamp live in their own columns
// so both are settled inside single atomic statements.
type RequestTracker struct {
	db *DB
}

// NewRequestTracker builds a tracker over the given pool.
func NewRequestTracker(db *DB) *RequestTracker {
	return &RequestTracker{db: db}
}

func (t *RequestTracker) Track(ctx context.Context, request *analysis.AnalysisRequest) error {
	record, err := json.Marshal(request)
	if err != nil {
		return err
	}

	var amtName string
	var timeout int
	var expiresAt *time.Time
	if request.Type != nil {
		amtName = request.Type.Name
		timeout = request.Type.Timeout
		if request.Status == analysis.StatusAnalyzing {
			stamp := time.Now().Add(time.Duration(timeout) * time.Second)
			expiresAt = &stamp
		}
	}

	// the advisory lock survives record updates, and the first analyzing
	// stamp sticks until the status moves on
	err = t.db.retry(ctx, func() error {
		_, err := t.db.ExecContext(ctx, `
			INSERT INTO analysis_request_tracking
				(id, amt_name, cache_key, root_uuid, status, timeout_seconds, expires_at, record)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				amt_name        = EXCLUDED.amt_name,
				cache_key       = EXCLUDED.cache_key,
				root_uuid       = EXCLUDED.root_uuid,
				status          = EXCLUDED.status,
				timeout_seconds = EXCLUDED.timeout_seconds,
				expires_at      = CASE
					WHEN EXCLUDED.status = $9 AND analysis_request_tracking.expires_at IS NOT NULL
						THEN analysis_request_tracking.expires_at
					WHEN EXCLUDED.status = $9
						THEN EXCLUDED.expires_at
					ELSE NULL
				END,
				record = EXCLUDED.record`,
			request.ID, amtName, request.CacheKey, request.Root.UUID, request.Status,
			timeout, expiresAt, record, analysis.StatusAnalyzing)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to track request %s: %w", request.ID, err)
	}
	return nil
}

func (t *RequestTracker) Get(ctx context.Context, id string) (*analysis.AnalysisRequest, error) {
	var record []byte
	err := t.db.GetContext(ctx, &record,
		`SELECT record FROM analysis_request_tracking WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request %s: %w", id, err)
	}
	return decodeRequest(record)
}

func (t *RequestTracker) GetByCacheKey(ctx context.Context, cacheKey string) (*analysis.AnalysisRequest, error) {
	if cacheKey == "" {
		return nil, nil
	}
	// the earliest registration wins, so linked twins sharing the
	// fingerprint never shadow the queued request
	var record []byte
	err := t.db.GetContext(ctx, &record, `
		SELECT record FROM analysis_request_tracking
		WHERE cache_key = $1
		ORDER BY insert_date, id
		LIMIT 1`, cacheKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request by cache key: %w", err)
	}
	return decodeRequest(record)
}

func (t *RequestTracker) GetByRoot(ctx context.Context, rootUUID string) ([]*analysis.AnalysisRequest, error) {
	var records [][]byte
	err := t.db.SelectContext(ctx, &records, `
		SELECT record FROM analysis_request_tracking
		WHERE root_uuid = $1
		ORDER BY id`, rootUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to get requests for root %s: %w", rootUUID, err)
	}
	return decodeRequests(records)
}

func (t *RequestTracker) GetExpired(ctx context.Context) ([]*analysis.AnalysisRequest, error) {
	var records [][]byte
	err := t.db.SelectContext(ctx, &records, `
		SELECT record FROM analysis_request_tracking
		WHERE expires_at IS NOT NULL AND expires_at <= now()
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get expired requests: %w", err)
	}
	return decodeRequests(records)
}

func (t *RequestTracker) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := t.db.retry(ctx, func() error {
		res, err := t.db.ExecContext(ctx,
			`DELETE FROM analysis_request_tracking WHERE id = $1`, id)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		deleted = rows > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete request %s: %w", id, err)
	}
	return deleted, nil
}

func (t *RequestTracker) Lock(ctx context.Context, id string) (bool, error) {
	// a lock held past twice the module timeout is stale and may be broken
	var locked bool
	err := t.db.retry(ctx, func() error {
		res, err := t.db.ExecContext(ctx, `
			UPDATE analysis_request_tracking
			SET lock_time = now()
			WHERE id = $1
			  AND (lock_time IS NULL
			       OR lock_time <= now() - make_interval(secs => timeout_seconds * 2))`,
			id)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		locked = rows > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to lock request %s: %w", id, err)
	}
	return locked, nil
}

func (t *RequestTracker) Unlock(ctx context.Context, id string) (bool, error) {
	var unlocked bool
	err := t.db.retry(ctx, func() error {
		res, err := t.db.ExecContext(ctx, `
			UPDATE analysis_request_tracking
			SET lock_time = NULL
			WHERE id = $1 AND lock_time IS NOT NULL`,
			id)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		unlocked = rows > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to unlock request %s: %w", id, err)
	}
	return unlocked, nil
}

func (t *RequestTracker) Link(ctx context.Context, sourceID, destID string) (bool, error) {
	// the source existence and lock checks ride inside the insert so the
	// decision is atomic
	var linked bool
	err := t.db.retry(ctx, func() error {
		res, err := t.db.ExecContext(ctx, `
			INSERT INTO analysis_request_links (source_id, dest_id)
			SELECT id, $2 FROM analysis_request_tracking
			WHERE id = $1 AND lock_time IS NULL
			ON CONFLICT DO NOTHING`,
			sourceID, destID)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		linked = rows > 0
		return err
	})
	if isForeignKeyViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to link request %s to %s: %w", destID, sourceID, err)
	}
	return linked, nil
}

func (t *RequestTracker) LinkedRequests(ctx context.Context, sourceID string) ([]*analysis.AnalysisRequest, error) {
	var records [][]byte
	err := t.db.SelectContext(ctx, &records, `
		SELECT r.record FROM analysis_request_tracking r
		JOIN analysis_request_links l ON l.dest_id = r.id
		WHERE l.source_id = $1
		ORDER BY r.id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get linked requests for %s: %w", sourceID, err)
	}
	return decodeRequests(records)
}

func (t *RequestTracker) ClearForModuleType(ctx context.Context, amtName string) error {
	err := t.db.retry(ctx, func() error {
		_, err := t.db.ExecContext(ctx,
			`DELETE FROM analysis_request_tracking WHERE amt_name = $1`, amtName)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear requests for module type %s: %w", amtName, err)
	}
	return nil
}

func decodeRequest(record []byte) (*analysis.AnalysisRequest, error) {
	var request analysis.AnalysisRequest
	if err := json.Unmarshal(record, &request); err != nil {
		return nil, err
	}
	return &request, nil
}

func decodeRequests(records [][]byte) ([]*analysis.AnalysisRequest, error) {
	result := make([]*analysis.AnalysisRequest, 0, len(records))
	for _, record := range records {
		request, err := decodeRequest(record)
		if err != nil {
			return nil, err
		}
		result = append(result, request)
	}
	return result, nil
}
