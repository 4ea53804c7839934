package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"acecore/domain/analysis"
	pkgerrors "acecore/pkg/errors"
)

// RootStore persists root analyses with optimistic versioning. Roots are
// stored in their stripped encoding, details payloads live in a sibling
// table keyed by analysis UUID and cascade with the root.
type RootStore struct {
	db *DB
}

// NewRootStore builds a store over the given pool.
func NewRootStore(db *DB) *RootStore {
	return &RootStore{db: db}
}

func (s *RootStore) TrackRoot(ctx context.Context, root *analysis.RootAnalysis) (bool, error) {
	record, err := root.MarshalStripped()
	if err != nil {
		return false, err
	}

	version := root.Version
	if version == "" {
		version = uuid.New().String()
	}

	var inserted bool
	err = s.db.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO root_analysis_tracking (uuid, version, record)
			VALUES ($1, $2, $3)
			ON CONFLICT (uuid) DO NOTHING`,
			root.UUID, version, record)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		inserted = rows > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to track root %s: %w", root.UUID, err)
	}
	if inserted {
		root.Version = version
	}
	return inserted, nil
}

func (s *RootStore) GetRoot(ctx context.Context, id string) (*analysis.RootAnalysis, error) {
	var row struct {
		Version string `db:"version"`
		Record  []byte `db:"record"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT version, record FROM root_analysis_tracking WHERE uuid = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get root %s: %w", id, err)
	}

	var root analysis.RootAnalysis
	if err := json.Unmarshal(row.Record, &root); err != nil {
		return nil, err
	}
	// the stored version column is authoritative over the encoded copy
	root.Version = row.Version
	return &root, nil
}

func (s *RootStore) UpdateRoot(ctx context.Context, root *analysis.RootAnalysis) (bool, error) {
	record, err := root.MarshalStripped()
	if err != nil {
		return false, err
	}

	newVersion := uuid.New().String()

	var updated bool
	err = s.db.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE root_analysis_tracking
			SET version = $3, record = $4
			WHERE uuid = $1 AND version = $2`,
			root.UUID, root.Version, newVersion, record)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		updated = rows > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to update root %s: %w", root.UUID, err)
	}
	if updated {
		root.Version = newVersion
	}
	return updated, nil
}

func (s *RootStore) DeleteRoot(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.db.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM root_analysis_tracking WHERE uuid = $1`, id)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		deleted = rows > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete root %s: %w", id, err)
	}
	return deleted, nil
}

func (s *RootStore) RootExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM root_analysis_tracking WHERE uuid = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("failed to check root %s: %w", id, err)
	}
	return exists, nil
}

func (s *RootStore) TrackDetails(ctx context.Context, rootUUID, id string, value json.RawMessage) (bool, error) {
	var inserted bool
	err := s.db.retry(ctx, func() error {
		// xmax stays zero on a fresh insert
		return s.db.GetContext(ctx, &inserted, `
			INSERT INTO analysis_details_tracking (uuid, root_uuid, record)
			VALUES ($1, $2, $3)
			ON CONFLICT (uuid) DO UPDATE SET root_uuid = EXCLUDED.root_uuid, record = EXCLUDED.record
			RETURNING (xmax = 0) AS inserted`,
			id, rootUUID, []byte(value))
	})
	if isForeignKeyViolation(err) {
		return false, pkgerrors.NewUnknownRoot(rootUUID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to track details %s: %w", id, err)
	}
	return inserted, nil
}

func (s *RootStore) GetDetails(ctx context.Context, id string) (json.RawMessage, error) {
	var record []byte
	err := s.db.GetContext(ctx, &record,
		`SELECT record FROM analysis_details_tracking WHERE uuid = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get details %s: %w", id, err)
	}
	return record, nil
}

func (s *RootStore) DeleteDetails(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.db.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM analysis_details_tracking WHERE uuid = $1`, id)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		deleted = rows > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete details %s: %w", id, err)
	}
	return deleted, nil
}
