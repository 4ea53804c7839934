package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"acecore/domain/analysis"
)

// ModuleRegistry persists module type records in the
// analysis_module_tracking table, one canonical JSON record per name.
type ModuleRegistry struct {
	db *DB
}

// NewModuleRegistry builds a registry over the given pool.
func NewModuleRegistry(db *DB) *ModuleRegistry {
	return &ModuleRegistry{db: db}
}

func (r *ModuleRegistry) Register(ctx context.Context, amt *analysis.ModuleType) error {
	record, err := json.Marshal(amt)
	if err != nil {
		return err
	}
	err = r.db.retry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO analysis_module_tracking (name, record)
			VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET record = EXCLUDED.record`,
			amt.Name, record)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to register module type %s: %w", amt.Name, err)
	}
	return nil
}

func (r *ModuleRegistry) Get(ctx context.Context, name string) (*analysis.ModuleType, error) {
	var record []byte
	err := r.db.GetContext(ctx, &record,
		`SELECT record FROM analysis_module_tracking WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module type %s: %w", name, err)
	}

	var amt analysis.ModuleType
	if err := json.Unmarshal(record, &amt); err != nil {
		return nil, err
	}
	return &amt, nil
}

func (r *ModuleRegistry) Delete(ctx context.Context, name string) (bool, error) {
	var deleted bool
	err := r.db.retry(ctx, func() error {
		res, err := r.db.ExecContext(ctx,
			`DELETE FROM analysis_module_tracking WHERE name = $1`, name)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		deleted = rows > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete module type %s: %w", name, err)
	}
	return deleted, nil
}

func (r *ModuleRegistry) List(ctx context.Context) ([]*analysis.ModuleType, error) {
	var records [][]byte
	err := r.db.SelectContext(ctx, &records,
		`SELECT record FROM analysis_module_tracking ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list module types: %w", err)
	}

	result := make([]*analysis.ModuleType, 0, len(records))
	for _, record := range records {
		var amt analysis.ModuleType
		if err := json.Unmarshal(record, &amt); err != nil {
			return nil, err
		}
		result = append(result, &amt)
	}
	return result, nil
}
