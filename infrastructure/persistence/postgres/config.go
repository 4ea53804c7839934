package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"acecore/application/ports"
)

// ConfigStore persists runtime configuration settings keyed by dotted path.
type ConfigStore struct {
	db *DB
}

// NewConfigStore builds a store over the given pool.
func NewConfigStore(db *DB) *ConfigStore {
	return &ConfigStore{db: db}
}

func (s *ConfigStore) GetConfig(ctx context.Context, key string) (*ports.ConfigSetting, error) {
	var row struct {
		Name          string `db:"name"`
		Value         []byte `db:"value"`
		Documentation string `db:"documentation"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT name, value, documentation FROM config WHERE name = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config %s: %w", key, err)
	}
	return &ports.ConfigSetting{
		Name:          row.Name,
		Value:         row.Value,
		Documentation: row.Documentation,
	}, nil
}

func (s *ConfigStore) SetConfig(ctx context.Context, setting *ports.ConfigSetting) error {
	err := s.db.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO config (name, value, documentation)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO UPDATE SET
				value         = EXCLUDED.value,
				documentation = EXCLUDED.documentation`,
			setting.Name, []byte(setting.Value), setting.Documentation)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to set config %s: %w", setting.Name, err)
	}
	return nil
}

func (s *ConfigStore) DeleteConfig(ctx context.Context, key string) (bool, error) {
	var deleted bool
	err := s.db.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM config WHERE name = $1`, key)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		deleted = rows > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete config %s: %w", key, err)
	}
	return deleted, nil
}
