package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"acecore/application/ports"
	pkgerrors "acecore/pkg/errors"
)

// APIKeyStore persists API credentials. Only the sha256 of each issued key
// is stored, never the plaintext.
type APIKeyStore struct {
	db *DB
}

// NewAPIKeyStore builds a store over the given pool.
func NewAPIKeyStore(db *DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

func (s *APIKeyStore) CreateAPIKey(ctx context.Context, key *ports.APIKey) error {
	err := s.db.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO api_keys (name, key_hash, description, is_admin)
			VALUES ($1, $2, $3, $4)`,
			key.Name, key.KeyHash, key.Description, key.IsAdmin)
		return err
	})
	if isUniqueViolation(err) {
		return pkgerrors.NewDuplicateAPIKeyName(key.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to create api key %s: %w", key.Name, err)
	}
	return nil
}

func (s *APIKeyStore) DeleteAPIKey(ctx context.Context, name string) (bool, error) {
	var deleted bool
	err := s.db.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM api_keys WHERE name = $1`, name)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		deleted = rows > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete api key %s: %w", name, err)
	}
	return deleted, nil
}

func (s *APIKeyStore) VerifyAPIKey(ctx context.Context, keyHash string, adminRequired bool) (bool, error) {
	var isAdmin bool
	err := s.db.GetContext(ctx, &isAdmin,
		`SELECT is_admin FROM api_keys WHERE key_hash = $1`, keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to verify api key: %w", err)
	}
	if adminRequired && !isAdmin {
		return false, nil
	}
	return true, nil
}
