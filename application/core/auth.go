package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"acecore/application/ports"
	pkgerrors "acecore/pkg/errors"
)

// hashAPIKey is the one-way transform applied before an API key touches
// storage. Only the hex digest is ever persisted or compared.
func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// CreateAPIKey mints a new credential under the given name and returns the
// plaintext key. This is the only time the plaintext exists; the store keeps
// its sha256 digest.
func (c *CoreSystem) CreateAPIKey(ctx context.Context, name, description string, isAdmin bool) (string, error) {
	key := uuid.NewString()
	record := &ports.APIKey{
		KeyHash:     hashAPIKey(key),
		Name:        name,
		Description: description,
		IsAdmin:     isAdmin,
	}
	if err := c.apiKeys.CreateAPIKey(ctx, record); err != nil {
		return "", fmt.Errorf("failed to create api key %s: %w", name, err)
	}
	c.logger.Info("created api key", zap.String("name", name), zap.Bool("admin", isAdmin))
	return key, nil
}

// BootstrapAPIKey stores a preconfigured plaintext key as an admin
// credential. A credential already stored under the name is left untouched,
// so restarting with the same bootstrap configuration is harmless.
func (c *CoreSystem) BootstrapAPIKey(ctx context.Context, name, key string) error {
	record := &ports.APIKey{
		KeyHash: hashAPIKey(key),
		Name:    name,
		IsAdmin: true,
	}
	if err := c.apiKeys.CreateAPIKey(ctx, record); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeDuplicateAPIKeyName) {
			return nil
		}
		return fmt.Errorf("failed to bootstrap api key %s: %w", name, err)
	}
	c.logger.Info("bootstrapped admin api key", zap.String("name", name))
	return nil
}

// DeleteAPIKey removes the named credential.
func (c *CoreSystem) DeleteAPIKey(ctx context.Context, name string) (bool, error) {
	deleted, err := c.apiKeys.DeleteAPIKey(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete api key %s: %w", name, err)
	}
	if deleted {
		c.logger.Info("deleted api key", zap.String("name", name))
	}
	return deleted, nil
}

// VerifyAPIKey reports whether the plaintext key matches a stored credential,
// optionally requiring admin rights.
func (c *CoreSystem) VerifyAPIKey(ctx context.Context, key string, adminRequired bool) (bool, error) {
	return c.apiKeys.VerifyAPIKey(ctx, hashAPIKey(key), adminRequired)
}
