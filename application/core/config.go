package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"acecore/application/ports"
	"acecore/domain/events"
)

// envOverrides maps runtime configuration keys to environment variables that
// shadow the stored value when set. Overridden keys read from the process
// environment, writes still land in the store.
var envOverrides = map[string]string{
	"/ace/core/sqlalchemy/url": "ACE_DB_URL",
	"/ace/core/storage/path":   "ACE_STORAGE_ROOT",
}

// GetConfig retrieves a runtime setting by path key, nil when unset.
func (c *CoreSystem) GetConfig(ctx context.Context, key string) (*ports.ConfigSetting, error) {
	if envName, ok := envOverrides[key]; ok {
		if v := os.Getenv(envName); v != "" {
			value, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to encode override %s: %w", envName, err)
			}
			return &ports.ConfigSetting{
				Name:          key,
				Value:         value,
				Documentation: "environment override " + envName,
			}, nil
		}
	}
	return c.config.GetConfig(ctx, key)
}

// SetConfig stores a runtime setting and fires CONFIG_SET with the new value.
func (c *CoreSystem) SetConfig(ctx context.Context, setting *ports.ConfigSetting) error {
	if err := c.config.SetConfig(ctx, setting); err != nil {
		return fmt.Errorf("failed to set config %s: %w", setting.Name, err)
	}
	c.fireEvent(ctx, events.ConfigSet, setting)
	return nil
}

// DeleteConfig removes a runtime setting, firing CONFIG_DELETE when a value
// was actually removed.
func (c *CoreSystem) DeleteConfig(ctx context.Context, key string) (bool, error) {
	deleted, err := c.config.DeleteConfig(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete config %s: %w", key, err)
	}
	if deleted {
		c.fireEvent(ctx, events.ConfigDelete, key)
	}
	return deleted, nil
}
