package core

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"acecore/domain/analysis"
	"acecore/domain/events"
)

// StoreContent writes the stream into content-addressed storage and returns
// its sha256 address, firing STORAGE_NEW.
func (c *CoreSystem) StoreContent(ctx context.Context, r io.Reader, meta *analysis.ContentMetadata) (string, error) {
	sha, err := c.content.StoreContent(ctx, r, meta)
	if err != nil {
		return "", fmt.Errorf("failed to store content: %w", err)
	}
	c.fireEvent(ctx, events.StorageNew, sha)
	return sha, nil
}

// SaveFile stores the file at path under its base name and returns the sha256
// address, firing STORAGE_NEW.
func (c *CoreSystem) SaveFile(ctx context.Context, path string, meta *analysis.ContentMetadata) (string, error) {
	sha, err := c.content.SaveFile(ctx, path, meta)
	if err != nil {
		return "", fmt.Errorf("failed to save file %s: %w", path, err)
	}
	c.fireEvent(ctx, events.StorageNew, sha)
	return sha, nil
}

// GetContentMeta retrieves stored content metadata, nil when unknown.
func (c *CoreSystem) GetContentMeta(ctx context.Context, sha256 string) (*analysis.ContentMetadata, error) {
	return c.content.GetContentMeta(ctx, sha256)
}

// OpenContent opens the stored bytes for streaming. The caller closes the
// reader.
func (c *CoreSystem) OpenContent(ctx context.Context, sha256 string) (io.ReadCloser, error) {
	return c.content.OpenContent(ctx, sha256)
}

// LoadFile materializes stored content at dest.
func (c *CoreSystem) LoadFile(ctx context.Context, sha256, dest string) error {
	return c.content.LoadFile(ctx, sha256, dest)
}

// DeleteContent removes the blob and its metadata, firing STORAGE_DELETED
// when something was removed.
func (c *CoreSystem) DeleteContent(ctx context.Context, sha256 string) (bool, error) {
	deleted, err := c.content.DeleteContent(ctx, sha256)
	if err != nil {
		return false, fmt.Errorf("failed to delete content %s: %w", sha256, err)
	}
	if deleted {
		c.fireEvent(ctx, events.StorageDeleted, sha256)
	}
	return deleted, nil
}

// sweepExpiredContent deletes every blob past its expiration date with no
// root references left, one STORAGE_DELETED per blob.
func (c *CoreSystem) sweepExpiredContent(ctx context.Context) error {
	expired, err := c.content.ExpiredContent(ctx)
	if err != nil {
		return fmt.Errorf("failed to list expired content: %w", err)
	}
	for _, meta := range expired {
		deleted, err := c.content.DeleteContent(ctx, meta.SHA256)
		if err != nil {
			c.logger.Warn("failed to delete expired content",
				zap.String("sha256", meta.SHA256),
				zap.Error(err),
			)
			continue
		}
		if deleted {
			c.logger.Info("deleted expired content",
				zap.String("sha256", meta.SHA256),
				zap.String("name", meta.Name),
			)
			c.fireEvent(ctx, events.StorageDeleted, meta.SHA256)
		}
	}
	return nil
}
