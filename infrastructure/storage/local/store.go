// Package local implements content-addressed blob storage on the local
// filesystem. Bytes live under <root>/<sha256[0:3]>/<sha256>; metadata and
// root references are kept in process memory.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"acecore/domain/analysis"
	pkgerrors "acecore/pkg/errors"
)

type contentRecord struct {
	meta  analysis.ContentMetadata
	roots map[string]bool
}

// Store is a filesystem-backed content store. Safe for concurrent use.
type Store struct {
	root   string
	logger *zap.Logger

	mu      sync.RWMutex
	content map[string]*contentRecord
}

// NewStore builds a store rooted at dir, creating it when missing.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		root:    dir,
		logger:  logger,
		content: map[string]*contentRecord{},
	}, nil
}

// ContentPath returns where the blob with the given address lives under root.
// Blobs fan out over the first three hex digits to keep directories small.
func ContentPath(root, sha256 string) string {
	return filepath.Join(root, sha256[0:3], sha256)
}

// StoreContent streams r to disk, computing the sha256 address as it copies.
// Re-storing existing content refreshes the metadata and keeps the root
// references already attached to it.
func (s *Store) StoreContent(ctx context.Context, r io.Reader, meta *analysis.ContentMetadata) (string, error) {
	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close upload file: %w", err)
	}

	sha := hex.EncodeToString(hasher.Sum(nil))
	path := ContentPath(s.root, sha)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create content directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		s.logger.Warn("content already stored", zap.String("sha256", sha))
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to place content %s: %w", sha, err)
	}

	meta.SHA256 = sha
	meta.Size = size
	meta.Location = path
	meta.InsertDate = time.Now().UTC()

	s.mu.Lock()
	record, ok := s.content[sha]
	if !ok {
		record = &contentRecord{roots: map[string]bool{}}
		s.content[sha] = record
	}
	record.meta = *meta
	s.mu.Unlock()

	s.logger.Debug("stored content",
		zap.String("sha256", sha),
		zap.String("name", meta.Name),
		zap.Int64("size", size),
	)
	return sha, nil
}

// SaveFile stores the file at path under its base name.
func (s *Store) SaveFile(ctx context.Context, path string, meta *analysis.ContentMetadata) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	meta.Name = filepath.Base(path)
	return s.StoreContent(ctx, f, meta)
}

// GetContentMeta returns a copy of the blob's metadata, nil when unknown.
func (s *Store) GetContentMeta(ctx context.Context, sha256 string) (*analysis.ContentMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.content[sha256]
	if !ok {
		return nil, nil
	}
	meta := record.meta
	meta.Roots = sortedKeys(record.roots)
	return &meta, nil
}

// OpenContent opens the blob bytes for reading. The caller closes the reader.
func (s *Store) OpenContent(ctx context.Context, sha256 string) (io.ReadCloser, error) {
	s.mu.RLock()
	_, ok := s.content[sha256]
	s.mu.RUnlock()
	if !ok {
		return nil, pkgerrors.NewUnknownFile(sha256)
	}

	f, err := os.Open(ContentPath(s.root, sha256))
	if err != nil {
		return nil, fmt.Errorf("failed to open content %s: %w", sha256, err)
	}
	return f, nil
}

// LoadFile materializes the blob at dest, hardlinking when the filesystem
// allows it and copying otherwise.
func (s *Store) LoadFile(ctx context.Context, sha256, dest string) error {
	s.mu.RLock()
	record, ok := s.content[sha256]
	s.mu.RUnlock()
	if !ok {
		return pkgerrors.NewUnknownFile(sha256)
	}

	if err := os.Link(record.meta.Location, dest); err == nil {
		return nil
	}
	return CopyFile(record.meta.Location, dest)
}

// DeleteContent removes the blob bytes and metadata.
func (s *Store) DeleteContent(ctx context.Context, sha256 string) (bool, error) {
	s.mu.Lock()
	record, ok := s.content[sha256]
	if ok {
		delete(s.content, sha256)
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	if err := os.Remove(record.meta.Location); err != nil && !os.IsNotExist(err) {
		return true, fmt.Errorf("failed to remove content %s: %w", sha256, err)
	}
	return true, nil
}

// ExpiredContent lists metadata for every blob past its expiration date with
// no referencing roots.
func (s *Store) ExpiredContent(ctx context.Context) ([]*analysis.ContentMetadata, error) {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	var expired []*analysis.ContentMetadata
	for _, sha := range sortedContentKeys(s.content) {
		record := s.content[sha]
		meta := record.meta
		meta.Roots = sortedKeys(record.roots)
		if meta.Expired(now) {
			expired = append(expired, &meta)
		}
	}
	return expired, nil
}

// DeleteExpiredContent removes every expired blob, returning the count.
func (s *Store) DeleteExpiredContent(ctx context.Context) (int, error) {
	expired, err := s.ExpiredContent(ctx)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, meta := range expired {
		removed, err := s.DeleteContent(ctx, meta.SHA256)
		if err != nil {
			return deleted, err
		}
		if removed {
			deleted++
		}
	}
	return deleted, nil
}

// TrackContentRoot attaches a root reference to the blob, keeping it alive
// while the root exists.
func (s *Store) TrackContentRoot(ctx context.Context, sha256, rootUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.content[sha256]
	if !ok {
		return pkgerrors.NewUnknownFile(sha256)
	}
	record.roots[rootUUID] = true
	return nil
}

// ClearRootReferences drops the root's references from every blob.
func (s *Store) ClearRootReferences(ctx context.Context, rootUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.content {
		delete(record.roots, rootUUID)
	}
	return nil
}

// CopyFile copies src to dest, used when a hardlink cannot cross the
// filesystem boundary.
func CopyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy to %s: %w", dest, err)
	}
	return out.Close()
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedContentKeys(content map[string]*contentRecord) []string {
	keys := make([]string, 0, len(content))
	for key := range content {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
