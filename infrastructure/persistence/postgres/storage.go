package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"acecore/domain/analysis"
	"acecore/infrastructure/storage/local"
	pkgerrors "acecore/pkg/errors"
)

// ContentStore persists content-addressed blobs with the bytes on the local
// filesystem and the metadata plus root references in the database. Bytes
// land in the same fanout layout the local store uses, so the two backends
// stay interchangeable on disk.
type ContentStore struct {
	db     *DB
	root   string
	logger *zap.Logger
}

// NewContentStore builds a store writing blobs under dir.
func NewContentStore(db *DB, dir string, logger *zap.Logger) (*ContentStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", dir, err)
	}
	return &ContentStore{db: db, root: dir, logger: logger}, nil
}

type contentRow struct {
	SHA256         string     `db:"sha256"`
	Name           string     `db:"name"`
	Size           int64      `db:"size"`
	Location       string     `db:"location"`
	InsertDate     time.Time  `db:"insert_date"`
	ExpirationDate *time.Time `db:"expiration_date"`
	Custom         []byte     `db:"custom"`
}

func (r contentRow) meta(roots []string) *analysis.ContentMetadata {
	return &analysis.ContentMetadata{
		Name:           r.Name,
		SHA256:         r.SHA256,
		Size:           r.Size,
		InsertDate:     r.InsertDate,
		Roots:          roots,
		Location:       r.Location,
		ExpirationDate: r.ExpirationDate,
		Custom:         r.Custom,
	}
}

func (s *ContentStore) StoreContent(ctx context.Context, r io.Reader, meta *analysis.ContentMetadata) (string, error) {
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
	path := local.ContentPath(s.root, sha)
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

	// re-storing existing content refreshes the metadata and keeps the
	// root references already attached to it
	err = s.db.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO storage (sha256, name, size, location, insert_date, expiration_date, custom)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (sha256) DO UPDATE SET
				name            = EXCLUDED.name,
				size            = EXCLUDED.size,
				location        = EXCLUDED.location,
				insert_date     = EXCLUDED.insert_date,
				expiration_date = EXCLUDED.expiration_date,
				custom          = EXCLUDED.custom`,
			sha, meta.Name, size, path, meta.InsertDate, meta.ExpirationDate, []byte(meta.Custom))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to record content %s: %w", sha, err)
	}

	s.logger.Debug("stored content",
		zap.String("sha256", sha),
		zap.String("name", meta.Name),
		zap.Int64("size", size),
	)
	return sha, nil
}

func (s *ContentStore) SaveFile(ctx context.Context, path string, meta *analysis.ContentMetadata) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	meta.Name = filepath.Base(path)
	return s.StoreContent(ctx, f, meta)
}

func (s *ContentStore) GetContentMeta(ctx context.Context, sha256 string) (*analysis.ContentMetadata, error) {
	var row contentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT sha256, name, size, location, insert_date, expiration_date, custom
		FROM storage WHERE sha256 = $1`, sha256)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content %s: %w", sha256, err)
	}

	roots, err := s.contentRoots(ctx, sha256)
	if err != nil {
		return nil, err
	}
	return row.meta(roots), nil
}

func (s *ContentStore) OpenContent(ctx context.Context, sha256 string) (io.ReadCloser, error) {
	location, err := s.location(ctx, sha256)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, fmt.Errorf("failed to open content %s: %w", sha256, err)
	}
	return f, nil
}

func (s *ContentStore) LoadFile(ctx context.Context, sha256, dest string) error {
	location, err := s.location(ctx, sha256)
	if err != nil {
		return err
	}

	if err := os.Link(location, dest); err == nil {
		return nil
	}
	return local.CopyFile(location, dest)
}

func (s *ContentStore) DeleteContent(ctx context.Context, sha256 string) (bool, error) {
	// root references cascade with the metadata row
	var location string
	err := s.db.retry(ctx, func() error {
		err := s.db.GetContext(ctx, &location,
			`DELETE FROM storage WHERE sha256 = $1 RETURNING location`, sha256)
		if errors.Is(err, sql.ErrNoRows) {
			location = ""
			return nil
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete content %s: %w", sha256, err)
	}
	if location == "" {
		return false, nil
	}

	if err := os.Remove(location); err != nil && !os.IsNotExist(err) {
		return true, fmt.Errorf("failed to remove content %s: %w", sha256, err)
	}
	return true, nil
}

func (s *ContentStore) ExpiredContent(ctx context.Context) ([]*analysis.ContentMetadata, error) {
	var rows []contentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT s.sha256, s.name, s.size, s.location, s.insert_date, s.expiration_date, s.custom
		FROM storage s
		WHERE s.expiration_date IS NOT NULL
		  AND s.expiration_date <= now()
		  AND NOT EXISTS (
			SELECT 1 FROM storage_root_tracking t WHERE t.sha256 = s.sha256
		  )
		ORDER BY s.sha256`)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired content: %w", err)
	}

	var expired []*analysis.ContentMetadata
	for _, row := range rows {
		expired = append(expired, row.meta(nil))
	}
	return expired, nil
}

func (s *ContentStore) DeleteExpiredContent(ctx context.Context) (int, error) {
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

func (s *ContentStore) TrackContentRoot(ctx context.Context, sha256, rootUUID string) error {
	err := s.db.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO storage_root_tracking (sha256, root_uuid)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, sha256, rootUUID)
		return err
	})
	if isForeignKeyViolation(err) {
		return pkgerrors.NewUnknownFile(sha256)
	}
	if err != nil {
		return fmt.Errorf("failed to track root %s on content %s: %w", rootUUID, sha256, err)
	}
	return nil
}

func (s *ContentStore) ClearRootReferences(ctx context.Context, rootUUID string) error {
	err := s.db.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM storage_root_tracking WHERE root_uuid = $1`, rootUUID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear root references for %s: %w", rootUUID, err)
	}
	return nil
}

func (s *ContentStore) contentRoots(ctx context.Context, sha256 string) ([]string, error) {
	var roots []string
	err := s.db.SelectContext(ctx, &roots, `
		SELECT root_uuid FROM storage_root_tracking
		WHERE sha256 = $1 ORDER BY root_uuid`, sha256)
	if err != nil {
		return nil, fmt.Errorf("failed to get roots for content %s: %w", sha256, err)
	}
	return roots, nil
}

func (s *ContentStore) location(ctx context.Context, sha256 string) (string, error) {
	var location string
	err := s.db.GetContext(ctx, &location,
		`SELECT location FROM storage WHERE sha256 = $1`, sha256)
	if errors.Is(err, sql.ErrNoRows) {
		return "", pkgerrors.NewUnknownFile(sha256)
	}
	if err != nil {
		return "", fmt.Errorf("failed to locate content %s: %w", sha256, err)
	}
	return location, nil
}
