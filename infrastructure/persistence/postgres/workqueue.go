package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"acecore/domain/analysis"
	pkgerrors "acecore/pkg/errors"
)

const defaultPollInterval = 250 * time.Millisecond

// WorkQueueStore persists per-module FIFO work queues. Consumers pop with
// FOR UPDATE SKIP LOCKED so concurrent workers never receive the same
// record, and poll between attempts while their timeout allows.
type WorkQueueStore struct {
	db           *DB
	pollInterval time.Duration
}

// NewWorkQueueStore builds a store over the given pool.
func NewWorkQueueStore(db *DB) *WorkQueueStore {
	return &WorkQueueStore{db: db, pollInterval: defaultPollInterval}
}

func (s *WorkQueueStore) AddQueue(ctx context.Context, name string) (bool, error) {
	var created bool
	err := s.db.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO work_queues (name) VALUES ($1)
			ON CONFLICT (name) DO NOTHING`, name)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		created = rows > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to add work queue %s: %w", name, err)
	}
	return created, nil
}

func (s *WorkQueueStore) DeleteQueue(ctx context.Context, name string) (bool, error) {
	// queued records cascade with the registration row
	var deleted bool
	err := s.db.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM work_queues WHERE name = $1`, name)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		deleted = rows > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete work queue %s: %w", name, err)
	}
	return deleted, nil
}

func (s *WorkQueueStore) QueueExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM work_queues WHERE name = $1)`, name)
	if err != nil {
		return false, fmt.Errorf("failed to check work queue %s: %w", name, err)
	}
	return exists, nil
}

func (s *WorkQueueStore) Put(ctx context.Context, name string, request *analysis.AnalysisRequest) error {
	record, err := json.Marshal(request)
	if err != nil {
		return err
	}
	err = s.db.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO work_queue (amt_name, record) VALUES ($1, $2)`, name, record)
		return err
	})
	if isForeignKeyViolation(err) {
		return pkgerrors.NewInvalidWorkQueue(name)
	}
	if err != nil {
		return fmt.Errorf("failed to queue work for %s: %w", name, err)
	}
	return nil
}

func (s *WorkQueueStore) Get(ctx context.Context, name string, timeout time.Duration) (*analysis.AnalysisRequest, error) {
	exists, err := s.QueueExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, pkgerrors.NewInvalidWorkQueue(name)
	}

	deadline := time.Now().Add(timeout)
	for {
		record, err := s.pop(ctx, name)
		if err != nil {
			return nil, err
		}
		if record != nil {
			return decodeRequest(record)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := s.pollInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *WorkQueueStore) Size(ctx context.Context, name string) (int, error) {
	exists, err := s.QueueExists(ctx, name)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, pkgerrors.NewInvalidWorkQueue(name)
	}

	var count int
	err = s.db.GetContext(ctx, &count,
		`SELECT count(*) FROM work_queue WHERE amt_name = $1`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to count work queue %s: %w", name, err)
	}
	return count, nil
}

// pop removes and returns the oldest record, nil when the queue is empty.
func (s *WorkQueueStore) pop(ctx context.Context, name string) ([]byte, error) {
	var record []byte
	err := s.db.retry(ctx, func() error {
		err := s.db.GetContext(ctx, &record, `
			DELETE FROM work_queue
			WHERE seq = (
				SELECT seq FROM work_queue
				WHERE amt_name = $1
				ORDER BY seq
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING record`, name)
		if errors.Is(err, sql.ErrNoRows) {
			record = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pop work queue %s: %w", name, err)
	}
	return record, nil
}
