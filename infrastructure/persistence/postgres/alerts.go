package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	pkgerrors "acecore/pkg/errors"
)

// AlertStore persists alert-system registrations and their pending alert
// queues. Drains run under FOR UPDATE SKIP LOCKED so concurrent consumers
// of the same system never receive the same alert.
type AlertStore struct {
	db           *DB
	pollInterval time.Duration
}

// NewAlertStore builds a store over the given pool.
func NewAlertStore(db *DB) *AlertStore {
	return &AlertStore{db: db, pollInterval: defaultPollInterval}
}

func (s *AlertStore) RegisterAlertSystem(ctx context.Context, name string) (bool, error) {
	var created bool
	err := s.db.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO alert_systems (name) VALUES ($1)
			ON CONFLICT (name) DO NOTHING`, name)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		created = rows > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to register alert system %s: %w", name, err)
	}
	return created, nil
}

func (s *AlertStore) UnregisterAlertSystem(ctx context.Context, name string) (bool, error) {
	// pending alerts cascade with the registration row
	var deleted bool
	err := s.db.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM alert_systems WHERE name = $1`, name)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		deleted = rows > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to unregister alert system %s: %w", name, err)
	}
	return deleted, nil
}

func (s *AlertStore) SubmitAlert(ctx context.Context, rootUUID string) (bool, error) {
	var delivered bool
	err := s.db.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO alerts (system_name, root_uuid)
			SELECT name, $1 FROM alert_systems`, rootUUID)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		delivered = rows > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to submit alert for root %s: %w", rootUUID, err)
	}
	return delivered, nil
}

func (s *AlertStore) GetAlerts(ctx context.Context, name string, timeout *time.Duration) ([]string, error) {
	exists, err := s.systemExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, pkgerrors.NewUnknownAlertSystem(name)
	}

	// without a timeout, drain whatever is pending
	if timeout == nil {
		return s.drain(ctx, name)
	}

	// with a timeout, block for a single alert
	deadline := time.Now().Add(*timeout)
	for {
		rootUUID, popped, err := s.pop(ctx, name)
		if err != nil {
			return nil, err
		}
		if popped {
			return []string{rootUUID}, nil
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

func (s *AlertStore) GetAlertCount(ctx context.Context, name string) (int, error) {
	exists, err := s.systemExists(ctx, name)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, pkgerrors.NewUnknownAlertSystem(name)
	}

	var count int
	err = s.db.GetContext(ctx, &count,
		`SELECT count(*) FROM alerts WHERE system_name = $1`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts for %s: %w", name, err)
	}
	return count, nil
}

func (s *AlertStore) systemExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM alert_systems WHERE name = $1)`, name)
	if err != nil {
		return false, fmt.Errorf("failed to check alert system %s: %w", name, err)
	}
	return exists, nil
}

func (s *AlertStore) drain(ctx context.Context, name string) ([]string, error) {
	var result []string
	err := s.db.retry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var rows []struct {
			Seq  int64  `db:"seq"`
			Root string `db:"root_uuid"`
		}
		if err := tx.SelectContext(ctx, &rows, `
			SELECT seq, root_uuid FROM alerts
			WHERE system_name = $1
			ORDER BY seq
			FOR UPDATE SKIP LOCKED`, name); err != nil {
			return err
		}
		if len(rows) == 0 {
			result = nil
			return tx.Commit()
		}

		seqs := make([]int64, len(rows))
		drained := make([]string, len(rows))
		for i, row := range rows {
			seqs[i] = row.Seq
			drained[i] = row.Root
		}

		query, args, err := sqlx.In(`DELETE FROM alerts WHERE seq IN (?)`, seqs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		result = drained
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to drain alerts for %s: %w", name, err)
	}
	return result, nil
}

// pop removes and returns the oldest alert, reporting whether one was there.
func (s *AlertStore) pop(ctx context.Context, name string) (string, bool, error) {
	var rootUUID string
	var popped bool
	err := s.db.retry(ctx, func() error {
		err := s.db.GetContext(ctx, &rootUUID, `
			DELETE FROM alerts
			WHERE seq = (
				SELECT seq FROM alerts
				WHERE system_name = $1
				ORDER BY seq
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING root_uuid`, name)
		if errors.Is(err, sql.ErrNoRows) {
			popped = false
			return nil
		}
		if err != nil {
			return err
		}
		popped = true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to pop alert for %s: %w", name, err)
	}
	return rootUUID, popped, nil
}
