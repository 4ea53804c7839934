package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"acecore/domain/analysis"
	"acecore/domain/events"
	pkgerrors "acecore/pkg/errors"
)

// TrackRequest upserts the request record, firing AR_NEW. A request for an
// unregistered module type is refused.
func (c *CoreSystem) TrackRequest(ctx context.Context, ar *analysis.AnalysisRequest) error {
	if ar.Type != nil {
		amt, err := c.registry.Get(ctx, ar.Type.Name)
		if err != nil {
			return fmt.Errorf("failed to look up module type %s: %w", ar.Type.Name, err)
		}
		if amt == nil {
			return pkgerrors.NewUnknownAMT(ar.Type.Name)
		}
	}
	if err := c.tracker.Track(ctx, ar); err != nil {
		return fmt.Errorf("failed to track request %s: %w", ar.ID, err)
	}
	c.fireEvent(ctx, events.ARNew, ar)
	return nil
}

// GetRequest returns the tracked request by id, or nil.
func (c *CoreSystem) GetRequest(ctx context.Context, id string) (*analysis.AnalysisRequest, error) {
	return c.tracker.Get(ctx, id)
}

// DeleteRequest removes the request and its links, firing AR_DELETED.
func (c *CoreSystem) DeleteRequest(ctx context.Context, id string) (bool, error) {
	deleted, err := c.tracker.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete request %s: %w", id, err)
	}
	if deleted {
		c.fireEvent(ctx, events.ARDeleted, id)
	}
	return deleted, nil
}

// SubmitRequest tracks the request and routes it: root requests and results
// are processed inline, observable requests land on their module type's work
// queue.
func (c *CoreSystem) SubmitRequest(ctx context.Context, ar *analysis.AnalysisRequest) error {
	ar.Owner = ""
	ar.Status = analysis.StatusQueued
	if _, err := c.tracker.Unlock(ctx, ar.ID); err != nil {
		return fmt.Errorf("failed to unlock request %s: %w", ar.ID, err)
	}
	if err := c.TrackRequest(ctx, ar); err != nil {
		return err
	}

	if ar.IsRootRequest() || ar.IsResult() {
		return c.ProcessAnalysisRequest(ctx, ar)
	}
	return c.putWork(ctx, ar.Type.Name, ar)
}

// putWork appends the request to the module type's queue, firing WORK_ADD.
func (c *CoreSystem) putWork(ctx context.Context, amtName string, ar *analysis.AnalysisRequest) error {
	if err := c.queues.Put(ctx, amtName, ar); err != nil {
		return fmt.Errorf("failed to queue request %s for %s: %w", ar.ID, amtName, err)
	}
	c.fireEvent(ctx, events.WorkAdd, ar)
	return nil
}

// QueueSize returns the work queue depth for the module type.
func (c *CoreSystem) QueueSize(ctx context.Context, amtName string) (int, error) {
	return c.queues.Size(ctx, amtName)
}

// GetNextWork hands the next queued request for the module type to a worker.
// The worker's version must match the registered version exactly and its
// extended version must be a subset of the registered one; a mismatch raises
// an AMT_VERSION error without consuming work. Blocks up to timeout, zero
// polls. Returns nil when no work arrived in time.
func (c *CoreSystem) GetNextWork(ctx context.Context, ownerUUID, amtName string, timeout time.Duration, version string, extendedVersion []string) (*analysis.AnalysisRequest, error) {
	registered, err := c.registry.Get(ctx, amtName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up module type %s: %w", amtName, err)
	}
	if registered == nil {
		return nil, pkgerrors.NewUnknownAMT(amtName)
	}
	if !registered.VersionMatches(version) {
		return nil, pkgerrors.NewAMTVersion(amtName, version, registered.Version)
	}
	if !registered.ExtendedVersionMatches(extendedVersion) {
		return nil, pkgerrors.NewAMTExtendedVersion(amtName)
	}

	// revive anything a crashed or stalled worker left behind
	if err := c.ProcessExpiredForModule(ctx, registered); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}

		next, err := c.queues.Get(ctx, amtName, remaining)
		if err != nil {
			return nil, fmt.Errorf("failed to poll work queue %s: %w", amtName, err)
		}
		if next == nil {
			return nil, nil
		}

		// re-read the tracked copy; the request may have been deleted while
		// it sat in the queue
		fresh, err := c.tracker.Get(ctx, next.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read request %s: %w", next.ID, err)
		}
		if fresh == nil {
			c.logger.Warn("dequeued unknown analysis request",
				zap.String("request", next.ID),
				zap.String("amt", amtName),
			)
			continue
		}

		// claim it; losing the claim means another consumer got here first
		locked, err := c.tracker.Lock(ctx, fresh.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to lock request %s: %w", fresh.ID, err)
		}
		if !locked {
			c.logger.Debug("skipping locked analysis request",
				zap.String("request", fresh.ID),
				zap.String("amt", amtName),
			)
			continue
		}

		fresh.Owner = ownerUUID
		fresh.Status = analysis.StatusAnalyzing
		if err := c.tracker.Track(ctx, fresh); err != nil {
			return nil, fmt.Errorf("failed to assign request %s: %w", fresh.ID, err)
		}
		if _, err := c.tracker.Unlock(ctx, fresh.ID); err != nil {
			return nil, fmt.Errorf("failed to unlock request %s: %w", fresh.ID, err)
		}

		c.logger.Debug("assigned analysis request",
			zap.String("request", fresh.ID),
			zap.String("amt", amtName),
			zap.String("owner", ownerUUID),
		)
		c.fireEvent(ctx, events.WorkRemove, fresh)
		c.fireEvent(ctx, events.WorkAssigned, fresh)
		return fresh, nil
	}
}

// ProcessExpiredForModule re-queues every expired request of the module type,
// firing AR_EXPIRED per request. Requests whose module type has since been
// unregistered are deleted instead.
func (c *CoreSystem) ProcessExpiredForModule(ctx context.Context, amt *analysis.ModuleType) error {
	expired, err := c.tracker.GetExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to list expired requests: %w", err)
	}
	for _, ar := range expired {
		if ar.Type == nil || ar.Type.Name != amt.Name {
			continue
		}
		if err := c.processExpiredRequest(ctx, ar); err != nil {
			return err
		}
	}
	return nil
}

// sweepExpiredRequests is the background pass over every module type.
func (c *CoreSystem) sweepExpiredRequests(ctx context.Context) error {
	expired, err := c.tracker.GetExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to list expired requests: %w", err)
	}
	for _, ar := range expired {
		if err := c.processExpiredRequest(ctx, ar); err != nil {
			return err
		}
	}
	return nil
}

// processExpiredRequest revives one expired request. The claim lock arbitrates
// with any processor still merging the request's result: a fresh lock wins, a
// stale one is broken.
func (c *CoreSystem) processExpiredRequest(ctx context.Context, ar *analysis.AnalysisRequest) error {
	var registered *analysis.ModuleType
	if ar.Type != nil {
		var err error
		registered, err = c.registry.Get(ctx, ar.Type.Name)
		if err != nil {
			return fmt.Errorf("failed to look up module type %s: %w", ar.Type.Name, err)
		}
	}
	if registered == nil {
		_, err := c.DeleteRequest(ctx, ar.ID)
		return err
	}

	locked, err := c.tracker.Lock(ctx, ar.ID)
	if err != nil {
		return fmt.Errorf("failed to lock request %s: %w", ar.ID, err)
	}
	if !locked {
		return nil
	}

	c.logger.Info("re-queueing expired analysis request",
		zap.String("request", ar.ID),
		zap.String("amt", registered.Name),
	)
	c.fireEvent(ctx, events.ARExpired, ar)
	return c.SubmitRequest(ctx, ar)
}
