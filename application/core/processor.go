package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"acecore/domain/analysis"
	"acecore/domain/events"
	pkgerrors "acecore/pkg/errors"
)

// ProcessAnalysisRequest is the orchestration heart: root requests merge into
// tracked state and fan out work, results merge back and hydrate every root
// waiting on the same fingerprint.
func (c *CoreSystem) ProcessAnalysisRequest(ctx context.Context, ar *analysis.AnalysisRequest) error {
	c.logger.Info("processing analysis request", zap.Stringer("request", ar))
	if ar.IsResult() {
		return c.processResult(ctx, ar)
	}
	return c.processRoot(ctx, ar)
}

// processRoot handles a fresh or updated root submitted by a client.
func (c *CoreSystem) processRoot(ctx context.Context, ar *analysis.AnalysisRequest) error {
	c.fireEvent(ctx, events.ProcessingRequestRoot, ar)

	existing, err := c.roots.GetRoot(ctx, ar.Root.UUID)
	if err != nil {
		return fmt.Errorf("failed to read root %s: %w", ar.Root.UUID, err)
	}

	target := ar.Root
	if existing == nil {
		saved, err := c.saveRoot(ctx, target)
		if err != nil {
			return err
		}
		if !saved {
			// lost the insert race; merge into the winner instead
			target, err = c.updateRootWithRetry(ctx, ar.Root.UUID, mergeRootDelta(ar.Root))
			if err != nil {
				return err
			}
		}
	} else {
		target, err = c.updateRootWithRetry(ctx, ar.Root.UUID, mergeRootDelta(ar.Root))
		if err != nil {
			return err
		}
	}

	quiescent, err := c.expandAndSettle(ctx, target)
	if err != nil {
		return err
	}
	if _, err := c.DeleteRequest(ctx, ar.ID); err != nil {
		return err
	}
	return c.finishRoot(ctx, target, quiescent)
}

// processResult handles a completed observable analysis reported by a worker.
func (c *CoreSystem) processResult(ctx context.Context, ar *analysis.AnalysisRequest) error {
	c.fireEvent(ctx, events.ProcessingRequestResult, ar)

	// the request must still be tracked and still belong to this worker;
	// an expired request may have been re-assigned in the meantime
	existing, err := c.tracker.Get(ctx, ar.ID)
	if err != nil {
		return fmt.Errorf("failed to read request %s: %w", ar.ID, err)
	}
	if existing == nil {
		return pkgerrors.NewUnknownRequest(ar.ID)
	}
	if existing.Owner != ar.Owner {
		return pkgerrors.NewRequestExpired(ar.ID)
	}

	locked, err := c.tracker.Lock(ctx, ar.ID)
	if err != nil {
		return fmt.Errorf("failed to lock request %s: %w", ar.ID, err)
	}
	if !locked {
		// another processor is already merging this result; the expiration
		// sweeper re-queues the request if that merge never finishes
		c.logger.Warn("dropping result for locked analysis request", zap.String("request", ar.ID))
		return nil
	}

	ar.Status = analysis.StatusCompleted
	if err := c.tracker.Track(ctx, ar); err != nil {
		return fmt.Errorf("failed to mark request %s completed: %w", ar.ID, err)
	}

	if ar.Observable == nil {
		return pkgerrors.NewUnknownObservable("")
	}
	resultObs := ar.ResultObservable()
	if resultObs == nil {
		return pkgerrors.NewUnknownObservable(ar.Observable.UUID)
	}

	target, err := c.updateRootWithRetry(ctx, ar.Root.UUID, mergeResultDelta(ar.Observable, resultObs, ar.Result))
	if err != nil {
		if _, unlockErr := c.tracker.Unlock(ctx, ar.ID); unlockErr != nil {
			c.logger.Warn("failed to unlock abandoned request",
				zap.String("request", ar.ID),
				zap.Error(unlockErr),
			)
		}
		return err
	}

	// the merge is durable; cache the result for future fingerprint matches
	if _, err := c.CacheResult(ctx, ar); err != nil {
		c.logger.Warn("failed to cache analysis result",
			zap.String("request", ar.ID),
			zap.Error(err),
		)
	}

	// one module execution hydrates every root waiting on this fingerprint
	linked, err := c.tracker.LinkedRequests(ctx, ar.ID)
	if err != nil {
		return fmt.Errorf("failed to list linked requests for %s: %w", ar.ID, err)
	}
	var linkedRoots []*analysis.RootAnalysis
	for _, link := range linked {
		if link.Root == nil || link.Observable == nil {
			continue
		}
		fresh, err := c.updateRootWithRetry(ctx, link.Root.UUID, mergeResultDelta(link.Observable, resultObs, ar.Result))
		if err != nil {
			// the linked root may have been deleted while it waited
			c.logger.Warn("failed to merge result into linked root",
				zap.String("request", link.ID),
				zap.String("root", link.Root.UUID),
				zap.Error(err),
			)
			continue
		}
		linkedRoots = append(linkedRoots, fresh)
	}

	// the completed request and its shadows are done
	for _, link := range linked {
		if _, err := c.DeleteRequest(ctx, link.ID); err != nil {
			return err
		}
	}
	if _, err := c.DeleteRequest(ctx, ar.ID); err != nil {
		return err
	}

	quiescent, err := c.expandAndSettle(ctx, target)
	if err != nil {
		return err
	}
	if err := c.finishRoot(ctx, target, quiescent); err != nil {
		return err
	}

	for _, root := range linkedRoots {
		q, err := c.expandAndSettle(ctx, root)
		if err != nil {
			return err
		}
		if err := c.finishRoot(ctx, root, q); err != nil {
			return err
		}
	}
	return nil
}

// finishRoot runs the end-of-processing checks: a quiescent root that has no
// analysis left in flight is announced as completed, a quiescent root carrying
// detections becomes an alert, an expiring root with no outstanding work is
// removed.
func (c *CoreSystem) finishRoot(ctx context.Context, root *analysis.RootAnalysis, quiescent bool) error {
	if quiescent && !root.AnalysisCancelled {
		if root.AllAnalysisCompleted() {
			c.fireEvent(ctx, events.RootCompleted, root.UUID)
		}
		if root.HasDetections() {
			if _, err := c.SubmitAlert(ctx, root.UUID); err != nil {
				return fmt.Errorf("failed to submit alert for root %s: %w", root.UUID, err)
			}
		}
	}

	// roots that became alerts are kept
	if !root.Expires || root.HasDetections() {
		return nil
	}
	outstanding, err := c.tracker.GetByRoot(ctx, root.UUID)
	if err != nil {
		return fmt.Errorf("failed to list requests for root %s: %w", root.UUID, err)
	}
	if len(outstanding) > 0 {
		return nil
	}

	c.logger.Info("expiring root analysis", zap.String("root", root.UUID))
	c.fireEvent(ctx, events.RootExpired, root.UUID)
	_, err = c.DeleteRoot(ctx, root.UUID)
	return err
}

// mergeRootDelta merges a submitted root into the tracked copy.
func mergeRootDelta(src *analysis.RootAnalysis) func(*analysis.RootAnalysis) error {
	return func(target *analysis.RootAnalysis) error {
		if target.ApplyMerge(src) == nil {
			return fmt.Errorf("cannot merge unrelated root %s into %s", src.UUID, target.UUID)
		}
		return nil
	}
}

// mergeResultDelta merges a worker's result observable into the target root's
// own instance of the requested observable.
func mergeResultDelta(requested, resultObs *analysis.Observable, result *analysis.RootAnalysis) func(*analysis.RootAnalysis) error {
	return func(target *analysis.RootAnalysis) error {
		dst := target.GetObservable(requested.UUID)
		if dst == nil {
			dst = target.FindObservable(requested.Type, requested.Value, requested.Time)
		}
		if dst == nil {
			return pkgerrors.NewUnknownObservable(requested.UUID)
		}
		target.MergeResult(dst, resultObs, result)
		return nil
	}
}
