package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"acecore/domain/analysis"
	"acecore/domain/events"
)

type expansionOutcome int

const (
	expansionSkipped expansionOutcome = iota
	expansionCreated
	expansionMerged
)

// expandAndSettle runs expansion passes over the root until a pass produces
// no new work, then persists the accumulated bookkeeping. Returns whether the
// root is quiescent: the whole expansion created zero analysis requests.
func (c *CoreSystem) expandAndSettle(ctx context.Context, root *analysis.RootAnalysis) (bool, error) {
	totalCreated, totalMerged := 0, 0
	for {
		created, merged, err := c.expandPass(ctx, root)
		if err != nil {
			return false, err
		}
		totalCreated += created
		totalMerged += merged
		if created == 0 && merged == 0 {
			break
		}
	}

	if totalCreated > 0 || totalMerged > 0 {
		saved, err := c.saveRoot(ctx, root)
		if err != nil {
			return false, err
		}
		if !saved {
			fresh, err := c.updateRootWithRetry(ctx, root.UUID, mergeRootDelta(root))
			if err != nil {
				return false, err
			}
			*root = *fresh
		}
	}
	return totalCreated == 0, nil
}

// expandPass considers every observable against every registered module type
// once. Cached results merge in place; everything else becomes a tracked
// request, linked to an in-flight twin when one exists, queued otherwise.
func (c *CoreSystem) expandPass(ctx context.Context, root *analysis.RootAnalysis) (created, merged int, err error) {
	if root.AnalysisCancelled {
		return 0, 0, nil
	}

	amts, err := c.registry.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list module types: %w", err)
	}
	registered := func(name string) bool {
		for _, amt := range amts {
			if amt.Name == name {
				return true
			}
		}
		return false
	}

	// observable links may form cycles; consider each observable once per pass
	visited := map[string]bool{}
	for _, o := range root.AllObservables() {
		if visited[o.UUID] {
			continue
		}
		visited[o.UUID] = true

		for _, amt := range amts {
			outcome, err := c.expandObservable(ctx, root, o, amt, registered)
			if err != nil {
				return created, merged, err
			}
			switch outcome {
			case expansionCreated:
				created++
			case expansionMerged:
				merged++
			}
		}
	}
	return created, merged, nil
}

// expandObservable decides what one module type does with one observable.
func (c *CoreSystem) expandObservable(ctx context.Context, root *analysis.RootAnalysis, o *analysis.Observable, amt *analysis.ModuleType, registered func(string) bool) (expansionOutcome, error) {
	if !amt.Accepts(o, root, registered) {
		return expansionSkipped, nil
	}
	if root.AnalysisCompleted(o, amt) {
		return expansionSkipped, nil
	}
	if root.AnalysisTracked(o, amt) {
		return expansionSkipped, nil
	}

	// a prior execution may have already answered this fingerprint
	hit, err := c.CachedResult(ctx, o, amt)
	if err != nil {
		return expansionSkipped, err
	}
	if hit != nil {
		resultObs := hit.ResultObservable()
		if resultObs != nil && hit.Result != nil {
			root.MergeResult(o, resultObs, hit.Result)
			o.TrackAnalysisRequest(amt.Name, hit.ID)
			c.logger.Debug("merged cached analysis result",
				zap.String("root", root.UUID),
				zap.String("amt", amt.Name),
				zap.String("cache_key", hit.CacheKey),
			)
			return expansionMerged, nil
		}
		c.logger.Warn("cached result is missing its observable",
			zap.String("cache_key", hit.CacheKey),
			zap.String("amt", amt.Name),
		)
	}

	ar := analysis.NewObservableRequest(root, o, amt)

	// link to an in-flight request sharing the fingerprint so one execution
	// answers both
	if ar.CacheKey != "" {
		inflight, err := c.tracker.GetByCacheKey(ctx, ar.CacheKey)
		if err != nil {
			return expansionSkipped, fmt.Errorf("failed to look up in-flight request for %s: %w", ar.CacheKey, err)
		}
		if inflight != nil {
			if err := c.TrackRequest(ctx, ar); err != nil {
				return expansionSkipped, err
			}
			linked, err := c.tracker.Link(ctx, inflight.ID, ar.ID)
			if err != nil {
				return expansionSkipped, fmt.Errorf("failed to link request %s to %s: %w", ar.ID, inflight.ID, err)
			}
			if linked {
				o.TrackAnalysisRequest(amt.Name, ar.ID)
				c.logger.Debug("linked analysis request to in-flight twin",
					zap.String("request", ar.ID),
					zap.String("twin", inflight.ID),
				)
				return expansionCreated, nil
			}
			// the twin finished or got locked first; queue our own request
		}
	}

	o.TrackAnalysisRequest(amt.Name, ar.ID)
	c.fireEvent(ctx, events.ProcessingRequestObservable, ar)
	if err := c.SubmitRequest(ctx, ar); err != nil {
		return expansionSkipped, err
	}
	return expansionCreated, nil
}
