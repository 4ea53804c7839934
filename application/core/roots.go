package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"acecore/domain/analysis"
	"acecore/domain/events"
	pkgerrors "acecore/pkg/errors"
)

// observableTypeFile marks observables whose value is the sha256 address of a
// stored blob. Saving a root pins those blobs against expiration.
const observableTypeFile = "file"

// GetRoot returns the tracked root, or nil. Details payloads are not loaded;
// fetch them by analysis UUID through GetDetails.
func (c *CoreSystem) GetRoot(ctx context.Context, uuid string) (*analysis.RootAnalysis, error) {
	return c.roots.GetRoot(ctx, uuid)
}

// RootExists reports whether the root is tracked.
func (c *CoreSystem) RootExists(ctx context.Context, uuid string) (bool, error) {
	return c.roots.RootExists(ctx, uuid)
}

// DeleteRoot removes the root, its details and its content references, firing
// ROOT_DELETED when something was actually deleted.
func (c *CoreSystem) DeleteRoot(ctx context.Context, uuid string) (bool, error) {
	deleted, err := c.roots.DeleteRoot(ctx, uuid)
	if err != nil {
		return false, fmt.Errorf("failed to delete root %s: %w", uuid, err)
	}
	if !deleted {
		return false, nil
	}
	if err := c.content.ClearRootReferences(ctx, uuid); err != nil {
		c.logger.Warn("failed to clear content references",
			zap.String("root", uuid),
			zap.Error(err),
		)
	}
	c.fireEvent(ctx, events.RootDeleted, uuid)
	return true, nil
}

// GetDetails returns the opaque details payload for an analysis, or nil.
func (c *CoreSystem) GetDetails(ctx context.Context, uuid string) (json.RawMessage, error) {
	return c.details.GetDetails(ctx, uuid)
}

// DeleteDetails removes one details payload, firing DETAILS_DELETED.
func (c *CoreSystem) DeleteDetails(ctx context.Context, uuid string) (bool, error) {
	deleted, err := c.details.DeleteDetails(ctx, uuid)
	if err != nil {
		return false, err
	}
	if deleted {
		c.fireEvent(ctx, events.DetailsDeleted, uuid)
	}
	return deleted, nil
}

// saveRoot persists the root, its details payloads and its blob references,
// firing ROOT_NEW or ROOT_MODIFIED. Returns false without error when the
// update lost an optimistic version race.
func (c *CoreSystem) saveRoot(ctx context.Context, root *analysis.RootAnalysis) (bool, error) {
	inserted, err := c.roots.TrackRoot(ctx, root)
	if err != nil {
		return false, fmt.Errorf("failed to track root %s: %w", root.UUID, err)
	}
	if !inserted {
		updated, err := c.roots.UpdateRoot(ctx, root)
		if err != nil {
			return false, fmt.Errorf("failed to update root %s: %w", root.UUID, err)
		}
		if !updated {
			return false, nil
		}
	}

	if err := c.saveDetails(ctx, root); err != nil {
		return false, err
	}
	c.trackFileObservables(ctx, root)

	if inserted {
		c.fireEvent(ctx, events.RootNew, root)
	} else {
		c.fireEvent(ctx, events.RootModified, root)
	}
	return true, nil
}

// updateRootWithRetry re-reads the root, applies the delta and saves, looping
// on optimistic version conflicts. After the attempts are exhausted the
// conflict surfaces as a ROOT_VERSION error.
func (c *CoreSystem) updateRootWithRetry(ctx context.Context, uuid string, apply func(*analysis.RootAnalysis) error) (*analysis.RootAnalysis, error) {
	for attempt := 0; attempt <= c.rootUpdateRetries; attempt++ {
		target, err := c.roots.GetRoot(ctx, uuid)
		if err != nil {
			return nil, fmt.Errorf("failed to read root %s: %w", uuid, err)
		}
		if target == nil {
			return nil, pkgerrors.NewUnknownRoot(uuid)
		}
		if err := apply(target); err != nil {
			return nil, err
		}
		saved, err := c.saveRoot(ctx, target)
		if err != nil {
			return nil, err
		}
		if saved {
			return target, nil
		}
		c.logger.Debug("root version conflict",
			zap.String("root", uuid),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, pkgerrors.NewRootVersion(uuid)
}

// saveDetails writes every details payload carried by the root into the
// sibling details store. The root record itself is persisted stripped.
func (c *CoreSystem) saveDetails(ctx context.Context, root *analysis.RootAnalysis) error {
	payloads := root.DetailsPayloads()
	ids := make([]string, 0, len(payloads))
	for id := range payloads {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		inserted, err := c.details.TrackDetails(ctx, root.UUID, id, payloads[id])
		if err != nil {
			return fmt.Errorf("failed to track details %s: %w", id, err)
		}
		if inserted {
			c.fireEvent(ctx, events.DetailsNew, id)
		} else {
			c.fireEvent(ctx, events.DetailsModified, id)
		}
	}
	return nil
}

// trackFileObservables pins every file observable's blob to the root so the
// content sweeper cannot collect it while the root exists.
func (c *CoreSystem) trackFileObservables(ctx context.Context, root *analysis.RootAnalysis) {
	for _, o := range root.AllObservables() {
		if o.Type != observableTypeFile {
			continue
		}
		if err := c.content.TrackContentRoot(ctx, o.Value, root.UUID); err != nil {
			c.logger.Debug("failed to track content root",
				zap.String("sha256", o.Value),
				zap.String("root", root.UUID),
				zap.Error(err),
			)
		}
	}
}
