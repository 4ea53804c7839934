package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"acecore/domain/analysis"
	"acecore/domain/events"
	pkgerrors "acecore/pkg/errors"
)

// RegisterModuleType registers or replaces a module type. Dependencies must
// already be registered and must not form a cycle. The first registration
// creates the module's work queue and fires AMT_NEW; replacing a registration
// that differs in any field fires AMT_MODIFIED; re-registering an identical
// payload fires nothing.
func (c *CoreSystem) RegisterModuleType(ctx context.Context, amt *analysis.ModuleType) (*analysis.ModuleType, error) {
	if amt.Name == "" {
		return nil, pkgerrors.NewUnknownAMT(amt.Name)
	}
	if amt.Version == "" {
		amt.Version = analysis.DefaultVersion
	}

	for _, dep := range amt.Dependencies {
		existing, err := c.registry.Get(ctx, dep)
		if err != nil {
			return nil, fmt.Errorf("failed to look up dependency %s: %w", dep, err)
		}
		if existing == nil {
			return nil, pkgerrors.NewInvalidAMTDep(amt.Name, dep)
		}
	}

	if err := c.checkCircularDependency(ctx, amt, amt, nil); err != nil {
		return nil, err
	}

	current, err := c.registry.Get(ctx, amt.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up module type %s: %w", amt.Name, err)
	}

	if current == nil {
		created, err := c.queues.AddQueue(ctx, amt.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create work queue for %s: %w", amt.Name, err)
		}
		if created {
			c.fireEvent(ctx, events.WorkQueueNew, amt.Name)
		}
	}

	if err := c.registry.Register(ctx, amt); err != nil {
		return nil, fmt.Errorf("failed to register module type %s: %w", amt.Name, err)
	}

	switch {
	case current == nil:
		c.logger.Info("registered analysis module type", zap.String("amt", amt.Name), zap.String("version", amt.Version))
		c.fireEvent(ctx, events.AMTNew, amt)
	case !moduleTypesEqual(current, amt):
		c.logger.Info("replaced analysis module type", zap.String("amt", amt.Name), zap.String("version", amt.Version))
		c.fireEvent(ctx, events.AMTModified, amt)
	}

	return amt, nil
}

// GetModuleType returns the registered module type by name, or nil.
func (c *CoreSystem) GetModuleType(ctx context.Context, name string) (*analysis.ModuleType, error) {
	return c.registry.Get(ctx, name)
}

// ListModuleTypes returns every registered module type.
func (c *CoreSystem) ListModuleTypes(ctx context.Context) ([]*analysis.ModuleType, error) {
	return c.registry.List(ctx)
}

// DeleteModuleType unregisters the module type, discarding its work queue,
// its outstanding requests and its cached results. AMT_DELETED fires last so
// subscribers observe a consistent state.
func (c *CoreSystem) DeleteModuleType(ctx context.Context, name string) (bool, error) {
	current, err := c.registry.Get(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to look up module type %s: %w", name, err)
	}
	if current == nil {
		return false, nil
	}

	c.logger.Info("deleting analysis module type", zap.String("amt", name))

	deleted, err := c.queues.DeleteQueue(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete work queue for %s: %w", name, err)
	}
	if deleted {
		c.fireEvent(ctx, events.WorkQueueDeleted, name)
	}

	if _, err := c.registry.Delete(ctx, name); err != nil {
		return false, fmt.Errorf("failed to delete module type %s: %w", name, err)
	}

	if err := c.tracker.ClearForModuleType(ctx, name); err != nil {
		return false, fmt.Errorf("failed to clear requests for %s: %w", name, err)
	}

	if err := c.cache.DeleteForModuleType(ctx, name); err != nil {
		return false, fmt.Errorf("failed to clear cached results for %s: %w", name, err)
	}

	c.fireEvent(ctx, events.AMTDeleted, current)
	return true, nil
}

// checkCircularDependency walks the dependency graph under target looking for
// a path back to source.
func (c *CoreSystem) checkCircularDependency(ctx context.Context, source, target *analysis.ModuleType, chain []string) error {
	if target == nil {
		return nil
	}
	chain = append(chain, target.Name)

	for _, dep := range target.Dependencies {
		if dep == source.Name {
			return pkgerrors.NewAMTCircularDep(strings.Join(append(chain, dep), " -> "))
		}
		next, err := c.registry.Get(ctx, dep)
		if err != nil {
			return fmt.Errorf("failed to look up dependency %s: %w", dep, err)
		}
		if err := c.checkCircularDependency(ctx, source, next, chain); err != nil {
			return err
		}
	}
	return nil
}

// moduleTypesEqual compares registrations over the canonical encoding, so any
// field difference counts as a modification.
func moduleTypesEqual(a, b *analysis.ModuleType) bool {
	rawA, errA := json.Marshal(a)
	rawB, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(rawA, rawB)
}
