package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"acecore/domain/events"
)

// RegisterAlertSystem creates the named alert system's queue, firing
// ALERT_SYSTEM_REGISTERED the first time.
func (c *CoreSystem) RegisterAlertSystem(ctx context.Context, name string) (bool, error) {
	created, err := c.alerts.RegisterAlertSystem(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to register alert system %s: %w", name, err)
	}
	if created {
		c.logger.Info("registered alert system", zap.String("name", name))
		c.fireEvent(ctx, events.AlertSystemRegistered, name)
	}
	return created, nil
}

// UnregisterAlertSystem removes the named alert system and its queued alerts,
// firing ALERT_SYSTEM_UNREGISTERED when it existed.
func (c *CoreSystem) UnregisterAlertSystem(ctx context.Context, name string) (bool, error) {
	removed, err := c.alerts.UnregisterAlertSystem(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to unregister alert system %s: %w", name, err)
	}
	if removed {
		c.logger.Info("unregistered alert system", zap.String("name", name))
		c.fireEvent(ctx, events.AlertSystemUnregistered, name)
	}
	return removed, nil
}

// SubmitAlert pushes the root onto every registered alert system's queue.
// ALERT fires only when at least one system was there to receive it.
func (c *CoreSystem) SubmitAlert(ctx context.Context, rootUUID string) (bool, error) {
	delivered, err := c.alerts.SubmitAlert(ctx, rootUUID)
	if err != nil {
		return false, fmt.Errorf("failed to submit alert for root %s: %w", rootUUID, err)
	}
	if delivered {
		c.logger.Info("submitted alert", zap.String("root", rootUUID))
		c.fireEvent(ctx, events.Alert, rootUUID)
	}
	return delivered, nil
}

// GetAlerts returns queued alert root UUIDs for the system. Without a timeout
// the queue is drained; with one, the call blocks up to that long for a
// single alert.
func (c *CoreSystem) GetAlerts(ctx context.Context, name string, timeout *time.Duration) ([]string, error) {
	return c.alerts.GetAlerts(ctx, name, timeout)
}

// GetAlertCount returns the system's outstanding alert count.
func (c *CoreSystem) GetAlertCount(ctx context.Context, name string) (int, error) {
	return c.alerts.GetAlertCount(ctx, name)
}
