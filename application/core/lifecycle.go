package core

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Start launches the background sweepers: expired analysis requests are
// re-queued, expired cache entries dropped and unreferenced expired content
// deleted, once per sweep interval. Start is not safe to call twice without
// an intervening Stop.
func (c *CoreSystem) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	c.logger.Info("starting core sweepers", zap.Duration("interval", c.sweepInterval))
	go c.sweepLoop(ctx)
}

// Stop halts the background sweepers and waits for the in-flight sweep to
// finish.
func (c *CoreSystem) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.logger.Info("core sweepers stopped")
}

func (c *CoreSystem) sweepLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

// sweep runs one pass of every maintenance task. Failures are logged and the
// remaining tasks still run; the next tick retries.
func (c *CoreSystem) sweep(ctx context.Context) {
	if err := c.sweepExpiredRequests(ctx); err != nil {
		c.logger.Error("expired request sweep failed", zap.Error(err))
	}
	if deleted, err := c.cache.DeleteExpired(ctx); err != nil {
		c.logger.Error("cache sweep failed", zap.Error(err))
	} else if deleted > 0 {
		c.logger.Debug("swept expired cache entries", zap.Int("deleted", deleted))
	}
	if err := c.sweepExpiredContent(ctx); err != nil {
		c.logger.Error("content sweep failed", zap.Error(err))
	}
}
