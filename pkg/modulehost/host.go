// Package modulehost runs analysis modules against a core's work queues.
// The same host works in-process against a CoreSystem or remotely through
// the HTTP client; both satisfy Service.
package modulehost

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"acecore/domain/analysis"
	pkgerrors "acecore/pkg/errors"
)

const (
	// DefaultPollTimeout is how long one work poll blocks.
	DefaultPollTimeout = 30 * time.Second
	// DefaultMaxConcurrent caps simultaneous module executions.
	DefaultMaxConcurrent = 4
	// DefaultRetryDelay is the pause after a failed poll.
	DefaultRetryDelay = 5 * time.Second
)

// Service is the slice of the core a module host needs. *core.CoreSystem and
// *client.Client both satisfy it.
type Service interface {
	RegisterModuleType(ctx context.Context, amt *analysis.ModuleType) (*analysis.ModuleType, error)
	GetNextWork(ctx context.Context, ownerUUID, amtName string, timeout time.Duration, version string, extendedVersion []string) (*analysis.AnalysisRequest, error)
	ProcessAnalysisRequest(ctx context.Context, ar *analysis.AnalysisRequest) error
}

// AnalysisModule is one unit of analysis logic. Execute receives a request
// whose Result snapshot is already initialized; the module attaches its
// analysis to the target observable inside ar.Result.
type AnalysisModule interface {
	Type() *analysis.ModuleType
	Execute(ctx context.Context, ar *analysis.AnalysisRequest) error
}

// Config tunes a Host. Zero values select the defaults.
type Config struct {
	// Owner identifies this host in request ownership stamps. Defaults to
	// a random UUID per Run.
	Owner string

	// PollTimeout is how long each work poll blocks.
	PollTimeout time.Duration

	// MaxConcurrent caps simultaneous module executions across all modules.
	MaxConcurrent int64

	// RetryDelay is the pause before re-polling after an error.
	RetryDelay time.Duration
}

// Host polls work queues and dispatches requests to its modules. One poll
// loop runs per module; executions share a semaphore.
type Host struct {
	service Service
	modules []AnalysisModule
	cfg     Config
	sem     *semaphore.Weighted
	logger  *zap.Logger
}

// New creates a Host for the given service.
func New(service Service, cfg Config, logger *zap.Logger) *Host {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		service: service,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:  logger,
	}
}

// AddModule registers a module with the host. Must be called before Run.
func (h *Host) AddModule(m AnalysisModule) error {
	amt := m.Type()
	if amt == nil || amt.Name == "" {
		return fmt.Errorf("modulehost: module type is required")
	}
	for _, existing := range h.modules {
		if existing.Type().Name == amt.Name {
			return fmt.Errorf("modulehost: module %q already added", amt.Name)
		}
	}
	h.modules = append(h.modules, m)
	return nil
}

// Run registers every module type with the core, then polls until the
// context is cancelled or every module was superseded by a newer version.
// In-flight executions are drained before Run returns.
func (h *Host) Run(ctx context.Context) error {
	if len(h.modules) == 0 {
		return fmt.Errorf("modulehost: no modules added")
	}

	owner := h.cfg.Owner
	if owner == "" {
		owner = uuid.New().String()
	}

	// the registered copy carries the defaults the registry fills in, so
	// polling and timeouts follow the canonical type
	registered := make([]*analysis.ModuleType, len(h.modules))
	for i, m := range h.modules {
		amt, err := h.service.RegisterModuleType(ctx, m.Type())
		if err != nil {
			return fmt.Errorf("modulehost: failed to register %s: %w", m.Type().Name, err)
		}
		registered[i] = amt
	}

	g, runCtx := errgroup.WithContext(ctx)
	for i, m := range h.modules {
		m, amt := m, registered[i]
		g.Go(func() error {
			return h.pollLoop(runCtx, owner, m, amt)
		})
	}
	err := g.Wait()

	// wait for in-flight executions to finish submitting
	if acquireErr := h.sem.Acquire(context.Background(), h.cfg.MaxConcurrent); acquireErr == nil {
		h.sem.Release(h.cfg.MaxConcurrent)
	}
	return err
}

func (h *Host) pollLoop(ctx context.Context, owner string, m AnalysisModule, amt *analysis.ModuleType) error {
	logger := h.logger.With(zap.String("amt", amt.Name))
	logger.Info("module polling", zap.String("version", amt.Version))

	for {
		if ctx.Err() != nil {
			return nil
		}

		ar, err := h.service.GetNextWork(ctx, owner, amt.Name, h.cfg.PollTimeout, amt.Version, amt.ExtendedVersion)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// a version mismatch means this module was superseded; stop
			// polling so the replacement takes over
			if pkgerrors.IsCode(err, pkgerrors.CodeAMTVersion) || pkgerrors.IsCode(err, pkgerrors.CodeAMTExtendedVersion) {
				logger.Warn("module version superseded, stopping", zap.Error(err))
				return nil
			}
			logger.Error("work poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(h.cfg.RetryDelay):
			}
			continue
		}
		if ar == nil {
			continue
		}

		if err := h.sem.Acquire(ctx, 1); err != nil {
			// shutting down; the claimed request re-queues after expiration
			logger.Warn("dropping claimed request on shutdown", zap.String("request", ar.ID))
			return nil
		}
		go func() {
			defer h.sem.Release(1)
			h.execute(ctx, m, amt, ar)
		}()
	}
}

// execute runs one module against one request and reports the result back.
func (h *Host) execute(ctx context.Context, m AnalysisModule, amt *analysis.ModuleType, ar *analysis.AnalysisRequest) {
	logger := h.logger.With(
		zap.String("amt", amt.Name),
		zap.String("request", ar.ID),
	)

	result := ar.InitializeResult()
	target := ar.ResultObservable()
	if target == nil {
		logger.Error("request has no target observable in its result")
		return
	}

	execCtx := ctx
	if amt.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(amt.Timeout)*time.Second)
		defer cancel()
	}

	if err := h.runModule(execCtx, m, ar); err != nil {
		logger.Error("module execution failed", zap.Error(err))
		// record the failure so the request completes instead of expiring
		// and re-queueing forever
		if target.GetAnalysis(amt.Name) == nil {
			a := analysis.NewAnalysis(ar.Type)
			a.Summary = "error: " + err.Error()
			if detailsErr := a.SetDetails(map[string]string{"error": err.Error()}); detailsErr != nil {
				logger.Error("failed to encode error details", zap.Error(detailsErr))
			}
			result.AddAnalysis(target, a)
		}
	}

	// submissions still complete during shutdown, so finished work is not
	// thrown away
	submitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := h.service.ProcessAnalysisRequest(submitCtx, ar); err != nil {
		logger.Error("failed to submit analysis result", zap.Error(err))
		return
	}
	logger.Debug("submitted analysis result")
}

// runModule isolates module panics so a bad module cannot take down the
// whole host.
func (h *Host) runModule(ctx context.Context, m AnalysisModule, ar *analysis.AnalysisRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("module panicked: %v", r)
		}
	}()
	return m.Execute(ctx, ar)
}
