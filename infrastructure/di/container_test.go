package di

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acecore/infrastructure/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		ListenAddress:     ":0",
		Environment:       "development",
		Backend:           config.BackendMemory,
		StorageRoot:       t.TempDir(),
		RootUpdateRetries: 3,
		SweepInterval:     time.Minute,
		MaxPollTimeout:    time.Second,
		LogLevel:          "info",
		EnableMetrics:     true,
		BootstrapAPIKey:   "bootstrap-secret",
	}
}

func TestInitializeContainerMemoryBackend(t *testing.T) {
	ctx := context.Background()

	container, cleanup, err := InitializeContainer(ctx, testConfig(t))
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, container.Core)
	require.NotNil(t, container.Router)
	require.NotNil(t, container.Metrics)

	require.NoError(t, container.Start(ctx))
	defer container.Stop()

	valid, err := container.Core.VerifyAPIKey(ctx, "bootstrap-secret", true)
	require.NoError(t, err)
	assert.True(t, valid, "bootstrap credential should verify as admin")
}

func TestInitializeContainerRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend = "sqlite"

	_, _, err := InitializeContainer(context.Background(), cfg)
	require.Error(t, err)
}

func TestProvideMetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnableMetrics = false
	assert.Nil(t, ProvideMetrics(cfg))
}

func TestProvideLoggerRejectsBadLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogLevel = "chatty"

	_, err := ProvideLogger(cfg)
	require.Error(t, err)
}
