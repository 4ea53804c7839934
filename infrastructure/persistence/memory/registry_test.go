package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acecore/domain/analysis"
)

func TestRegistryRegisterGet(t *testing.T) {
	registry := NewModuleRegistry()
	ctx := context.Background()

	amt := analysis.NewModuleType("scanner")
	amt.ObservableTypes = []string{"ipv4"}
	require.NoError(t, registry.Register(ctx, amt))

	got, err := registry.Get(ctx, "scanner")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"ipv4"}, got.ObservableTypes)

	got, err = registry.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRegistryReturnsCopies(t *testing.T) {
	registry := NewModuleRegistry()
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, analysis.NewModuleType("scanner")))

	first, err := registry.Get(ctx, "scanner")
	require.NoError(t, err)
	first.Version = "9.9.9"

	second, err := registry.Get(ctx, "scanner")
	require.NoError(t, err)
	assert.Equal(t, analysis.DefaultVersion, second.Version)
}

func TestRegistryRegisterReplaces(t *testing.T) {
	registry := NewModuleRegistry()
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, analysis.NewModuleType("scanner")))
	updated := analysis.NewModuleType("scanner")
	updated.Version = "1.0.1"
	require.NoError(t, registry.Register(ctx, updated))

	got, err := registry.Get(ctx, "scanner")
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", got.Version)

	all, err := registry.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegistryDeleteReportsPresence(t *testing.T) {
	registry := NewModuleRegistry()
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, analysis.NewModuleType("scanner")))

	deleted, err := registry.Delete(ctx, "scanner")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = registry.Delete(ctx, "scanner")
	require.NoError(t, err)
	assert.False(t, deleted)
}
