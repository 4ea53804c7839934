package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acecore/domain/analysis"
	"acecore/domain/events"
	pkgerrors "acecore/pkg/errors"
)

func TestRegisterModuleTypeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	amt := analysis.NewModuleType("t")
	registered, err := env.core.RegisterModuleType(ctx, amt)
	require.NoError(t, err)
	assert.Equal(t, analysis.DefaultVersion, registered.Version)
	assert.Equal(t, 1, env.events.count(events.AMTNew))
	assert.Equal(t, 1, env.events.count(events.WorkQueueNew))

	stored, err := env.core.GetModuleType(ctx, "t")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "t", stored.Name)

	listed, err := env.core.ListModuleTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestRegisterModuleTypeAppliesVersionDefault(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	registered, err := env.core.RegisterModuleType(ctx, &analysis.ModuleType{Name: "t"})
	require.NoError(t, err)
	assert.Equal(t, analysis.DefaultVersion, registered.Version)
}

func TestRegisterModuleTypeIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.core.RegisterModuleType(ctx, analysis.NewModuleType("t"))
	require.NoError(t, err)
	env.events.reset()

	// an identical registration is a no-op
	_, err = env.core.RegisterModuleType(ctx, analysis.NewModuleType("t"))
	require.NoError(t, err)
	assert.Equal(t, 0, env.events.count(events.AMTNew))
	assert.Equal(t, 0, env.events.count(events.AMTModified))
	assert.Equal(t, 0, env.events.count(events.WorkQueueNew))
}

func TestRegisterModuleTypeReplacement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.core.RegisterModuleType(ctx, analysis.NewModuleType("t"))
	require.NoError(t, err)
	env.events.reset()

	upgraded := analysis.NewModuleType("t")
	upgraded.Version = "1.0.1"
	_, err = env.core.RegisterModuleType(ctx, upgraded)
	require.NoError(t, err)
	assert.Equal(t, 1, env.events.count(events.AMTModified))
	assert.Equal(t, 0, env.events.count(events.AMTNew))

	stored, err := env.core.GetModuleType(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", stored.Version)
}

func TestRegisterModuleTypeRejectsEmptyName(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.core.RegisterModuleType(context.Background(), &analysis.ModuleType{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnknownAMT))
}

func TestRegisterModuleTypeRejectsUnknownDependency(t *testing.T) {
	env := newTestEnv(t)

	amt := analysis.NewModuleType("t")
	amt.Dependencies = []string{"missing"}
	_, err := env.core.RegisterModuleType(context.Background(), amt)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAMTDep))
}

func TestRegisterModuleTypeRejectsDependencyCycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := analysis.NewModuleType("a")
	_, err := env.core.RegisterModuleType(ctx, a)
	require.NoError(t, err)

	b := analysis.NewModuleType("b")
	b.Dependencies = []string{"a"}
	_, err = env.core.RegisterModuleType(ctx, b)
	require.NoError(t, err)

	// re-registering a with a dependency on b closes the cycle a -> b -> a
	cyclic := analysis.NewModuleType("a")
	cyclic.Dependencies = []string{"b"}
	_, err = env.core.RegisterModuleType(ctx, cyclic)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAMTCircularDep))

	// direct self-dependency is the shortest cycle
	_, err = env.core.RegisterModuleType(ctx, analysis.NewModuleType("c"))
	require.NoError(t, err)
	selfish := analysis.NewModuleType("c")
	selfish.Dependencies = []string{"c"}
	_, err = env.core.RegisterModuleType(ctx, selfish)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAMTCircularDep))
}

func TestDeleteModuleTypeCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	amt := registerAMT(t, env, "t", 60)

	// build up queue, tracker and cache state for the module type
	root := analysis.NewRootAnalysis()
	root.NewObservable("test", "test")
	submitRoot(t, env, root)
	postResult(t, env, pollWork(t, env, amt, "worker-1"), nil)

	second := analysis.NewRootAnalysis()
	second.NewObservable("test", "other")
	submitRoot(t, env, second)
	require.Equal(t, 1, queueSize(t, env, "t"))

	size, err := env.core.CacheSize(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 1, size)
	env.events.reset()

	deleted, err := env.core.DeleteModuleType(ctx, "t")
	require.NoError(t, err)
	assert.True(t, deleted)

	stored, err := env.core.GetModuleType(ctx, "t")
	require.NoError(t, err)
	assert.Nil(t, stored)

	_, err = env.core.QueueSize(ctx, "t")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidWorkQueue))

	size, err = env.core.CacheSize(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	remaining, err := env.tracker.GetByRoot(ctx, second.UUID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	assert.Equal(t, 1, env.events.count(events.WorkQueueDeleted))
	assert.Equal(t, 1, env.events.count(events.AMTDeleted))
	// the deletion event closes the cascade
	names := env.events.names()
	assert.Equal(t, events.AMTDeleted, names[len(names)-1])
}

func TestDeleteModuleTypeUnknown(t *testing.T) {
	env := newTestEnv(t)

	deleted, err := env.core.DeleteModuleType(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, 0, env.events.count(events.AMTDeleted))
}
