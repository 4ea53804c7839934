//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"acecore/infrastructure/config"
)

// InitializeContainer builds the fully wired container for the configured
// backend. The returned cleanup closes the backend clients.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil
}
