//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"klinemirror/internal/config"
)

// buildAppWithWire builds App through AppBuilder.
func buildAppWithWire(ctx context.Context, cfg *config.Config) (*App, error) {
	wire.Build(
		provideAppBuilder,
		wire.Bind(new(appBuilderDeps), new(*AppBuilder)),
		provideAppFromBuilder,
	)
	return nil, nil
}
