//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"context"

	"github.com/google/wire"

	"github.com/Mosberg/entomology/internal/app"
)

func InitializeApp(ctx context.Context, settings app.Settings) (*app.App, func(), error) {
	wire.Build(app.ProviderSet)
	return nil, nil, nil
}
