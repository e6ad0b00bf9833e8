package accessguard

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("accessguard",
	fx.Provide(New),
	fx.Invoke(loadState),
)

func loadState(lc fx.Lifecycle, g *Guard) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return g.LoadState(ctx)
		},
	})
}
