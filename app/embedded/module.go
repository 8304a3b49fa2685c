// Package embedded wires one supervised engine instance into the fx
// application lifecycle: OnStart boots it, OnStop tears it down.
package embedded

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/embergraph/embergo"
	"github.com/embergraph/embergo/util/logging"
)

type Config struct {
	// Options configure the embedded instance.
	Options embergo.Options `conf:",squash"`

	// Persist controls whether the dataset is saved on shutdown.
	Persist bool `conf:"persist"`
}

func Module(config Config) fx.Option {
	return fx.Module(
		"embedded",
		// rename logger for module
		logging.DecorateLogger("embedded"),
		// provide module config
		fx.Supply(config),
		// provide the instance
		fx.Provide(New),
		// tie the instance to the app lifecycle
		fx.Invoke(register),
	)
}

type Params struct {
	fx.In

	Config Config
	Log    *zap.Logger
}

func New(params Params) *embergo.Instance {
	return embergo.New(params.Config.Options, params.Log)
}

func register(
	lc fx.Lifecycle,
	config Config,
	instance *embergo.Instance,
	log *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := instance.Start(ctx); err != nil {
				return err
			}

			log.Info("instance ready", zap.String("socket", instance.SocketPath()))

			return nil
		},
		OnStop: func(ctx context.Context) error {
			instance.Stop(ctx, config.Persist)
			return nil
		},
	})
}
