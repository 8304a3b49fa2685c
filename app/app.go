package app

import (
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/embergraph/embergo"
	"github.com/embergraph/embergo/config"
	"github.com/embergraph/embergo/internal/shell"
	"github.com/embergraph/embergo/util/conf"
	"github.com/embergraph/embergo/util/logging"
)

func New(ctx *cli.Context) (*shell.Shell, error) {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return nil, err
	}

	config, err := conf.GetConfigFromContext[config.Config](ctx.Context)
	if err != nil {
		return nil, err
	}

	// route crash-safety registry logs through the app logger
	embergo.SetRegistryLogger(log)

	sharedModule := fx.Module(
		"shared",
		// provide global config
		fx.Supply(config),
	)

	return shell.New(log, sharedModule), nil
}
