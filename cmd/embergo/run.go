package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/embergraph/embergo/app"
	"github.com/embergraph/embergo/app/embedded"
	"github.com/embergraph/embergo/config"
	"github.com/embergraph/embergo/util/conf"
	"github.com/embergraph/embergo/util/logging"
)

var (
	runCmdDescription = `The run command resolves the engine binaries, renders a server
	configuration and starts a supervised engine process listening
	on a unix socket.

	The command blocks until interrupted; on shutdown the engine is
	stopped through the escalation ladder and all transient files
	are removed.`
	runCmd = &cli.Command{
		Name:        "run",
		Usage:       "Start an embedded engine instance and block.",
		Description: runCmdDescription,
		Action:      runAction,
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:     "socket-path",
				Aliases:  []string{"s"},
				Usage:    "The unix socket the engine listens on.",
				Category: "instance",
				EnvVars:  []string{"EMBERGO_SOCKET_PATH"},
			},
			&cli.PathFlag{
				Name:     "data-dir",
				Usage:    "The directory for persisted data.",
				Category: "instance",
				EnvVars:  []string{"EMBERGO_DATA_DIR"},
			},
			&cli.PathFlag{
				Name:     "server-path",
				Usage:    "The engine server executable to spawn.",
				Category: "resolve",
				EnvVars:  []string{"EMBERGO_SERVER_PATH"},
			},
			&cli.PathFlag{
				Name:     "module-path",
				Usage:    "The graph module the engine loads.",
				Category: "resolve",
				EnvVars:  []string{"EMBERGO_MODULE_PATH"},
			},
			&cli.StringFlag{
				Name:     "module-url",
				Usage:    "Download URL template for the graph module ({os} and {arch} are substituted).",
				Category: "resolve",
				EnvVars:  []string{"EMBERGO_MODULE_URL"},
			},
			&cli.DurationFlag{
				Name:     "startup-timeout",
				Usage:    "How long to wait for the engine to become ready.",
				Value:    10 * time.Second,
				Category: "instance",
				EnvVars:  []string{"EMBERGO_STARTUP_TIMEOUT"},
			},
			&cli.BoolFlag{
				Name:     "persist",
				Aliases:  []string{"p"},
				Usage:    "Persist the dataset when the instance is stopped.",
				Category: "instance",
				EnvVars:  []string{"EMBERGO_PERSIST"},
			},
			&cli.BoolFlag{
				Name:     "inherit-output",
				Usage:    "Forward engine output to this process.",
				Category: "instance",
				EnvVars:  []string{"EMBERGO_INHERIT_OUTPUT"},
			},
		},
	}
)

// runCmdConfMap routes the command's flags into the nested config
// keys they override.
var runCmdConfMap = map[string]string{
	"socket-path":     "instance.socket_path",
	"data-dir":        "instance.data_dir",
	"server-path":     "instance.resolve.server_path",
	"module-path":     "instance.resolve.module_path",
	"module-url":      "instance.resolve.module_url",
	"startup-timeout": "instance.startup_timeout",
	"inherit-output":  "instance.inherit_output",
}

func runAction(ctx *cli.Context) error {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return err
	}

	a, err := app.New(ctx)
	if err != nil {
		return err
	}

	// re-parse the config with the command's flags layered on top of
	// defaults, file and env
	cfg, err := conf.Parse[config.Config](conf.ParseOptions{
		Defaults:  config.DefaultConfig,
		EnvPrefix: "EMBERGO",
		Log:       log,
		Cli:       ctx,
		CliMap:    runCmdConfMap,
	})
	if err != nil {
		return err
	}

	embeddedConfig := embedded.Config{
		Options: cfg.Instance,
		Persist: ctx.Bool("persist"),
	}

	return a.Run(ctx.Context, embedded.Module(embeddedConfig))
}

func init() {
	rootApp.Commands = append(rootApp.Commands, runCmd)
}
