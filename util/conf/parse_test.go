package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

type testResolveConfig struct {
	ServerPath string `conf:"server_path"`
}

type testInstanceConfig struct {
	SocketPath     string            `conf:"socket_path"`
	StartupTimeout time.Duration     `conf:"startup_timeout"`
	Resolve        testResolveConfig `conf:"resolve"`
}

type testConfig struct {
	LogLevel string             `conf:"log_level"`
	Instance testInstanceConfig `conf:"instance"`
}

var testCliMap = map[string]string{
	"socket-path":     "instance.socket_path",
	"server-path":     "instance.resolve.server_path",
	"startup-timeout": "instance.startup_timeout",
}

// parseWithFlags runs Parse inside a cli action so the flag layer sees
// a real, parsed cli.Context.
func parseWithFlags(t *testing.T, args ...string) testConfig {
	t.Helper()

	var cfg testConfig

	app := &cli.App{
		Name: "conftest",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level"},
			&cli.PathFlag{Name: "socket-path"},
			&cli.PathFlag{Name: "server-path"},
			&cli.DurationFlag{Name: "startup-timeout", Value: 10 * time.Second},
		},
		Action: func(ctx *cli.Context) error {
			var err error
			cfg, err = Parse[testConfig](ParseOptions{
				Defaults: DefaultConfig{
					"log_level":                "info",
					"instance.startup_timeout": "10s",
				},
				EnvPrefix: "CONFTEST",
				Cli:       ctx,
				CliMap:    testCliMap,
			})
			return err
		},
	}

	require.NoError(t, app.Run(append([]string{"conftest"}, args...)))

	return cfg
}

func TestParse_Defaults(t *testing.T) {
	cfg := parseWithFlags(t)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.Instance.StartupTimeout)
}

func TestParse_CliFlagOverridesEnv(t *testing.T) {
	t.Setenv("CONFTEST__INSTANCE__SOCKET_PATH", "/run/env.sock")

	cfg := parseWithFlags(t, "--socket-path", "/run/flag.sock")

	assert.Equal(t, "/run/flag.sock", cfg.Instance.SocketPath)
}

func TestParse_UnsetCliFlagKeepsEnv(t *testing.T) {
	t.Setenv("CONFTEST__INSTANCE__SOCKET_PATH", "/run/env.sock")
	t.Setenv("CONFTEST__INSTANCE__STARTUP_TIMEOUT", "3s")

	cfg := parseWithFlags(t)

	assert.Equal(t, "/run/env.sock", cfg.Instance.SocketPath)
	// the flag's own default must not shadow the env value
	assert.Equal(t, 3*time.Second, cfg.Instance.StartupTimeout)
}

func TestParse_CliDurationFlag(t *testing.T) {
	cfg := parseWithFlags(t, "--startup-timeout", "90s")

	assert.Equal(t, 90*time.Second, cfg.Instance.StartupTimeout)
}

func TestParse_CliMapRoutesNestedKeys(t *testing.T) {
	cfg := parseWithFlags(t, "--server-path", "/opt/engine/bin/server")

	assert.Equal(t, "/opt/engine/bin/server", cfg.Instance.Resolve.ServerPath)
}

func TestParse_CliFlagFallbackNaming(t *testing.T) {
	// flags outside the map fall back to lowercased snake_case keys
	cfg := parseWithFlags(t, "--log-level", "debug")

	assert.Equal(t, "debug", cfg.LogLevel)
}
