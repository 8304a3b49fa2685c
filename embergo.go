// Package embergo runs an embedded graph-database server as a child
// process. It resolves the engine binaries, renders a configuration,
// supervises the process lifecycle and exposes the unix socket the
// running instance listens on.
package embergo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/embergraph/embergo/internal/confgen"
	"github.com/embergraph/embergo/internal/resolve"
	"github.com/embergraph/embergo/internal/server"
)

type Options struct {
	// SocketPath is the unix socket of the instance. Defaults to a
	// unique path in the temp dir.
	SocketPath string `conf:"socket_path"`

	// DataDir is where persisted data ends up. Defaults to the socket
	// directory.
	DataDir string `conf:"data_dir"`

	// ConfigFile optionally pins the rendered config file location;
	// when set the caller owns the file.
	ConfigFile string `conf:"config_file"`

	// ModuleArgs are forwarded to the graph module on load.
	ModuleArgs []string `conf:"module_args"`

	// StartupTimeout and PollInterval tune readiness detection; zero
	// values use the supervisor defaults.
	StartupTimeout time.Duration `conf:"startup_timeout"`
	PollInterval   time.Duration `conf:"poll_interval"`

	// InheritOutput forwards engine output to this process.
	InheritOutput bool `conf:"inherit_output"`

	// Resolve configures how the engine binaries are located.
	Resolve resolve.Config `conf:"resolve"`
}

// Instance is one embedded server. Construct with New, bring up with
// Start, tear down with Stop. A failed Start leaves the instance
// unusable; construct a new one to retry.
type Instance struct {
	opts     Options
	resolver *resolve.Resolver
	server   *server.Server

	log *zap.Logger
}

func New(opts Options, log *zap.Logger) *Instance {
	if log == nil {
		log = zap.NewNop()
	}

	if opts.SocketPath == "" {
		opts.SocketPath = filepath.Join(os.TempDir(), fmt.Sprintf("embergo-%s.sock", uuid.NewString()))
	}

	if opts.DataDir == "" {
		opts.DataDir = filepath.Dir(opts.SocketPath)
	}

	return &Instance{
		opts:     opts,
		resolver: resolve.New(opts.Resolve, log),
		log:      log,
	}
}

// Start resolves the binaries, renders the config and boots the
// supervised server process, blocking until the instance answers on
// its socket or fails.
func (i *Instance) Start(ctx context.Context) error {
	bins, err := i.resolver.Resolve(ctx)
	if err != nil {
		return err
	}

	out := confgen.Generate(confgen.Params{
		SocketPath: i.opts.SocketPath,
		ModulePath: bins.ModulePath,
		DataDir:    i.opts.DataDir,
		ModuleArgs: i.opts.ModuleArgs,
	})

	i.server = server.New(server.Config{
		ExecPath:       bins.ServerPath,
		ConfigText:     out.ConfigText,
		SocketPath:     out.SocketPath,
		ConfigFile:     i.opts.ConfigFile,
		StartupTimeout: i.opts.StartupTimeout,
		PollInterval:   i.opts.PollInterval,
		InheritOutput:  i.opts.InheritOutput,
	}, i.log)

	return i.server.Start(ctx)
}

// Stop shuts the instance down, persisting its dataset if persist is
// set. It never fails and is safe to call repeatedly.
func (i *Instance) Stop(ctx context.Context, persist bool) {
	if i.server == nil {
		return
	}

	i.server.Stop(ctx, persist)
}

// IsRunning reports whether the engine process is alive.
func (i *Instance) IsRunning() bool {
	return i.server != nil && i.server.IsRunning()
}

// Pid returns the engine's process id while it is alive.
func (i *Instance) Pid() (int, bool) {
	if i.server == nil {
		return 0, false
	}

	return i.server.Pid()
}

// SocketPath returns the unix socket of this instance. Fixed at
// construction.
func (i *Instance) SocketPath() string {
	return i.opts.SocketPath
}

// KillAll force-kills every running instance of this process without
// waiting. Defer it in main as a last line of defense against orphaned
// engines.
func KillAll() {
	server.KillAll()
}

// HandleFault is meant to be deferred in main; on a panic it kills all
// running instances and re-raises the panic unchanged.
func HandleFault() {
	server.HandleFault()
}

// SetRegistryLogger routes crash-safety registry logs to the given
// logger.
func SetRegistryLogger(log *zap.Logger) {
	server.SetRegistryLogger(log)
}
