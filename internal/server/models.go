package server

import (
	"errors"
	"time"
)

var (
	// ErrSpawn means the executable could not be started at all.
	ErrSpawn = errors.New("failed to spawn server process")

	// ErrPrematureExit means the process exited before its socket ever
	// answered a probe. The wrapped message carries the captured stderr.
	ErrPrematureExit = errors.New("server exited before becoming ready")

	// ErrReadyTimeout means the process stayed alive but never answered
	// a probe within the startup timeout.
	ErrReadyTimeout = errors.New("server did not become ready within timeout")

	// ErrAlreadyStarted is returned by Start on anything but a fresh
	// instance. A failed Server is not restartable; construct a new one.
	ErrAlreadyStarted = errors.New("server already started")
)

const (
	defaultStartupTimeout = 10 * time.Second
	defaultPollInterval   = 100 * time.Millisecond

	// stop escalation ladder: protocol shutdown, SIGTERM, SIGKILL,
	// each with its own wait
	shutdownWait = 5 * time.Second
	termWait     = 3 * time.Second
	killWait     = 2 * time.Second
)

type Config struct {
	// ExecPath is the absolute path of the server executable.
	ExecPath string `conf:"exec_path"`

	// ConfigText is written verbatim to the config file. It is trusted
	// to reference SocketPath consistently.
	ConfigText string `conf:"-"`

	// SocketPath is the unix socket the server will listen on. The
	// directory must exist.
	SocketPath string `conf:"socket_path"`

	// ConfigFile optionally fixes where the config file is written.
	// When set, the caller owns the file and its cleanup; otherwise a
	// temp file is created and removed on stop.
	ConfigFile string `conf:"config_file"`

	// StartupTimeout bounds the whole readiness race.
	StartupTimeout time.Duration `conf:"startup_timeout"`

	// PollInterval is the delay between readiness probes.
	PollInterval time.Duration `conf:"poll_interval"`

	// InheritOutput forwards the child's output to the parent instead
	// of capturing stderr for failure diagnostics.
	InheritOutput bool `conf:"inherit_output"`
}

type state int32

const (
	stateIdle state = iota
	stateStarting
	stateReady
	stateStopping
	stateStopped
	stateFailed
)
