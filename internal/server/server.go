// Package server supervises one locally spawned graph-database server
// process: spawn, readiness detection over the unix socket, escalating
// shutdown, and cleanup of the config and socket files. A process-wide
// registry makes sure no child outlives an unexpected parent exit.
package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/embergraph/embergo/internal/wire"
)

// Server owns one child server process and drives its lifecycle.
// Start and Stop serialize on an internal lock; IsRunning, Pid and
// SocketPath never block.
type Server struct {
	config Config
	wire   *wire.Client

	// lifecycle serializes Start and Stop. Stop called while Start is
	// still racing readiness queues behind it.
	lifecycle sync.Mutex

	state atomic.Int32

	procLock sync.Mutex
	proc     *proc

	// configFile is the path the config text was written to; owned is
	// set when we created it and are responsible for deleting it.
	configFile string
	owned      bool

	log *zap.Logger
}

func New(config Config, log *zap.Logger) *Server {
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = defaultStartupTimeout
	}

	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}

	return &Server{
		config: config,
		wire: wire.NewClient(wire.Config{
			SocketPath: config.SocketPath,
		}, log),
		log: log.Named("server"),
	}
}

// SocketPath returns the unix socket path the server is bound to.
// Fixed at construction.
func (s *Server) SocketPath() string {
	return s.config.SocketPath
}

// IsRunning reports whether the child process exists and has not
// exited. It reflects the last known state and does not probe the
// socket.
func (s *Server) IsRunning() bool {
	if p := s.acquireProc(); p != nil {
		return p.Alive()
	}

	return false
}

// Pid returns the child's process id. Only defined while the child is
// alive.
func (s *Server) Pid() (int, bool) {
	if p := s.acquireProc(); p != nil && p.Alive() {
		return p.pid, true
	}

	return 0, false
}

// Start spawns the server process and blocks until it either answers a
// probe on its socket or fails. Spawn, exit and readiness failures are
// classified as ErrSpawn, ErrPrematureExit or ErrReadyTimeout; a config
// file that cannot be written surfaces as a plain error. In every
// failure case the child is killed and transient files are removed,
// and the instance is not reusable.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if state(s.state.Load()) != stateIdle {
		return ErrAlreadyStarted
	}
	s.state.Store(int32(stateStarting))

	s.log.Info("starting server",
		zap.String("exec", s.config.ExecPath),
		zap.String("socket", s.config.SocketPath),
	)

	// a leftover socket file from a crashed prior run would keep the
	// new child from binding
	s.removeStaleSocket()

	if err := s.writeConfigFile(); err != nil {
		s.state.Store(int32(stateFailed))
		return err
	}

	p, err := spawnProc(spawnConfig{
		execPath:      s.config.ExecPath,
		configFile:    s.configFile,
		inheritOutput: s.config.InheritOutput,
	}, s.log)
	if err != nil {
		s.state.Store(int32(stateFailed))
		s.removeTransientFiles()
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	s.setProc(p)

	if err := s.awaitReady(ctx, p); err != nil {
		s.state.Store(int32(stateFailed))
		s.removeTransientFiles()
		return err
	}

	s.state.Store(int32(stateReady))
	register(s)

	s.log.Info("server ready", zap.Int("pid", p.pid))

	return nil
}

// awaitReady races the early-exit watcher against the readiness poller
// and resolves with whichever settles first. The losing branch is
// always wound down before returning.
func (s *Server) awaitReady(ctx context.Context, p *proc) error {
	pollCtx, cancel := context.WithTimeout(ctx, s.config.StartupTimeout)
	defer cancel()

	pollDone := make(chan error, 1)
	go func() {
		pollDone <- s.poll(pollCtx, ctx, p)
	}()

	select {
	case <-p.Done():
		// the child exited before a probe ever succeeded
		cancel()
		<-pollDone

		return fmt.Errorf("%w: %s", ErrPrematureExit, exitDiagnostic(p))

	case err := <-pollDone:
		if err == nil {
			return nil
		}

		// the poller gave up; make sure the child does not linger
		p.Kill()
		p.WaitFor(killWait)

		return err
	}
}

// poll probes the socket at the configured interval until a probe
// succeeds or the context expires. Connection errors are expected
// while the server is still booting and are swallowed. A cancellation
// of the parent context is reported as such, not as a readiness
// timeout.
func (s *Server) poll(ctx, parent context.Context, p *proc) error {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := parent.Err(); err != nil {
				return fmt.Errorf("startup aborted: %w", err)
			}

			return fmt.Errorf("%w (%s)", ErrReadyTimeout, s.config.StartupTimeout)
		case <-p.Done():
			return fmt.Errorf("%w: %s", ErrPrematureExit, exitDiagnostic(p))
		case <-ticker.C:
		}

		if err := s.wire.Ping(ctx); err != nil {
			s.log.Debug("server not ready yet", zap.Error(err))
			continue
		}

		return nil
	}
}

// Stop shuts the server down through the escalation ladder: protocol
// shutdown, SIGTERM, SIGKILL, each with its own wait. It never returns
// an error; once it returns, no process, owned config file or socket
// file from this instance remains. Safe to call repeatedly and
// concurrently, and a no-op beyond cleanup if the process is already
// gone.
func (s *Server) Stop(ctx context.Context, persist bool) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	defer func() {
		s.removeTransientFiles()
		unregister(s)
		s.state.Store(int32(stateStopped))
	}()

	p := s.acquireProc()
	if p == nil || !p.Alive() {
		return
	}

	s.state.Store(int32(stateStopping))
	s.log.Info("stopping server", zap.Int("pid", p.pid), zap.Bool("persist", persist))

	// the server may already be tearing down and the socket unusable;
	// that is expected, not an error
	if err := s.wire.Shutdown(ctx, persist); err != nil {
		s.log.Debug("shutdown command failed", zap.Error(err))
	}

	if p.WaitFor(shutdownWait) {
		return
	}

	s.log.Warn("server ignored shutdown command, sending SIGTERM")
	p.Terminate()
	if p.WaitFor(termWait) {
		return
	}

	s.log.Warn("server ignored SIGTERM, sending SIGKILL")
	p.Kill()
	if !p.WaitFor(killWait) {
		// give up; the OS will reclaim the process eventually
		s.log.Error("server still not reaped after SIGKILL")
	}
}

// forceKill signals the child without waiting. Used by the registry's
// synchronous sweeps, which must not block.
func (s *Server) forceKill() {
	if p := s.acquireProc(); p != nil {
		p.Kill()
	}
}

func (s *Server) acquireProc() *proc {
	s.procLock.Lock()
	defer s.procLock.Unlock()

	return s.proc
}

func (s *Server) setProc(p *proc) {
	s.procLock.Lock()
	defer s.procLock.Unlock()

	s.proc = p
}

func (s *Server) removeStaleSocket() {
	if err := os.Remove(s.config.SocketPath); err == nil {
		s.log.Warn("removed stale socket file", zap.String("socket", s.config.SocketPath))
	} else if !os.IsNotExist(err) {
		s.log.Warn("failed to remove stale socket file", zap.Error(err))
	}
}

// writeConfigFile writes the config text either to the caller-supplied
// path (caller owns cleanup) or to a fresh temp file (we own cleanup).
func (s *Server) writeConfigFile() error {
	path := s.config.ConfigFile
	owned := false

	if path == "" {
		path = filepath.Join(os.TempDir(), fmt.Sprintf("embergo-%s.conf", uuid.NewString()))
		owned = true
	}

	if err := os.WriteFile(path, []byte(s.config.ConfigText), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	s.configFile = path
	s.owned = owned

	return nil
}

// removeTransientFiles deletes the socket file and, if we created it,
// the config file. Best effort; a missing file is not an error.
func (s *Server) removeTransientFiles() {
	if s.owned && s.configFile != "" {
		if err := os.Remove(s.configFile); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove config file", zap.Error(err))
		}
	}

	if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
		s.log.Warn("failed to remove socket file", zap.Error(err))
	}
}

func exitDiagnostic(p *proc) string {
	status := "exit status 0"
	if err := p.ExitErr(); err != nil {
		status = err.Error()
	}

	if stderr := p.Stderr(); stderr != "" {
		return fmt.Sprintf("%s, stderr: %s", status, stderr)
	}

	return status
}
