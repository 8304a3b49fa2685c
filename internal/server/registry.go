package server

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// registry is the process-wide set of live servers. Its only job is
// crash safety: whatever way the parent process goes down, every
// registered child gets stopped or at least signalled.
type registry struct {
	mu      sync.Mutex
	servers map[*Server]struct{}

	installOnce sync.Once

	log *zap.Logger
}

var global = &registry{
	servers: make(map[*Server]struct{}),
	log:     zap.NewNop(),
}

// SetRegistryLogger replaces the logger used by the process-wide
// registry. The default is a nop logger.
func SetRegistryLogger(log *zap.Logger) {
	global.mu.Lock()
	defer global.mu.Unlock()

	global.log = log.Named("registry")
}

func register(s *Server) {
	global.install()

	global.mu.Lock()
	defer global.mu.Unlock()

	global.servers[s] = struct{}{}
}

func unregister(s *Server) {
	global.mu.Lock()
	defer global.mu.Unlock()

	delete(global.servers, s)
}

// KillAll signals every still-registered child to die without waiting
// for anything. Meant for synchronous-exit contexts that cannot block;
// main should defer it as a last line of defense.
func KillAll() {
	global.killAll()
}

// HandleFault is meant to be deferred in main. On a panic it performs
// the synchronous kill sweep and then re-raises the original panic
// value unchanged.
func HandleFault() {
	if v := recover(); v != nil {
		global.killAll()
		panic(v)
	}
}

// install registers the signal handler exactly once, however many
// servers come and go.
func (r *registry) install() {
	r.installOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

		go r.handleSignals(ch)
	})
}

// handleSignals stops every registered server through its normal Stop
// path, then re-delivers the original signal so default termination
// semantics proceed.
func (r *registry) handleSignals(ch chan os.Signal) {
	sig := <-ch

	r.logger().Info("caught signal, stopping servers", zap.Stringer("signal", sig))

	r.stopAll()

	signal.Reset(sig)

	if sysSig, ok := sig.(syscall.Signal); ok {
		_ = syscall.Kill(os.Getpid(), sysSig)
	} else {
		os.Exit(1)
	}
}

// stopAll runs every registered server through Stop concurrently and
// waits for all of them. Stop unregisters each server itself.
func (r *registry) stopAll() {
	var wg sync.WaitGroup

	for _, s := range r.snapshot() {
		wg.Add(1)
		go func(s *Server) {
			defer wg.Done()
			s.Stop(context.Background(), false)
		}(s)
	}

	wg.Wait()
}

// killAll is the non-blocking sweep: signal and clear, no waiting.
func (r *registry) killAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for s := range r.servers {
		s.forceKill()
	}

	clear(r.servers)
}

// logger snapshots the current logger; it may be swapped at any time
// via SetRegistryLogger.
func (r *registry) logger() *zap.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.log
}

func (r *registry) snapshot() []*Server {
	r.mu.Lock()
	defer r.mu.Unlock()

	servers := make([]*Server, 0, len(r.servers))
	for s := range r.servers {
		servers = append(servers, s)
	}

	return servers
}
