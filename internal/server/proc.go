package server

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// proc is the handle to one spawned server process. There is at most
// one proc per Server instance.
type proc struct {
	pid int
	cmd *exec.Cmd

	// done is closed after the process has exited and has been reaped.
	// exitErr is set before done is closed and must only be read after
	// done is closed.
	done    chan struct{}
	exitErr error

	stderr   bytes.Buffer
	stderrWg sync.WaitGroup

	log *zap.Logger
}

type spawnConfig struct {
	execPath   string
	configFile string

	// inheritOutput forwards the child's stdout/stderr to the parent
	// instead of capturing stderr for failure diagnostics.
	inheritOutput bool
}

func spawnProc(config spawnConfig, log *zap.Logger) (*proc, error) {
	cmd := exec.Command(config.execPath, config.configFile)

	// run the child in its own process group so signals reach any
	// helpers it forks
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p := &proc{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	var stderr io.ReadCloser
	if config.inheritOutput {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		var err error
		stderr, err = cmd.StderrPipe()
		if err != nil {
			return nil, err
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p.pid = cmd.Process.Pid
	p.log = log.Named("proc").With(zap.Int("pid", p.pid))

	if stderr != nil {
		p.stderrWg.Add(1)
		go func() {
			defer p.stderrWg.Done()

			if _, err := io.Copy(&p.stderr, stderr); err != nil && err != io.EOF {
				p.log.Error("failed to read from stderr", zap.Error(err))
			}
		}()
	}

	go func() {
		// block until the process exits
		err := cmd.Wait()

		// wait for stderr to be drained
		p.stderrWg.Wait()

		p.exitErr = err
		close(p.done)
	}()

	return p, nil
}

// Done returns a channel that is closed once the process has exited.
func (p *proc) Done() <-chan struct{} {
	return p.done
}

// Alive reports whether the process has not been reaped yet.
func (p *proc) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the exit error recorded by Wait. Only valid once
// Done is closed.
func (p *proc) ExitErr() error {
	return p.exitErr
}

// Stderr returns the captured stderr output. Only valid once Done is
// closed.
func (p *proc) Stderr() string {
	return p.stderr.String()
}

// WaitFor blocks until the process exits or the timeout elapses, and
// reports whether it exited in time.
func (p *proc) WaitFor(timeout time.Duration) bool {
	if timeout <= 0 {
		<-p.done
		return true
	}

	select {
	case <-p.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Terminate sends SIGTERM to the process group. It returns immediately
// without waiting for the process to exit.
func (p *proc) Terminate() {
	p.signal(syscall.SIGTERM)
}

// Kill sends SIGKILL to the process group. It returns immediately
// without waiting for the process to exit.
func (p *proc) Kill() {
	p.signal(syscall.SIGKILL)
}

func (p *proc) signal(sig syscall.Signal) {
	if !p.Alive() {
		return
	}

	p.log.Debug("sending signal", zap.Stringer("signal", sig))

	// best effort, ignore errors
	if err := p.sendSignal(sig); err != nil {
		p.log.Warn("signalling failed", zap.Error(err))
	}
}

func (p *proc) sendSignal(sig syscall.Signal) error {
	if pgid, err := syscall.Getpgid(p.pid); err == nil {
		// negative pid sends the signal to the whole process group
		return syscall.Kill(-pgid, sig)
	}

	return syscall.Kill(p.pid, sig)
}
