package pool_test

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/embergraph/embergo"
	"github.com/embergraph/embergo/internal/resolve"
	"github.com/embergraph/embergo/pool"
)

func TestPool_NoFactory(t *testing.T) {
	_, err := pool.New(pool.Params{})
	assert.ErrorIs(t, err, pool.ErrNoFactory)
}

func TestPool_FactoryError(t *testing.T) {
	p, err := pool.New(pool.Params{
		Factory: func(ctx context.Context) (*embergo.Instance, error) {
			return nil, assert.AnError
		},
	})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPool_StartFailureSurfaces(t *testing.T) {
	p, err := pool.New(pool.Params{
		Factory: func(ctx context.Context) (*embergo.Instance, error) {
			// resolving will fail: nothing at this path
			return embergo.New(embergo.Options{
				Resolve: resolve.Config{
					CacheDir: t.TempDir(),
				},
			}, zap.NewNop()), nil
		},
	})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Acquire(context.Background())
	assert.Error(t, err)
}

func TestPool_AcquireReleaseReuse(t *testing.T) {
	var booted atomic.Int32

	p, err := pool.New(pool.Params{
		MaxInstances: 2,
		Factory: func(ctx context.Context) (*embergo.Instance, error) {
			booted.Add(1)
			return newFakeInstance(t), nil
		},
	})
	require.NoError(t, err)
	defer p.Close()

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)

	instance := lease.Instance()
	assert.True(t, instance.IsRunning())

	lease.Release()

	// the released instance is handed out again
	lease, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, instance, lease.Instance())
	assert.EqualValues(t, 1, booted.Load())

	lease.Release()
}

func TestPool_DistinctInstances(t *testing.T) {
	p, err := pool.New(pool.Params{
		MaxInstances: 2,
		Factory: func(ctx context.Context) (*embergo.Instance, error) {
			return newFakeInstance(t), nil
		},
	})
	require.NoError(t, err)
	defer p.Close()

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	b, err := p.Acquire(context.Background())
	require.NoError(t, err)

	pidA, okA := a.Instance().Pid()
	pidB, okB := b.Instance().Pid()

	assert.True(t, okA)
	assert.True(t, okB)
	assert.NotEqual(t, pidA, pidB)
	assert.NotEqual(t, a.Instance().SocketPath(), b.Instance().SocketPath())

	a.Release()
	b.Release()
}

func TestPool_CloseStopsInstances(t *testing.T) {
	p, err := pool.New(pool.Params{
		Factory: func(ctx context.Context) (*embergo.Instance, error) {
			return newFakeInstance(t), nil
		},
	})
	require.NoError(t, err)

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)

	instance := lease.Instance()
	lease.Release()

	p.Close()

	assert.False(t, instance.IsRunning())
}

// newFakeInstance builds an instance backed by a shell-script child
// and a socket listener that answers probes and kills the child when
// asked to shut down.
func newFakeInstance(t *testing.T) *embergo.Instance {
	t.Helper()

	dir := t.TempDir()

	script := filepath.Join(dir, "engine.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsleep 60\n"), 0o755))

	module := filepath.Join(dir, "graph.so")
	require.NoError(t, os.WriteFile(module, []byte("x"), 0o644))

	instance := embergo.New(embergo.Options{
		SocketPath:     filepath.Join(dir, "engine.sock"),
		StartupTimeout: 5 * time.Second,
		PollInterval:   20 * time.Millisecond,
		Resolve: resolve.Config{
			ServerPath: script,
			ModulePath: module,
		},
	}, zap.NewNop())

	// bind the socket once the child is up and serve minimal replies
	go func() {
		for {
			if _, ok := instance.Pid(); ok {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}

		ln, err := net.Listen("unix", instance.SocketPath())
		if err != nil {
			return
		}

		t.Cleanup(func() { _ = ln.Close() })

		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go func(conn net.Conn) {
				defer conn.Close()

				buf := make([]byte, 256)
				n, err := conn.Read(buf)
				if err != nil {
					return
				}

				if bytes.Contains(buf[:n], []byte("SHUTDOWN")) {
					if pid, ok := instance.Pid(); ok {
						_ = syscall.Kill(pid, syscall.SIGKILL)
					}
					return
				}

				_, _ = conn.Write([]byte("+PONG\r\n"))
			}(conn)
		}
	}()

	return instance
}
