package embergo_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/embergraph/embergo"
	"github.com/embergraph/embergo/internal/resolve"
	"github.com/embergraph/embergo/internal/server"
)

func TestNew_Defaults(t *testing.T) {
	i := embergo.New(embergo.Options{}, nil)

	assert.Contains(t, filepath.Base(i.SocketPath()), "embergo-")
	assert.False(t, i.IsRunning())

	_, ok := i.Pid()
	assert.False(t, ok)
}

func TestNew_DistinctSocketPaths(t *testing.T) {
	a := embergo.New(embergo.Options{}, nil)
	b := embergo.New(embergo.Options{}, nil)

	assert.NotEqual(t, a.SocketPath(), b.SocketPath())
}

func TestInstance_StopBeforeStart(t *testing.T) {
	i := embergo.New(embergo.Options{}, nil)

	assert.NotPanics(t, func() {
		i.Stop(context.Background(), false)
	})
	assert.False(t, i.IsRunning())
}

func TestInstance_Start_SpawnFailure(t *testing.T) {
	dir := t.TempDir()

	i := embergo.New(embergo.Options{
		SocketPath: filepath.Join(dir, "fail.sock"),
		Resolve: resolve.Config{
			ServerPath: filepath.Join(dir, "no-such-binary"),
			ModulePath: filepath.Join(dir, "no-such-module.so"),
		},
	}, nil)

	err := i.Start(context.Background())
	assert.ErrorIs(t, err, server.ErrSpawn)
	assert.False(t, i.IsRunning())
}

func TestInstance_Start_ResolveFailure(t *testing.T) {
	i := embergo.New(embergo.Options{
		Resolve: resolve.Config{
			// nothing to find and nowhere to download from
			CacheDir: t.TempDir(),
		},
	}, nil)

	err := i.Start(context.Background())
	assert.Error(t, err)
}
