package resolve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestResolve_ExplicitPaths(t *testing.T) {
	dir := t.TempDir()

	serverPath := writeFile(t, dir, "server", 0o755)
	modulePath := writeFile(t, dir, "graph.so", 0o644)

	r := New(Config{
		ServerPath: serverPath,
		ModulePath: modulePath,
	}, zap.NewNop())

	bins, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, serverPath, bins.ServerPath)
	assert.Equal(t, modulePath, bins.ModulePath)
}

func TestResolve_EnvOverrides(t *testing.T) {
	dir := t.TempDir()

	serverPath := writeFile(t, dir, "server", 0o755)
	modulePath := writeFile(t, dir, "graph.so", 0o644)

	t.Setenv(envServerPath, serverPath)
	t.Setenv(envModulePath, modulePath)

	r := New(Config{}, zap.NewNop())

	bins, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, serverPath, bins.ServerPath)
	assert.Equal(t, modulePath, bins.ModulePath)
}

func TestResolve_ModuleFromCache(t *testing.T) {
	cacheDir := t.TempDir()
	writeFile(t, cacheDir, moduleFileName(), 0o755)

	serverPath := writeFile(t, t.TempDir(), "server", 0o755)

	r := New(Config{
		ServerPath: serverPath,
		CacheDir:   cacheDir,
	}, zap.NewNop())

	bins, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(cacheDir, moduleFileName()), bins.ModulePath)
}

func TestResolve_ModuleDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fake module bytes"))
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	serverPath := writeFile(t, t.TempDir(), "server", 0o755)

	r := New(Config{
		ServerPath: serverPath,
		ModuleURL:  srv.URL + "/{os}/{arch}/module",
		CacheDir:   cacheDir,
	}, zap.NewNop())

	bins, err := r.Resolve(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(bins.ModulePath)
	require.NoError(t, err)
	assert.Equal(t, "fake module bytes", string(data))

	info, err := os.Stat(bins.ModulePath)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111)
}

func TestResolve_ModuleDownload_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	serverPath := writeFile(t, t.TempDir(), "server", 0o755)

	r := New(Config{
		ServerPath: serverPath,
		ModuleURL:  srv.URL + "/module",
		CacheDir:   t.TempDir(),
	}, zap.NewNop())

	_, err := r.Resolve(context.Background())
	assert.Error(t, err)
}

func TestResolve_ModuleNotFound(t *testing.T) {
	serverPath := writeFile(t, t.TempDir(), "server", 0o755)

	r := New(Config{
		ServerPath: serverPath,
		CacheDir:   t.TempDir(),
	}, zap.NewNop())

	_, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func writeFile(t *testing.T, dir, name string, mode os.FileMode) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), mode))

	return path
}
