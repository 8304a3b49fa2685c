// Package resolve locates the server executable and the graph module,
// falling back through explicit config, environment overrides,
// well-known install locations, the PATH, and finally an HTTP download
// of the module into a local cache.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("binary not found")

const (
	envServerPath = "EMBERGO_SERVER_PATH"
	envModulePath = "EMBERGO_MODULE_PATH"
)

// serverNames are tried in order when looking up the executable; the
// engine is protocol-compatible across these distributions.
var serverNames = []string{"embergraph-server", "redis-server", "valkey-server"}

type Config struct {
	// ServerPath explicitly pins the server executable.
	ServerPath string `conf:"server_path"`

	// ModulePath explicitly pins the graph module.
	ModulePath string `conf:"module_path"`

	// ModuleURL is a template used to download the module when it is
	// not found locally. {os} and {arch} are substituted.
	ModuleURL string `conf:"module_url"`

	// CacheDir is where downloaded modules are stored. Defaults to the
	// user cache dir.
	CacheDir string `conf:"cache_dir"`
}

// Binaries are absolute paths; the supervisor does not validate them
// beyond what spawning naturally reveals.
type Binaries struct {
	ServerPath string
	ModulePath string
}

type Resolver struct {
	config Config
	client *http.Client
	log    *zap.Logger
}

func New(config Config, log *zap.Logger) *Resolver {
	return &Resolver{
		config: config,
		client: http.DefaultClient,
		log:    log.Named("resolve"),
	}
}

func (r *Resolver) Resolve(ctx context.Context) (Binaries, error) {
	serverPath, err := r.resolveServer()
	if err != nil {
		return Binaries{}, fmt.Errorf("failed to resolve server executable: %w", err)
	}

	modulePath, err := r.resolveModule(ctx)
	if err != nil {
		return Binaries{}, fmt.Errorf("failed to resolve graph module: %w", err)
	}

	r.log.Debug("resolved binaries",
		zap.String("server", serverPath),
		zap.String("module", modulePath),
	)

	return Binaries{
		ServerPath: serverPath,
		ModulePath: modulePath,
	}, nil
}

func (r *Resolver) resolveServer() (string, error) {
	if r.config.ServerPath != "" {
		return filepath.Abs(r.config.ServerPath)
	}

	if path := os.Getenv(envServerPath); path != "" {
		return filepath.Abs(path)
	}

	for _, dir := range wellKnownDirs() {
		for _, name := range serverNames {
			candidate := filepath.Join(dir, name)
			if isFile(candidate) {
				return candidate, nil
			}
		}
	}

	for _, name := range serverNames {
		if path, err := exec.LookPath(name); err == nil {
			return filepath.Abs(path)
		}
	}

	return "", fmt.Errorf("%w: tried %s", ErrNotFound, strings.Join(serverNames, ", "))
}

func (r *Resolver) resolveModule(ctx context.Context) (string, error) {
	if r.config.ModulePath != "" {
		return filepath.Abs(r.config.ModulePath)
	}

	if path := os.Getenv(envModulePath); path != "" {
		return filepath.Abs(path)
	}

	name := moduleFileName()

	for _, dir := range wellKnownDirs() {
		candidate := filepath.Join(dir, name)
		if isFile(candidate) {
			return candidate, nil
		}
	}

	if cached := filepath.Join(r.cacheDir(), name); isFile(cached) {
		return cached, nil
	}

	if r.config.ModuleURL != "" {
		return r.download(ctx, name)
	}

	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// download fetches the module into the cache dir. The write goes
// through a temp file and a rename so a torn download never shows up
// as a loadable module.
func (r *Resolver) download(ctx context.Context, name string) (string, error) {
	url := moduleURL(r.config.ModuleURL)

	r.log.Info("downloading graph module", zap.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	res, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download module: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download module: unexpected status %s", res.Status)
	}

	cacheDir := r.cacheDir()
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(cacheDir, name+".*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, res.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write module: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return "", err
	}

	target := filepath.Join(cacheDir, name)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", err
	}

	if err := os.Chmod(target, 0o755); err != nil {
		return "", err
	}

	return target, nil
}

func (r *Resolver) cacheDir() string {
	if r.config.CacheDir != "" {
		return r.config.CacheDir
	}

	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "embergo")
	}

	return filepath.Join(os.TempDir(), "embergo")
}

func wellKnownDirs() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"/opt/homebrew/lib", "/opt/homebrew/bin", "/usr/local/lib", "/usr/local/bin"}
	default:
		return []string{"/usr/local/lib", "/usr/local/bin", "/usr/lib", "/usr/bin"}
	}
}

func moduleFileName() string {
	if runtime.GOOS == "darwin" {
		return "embergraph.dylib"
	}

	return "embergraph.so"
}

func moduleURL(template string) string {
	url := strings.ReplaceAll(template, "{os}", runtime.GOOS)
	return strings.ReplaceAll(url, "{arch}", runtime.GOARCH)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
