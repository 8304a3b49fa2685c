// Package confgen renders the configuration text for an embedded
// server instance. The supervisor treats the result as an opaque blob;
// this package is the single place that knows the config syntax, so
// the socket path in the text and the one handed to the supervisor
// cannot drift apart.
package confgen

import (
	"fmt"
	"strings"
)

type Params struct {
	// SocketPath is the unix socket the server should listen on.
	SocketPath string `conf:"socket_path"`

	// ModulePath is the graph module the server loads on boot.
	ModulePath string `conf:"module_path"`

	// DataDir is the working directory for persistence files.
	DataDir string `conf:"data_dir"`

	// ModuleArgs are passed to the module after its path.
	ModuleArgs []string `conf:"module_args"`
}

type Output struct {
	ConfigText string
	SocketPath string
}

// Generate renders the config blob. TCP is disabled (port 0); the unix
// socket is the only listener. Background saving is off so durable data
// only appears when a shutdown explicitly persists.
func Generate(params Params) Output {
	var b strings.Builder

	fmt.Fprintf(&b, "unixsocket %s\n", params.SocketPath)
	b.WriteString("port 0\n")
	b.WriteString("daemonize no\n")
	b.WriteString("protected-mode no\n")
	b.WriteString("save \"\"\n")
	b.WriteString("appendonly no\n")

	if params.DataDir != "" {
		fmt.Fprintf(&b, "dir %s\n", params.DataDir)
	}

	if params.ModulePath != "" {
		fmt.Fprintf(&b, "loadmodule %s", params.ModulePath)
		for _, arg := range params.ModuleArgs {
			b.WriteByte(' ')
			b.WriteString(arg)
		}
		b.WriteByte('\n')
	}

	return Output{
		ConfigText: b.String(),
		SocketPath: params.SocketPath,
	}
}
