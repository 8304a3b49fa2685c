package server

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// the crash-safety registry's signal handler lives for the
		// whole process once installed
		goleak.IgnoreAnyFunction("github.com/embergraph/embergo/internal/server.(*registry).handleSignals"),
		goleak.IgnoreAnyFunction("os/signal.loop"),
	)
}
