package e2e

import (
	"context"
	"net"
	"testing"
)

// FreePort reserves a loopback port long enough to learn its number, then releases it for
// the service under test to bind.
func FreePort(tb testing.TB) int {
	tb.Helper()

	var listenCfg net.ListenConfig

	listener, err := listenCfg.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("reserve loopback port: %v", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert // tcp listener

	closeErr := listener.Close()
	if closeErr != nil {
		tb.Fatalf("release loopback port %d: %v", port, closeErr)
	}

	return port
}
