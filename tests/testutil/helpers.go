// Package testutil provides shared test helpers used across integration,
// e2e, and unit test packages.
package testutil

import (
	"context"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"fleet-rollout/internal/adapters"
	"fleet-rollout/internal/app"
)

// RepoRoot returns the absolute path to the repository root by walking
// up from the current working directory. It fails the test if the
// working directory cannot be determined.
func RepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(dir, "..", ".."))
}

// TestServer is a rollout server listening on a loopback port for the
// duration of a test.
type TestServer struct {
	Addr          string
	DataDir       string
	ConnectionKey []byte
	Server        *app.Server
}

// StartServer opens a server under a temporary data directory and serves
// it on 127.0.0.1 until the test ends. connectionKey may be nil for a
// plaintext server.
func StartServer(t *testing.T, cfg app.ServerConfig, connectionKey *[32]byte) TestServer {
	t.Helper()
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	server, err := app.OpenServer(t.Context(), cfg, nil)
	require.NoError(t, err)

	tcp, err := adapters.NewTCPServer(adapters.TCPServerConfig{
		Listen:        "127.0.0.1:0",
		ConnectionKey: connectionKey,
	}, server, nil)
	require.NoError(t, err)
	addr, err := tcp.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tcp.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	out := TestServer{Addr: addr.String(), DataDir: cfg.DataDir, Server: server}
	if connectionKey != nil {
		public, err := adapters.ConnectionPublicKey(connectionKey)
		require.NoError(t, err)
		out.ConnectionKey = public[:]
	}
	return out
}

// WriterKey generates a channel signing key pair.
func WriterKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	public, private, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return public, private
}
