package adapters

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-rollout/internal/ports"
	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

type stubHandler struct {
	mu     sync.Mutex
	opened int
	closed int
}

func (h *stubHandler) OpenSession(remote string) *types.Session {
	h.mu.Lock()
	h.opened++
	h.mu.Unlock()
	return &types.Session{ID: uuid.New(), Remote: remote, BodyLimit: UnauthenticatedBodyLimit}
}

func (h *stubHandler) CloseSession(*types.Session) {
	h.mu.Lock()
	h.closed++
	h.mu.Unlock()
}

func (h *stubHandler) Handle(_ context.Context, session *types.Session, kind types.MessageKind, body []byte) ([]byte, error) {
	switch kind {
	case types.MessageKindPackageInfo:
		var req types.PackageInfoReq
		if err := DecodeBody(body, &req); err != nil {
			return nil, err
		}
		if req.Name != "agent" {
			return EncodeBody(types.PackageInfoResp{})
		}
		return EncodeBody(types.PackageInfoResp{Version: &types.PackageVersion{
			Name: req.Name, Version: "1.0.0", Hash: types.Hash{1}, Arch: req.Arch,
		}})
	case types.MessageKindGetFile:
		return nil, nil
	case types.MessageKindAuthenticateReader:
		session.Reader = true
		session.BodyLimit = AuthenticatedBodyLimit
		return EncodeBody(types.Empty{})
	default:
		return nil, shared.KindError(types.ErrorNotAuthenticated, kind.String())
	}
}

func startTestServer(t *testing.T, key *[32]byte) (string, *stubHandler) {
	t.Helper()
	handler := &stubHandler{}
	server, err := NewTCPServer(TCPServerConfig{Listen: "127.0.0.1:0", ConnectionKey: key}, handler, nil)
	require.NoError(t, err)
	addr, err := server.Listen()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return addr.String(), handler
}

func TestTransportPlaintextRoundTrip(t *testing.T) {
	addr, _ := startTestServer(t, nil)
	ctx := t.Context()
	conn, err := NewTCPSourceDialer(5*time.Second).Dial(ctx, types.SourceConfig{Address: addr})
	require.NoError(t, err)
	defer conn.Close()

	info, err := conn.PackageInfo(ctx, types.PackageInfoReq{Channel: "beta", Arch: types.ArchArm64, Name: "agent"})
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "1.0.0", info.Version)

	info, err = conn.PackageInfo(ctx, types.PackageInfoReq{Channel: "beta", Arch: types.ArchArm64, Name: "other"})
	require.NoError(t, err)
	assert.Nil(t, info)

	_, err = conn.GetFile(ctx, types.Hash{3})
	assert.True(t, shared.IsKind(err, types.ErrorFileNotFound))

	err = conn.SetFile(ctx, types.Hash{3}, []byte("data"))
	require.Error(t, err)
	assert.True(t, shared.IsKind(err, types.ErrorNotAuthenticated))
	assert.False(t, shared.IsTransport(err))
}

func TestTransportEncryptedWithReaderKey(t *testing.T) {
	public, private, err := GenerateConnectionKey()
	require.NoError(t, err)
	addr, handler := startTestServer(t, private)
	ctx := t.Context()

	readerKey := types.AuthKey{5}
	conn, err := NewTCPSourceDialer(5*time.Second).Dial(ctx, types.SourceConfig{
		Address:       addr,
		ConnectionKey: types.HexBytes(public[:]),
		ReaderKey:     &readerKey,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		info, err := conn.PackageInfo(ctx, types.PackageInfoReq{Channel: "beta", Arch: types.ArchAny, Name: "agent"})
		require.NoError(t, err)
		require.NotNil(t, info)
	}
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.opened == 1 && handler.closed == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTransportRequiresHandshakeWhenKeyed(t *testing.T) {
	_, private, err := GenerateConnectionKey()
	require.NoError(t, err)
	addr, _ := startTestServer(t, private)

	conn, err := NewTCPSourceDialer(5*time.Second).Dial(t.Context(), types.SourceConfig{Address: addr})
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.PackageInfo(t.Context(), types.PackageInfoReq{Channel: "beta", Arch: types.ArchAny, Name: "agent"})
	require.Error(t, err)
	assert.True(t, shared.IsKind(err, types.ErrorRequest))
}

func TestTransportDialFailureIsTransportError(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	_, err = NewTCPSourceDialer(time.Second).Dial(t.Context(), types.SourceConfig{Address: addr})
	require.Error(t, err)
	assert.True(t, shared.IsTransport(err))
}

var _ ports.MessageHandler = (*stubHandler)(nil)
