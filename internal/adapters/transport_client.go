package adapters

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net"
	"sync"
	"time"

	"fleet-rollout/internal/ports"
	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

// TCPSourceDialer opens one connection per source. Timeout bounds the
// dial and every request without its own context deadline.
type TCPSourceDialer struct {
	Timeout time.Duration
}

func NewTCPSourceDialer(timeout time.Duration) TCPSourceDialer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return TCPSourceDialer{Timeout: timeout}
}

// Dial connects, performs the encryption handshake when the source has a
// connection key, and authenticates as reader when it has a reader key.
func (d TCPSourceDialer) Dial(ctx context.Context, source types.SourceConfig) (ports.SourceConnPort, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", source.Address)
	if err != nil {
		return nil, &shared.TransportError{Source: source.Address, Err: err}
	}
	c := &TCPSourceConn{fc: newFrameConn(conn), address: source.Address, timeout: d.Timeout}
	if len(source.ConnectionKey) > 0 {
		if err := c.handshake(ctx, source.ConnectionKey); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	if source.ReaderKey != nil {
		if err := c.AuthenticateReader(ctx, *source.ReaderKey); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

// TCPSourceConn issues synchronous request/response calls. Calls are
// serialized; the cipher nonces require strict ordering.
type TCPSourceConn struct {
	fc      *frameConn
	address string
	timeout time.Duration

	mu     sync.Mutex
	nextID uint32
}

func (c *TCPSourceConn) handshake(ctx context.Context, serverKey types.HexBytes) error {
	if len(serverKey) != 32 {
		return shared.KindError(types.ErrorRequest, "source connection key must be 32 bytes")
	}
	pub, priv, err := GenerateConnectionKey()
	if err != nil {
		return shared.KindErrorWithCause(types.ErrorInternal, "failed to generate session key", err)
	}
	var theirs [32]byte
	copy(theirs[:], serverKey)
	cipher, err := NewFrameCipher(pub, priv, &theirs)
	if err != nil {
		return shared.KindErrorWithCause(types.ErrorRequest, "invalid source connection key", err)
	}
	body, err := EncodeBody(types.HandshakeReq{PublicKey: pub[:]})
	if err != nil {
		return err
	}
	if _, err := c.call(ctx, types.MessageKindHandshake, body); err != nil {
		return err
	}
	c.fc.cipher = cipher
	return nil
}

func (c *TCPSourceConn) call(ctx context.Context, kind types.MessageKind, body []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	_ = c.fc.conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = c.fc.conn.SetDeadline(time.Now()) })
	defer stop()

	c.nextID++
	id := c.nextID
	if err := c.fc.send(kind, id, 0, body); err != nil {
		return nil, &shared.TransportError{Source: c.address, Err: err}
	}
	frame, err := c.fc.receive(clientBodyLimit)
	if err != nil {
		return nil, &shared.TransportError{Source: c.address, Err: err}
	}
	if frame.Header.CorrelationID != id || frame.Header.Kind != kind {
		return nil, &shared.TransportError{Source: c.address, Err: fmt.Errorf(
			"response %d/%s does not match request %d/%s", frame.Header.CorrelationID, frame.Header.Kind, id, kind)}
	}
	if frame.IsError() {
		var wire types.WireError
		if err := DecodeBody(frame.Body, &wire); err != nil {
			return nil, &shared.TransportError{Source: c.address, Err: err}
		}
		return nil, shared.ErrorFromWire(wire)
	}
	return frame.Body, nil
}

func (c *TCPSourceConn) callJSON(ctx context.Context, kind types.MessageKind, req any, resp any) error {
	body, err := EncodeBody(req)
	if err != nil {
		return err
	}
	out, err := c.call(ctx, kind, body)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return DecodeBody(out, resp)
}

func (c *TCPSourceConn) PackageInfo(ctx context.Context, req types.PackageInfoReq) (*types.PackageVersion, error) {
	var resp types.PackageInfoResp
	if err := c.callJSON(ctx, types.MessageKindPackageInfo, req, &resp); err != nil {
		return nil, err
	}
	return resp.Version, nil
}

// GetFile fetches a whole file. An empty answer means the source does not
// have it.
func (c *TCPSourceConn) GetFile(ctx context.Context, hash types.Hash) ([]byte, error) {
	body, err := EncodeBody(types.GetFileReq{Hash: hash})
	if err != nil {
		return nil, err
	}
	data, err := c.call(ctx, types.MessageKindGetFile, body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, shared.KindError(types.ErrorFileNotFound, hash.String())
	}
	return data, nil
}

func (c *TCPSourceConn) GetFilePart(ctx context.Context, req types.GetFilePartReq) ([]byte, error) {
	body, err := EncodeBody(req)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, types.MessageKindGetFilePart, body)
}

func (c *TCPSourceConn) SetPackageInfo(ctx context.Context, req types.SetPackageInfoReq) error {
	return c.callJSON(ctx, types.MessageKindSetPackageInfo, req, nil)
}

// SetFile uploads raw bytes prefixed by their hash.
func (c *TCPSourceConn) SetFile(ctx context.Context, hash types.Hash, data []byte) error {
	body := make([]byte, 0, len(hash)+len(data))
	body = append(body, hash[:]...)
	body = append(body, data...)
	_, err := c.call(ctx, types.MessageKindSetFile, body)
	return err
}

func (c *TCPSourceConn) ChangeWhitelist(ctx context.Context, req types.ChangeWhitelistReq) (bool, error) {
	var resp types.ChangeWhitelistResp
	if err := c.callJSON(ctx, types.MessageKindChangeWhitelist, req, &resp); err != nil {
		return false, err
	}
	return resp.Changed, nil
}

func (c *TCPSourceConn) NewAuthKeyReader(ctx context.Context) (types.AuthKey, error) {
	var resp types.NewAuthKeyReaderResp
	if err := c.callJSON(ctx, types.MessageKindNewAuthKeyReader, types.Empty{}, &resp); err != nil {
		return types.AuthKey{}, err
	}
	return resp.Key, nil
}

func (c *TCPSourceConn) AuthenticateReader(ctx context.Context, key types.AuthKey) error {
	return c.callJSON(ctx, types.MessageKindAuthenticateReader, types.AuthenticateReaderReq{Key: key}, nil)
}

// AuthenticateWriter runs the two-step challenge exchange for channel.
func (c *TCPSourceConn) AuthenticateWriter(ctx context.Context, channel string, key ed25519.PrivateKey) error {
	var challenge types.AuthenticateWriter1Resp
	if err := c.callJSON(ctx, types.MessageKindAuthenticateWriter1, types.AuthenticateWriter1Req{Channel: channel}, &challenge); err != nil {
		return err
	}
	signature := ed25519.Sign(key, challenge.Challenge)
	return c.callJSON(ctx, types.MessageKindAuthenticateWriter2, types.AuthenticateWriter2Req{Signature: signature}, nil)
}

func (c *TCPSourceConn) Close() error {
	return c.fc.close()
}

var (
	_ ports.SourceDialerPort = TCPSourceDialer{}
	_ ports.SourceConnPort   = (*TCPSourceConn)(nil)
)
