package adapters

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

const (
	// UnauthenticatedBodyLimit bounds frames before a session authenticates.
	UnauthenticatedBodyLimit = 64 << 10
	// AuthenticatedBodyLimit bounds frames once a reader or writer
	// authenticated.
	AuthenticatedBodyLimit = 64 << 20
	// clientBodyLimit leaves room for the cipher overhead and chunk prefix.
	clientBodyLimit = AuthenticatedBodyLimit + 1024
)

func EncodeHeader(h types.Header) []byte {
	buf := make([]byte, types.HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Length)
	buf[4] = h.Flags
	binary.BigEndian.PutUint32(buf[5:9], h.CorrelationID)
	binary.BigEndian.PutUint16(buf[9:11], uint16(h.Kind))
	return buf
}

func DecodeHeader(buf []byte) (types.Header, error) {
	if len(buf) != types.HeaderSize {
		return types.Header{}, fmt.Errorf("header is %d bytes, want %d", len(buf), types.HeaderSize)
	}
	return types.Header{
		Length:        binary.BigEndian.Uint32(buf[0:4]),
		Flags:         buf[4],
		CorrelationID: binary.BigEndian.Uint32(buf[5:9]),
		Kind:          types.MessageKind(binary.BigEndian.Uint16(buf[9:11])),
	}, nil
}

// WriteFrame writes header and body in one call. Length is taken from the
// body.
func WriteFrame(w io.Writer, frame types.Frame) error {
	frame.Header.Length = uint32(len(frame.Body))
	buf := append(EncodeHeader(frame.Header), frame.Body...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame. A body longer than limit is a request error;
// the body is not consumed, so the connection must be dropped afterwards.
func ReadFrame(r io.Reader, limit uint32) (types.Frame, error) {
	headerBuf := make([]byte, types.HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return types.Frame{}, err
	}
	header, err := DecodeHeader(headerBuf)
	if err != nil {
		return types.Frame{}, err
	}
	if header.Length > limit {
		return types.Frame{Header: header}, shared.KindError(types.ErrorRequest,
			fmt.Sprintf("body of %d bytes exceeds limit %d", header.Length, limit))
	}
	body := make([]byte, header.Length)
	if _, err := io.ReadFull(r, body); err != nil {
		return types.Frame{}, err
	}
	return types.Frame{Header: header, Body: body}, nil
}

func EncodeBody(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, shared.KindErrorWithCause(types.ErrorInternal, "failed to encode message body", err)
	}
	return body, nil
}

func DecodeBody(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return shared.KindError(types.ErrorRequest, fmt.Sprintf("malformed message body: %v", err))
	}
	return nil
}

// frameConn moves frames over one connection, sealing bodies once a
// cipher is installed.
type frameConn struct {
	conn   net.Conn
	reader *bufio.Reader
	cipher *FrameCipher
}

func newFrameConn(conn net.Conn) *frameConn {
	return &frameConn{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *frameConn) send(kind types.MessageKind, correlationID uint32, flags uint8, body []byte) error {
	if c.cipher != nil {
		body = c.cipher.Seal(body)
		flags |= types.FlagEncrypted
	}
	return WriteFrame(c.conn, types.Frame{
		Header: types.Header{Flags: flags, CorrelationID: correlationID, Kind: kind},
		Body:   body,
	})
}

func (c *frameConn) receive(limit uint32) (types.Frame, error) {
	if c.cipher != nil {
		limit += uint32(c.cipher.Overhead())
	}
	frame, err := ReadFrame(c.reader, limit)
	if err != nil {
		return frame, err
	}
	encrypted := frame.Header.Flags&types.FlagEncrypted != 0
	switch {
	case c.cipher == nil && encrypted:
		return frame, shared.KindError(types.ErrorRequest, "encrypted frame before handshake")
	case c.cipher != nil && !encrypted:
		return frame, shared.KindError(types.ErrorRequest, "plaintext frame after handshake")
	case c.cipher != nil:
		plain, ok := c.cipher.Open(frame.Body)
		if !ok {
			return frame, shared.KindError(types.ErrorRequest, "frame failed to decrypt")
		}
		frame.Body = plain
		frame.Header.Flags &^= types.FlagEncrypted
	}
	return frame, nil
}

func (c *frameConn) close() error {
	return c.conn.Close()
}
