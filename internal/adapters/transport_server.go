package adapters

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"fleet-rollout/internal/ports"
	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

type TCPServerConfig struct {
	Listen         string
	ConnectionKey  *[32]byte
	MaxConnections int64
	RateLimit      float64
	RateBurst      int
	IdleTimeout    time.Duration
}

// TCPServer accepts connections and feeds their frames, one at a time,
// to a MessageHandler.
type TCPServer struct {
	cfg       TCPServerConfig
	handler   ports.MessageHandler
	metrics   ports.MetricsPort
	publicKey *[32]byte

	mu       sync.Mutex
	listener net.Listener
}

func NewTCPServer(cfg TCPServerConfig, handler ports.MessageHandler, metrics ports.MetricsPort) (*TCPServer, error) {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 256
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 200
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 400
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	s := &TCPServer{cfg: cfg, handler: handler, metrics: metrics}
	if cfg.ConnectionKey != nil {
		pub, err := ConnectionPublicKey(cfg.ConnectionKey)
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("invalid connection key").
				WithCause(err)
		}
		s.publicKey = pub
	}
	return s, nil
}

// Listen binds the configured address and returns the bound address.
func (s *TCPServer) Listen() (net.Addr, error) {
	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("failed to listen on " + s.cfg.Listen).
			WithCause(err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return listener.Addr(), nil
}

// Serve accepts connections until ctx is cancelled. Listen is called
// first when it has not been.
func (s *TCPServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
		listener = s.listener
	}
	log.Info().Str("addr", listener.Addr().String()).Bool("encrypted", s.publicKey != nil).Msg("rollout server listening")

	sem := semaphore.NewWeighted(s.cfg.MaxConnections)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-groupCtx.Done()
		return listener.Close()
	})
	group.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if groupCtx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return errbuilder.New().
					WithCode(errbuilder.CodeInternal).
					WithMsg("accept failed").
					WithCause(err)
			}
			if err := sem.Acquire(groupCtx, 1); err != nil {
				_ = conn.Close()
				return nil
			}
			group.Go(func() error {
				defer sem.Release(1)
				s.serveConn(groupCtx, conn)
				return nil
			})
		}
	})
	return group.Wait()
}

func (s *TCPServer) serveConn(ctx context.Context, conn net.Conn) {
	fc := newFrameConn(conn)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer fc.close()

	session := s.handler.OpenSession(conn.RemoteAddr().String())
	s.metrics.SessionOpened()
	defer func() {
		s.handler.CloseSession(session)
		s.metrics.SessionClosed()
	}()
	logger := log.With().Str("session", session.ID.String()).Str("remote", session.Remote).Logger()
	connCtx := logger.WithContext(ctx)
	limiter := rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		frame, err := fc.receive(session.BodyLimit)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			if shared.KindOf(err) == types.ErrorRequest {
				logger.Warn().Err(err).Msg("dropping connection")
				s.sendError(fc, frame.Header, err)
			} else {
				logger.Debug().Err(err).Msg("connection closed")
			}
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		if frame.Header.Kind == types.MessageKindHandshake {
			if err := s.handshake(fc, frame); err != nil {
				logger.Warn().Err(err).Msg("handshake failed")
				s.sendError(fc, frame.Header, err)
				return
			}
			continue
		}
		if s.publicKey != nil && fc.cipher == nil {
			s.sendError(fc, frame.Header, shared.KindError(types.ErrorRequest, "handshake required"))
			return
		}

		resp, err := s.handler.Handle(connCtx, session, frame.Header.Kind, frame.Body)
		if err != nil {
			s.metrics.ObserveRequest(frame.Header.Kind, string(shared.KindOf(err)))
			logger.Debug().Err(err).Str("kind", frame.Header.Kind.String()).Msg("request failed")
			if err := s.sendError(fc, frame.Header, err); err != nil {
				return
			}
			continue
		}
		s.metrics.ObserveRequest(frame.Header.Kind, "ok")
		s.metrics.AddBytesServed(len(resp))
		if err := fc.send(frame.Header.Kind, frame.Header.CorrelationID, 0, resp); err != nil {
			logger.Debug().Err(err).Msg("write failed")
			return
		}
	}
}

// handshake installs the connection cipher from the client's ephemeral
// public key. The acknowledgement is the last plaintext frame.
func (s *TCPServer) handshake(fc *frameConn, frame types.Frame) error {
	if s.publicKey == nil {
		return shared.KindError(types.ErrorRequest, "server has no connection key")
	}
	if fc.cipher != nil {
		return shared.KindError(types.ErrorRequest, "handshake already done")
	}
	var req types.HandshakeReq
	if err := DecodeBody(frame.Body, &req); err != nil {
		return err
	}
	if len(req.PublicKey) != 32 {
		return shared.KindError(types.ErrorRequest, "client public key must be 32 bytes")
	}
	var theirs [32]byte
	copy(theirs[:], req.PublicKey)
	cipher, err := NewFrameCipher(s.publicKey, s.cfg.ConnectionKey, &theirs)
	if err != nil {
		return shared.KindError(types.ErrorRequest, "invalid client public key")
	}
	ack, err := EncodeBody(types.Empty{})
	if err != nil {
		return err
	}
	if err := fc.send(types.MessageKindHandshake, frame.Header.CorrelationID, 0, ack); err != nil {
		return err
	}
	fc.cipher = cipher
	return nil
}

func (s *TCPServer) sendError(fc *frameConn, header types.Header, cause error) error {
	body, err := EncodeBody(shared.WireErrorOf(cause))
	if err != nil {
		return err
	}
	return fc.send(header.Kind, header.CorrelationID, types.FlagError, body)
}
