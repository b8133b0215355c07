package app

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/rs/zerolog/log"

	"fleet-rollout/internal/adapters"
	"fleet-rollout/internal/ports"
	"fleet-rollout/internal/types"
)

// Service runs the writer side operations against a rollout server:
// publishing, whitelist changes and reader key issue.
type Service struct {
	Dialer  ports.SourceDialerPort
	Archive adapters.TarZstdArchive
}

func NewService(dialTimeout time.Duration) Service {
	return Service{
		Dialer:  adapters.NewTCPSourceDialer(dialTimeout),
		Archive: adapters.NewTarZstdArchive(),
	}
}

// writerConn dials the server and authenticates as writer of channel.
func (s Service) writerConn(ctx context.Context, server ServerTarget, channel string) (ports.SourceConnPort, error) {
	conn, err := s.Dialer.Dial(ctx, types.SourceConfig{Address: server.Address, ConnectionKey: server.ConnectionKey})
	if err != nil {
		return nil, err
	}
	if err := conn.AuthenticateWriter(ctx, channel, server.SigningKey); err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Ctx(ctx).Debug().Str("server", server.Address).Str("channel", channel).Msg("authenticated as writer")
	return conn, nil
}

// ServerTarget is where writer operations are sent and the key they are
// authorized with.
type ServerTarget struct {
	Address       string
	ConnectionKey types.HexBytes
	SigningKey    ed25519.PrivateKey
}
