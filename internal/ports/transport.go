package ports

import (
	"context"
	"crypto/ed25519"

	"fleet-rollout/internal/types"
)

// MessageHandler serves decoded requests for the server transport.
type MessageHandler interface {
	OpenSession(remote string) *types.Session
	Handle(ctx context.Context, session *types.Session, kind types.MessageKind, body []byte) ([]byte, error)
	CloseSession(session *types.Session)
}

type SourceDialerPort interface {
	Dial(ctx context.Context, source types.SourceConfig) (SourceConnPort, error)
}

type SourceConnPort interface {
	PackageInfo(ctx context.Context, req types.PackageInfoReq) (*types.PackageVersion, error)
	GetFile(ctx context.Context, hash types.Hash) ([]byte, error)
	GetFilePart(ctx context.Context, req types.GetFilePartReq) ([]byte, error)
	SetPackageInfo(ctx context.Context, req types.SetPackageInfoReq) error
	SetFile(ctx context.Context, hash types.Hash, data []byte) error
	ChangeWhitelist(ctx context.Context, req types.ChangeWhitelistReq) (bool, error)
	NewAuthKeyReader(ctx context.Context) (types.AuthKey, error)
	AuthenticateReader(ctx context.Context, key types.AuthKey) error
	AuthenticateWriter(ctx context.Context, channel string, key ed25519.PrivateKey) error
	Close() error
}
