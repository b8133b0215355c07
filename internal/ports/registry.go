package ports

import (
	"context"

	"fleet-rollout/internal/types"
)

type RegistryPort interface {
	GetPackage(ctx context.Context, query types.PackageQuery) (*types.PackageEntry, error)
	PushPackage(ctx context.Context, channel string, entry types.PackageEntry) error
	ChangeWhitelist(ctx context.Context, channel string, arch types.Arch, name string, hash types.Hash, change types.WhitelistChange) (bool, error)
	Entries(ctx context.Context, channel string, arch types.Arch, name string) ([]types.PackageEntry, error)
}

type ReaderKeyPort interface {
	NewKey(ctx context.Context) (types.AuthKey, error)
	Contains(ctx context.Context, key types.AuthKey) (bool, error)
}
