package ports

import (
	"context"

	"fleet-rollout/internal/types"
)

type BootloaderPort interface {
	Disks(ctx context.Context) ([]types.Disk, error)
	InstallOn(ctx context.Context, name string) error
	Update(ctx context.Context, imagePath string, version types.PackageVersion) error
	ImageVersion(ctx context.Context) (*types.PackageVersion, error)
	Restart(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

type PackageMetaPort interface {
	List(ctx context.Context) ([]string, error)
	Load(ctx context.Context, name string) (*types.PackageMeta, error)
	StagingDir(ctx context.Context, name string) (string, error)
	Commit(ctx context.Context, name string, staging string, meta types.PackageMeta) error
	SlotDir(name string, slot types.Slot) string
}

type ArchivePort interface {
	Extract(ctx context.Context, data []byte, dest string) error
}

type SourcesPort interface {
	Load(ctx context.Context) (types.SourcesFile, error)
	Save(ctx context.Context, file types.SourcesFile) error
}
