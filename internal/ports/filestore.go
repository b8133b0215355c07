package ports

import (
	"context"
	"io"

	"fleet-rollout/internal/types"
)

type StoredFile interface {
	io.ReadSeekCloser
	io.ReaderAt
	Size() int64
}

type FileStorePort interface {
	Set(ctx context.Context, hash types.Hash, data []byte) error
	Get(ctx context.Context, hash types.Hash) (StoredFile, error)
	ReadAll(ctx context.Context, hash types.Hash) ([]byte, error)
	ReadPart(ctx context.Context, hash types.Hash, start uint64, length uint64) ([]byte, error)
}
