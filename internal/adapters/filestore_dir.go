package adapters

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"fleet-rollout/internal/core"
	"fleet-rollout/internal/ports"
	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

const (
	blobDir = "blobs"
	tempDir = "tmp"
)

// FileStoreDirAdapter stores immutable blobs named by their content hash
// under Dir/blobs/<first byte>/<hash>.
type FileStoreDirAdapter struct {
	Dir string
	mu  sync.RWMutex
}

func NewFileStoreDirAdapter(dir string) (*FileStoreDirAdapter, error) {
	for _, sub := range []string{blobDir, tempDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to create file store directory").
				WithCause(err)
		}
	}
	return &FileStoreDirAdapter{Dir: dir}, nil
}

func (a *FileStoreDirAdapter) blobPath(hash types.Hash) string {
	name := hash.String()
	return filepath.Join(a.Dir, blobDir, name[:2], name)
}

// Set stores data under hash unless a blob with that hash exists already.
// The hash is trusted; callers verify it upstream.
func (a *FileStoreDirAdapter) Set(ctx context.Context, hash types.Hash, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := a.blobPath(hash)
	a.mu.RLock()
	_, statErr := os.Stat(path)
	a.mu.RUnlock()
	if statErr == nil {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Join(a.Dir, tempDir), "blob-*")
	if err != nil {
		return internalStoreError("failed to create temporary blob", err)
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return internalStoreError("failed to write temporary blob", err)
	}
	if err := os.Chmod(tmpName, 0o444); err != nil {
		_ = os.Remove(tmpName)
		return internalStoreError("failed to seal temporary blob", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := shared.LinkFileOnce(tmpName, path); err != nil {
		return internalStoreError("failed to publish blob", err)
	}
	return nil
}

type storedFile struct {
	*os.File
	size int64
}

func (f storedFile) Size() int64 { return f.size }

// Get opens the blob for reading.
func (a *FileStoreDirAdapter) Get(ctx context.Context, hash types.Hash) (ports.StoredFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, err := os.Open(a.blobPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, shared.KindError(types.ErrorFileNotFound, hash.String())
		}
		return nil, internalStoreError("failed to open blob", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, internalStoreError("failed to stat blob", err)
	}
	return storedFile{File: f, size: info.Size()}, nil
}

func (a *FileStoreDirAdapter) ReadAll(ctx context.Context, hash types.Hash) ([]byte, error) {
	f, err := a.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, internalStoreError("failed to read blob", err)
	}
	return data, nil
}

// ReadPart returns an encoded chunk: the 8-byte total length followed by
// up to length bytes from start.
func (a *FileStoreDirAdapter) ReadPart(ctx context.Context, hash types.Hash, start uint64, length uint64) ([]byte, error) {
	f, err := a.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	total := uint64(f.Size())
	if start > total {
		return nil, shared.KindError(types.ErrorStartUnreachable, fmt.Sprintf("start %d beyond length %d", start, total))
	}
	n := total - start
	if length < n {
		n = length
	}
	out := make([]byte, core.ChunkPrefixSize+int(n))
	copy(out, core.ChunkHeader(total))
	if n > 0 {
		if _, err := f.ReadAt(out[core.ChunkPrefixSize:], int64(start)); err != nil && err != io.EOF {
			return nil, internalStoreError("failed to read blob part", err)
		}
	}
	return out, nil
}

func internalStoreError(msg string, err error) error {
	return shared.KindErrorWithCause(types.ErrorInternal, msg, err)
}

var _ ports.FileStorePort = (*FileStoreDirAdapter)(nil)
