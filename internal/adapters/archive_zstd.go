package adapters

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"fleet-rollout/internal/ports"
	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// TarZstdArchive unpacks package payloads: tar streams, optionally zstd
// compressed.
type TarZstdArchive struct{}

func NewTarZstdArchive() TarZstdArchive {
	return TarZstdArchive{}
}

// Extract unpacks data into dest. Entries that would land outside dest are
// rejected.
func (TarZstdArchive) Extract(ctx context.Context, data []byte, dest string) error {
	var src io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(data, zstdMagic) {
		decoder, err := zstd.NewReader(src)
		if err != nil {
			return shared.KindErrorWithCause(types.ErrorRequest, "invalid zstd stream", err)
		}
		defer decoder.Close()
		src = decoder
	}
	root := filepath.Clean(dest)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return shared.KindErrorWithCause(types.ErrorInternal, "failed to create extraction directory", err)
	}

	reader := tar.NewReader(src)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return shared.KindErrorWithCause(types.ErrorRequest, "invalid tar stream", err)
		}
		target := filepath.Join(root, header.Name)
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return shared.KindError(types.ErrorRequest, fmt.Sprintf("archive entry %q escapes destination", header.Name))
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return shared.KindErrorWithCause(types.ErrorInternal, "failed to create directory", err)
			}
		case tar.TypeReg:
			if err := writeArchiveFile(target, reader, fs.FileMode(header.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			link := header.Linkname
			resolved := filepath.Join(filepath.Dir(target), link)
			if filepath.IsAbs(link) || !strings.HasPrefix(resolved, root+string(os.PathSeparator)) {
				return shared.KindError(types.ErrorRequest, fmt.Sprintf("archive symlink %q escapes destination", header.Name))
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return shared.KindErrorWithCause(types.ErrorInternal, "failed to create directory", err)
			}
			if err := os.Symlink(link, target); err != nil {
				return shared.KindErrorWithCause(types.ErrorInternal, "failed to create symlink", err)
			}
		default:
			// Devices, fifos and hard links have no place in a package.
		}
	}
}

func writeArchiveFile(target string, src io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return shared.KindErrorWithCause(types.ErrorInternal, "failed to create directory", err)
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return shared.KindErrorWithCause(types.ErrorInternal, "failed to create file", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return shared.KindErrorWithCause(types.ErrorInternal, "failed to write file", err)
	}
	if err := out.Close(); err != nil {
		return shared.KindErrorWithCause(types.ErrorInternal, "failed to close file", err)
	}
	return nil
}

// PackDir builds a zstd compressed tar of dir, the format Extract reads.
func (TarZstdArchive) PackDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	writer := tar.NewWriter(encoder)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		link := ""
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := writer.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(writer, f)
		return err
	})
	if err != nil {
		_ = encoder.Close()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ ports.ArchivePort = TarZstdArchive{}
