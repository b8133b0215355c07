package core

import (
	"fmt"

	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

// DefaultPartSize is the chunk length requested when none is configured.
const DefaultPartSize = 1 << 20

// GetFileBuilder assembles a file from consecutive chunk responses. Each
// request starts where the accumulated bytes end, so a builder can resume
// against a different source holding the same content.
type GetFileBuilder struct {
	hash     types.Hash
	partSize uint64
	data     []byte
	total    uint64
	known    bool
}

func NewGetFileBuilder(hash types.Hash, partSize uint64) *GetFileBuilder {
	if partSize == 0 {
		partSize = DefaultPartSize
	}
	return &GetFileBuilder{hash: hash, partSize: partSize}
}

func (b *GetFileBuilder) Hash() types.Hash { return b.hash }

// NextRequest returns the chunk request that continues the download.
func (b *GetFileBuilder) NextRequest() types.GetFilePartReq {
	return types.GetFilePartReq{Hash: b.hash, Start: uint64(len(b.data)), Len: b.partSize}
}

// Append adds a chunk response. The reported total must not change between
// chunks and a chunk may only be empty once the file is complete.
func (b *GetFileBuilder) Append(body []byte) error {
	total, payload, err := DecodeChunk(body)
	if err != nil {
		return err
	}
	if b.known && total != b.total {
		return shared.KindError(types.ErrorRequest, fmt.Sprintf("file %s changed length from %d to %d", b.hash, b.total, total))
	}
	received := uint64(len(b.data))
	if received+uint64(len(payload)) > total {
		return shared.KindError(types.ErrorRequest, fmt.Sprintf("file %s chunk overruns length %d", b.hash, total))
	}
	if len(payload) == 0 && received < total {
		return shared.KindError(types.ErrorRequest, fmt.Sprintf("file %s returned an empty chunk at %d of %d", b.hash, received, total))
	}
	b.total = total
	b.known = true
	b.data = append(b.data, payload...)
	return nil
}

// Done reports whether the whole file has been received.
func (b *GetFileBuilder) Done() bool {
	return b.known && uint64(len(b.data)) >= b.total
}

func (b *GetFileBuilder) Received() uint64 { return uint64(len(b.data)) }

// Total returns the reported file length once the first chunk arrived.
func (b *GetFileBuilder) Total() (uint64, bool) { return b.total, b.known }

func (b *GetFileBuilder) Bytes() []byte { return b.data }
