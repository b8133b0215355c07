package core

import (
	"encoding/binary"
	"fmt"

	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

// ChunkPrefixSize is the length of the total-file-length prefix carried by
// every chunk response.
const ChunkPrefixSize = 8

// EncodeChunk builds a chunk response for data[start:start+length]. A
// request past the end of data fails with StartUnreachable; a request for
// more than remains returns the remainder.
func EncodeChunk(data []byte, start uint64, length uint64) ([]byte, error) {
	total := uint64(len(data))
	if start > total {
		return nil, shared.KindError(types.ErrorStartUnreachable, fmt.Sprintf("start %d beyond length %d", start, total))
	}
	end := total
	if remaining := total - start; length < remaining {
		end = start + length
	}
	out := make([]byte, ChunkPrefixSize+int(end-start))
	binary.BigEndian.PutUint64(out, total)
	copy(out[ChunkPrefixSize:], data[start:end])
	return out, nil
}

// ChunkHeader returns the prefix for a chunk taken from a file of size
// total. Used when streaming a chunk straight from disk.
func ChunkHeader(total uint64) []byte {
	out := make([]byte, ChunkPrefixSize)
	binary.BigEndian.PutUint64(out, total)
	return out
}

// DecodeChunk splits a chunk response into total length and payload.
func DecodeChunk(body []byte) (uint64, []byte, error) {
	if len(body) < ChunkPrefixSize {
		return 0, nil, shared.KindError(types.ErrorRequest, fmt.Sprintf("chunk of %d bytes is shorter than its prefix", len(body)))
	}
	return binary.BigEndian.Uint64(body[:ChunkPrefixSize]), body[ChunkPrefixSize:], nil
}
