package core

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

func TestGetFileBuilderRoundTrips(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		partSize  uint64
		wantTrips int
	}{
		{name: "exact multiple", size: 4096, partSize: 1024, wantTrips: 4},
		{name: "partial last chunk", size: 4097, partSize: 1024, wantTrips: 5},
		{name: "single chunk", size: 10, partSize: 1024, wantTrips: 1},
		{name: "one byte parts", size: 7, partSize: 1, wantTrips: 7},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			data := bytes.Repeat([]byte{0xAB, 0x01, 0x7F}, tt.size/3+1)[:tt.size]
			builder := NewGetFileBuilder(ContentHash(data), tt.partSize)

			trips := 0
			for !builder.Done() {
				req := builder.NextRequest()
				body, err := EncodeChunk(data, req.Start, req.Len)
				require.NoError(t, err)
				require.NoError(t, builder.Append(body))
				trips++
				require.LessOrEqual(t, trips, tt.wantTrips)
			}

			assert.Equal(t, tt.wantTrips, trips)
			assert.Equal(t, data, builder.Bytes())
			assert.Equal(t, ContentHash(data), ContentHash(builder.Bytes()))
			total, known := builder.Total()
			assert.True(t, known)
			assert.Equal(t, uint64(tt.size), total)
		})
	}
}

func TestGetFileBuilderEmptyFile(t *testing.T) {
	builder := NewGetFileBuilder(ContentHash(nil), 16)
	assert.False(t, builder.Done())

	body, err := EncodeChunk(nil, 0, 16)
	require.NoError(t, err)
	require.NoError(t, builder.Append(body))
	assert.True(t, builder.Done())
	assert.Empty(t, builder.Bytes())
}

func TestGetFileBuilderRejectsInconsistentChunks(t *testing.T) {
	data := []byte("abcdefgh")

	t.Run("total changes", func(t *testing.T) {
		builder := NewGetFileBuilder(ContentHash(data), 4)
		first, err := EncodeChunk(data, 0, 4)
		require.NoError(t, err)
		require.NoError(t, builder.Append(first))

		other, err := EncodeChunk(append(data, 'x'), 4, 4)
		require.NoError(t, err)
		err = builder.Append(other)
		require.Error(t, err)
		assert.Equal(t, types.ErrorRequest, shared.KindOf(err))
	})

	t.Run("empty chunk before completion", func(t *testing.T) {
		builder := NewGetFileBuilder(ContentHash(data), 4)
		err := builder.Append(ChunkHeader(uint64(len(data))))
		require.Error(t, err)
		assert.Equal(t, uint64(0), builder.Received())
	})
}

func TestNewGetFileBuilderDefaultsPartSize(t *testing.T) {
	builder := NewGetFileBuilder(types.Hash{}, 0)
	assert.Equal(t, uint64(DefaultPartSize), builder.NextRequest().Len)
}
