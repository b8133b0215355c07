package adapters

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-rollout/internal/core"
	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStoreDirAdapter(t.TempDir())
	require.NoError(t, err)
	data := bytes.Repeat([]byte("rollout"), 1000)
	hash := core.ContentHash(data)

	require.NoError(t, store.Set(t.Context(), hash, data))
	got, err := store.ReadAll(t.Context(), hash)
	require.NoError(t, err)
	assert.Equal(t, hash, core.ContentHash(got))
}

func TestFileStoreSetIsWriteOnce(t *testing.T) {
	store, err := NewFileStoreDirAdapter(t.TempDir())
	require.NoError(t, err)
	data := []byte("first")
	hash := core.ContentHash(data)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Set(t.Context(), hash, data))
		}()
	}
	wg.Wait()

	require.NoError(t, store.Set(t.Context(), hash, []byte("second")))
	got, err := store.ReadAll(t.Context(), hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFileStoreNotFound(t *testing.T) {
	store, err := NewFileStoreDirAdapter(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(t.Context(), types.Hash{1})
	require.Error(t, err)
	assert.Equal(t, types.ErrorFileNotFound, shared.KindOf(err))

	_, err = store.ReadPart(t.Context(), types.Hash{1}, 0, 10)
	assert.Equal(t, types.ErrorFileNotFound, shared.KindOf(err))
}

func TestFileStoreReadPart(t *testing.T) {
	store, err := NewFileStoreDirAdapter(t.TempDir())
	require.NoError(t, err)
	data := []byte("0123456789")
	hash := core.ContentHash(data)
	require.NoError(t, store.Set(t.Context(), hash, data))

	tests := []struct {
		name    string
		start   uint64
		length  uint64
		want    string
		wantErr types.ErrorKind
	}{
		{name: "middle", start: 3, length: 4, want: "3456"},
		{name: "remainder", start: 7, length: 50, want: "789"},
		{name: "zero length", start: 0, length: 0, want: ""},
		{name: "end", start: 10, length: 1, want: ""},
		{name: "past end", start: 11, length: 1, wantErr: types.ErrorStartUnreachable},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			body, err := store.ReadPart(t.Context(), hash, tt.start, tt.length)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, shared.KindOf(err))
				return
			}
			require.NoError(t, err)
			total, payload, err := core.DecodeChunk(body)
			require.NoError(t, err)
			assert.Equal(t, uint64(10), total)
			assert.Equal(t, tt.want, string(payload))
		})
	}
}
