package shared

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "index.yaml")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o600))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestLinkFileOnce(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "blobs", "ab")

	first := filepath.Join(dir, "tmp-1")
	require.NoError(t, os.WriteFile(first, []byte("original"), 0o600))
	created, err := LinkFileOnce(first, target)
	require.NoError(t, err)
	assert.True(t, created)

	second := filepath.Join(dir, "tmp-2")
	require.NoError(t, os.WriteFile(second, []byte("other"), 0o600))
	created, err = LinkFileOnce(second, target)
	require.NoError(t, err)
	assert.False(t, created)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	_, err = os.Stat(first)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(second)
	assert.True(t, os.IsNotExist(err))
}
