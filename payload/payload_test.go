package payload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilePayloadHashAndSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi\n"), 0o644))

	p := NewFile(path)
	require.Equal(t, KindFile, p.Kind())

	size, err := p.TotalSize()
	require.NoError(t, err)
	require.EqualValues(t, 3, size)

	hash, err := p.Hash()
	require.NoError(t, err)
	require.Equal(t, "55ca6286e3e4f4fba5d0448333fa99fc5a404a73", hash)

	require.NoError(t, p.Close())
}

func TestArchivePayloadZipsDirectory(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b.txt"), []byte("b"), 0o644))

	p, err := NewArchive(src)
	require.NoError(t, err)
	require.Equal(t, KindDirectory, p.Kind())
	defer p.Close()

	size, err := p.TotalSize()
	require.NoError(t, err)
	require.Greater(t, size, uint64(0))

	h1, err := p.Hash()
	require.NoError(t, err)

	// Hashing twice must be stable (same bytes, no re-zip).
	h2, err := p.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	require.NoError(t, p.Close())
	_, statErr := os.Stat(p.Path)
	require.True(t, os.IsNotExist(statErr))
}
