package swarm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/esavier/dragit/payload"
)

func TestHashPayloadComputesSizeAndHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi\n"), 0o644))

	pool := NewWorkerPool(2)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res := <-pool.HashPayload(ctx, payload.NewFile(path))
	require.NoError(t, res.Err)
	require.Equal(t, uint64(3), res.Size)
	require.Equal(t, "55ca6286e3e4f4fba5d0448333fa99fc5a404a73", res.Hash)
}

func TestArchiveDirectoryProducesZipPayload(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.txt"), []byte("one"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.txt"), []byte("two"), 0o644))

	pool := NewWorkerPool(2)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res := <-pool.ArchiveDirectory(ctx, dir)
	require.NoError(t, res.Err)
	defer res.Payload.Close()

	size, err := res.Payload.TotalSize()
	require.NoError(t, err)
	require.Greater(t, size, uint64(0))
}

func TestRunGroupPropagatesFirstError(t *testing.T) {
	pool := NewWorkerPool(2)
	sentinel := context.Canceled

	err := pool.RunGroup(context.Background(),
		func(context.Context) error { return nil },
		func(context.Context) error { return sentinel },
	)
	require.ErrorIs(t, err, sentinel)
}
