package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/storage/local"
)

func TestPutObjectWritesFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out")
	store, err := local.New(dir)
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "runs/final.csv", "text/csv", []byte("Name\nAce\n"))
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(uri))

	data, err := os.ReadFile(uri)
	require.NoError(t, err)
	require.Equal(t, "Name\nAce\n", string(data))
}

func TestPutObjectRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := local.New(t.TempDir())
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "../escape.csv", "text/csv", nil)
	require.Error(t, err)
	_, err = store.PutObject(context.Background(), "  ", "text/csv", nil)
	require.Error(t, err)
}

func TestNewRejectsBadDirectories(t *testing.T) {
	t.Parallel()

	_, err := local.New("")
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = local.New(file)
	require.Error(t, err)
}
