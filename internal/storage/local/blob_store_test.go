package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStore_PutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blobs, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := blobs.PutObject(context.Background(), "stores/s1.json", "application/json", []byte(`{"id":"s1"}`))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "stores", "s1.json"), uri)

	data, err := os.ReadFile(filepath.Join(dir, "stores", "s1.json"))
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"s1"}`, string(data))
}

func TestBlobStore_PutObject_RejectsTraversal(t *testing.T) {
	t.Parallel()

	blobs, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = blobs.PutObject(context.Background(), "../escape.json", "application/json", []byte("{}"))
	require.ErrorContains(t, err, "path traversal")

	_, err = blobs.PutObject(context.Background(), "  ", "application/json", []byte("{}"))
	require.Error(t, err)
}

func TestNew_CreatesBaseDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "archive")
	_, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNew_RequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
