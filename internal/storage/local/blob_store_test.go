package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitesearch-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates missing directory", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "archive", "pages")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		require.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	})

	t.Run("blank base dir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{BaseDir: " "})
		require.Error(t, err)
	})

	t.Run("base dir is a file", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "snapshot.html")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("nested path", func(t *testing.T) {
		data := []byte("<html>snapshot</html>")
		uri, err := store.PutObject(ctx, "snapshots/ab/cd.html", "text/html", data)
		require.NoError(t, err)
		require.Equal(t, "file://"+filepath.Join(dir, "snapshots/ab/cd.html"), uri)

		// #nosec G304 -- test reads from its own temp directory.
		got, err := os.ReadFile(filepath.Join(dir, "snapshots/ab/cd.html"))
		require.NoError(t, err)
		require.Equal(t, data, got)
	})

	t.Run("blank path", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/html", []byte("x"))
		require.Error(t, err)
	})

	t.Run("path traversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../outside.html", "text/html", []byte("x"))
		require.Error(t, err)
	})
}
