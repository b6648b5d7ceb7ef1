package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triadwork/triad/pkg/errs"
)

func TestPutAndGetRoundTrip(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Put(ctx, "sess-1", "draft", "text/plain", []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "draft", ref.Label)
	assert.Equal(t, "text/plain", ref.ContentType)
	assert.Equal(t, int64(len("hello world")), ref.SizeBytes)
	assert.NotEmpty(t, ref.Digest)

	data, err := store.Get(ctx, "sess-1", ref.Digest)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestPutIsIdempotentForIdenticalContent(t *testing.T) {
	root := t.TempDir()
	store, err := NewFilesystemStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	ref1, err := store.Put(ctx, "sess-1", "draft", "text/plain", []byte("same content"))
	require.NoError(t, err)
	ref2, err := store.Put(ctx, "sess-1", "draft-again", "text/plain", []byte("same content"))
	require.NoError(t, err)

	assert.Equal(t, ref1.Digest, ref2.Digest, "identical bytes hash to the same digest")

	entries, err := os.ReadDir(filepath.Join(root, "sess-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the second Put does not re-write the file")
}

func TestPutRequiresSessionIDAndLabel(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, "", "draft", "text/plain", []byte("x"))
	assert.True(t, errs.IsValidationError(err))

	_, err = store.Put(ctx, "sess-1", "", "text/plain", []byte("x"))
	assert.True(t, errs.IsValidationError(err))
}

func TestGetUnknownDigestReturnsNotFound(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "sess-1", "deadbeef")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDeleteSessionRemovesAllArtifacts(t *testing.T) {
	root := t.TempDir()
	store, err := NewFilesystemStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Put(ctx, "sess-1", "draft", "text/plain", []byte("content"))
	require.NoError(t, err)

	require.NoError(t, store.DeleteSession(ctx, "sess-1"))

	_, err = store.Get(ctx, "sess-1", ref.Digest)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, statErr := os.Stat(filepath.Join(root, "sess-1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeleteSessionOnMissingDirectoryIsNotAnError(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, store.DeleteSession(context.Background(), "never-existed"))
}
