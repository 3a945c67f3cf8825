package blob

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nowtrending/nowtrending/internal/config"
)

// storeContract runs the behaviour every backend must share.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "now-trending/trends.json")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "now-trending/trends.json", []byte(`{"v":1}`), "application/json"))
	require.NoError(t, s.Put(ctx, "now-trending/other.json", []byte(`{}`), "application/json"))
	require.NoError(t, s.Put(ctx, "elsewhere/x.json", []byte(`{}`), "application/json"))

	data, err := s.Get(ctx, "now-trending/trends.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(data))

	// overwrite
	require.NoError(t, s.Put(ctx, "now-trending/trends.json", []byte(`{"v":2}`), "application/json"))
	data, err = s.Get(ctx, "now-trending/trends.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))

	objs, err := s.List(ctx, "now-trending/trends")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "now-trending/trends.json", objs[0].Key)
	assert.Equal(t, int64(len(`{"v":2}`)), objs[0].Size)

	objs, err = s.List(ctx, "now-trending/")
	require.NoError(t, err)
	assert.Len(t, objs, 2)

	require.NoError(t, s.Delete(ctx, "now-trending/other.json"))
	objs, err = s.List(ctx, "now-trending/")
	require.NoError(t, err)
	assert.Len(t, objs, 1)

	err = s.Put(ctx, "../escape", []byte("x"), "")
	require.Error(t, err)
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, CodeInvalidKey, be.Code)
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestFSStore(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	storeContract(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	defer s.Close()
	storeContract(t, s)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemoryStore()
	assert.ErrorIs(t, s.Put(ctx, "k", nil, ""), context.Canceled)
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateKey(t *testing.T) {
	valid := []string{"a", "a/b.json", "now-trending/trends.json"}
	for _, k := range valid {
		assert.NoError(t, validateKey(k), k)
	}
	invalid := []string{"", "/abs", "a/", "a//b", "../x", "a/../../x", "./a"}
	for _, k := range invalid {
		assert.Error(t, validateKey(k), k)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.BlobConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, config.BlobConfig{Type: "fs", Root: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FSStore{}, s)

	_, err = Open(ctx, config.BlobConfig{Type: "minio"})
	assert.Error(t, err)

	_, err = Open(ctx, config.BlobConfig{Type: "ftp"})
	assert.Error(t, err)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(wrapError(CodeWriteFailed, true, errors.New("boom"))))
	assert.False(t, IsRetryable(wrapError(CodeObjectNotFound, false, ErrNotFound)))
	assert.False(t, IsRetryable(errors.New("plain")))
}
