package backend

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/cloudstore/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSigner struct {
	lastKey     string
	lastExpires time.Duration
}

func (f *fakeSigner) Sign(key string, expires time.Duration) (string, error) {
	f.lastKey = key
	f.lastExpires = expires
	return "tok/" + key, nil
}

func newLocal(t *testing.T) (*Local, string, *fakeSigner) {
	t.Helper()
	root := t.TempDir()
	s := &fakeSigner{}
	l, err := NewLocal(root, "http://files.example.com/", s)
	require.NoError(t, err)
	return l, root, s
}

func TestLocal_PutGetDelete(t *testing.T) {
	l, root, _ := newLocal(t)
	ctx := context.Background()

	v, err := l.Put(ctx, "folder/Task/T-042/report.pdf", []byte("hello"), "application/pdf")
	require.NoError(t, err)
	assert.Empty(t, v)

	onDisk, err := os.ReadFile(filepath.Join(root, "folder", "Task", "T-042", "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(onDisk))

	got, err := l.Get(ctx, "folder/Task/T-042/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	require.NoError(t, l.Delete(ctx, "folder/Task/T-042/report.pdf"))
	_, err = l.Get(ctx, "folder/Task/T-042/report.pdf")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestLocal_PutOverwrites(t *testing.T) {
	l, _, _ := newLocal(t)
	ctx := context.Background()

	_, err := l.Put(ctx, "a.txt", []byte("v1"), "")
	require.NoError(t, err)
	_, err = l.Put(ctx, "a.txt", []byte("v2"), "")
	require.NoError(t, err)

	got, err := l.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
}

func TestLocal_NoTempFilesLeft(t *testing.T) {
	l, root, _ := newLocal(t)
	_, err := l.Put(context.Background(), "x/y.bin", []byte{1, 2, 3}, "")
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "x"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "y.bin", entries[0].Name())
}

func TestLocal_DeleteMissing(t *testing.T) {
	l, _, _ := newLocal(t)
	err := l.Delete(context.Background(), "nope.txt")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestLocal_RejectsTraversal(t *testing.T) {
	l, root, _ := newLocal(t)
	ctx := context.Background()

	outside := filepath.Join(filepath.Dir(root), "escape.txt")
	t.Cleanup(func() { _ = os.Remove(outside) })

	cases := []string{
		"../escape.txt",
		"/private/files/../../escape.txt",
		outside,
		"",
	}
	for _, key := range cases {
		_, err := l.Put(ctx, key, []byte("x"), "")
		assert.True(t, common.IsPathError(err), "Put(%q) = %v", key, err)

		_, err = l.Get(ctx, key)
		assert.True(t, common.IsPathError(err), "Get(%q) = %v", key, err)

		err = l.Delete(ctx, key)
		assert.True(t, common.IsPathError(err), "Delete(%q) = %v", key, err)
	}

	_, err := os.Stat(outside)
	assert.True(t, os.IsNotExist(err))
}

func TestLocal_PresignGet(t *testing.T) {
	l, _, s := newLocal(t)

	u, err := l.PresignGet(context.Background(), "folder/a b.txt", 2*time.Minute)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(u, "http://files.example.com/blob?token="), u)
	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "tok/folder/a b.txt", parsed.Query().Get("token"))
	assert.Equal(t, "folder/a b.txt", s.lastKey)
	assert.Equal(t, 2*time.Minute, s.lastExpires)

	_, err = l.PresignGet(context.Background(), "folder/public.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, MaxPresignExpiry, s.lastExpires)

	_, err = l.PresignGet(context.Background(), "folder/public.txt", 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, MaxPresignExpiry, s.lastExpires)
}

func TestLocal_ContextCanceled(t *testing.T) {
	l, _, _ := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Put(ctx, "a.txt", []byte("x"), "")
	assert.ErrorIs(t, err, context.Canceled)
}
