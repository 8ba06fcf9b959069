package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/cloudstore/internal/common"
	"github.com/dmitrijs2005/cloudstore/internal/server/safepath"
)

// Local keeps blobs beneath a root directory. Every key is resolved through
// safepath before any filesystem access.
type Local struct {
	root          string
	publicBaseURL string
	signer        Signer
}

func NewLocal(root, publicBaseURL string, signer Signer) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("local root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create local root: %w", err)
	}
	return &Local{
		root:          abs,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		signer:        signer,
	}, nil
}

func (l *Local) path(key string) (string, error) {
	p, err := safepath.Resolve(l.root, key)
	if err != nil {
		return "", err
	}
	if p == l.root {
		return "", &common.PathError{Path: key, Reason: "key resolves to storage root"}
	}
	return p, nil
}

// Put writes body to a temp file in the target directory, syncs it and
// renames it into place.
func (l *Local) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	p, err := l.path(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(body); err != nil {
		cleanup()
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", fmt.Errorf("sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("rename %s: %w", key, err)
	}
	return "", nil
}

func (l *Local) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, common.ErrorNotFound
	}
	return b, err
}

func (l *Local) Delete(ctx context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return common.ErrorNotFound
	}
	return err
}

// PresignGet returns a link to the blob endpoint carrying a signed token.
// Lifetimes are capped at MaxPresignExpiry like S3 links; expires <= 0
// yields the maximum.
func (l *Local) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	if _, err := l.path(key); err != nil {
		return "", err
	}
	if expires <= 0 || expires > MaxPresignExpiry {
		expires = MaxPresignExpiry
	}
	tok, err := l.signer.Sign(key, expires)
	if err != nil {
		return "", err
	}
	return l.publicBaseURL + common.BlobPath + "?token=" + url.QueryEscape(tok), nil
}
