// Package backend stores and retrieves blobs by storage key on either the
// local filesystem or an S3-compatible object store, and issues presigned
// GET URLs for them.
package backend

import (
	"context"
	"time"

	"github.com/dmitrijs2005/cloudstore/internal/logging"
	"github.com/dmitrijs2005/cloudstore/internal/server/config"
)

// Backend is the storage surface the services depend on.
type Backend interface {
	// Put stores body at key and returns the object version id when the
	// store is versioned.
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. A missing key is common.ErrorNotFound.
	Delete(ctx context.Context, key string) error
	// PresignGet returns a time-limited GET URL. expires <= 0 asks for the
	// longest lifetime the store supports.
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
}

// Signer signs storage keys for local blob links.
type Signer interface {
	Sign(storageKey string, expires time.Duration) (string, error)
}

// New selects the backend for cfg once at startup and wraps it with retries.
// cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, signer Signer, logger logging.Logger) (Backend, error) {
	var (
		b   Backend
		err error
	)
	if cfg.UseLocal {
		b, err = NewLocal(cfg.LocalRoot, cfg.PublicBaseURL, signer)
	} else {
		b, err = NewS3(ctx, S3Options{
			EndpointURL: cfg.S3EndpointURL,
			AccessKey:   cfg.S3AccessKey,
			Secret:      cfg.S3Secret,
			Region:      cfg.S3Region,
			Bucket:      cfg.S3Bucket,
		})
	}
	if err != nil {
		return nil, err
	}
	return WithRetry(b, cfg.BackendRetries, defaultRetryBase, logger), nil
}
