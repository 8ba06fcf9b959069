package backend

import (
	"context"
	"errors"
	"time"

	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/cloudstore/internal/common"
	"github.com/dmitrijs2005/cloudstore/internal/logging"
	"github.com/dmitrijs2005/cloudstore/internal/server/metrics"
	"github.com/sethvargo/go-retry"
)

const defaultRetryBase = 100 * time.Millisecond

type retrying struct {
	next    Backend
	retries uint64
	base    time.Duration
	logger  logging.Logger
}

// WithRetry retries Put, Get and Delete on next with exponential backoff.
// Errors that survive all attempts are wrapped in *common.TransientError.
// PresignGet is passed through.
func WithRetry(next Backend, retries int, base time.Duration, logger logging.Logger) Backend {
	if retries < 0 {
		retries = 0
	}
	return &retrying{
		next:    next,
		retries: uint64(retries),
		base:    base,
		logger:  logger.With("module", "backend"),
	}
}

func (r *retrying) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	var version string
	err := r.do(ctx, "put", key, func(ctx context.Context) error {
		v, err := r.next.Put(ctx, key, body, contentType)
		version = v
		return err
	})
	return version, err
}

func (r *retrying) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := r.do(ctx, "get", key, func(ctx context.Context) error {
		b, err := r.next.Get(ctx, key)
		body = b
		return err
	})
	return body, err
}

func (r *retrying) Delete(ctx context.Context, key string) error {
	return r.do(ctx, "delete", key, func(ctx context.Context) error {
		return r.next.Delete(ctx, key)
	})
}

func (r *retrying) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	return r.next.PresignGet(ctx, key, expires)
}

func (r *retrying) do(ctx context.Context, op, key string, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(r.retries, retry.NewExponential(r.base))

	transient := false
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		transient = isTransient(err)
		if !transient {
			return err
		}
		metrics.BackendOps.WithLabelValues(op, metrics.OutcomeRetry).Inc()
		r.logger.Warn(ctx, "backend operation failed, retrying", "op", op, "key", key, "error", err)
		return retry.RetryableError(err)
	})

	switch {
	case err == nil:
		metrics.BackendOps.WithLabelValues(op, metrics.OutcomeOK).Inc()
		return nil
	case transient && ctx.Err() == nil:
		metrics.BackendOps.WithLabelValues(op, metrics.OutcomeError).Inc()
		r.logger.Error(ctx, "backend operation exhausted retries", "op", op, "key", key, "error", err)
		return &common.TransientError{Op: op, Key: key, Err: err}
	default:
		metrics.BackendOps.WithLabelValues(op, metrics.OutcomeError).Inc()
		return err
	}
}

// isTransient reports whether err is worth another attempt.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, common.ErrorNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		common.IsPathError(err),
		common.IsConfigError(err):
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
		return false
	}
	return true
}
