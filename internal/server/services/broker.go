package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/cloudstore/internal/common"
	"github.com/dmitrijs2005/cloudstore/internal/logging"
	"github.com/dmitrijs2005/cloudstore/internal/server/backend"
	"github.com/dmitrijs2005/cloudstore/internal/server/config"
	"github.com/dmitrijs2005/cloudstore/internal/server/metrics"
	"github.com/dmitrijs2005/cloudstore/internal/server/models"
	"github.com/dmitrijs2005/cloudstore/internal/server/permissions"
	"github.com/dmitrijs2005/cloudstore/internal/server/repositories/files"
)

const sharingTokenAttempts = 3

// AccessBroker hands out presigned URLs. Private Files are gated by the
// permission checker before the backend is asked to sign anything.
type AccessBroker struct {
	store         files.Store
	backend       backend.Backend
	checker       *permissions.Checker
	expiration    time.Duration
	publicBaseURL string
	logger        logging.Logger
}

func NewAccessBroker(store files.Store, b backend.Backend, checker *permissions.Checker, cfg *config.Config, logger logging.Logger) *AccessBroker {
	return &AccessBroker{
		store:         store,
		backend:       b,
		checker:       checker,
		expiration:    cfg.PresignExpiration,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:        logger.With("module", "broker"),
	}
}

// GetPresignedURL signs the object at key for user. Private Files expire
// after the configured expiration, public ones get the backend maximum.
func (b *AccessBroker) GetPresignedURL(ctx context.Context, key, user string) (string, error) {
	u, err := b.getPresignedURL(ctx, key, user)
	metrics.AccessTotal.WithLabelValues("retrieve", outcome(err)).Inc()
	return u, err
}

func (b *AccessBroker) getPresignedURL(ctx context.Context, key, user string) (string, error) {
	if key == "" {
		return "", common.ErrorNotFound
	}
	f, err := b.store.Files().GetByStorageKey(ctx, key)
	if err != nil {
		return "", err
	}

	var expires time.Duration
	if f.IsPrivate {
		if err := b.authorize(ctx, user, permissions.Read, f); err != nil {
			return "", err
		}
		expires = b.expiration
	}

	return b.backend.PresignGet(ctx, f.StorageKey, expires)
}

// GetSharingURL signs the object of the File holding token. The token is
// the capability; no permission check is made.
func (b *AccessBroker) GetSharingURL(ctx context.Context, token string) (string, error) {
	u, err := b.getSharingURL(ctx, token)
	metrics.AccessTotal.WithLabelValues("share", outcome(err)).Inc()
	return u, err
}

func (b *AccessBroker) getSharingURL(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", common.ErrorNotFound
	}
	f, err := b.store.Files().GetBySharingToken(ctx, token)
	if err != nil {
		return "", err
	}
	if f.IsFolder || f.StorageKey == "" {
		return "", common.ErrorNotFound
	}
	return b.backend.PresignGet(ctx, f.StorageKey, 0)
}

// IssueSharingToken returns the File's sharing token, generating one when
// none exists or reset is set. Private Files need the share permission.
func (b *AccessBroker) IssueSharingToken(ctx context.Context, fileID string, reset bool, user string) (string, error) {
	f, err := b.store.Files().GetByID(ctx, fileID)
	if err != nil {
		return "", err
	}
	if f.IsPrivate {
		if err := b.authorize(ctx, user, permissions.Share, f); err != nil {
			return "", err
		}
	}
	if f.SharingToken != "" && !reset {
		return f.SharingToken, nil
	}

	for attempt := 1; ; attempt++ {
		token, err := b.rotateSharingToken(ctx, fileID, reset)
		if !errors.Is(err, files.ErrSharingTokenTaken) || attempt == sharingTokenAttempts {
			return token, err
		}
		b.logger.Warn(ctx, "sharing token collision, regenerating", "file_id", fileID, "attempt", attempt)
	}
}

func (b *AccessBroker) rotateSharingToken(ctx context.Context, fileID string, reset bool) (string, error) {
	var token string
	err := b.store.WithTx(ctx, func(ctx context.Context, repo files.Repository) error {
		f, err := repo.LockByID(ctx, fileID)
		if err != nil {
			return err
		}
		if f.SharingToken != "" && !reset {
			token = f.SharingToken
			return nil
		}

		token, err = common.MakeRandDecimalToken()
		if err != nil {
			return err
		}
		if _, err := repo.GetBySharingToken(ctx, token); err == nil {
			return files.ErrSharingTokenTaken
		} else if !errors.Is(err, common.ErrorNotFound) {
			return err
		}

		f.SharingToken = token
		return repo.Update(ctx, f)
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// SharingLink renders the absolute share URL for fileID.
func (b *AccessBroker) SharingLink(ctx context.Context, fileID string, reset bool, user string) (string, error) {
	token, err := b.IssueSharingToken(ctx, fileID, reset, user)
	metrics.AccessTotal.WithLabelValues("sharing_link", outcome(err)).Inc()
	if err != nil {
		return "", err
	}
	return b.publicBaseURL + common.SharePath + "?key=" + url.QueryEscape(token), nil
}

func (b *AccessBroker) authorize(ctx context.Context, user, ptype string, f *models.File) error {
	ok, err := b.checker.HasPermission(ctx, user, ptype, f)
	if err != nil {
		return fmt.Errorf("permission check: %w", err)
	}
	if !ok {
		b.logger.Info(ctx, "access denied", "user", user, "ptype", ptype, "file_id", f.ID)
		return common.ErrPermission
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, common.ErrorNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, common.ErrPermission):
		return metrics.OutcomeForbidden
	default:
		return metrics.OutcomeError
	}
}
