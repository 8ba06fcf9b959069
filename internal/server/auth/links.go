package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/cloudstore/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const linkKeyInfo = "cloudstore local blob link v1"

type linkClaims struct {
	jwt.RegisteredClaims
	Key string `json:"key"`
}

// LinkSigner signs storage keys into tokens for the local blob endpoint.
// Its HMAC key is derived from the server secret so link tokens can never
// be replayed as identity tokens.
type LinkSigner struct {
	key []byte
}

func NewLinkSigner(secret string) (*LinkSigner, error) {
	if secret == "" {
		return nil, &common.ConfigError{Field: "secret_key"}
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(linkKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive link key: %w", err)
	}
	return &LinkSigner{key: key}, nil
}

// Sign returns a token granting access to storageKey. expires <= 0 yields a
// token without expiry.
func (s *LinkSigner) Sign(storageKey string, expires time.Duration) (string, error) {
	claims := linkClaims{Key: storageKey}
	claims.IssuedAt = jwt.NewNumericDate(time.Now())
	if expires > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(expires))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify validates token and returns the storage key it grants.
func (s *LinkSigner) Verify(token string) (string, error) {
	claims := &linkClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", common.ErrInvalidToken
	}
	if claims.Key == "" {
		return "", common.ErrInvalidToken
	}
	return claims.Key, nil
}
