// Package auth keeps the backend bearer credentials in the key/value store
// and renews the access token with the refresh token when it is rejected.
package auth

import (
	"context"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/httpclient"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/kvstore"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

// DefaultRefreshPath is the token refresh endpoint relative to the API URL.
const DefaultRefreshPath = "/auth/token/refresh/"

// ErrNoRefreshToken is returned by Refresh when no refresh token is stored.
var ErrNoRefreshToken = errors.NewStd("no refresh token stored")

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"` // present when the backend rotates
}

// TokenStore implements httpclient.TokenSource on top of a kvstore.Store.
type TokenStore struct {
	kv          kvstore.Store
	client      *httpclient.Client
	refreshPath string
	log         logger.Logger
	group       singleflight.Group
}

// NewTokenStore creates a TokenStore. client must not authenticate with this
// store itself; pass a client without a TokenSource.
func NewTokenStore(kv kvstore.Store, client *httpclient.Client, refreshPath string, log logger.Logger) *TokenStore {
	if refreshPath == "" {
		refreshPath = DefaultRefreshPath
	}
	if log == nil {
		log = logger.Global().Module("auth")
	}
	return &TokenStore{kv: kv, client: client, refreshPath: refreshPath, log: log}
}

// Seed stores token and refresh unless credentials are already present, so
// tokens rotated at runtime survive a restart with a stale config.
func (s *TokenStore) Seed(ctx context.Context, token, refresh string) error {
	current, err := kvstore.GetString(ctx, s.kv, kvstore.KeyToken)
	if err != nil {
		return storageError(err, "read_token")
	}
	if current != "" || token == "" {
		return nil
	}
	return s.Set(ctx, token, refresh)
}

// Set replaces the stored credentials. An empty refresh keeps the old one.
func (s *TokenStore) Set(ctx context.Context, token, refresh string) error {
	if err := s.kv.Set(ctx, kvstore.KeyToken, []byte(token)); err != nil {
		return storageError(err, "write_token")
	}
	if refresh == "" {
		return nil
	}
	if err := s.kv.Set(ctx, kvstore.KeyRefreshToken, []byte(refresh)); err != nil {
		return storageError(err, "write_refresh_token")
	}
	return nil
}

// Token returns the stored access token, or "" when logged out.
func (s *TokenStore) Token(ctx context.Context) (string, error) {
	token, err := kvstore.GetString(ctx, s.kv, kvstore.KeyToken)
	if err != nil {
		return "", storageError(err, "read_token")
	}
	return strings.TrimSpace(token), nil
}

// Refresh exchanges the refresh token for a new access token. Concurrent
// callers share one request.
func (s *TokenStore) Refresh(ctx context.Context) (string, error) {
	v, err, _ := s.group.Do("refresh", func() (any, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *TokenStore) refresh(ctx context.Context) (string, error) {
	refresh, err := kvstore.GetString(ctx, s.kv, kvstore.KeyRefreshToken)
	if err != nil {
		return "", storageError(err, "read_refresh_token")
	}
	if refresh == "" {
		return "", ErrNoRefreshToken
	}

	var resp refreshResponse
	if err := s.client.PostJSON(ctx, s.refreshPath, "", refreshRequest{Refresh: refresh}, &resp); err != nil {
		return "", errors.New(err).
			Component("auth").
			Category(errors.CategoryAuth).
			Context("operation", "refresh_token").
			Build()
	}
	if resp.Access == "" {
		return "", errors.Newf("refresh response carried no access token").
			Component("auth").
			Category(errors.CategoryAuth).
			Build()
	}
	if err := s.Set(ctx, resp.Access, resp.Refresh); err != nil {
		return "", err
	}
	s.log.Info("access token refreshed", logger.Bool("rotated_refresh", resp.Refresh != ""))
	return resp.Access, nil
}

// Logout removes both credentials.
func (s *TokenStore) Logout(ctx context.Context) error {
	return errors.Join(
		s.kv.Delete(ctx, kvstore.KeyToken),
		s.kv.Delete(ctx, kvstore.KeyRefreshToken),
	)
}

func storageError(err error, operation string) error {
	return errors.New(err).
		Component("auth").
		Category(errors.CategoryStorage).
		Context("operation", operation).
		Build()
}
