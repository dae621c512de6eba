// Package service holds the components that sit between the repository
// layer and the orchestrators: the token broker, the data source adapters,
// the signal bus wrapper, page inventory reconciliation, the meta auditor,
// the health scorer, and the two pipeline orchestrators.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmylchreest/sitewatch/internal/apperrors"
	"github.com/jmylchreest/sitewatch/internal/crypto"
	"github.com/jmylchreest/sitewatch/internal/repository"
	"golang.org/x/sync/singleflight"
)

// tokenRefreshSkew is how far ahead of expiry a refresh is triggered.
const tokenRefreshSkew = 60 * time.Second

// TokenBroker maintains a single live OAuth credential pair, refreshing it
// ahead of expiry and serializing concurrent refresh attempts so only one
// request ever reaches the token endpoint at a time.
type TokenBroker struct {
	creds      repository.CredentialRepository
	enc        *crypto.Encryptor
	httpClient *http.Client
	logger     *slog.Logger

	tokenURL     string
	clientID     string
	clientSecret string
	redirectURI  string

	sf singleflight.Group
}

// NewTokenBroker wires a broker against the credential store and the OAuth
// token endpoint. enc encrypts access/refresh tokens at rest.
func NewTokenBroker(creds repository.CredentialRepository, enc *crypto.Encryptor, tokenURL, clientID, clientSecret, redirectURI string, logger *slog.Logger) *TokenBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenBroker{
		creds:        creds,
		enc:          enc,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		logger:       logger,
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
	}
}

// tokenResponse is the standard OAuth2 refresh-grant response body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// GetAccessToken returns a non-expired, decrypted access token, refreshing
// it first if it is within tokenRefreshSkew of expiry. Concurrent callers
// racing on an expired token collapse into a single refresh request.
func (b *TokenBroker) GetAccessToken(ctx context.Context) (string, error) {
	row, err := b.creds.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load credential row: %w", err)
	}
	if row == nil {
		return "", &apperrors.AuthError{Source: "token_broker", Err: fmt.Errorf("no credential row configured")}
	}

	if time.Now().Before(row.ExpiresAt.Add(-tokenRefreshSkew)) {
		return b.enc.Decrypt(row.AccessTokenEnc)
	}

	v, err, _ := b.sf.Do("refresh", func() (any, error) {
		return b.refresh(ctx, row)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (b *TokenBroker) refresh(ctx context.Context, row *repository.CredentialRow) (string, error) {
	// Re-read in case another process already refreshed while we waited on
	// the singleflight lock.
	fresh, err := b.creds.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to reload credential row: %w", err)
	}
	if fresh != nil && time.Now().Before(fresh.ExpiresAt.Add(-tokenRefreshSkew)) {
		return b.enc.Decrypt(fresh.AccessTokenEnc)
	}
	row = fresh

	refreshToken, err := b.enc.Decrypt(row.RefreshTokenEnc)
	if err != nil {
		return "", &apperrors.AuthError{Source: "token_broker", Err: fmt.Errorf("failed to decrypt refresh token: %w", err)}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", b.clientID)
	form.Set("client_secret", b.clientSecret)
	if b.redirectURI != "" {
		form.Set("redirect_uri", b.redirectURI)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", &apperrors.AuthError{Source: "token_broker", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &apperrors.AuthError{Source: "token_broker", Err: fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", &apperrors.AuthError{Source: "token_broker", Err: fmt.Errorf("failed to decode token response: %w", err)}
	}

	newRefresh := tr.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	accessEnc, err := b.enc.Encrypt(tr.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshEnc, err := b.enc.Encrypt(newRefresh)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	expiresAt := time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	var scopes []string
	if tr.Scope != "" {
		scopes = strings.Fields(tr.Scope)
	}

	if err := b.creds.Save(ctx, &repository.CredentialRow{
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       expiresAt,
		Scopes:          scopes,
	}); err != nil {
		return "", fmt.Errorf("failed to persist refreshed credential: %w", err)
	}

	b.logger.Info("refreshed oauth access token", "expires_at", expiresAt)
	return tr.AccessToken, nil
}

// SeedCredential stores an initial access/refresh token pair, encrypting
// both before persisting. Used by the bootstrap flow that exchanges an
// authorization code for the first credential.
func (b *TokenBroker) SeedCredential(ctx context.Context, accessToken, refreshToken string, expiresAt time.Time, scopes []string) error {
	accessEnc, err := b.enc.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshEnc, err := b.enc.Encrypt(refreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	return b.creds.Save(ctx, &repository.CredentialRow{
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       expiresAt,
		Scopes:          scopes,
	})
}
