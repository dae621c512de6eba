package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmylchreest/sitewatch/internal/apperrors"
	"github.com/jmylchreest/sitewatch/internal/crypto"
	"github.com/jmylchreest/sitewatch/internal/repository"
)

// memCredentialRepo is a minimal in-memory CredentialRepository for
// exercising the token broker without a database.
type memCredentialRepo struct {
	row *repository.CredentialRow
}

func (m *memCredentialRepo) Get(ctx context.Context) (*repository.CredentialRow, error) {
	return m.row, nil
}

func (m *memCredentialRepo) Save(ctx context.Context, row *repository.CredentialRow) error {
	m.row = row
	return nil
}

func newTestBroker(t *testing.T, tokenURL string, repo repository.CredentialRepository) *TokenBroker {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := crypto.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	return NewTokenBroker(repo, enc, tokenURL, "client-id", "client-secret", "https://thyme.example/callback", nil)
}

func TestTokenBroker_GetAccessTokenNoRefreshWhenFresh(t *testing.T) {
	repo := &memCredentialRepo{}
	broker := newTestBroker(t, "http://unused.invalid", repo)

	accessEnc, _ := broker.enc.Encrypt("fresh-access-token")
	refreshEnc, _ := broker.enc.Encrypt("refresh-token")
	repo.row = &repository.CredentialRow{
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       time.Now().Add(10 * time.Minute),
	}

	token, err := broker.GetAccessToken(context.Background())
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if token != "fresh-access-token" {
		t.Errorf("token = %q, want %q", token, "fresh-access-token")
	}
}

func TestTokenBroker_RefreshesWhenWithinSkew(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(tokenResponse{
			AccessToken:  "new-access-token",
			RefreshToken: "new-refresh-token",
			ExpiresIn:    3600,
			Scope:        "analytics.read search.read",
		})
	}))
	defer server.Close()

	repo := &memCredentialRepo{}
	broker := newTestBroker(t, server.URL, repo)

	accessEnc, _ := broker.enc.Encrypt("stale-access-token")
	refreshEnc, _ := broker.enc.Encrypt("old-refresh-token")
	repo.row = &repository.CredentialRow{
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       time.Now().Add(30 * time.Second),
	}

	token, err := broker.GetAccessToken(context.Background())
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if token != "new-access-token" {
		t.Errorf("token = %q, want %q", token, "new-access-token")
	}
	if calls.Load() != 1 {
		t.Errorf("token endpoint called %d times, want 1", calls.Load())
	}

	stored := repo.row
	gotRefresh, _ := broker.enc.Decrypt(stored.RefreshTokenEnc)
	if gotRefresh != "new-refresh-token" {
		t.Errorf("stored refresh token = %q, want %q", gotRefresh, "new-refresh-token")
	}
	if len(stored.Scopes) != 2 {
		t.Errorf("scopes = %v, want 2 entries", stored.Scopes)
	}
}

func TestTokenBroker_PreservesRefreshTokenWhenEndpointOmitsIt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "rotated-access-token",
			ExpiresIn:   3600,
		})
	}))
	defer server.Close()

	repo := &memCredentialRepo{}
	broker := newTestBroker(t, server.URL, repo)

	accessEnc, _ := broker.enc.Encrypt("stale-access-token")
	refreshEnc, _ := broker.enc.Encrypt("must-survive-refresh-token")
	repo.row = &repository.CredentialRow{
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       time.Now().Add(-time.Minute),
	}

	if _, err := broker.GetAccessToken(context.Background()); err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}

	gotRefresh, _ := broker.enc.Decrypt(repo.row.RefreshTokenEnc)
	if gotRefresh != "must-survive-refresh-token" {
		t.Errorf("refresh token = %q, want it preserved from before the refresh", gotRefresh)
	}
}

func TestTokenBroker_SingleInFlightRefresh(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_ = json.NewEncoder(w).Encode(tokenResponse{
			AccessToken:  "new-access-token",
			RefreshToken: "new-refresh-token",
			ExpiresIn:    3600,
		})
	}))
	defer server.Close()

	repo := &memCredentialRepo{}
	broker := newTestBroker(t, server.URL, repo)

	accessEnc, _ := broker.enc.Encrypt("stale-access-token")
	refreshEnc, _ := broker.enc.Encrypt("refresh-token")
	repo.row = &repository.CredentialRow{
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       time.Now().Add(-time.Minute),
	}

	const racers = 5
	results := make(chan string, racers)
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		go func() {
			token, err := broker.GetAccessToken(context.Background())
			results <- token
			errs <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < racers; i++ {
		if err := <-errs; err != nil {
			t.Errorf("racer error = %v", err)
		}
		if token := <-results; token != "new-access-token" {
			t.Errorf("racer token = %q, want %q", token, "new-access-token")
		}
	}

	if calls.Load() != 1 {
		t.Errorf("token endpoint called %d times, want exactly 1", calls.Load())
	}
}

func TestTokenBroker_NoCredentialRowFailsWithAuthError(t *testing.T) {
	repo := &memCredentialRepo{}
	broker := newTestBroker(t, "http://unused.invalid", repo)

	_, err := broker.GetAccessToken(context.Background())
	if err == nil {
		t.Fatal("GetAccessToken() error = nil, want AuthError")
	}
	var authErr *apperrors.AuthError
	if !errors.As(err, &authErr) {
		t.Errorf("GetAccessToken() error = %v, want *apperrors.AuthError", err)
	}
}

func TestTokenBroker_NonSuccessStatusFailsWithAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	repo := &memCredentialRepo{}
	broker := newTestBroker(t, server.URL, repo)

	accessEnc, _ := broker.enc.Encrypt("stale-access-token")
	refreshEnc, _ := broker.enc.Encrypt("refresh-token")
	repo.row = &repository.CredentialRow{
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       time.Now().Add(-time.Minute),
	}

	_, err := broker.GetAccessToken(context.Background())
	if err == nil {
		t.Fatal("GetAccessToken() error = nil, want AuthError")
	}
	var authErr *apperrors.AuthError
	if !errors.As(err, &authErr) {
		t.Errorf("GetAccessToken() error = %v, want *apperrors.AuthError", err)
	}
}
