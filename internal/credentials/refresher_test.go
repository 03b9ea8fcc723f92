package credentials

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/commco/backend/internal/models"
)

func newTokenServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("client_id"); got != "client" {
			t.Errorf("client_id = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func newTestRefresher(tokenURL string, now time.Time) *OAuthRefresher {
	r := NewOAuthRefresher(OAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     tokenURL,
		Skew:         30 * time.Second,
	})
	r.now = func() time.Time { return now }
	return r
}

func TestOAuthRefresherNotExpired(t *testing.T) {
	server, calls := newTokenServer(t, http.StatusOK, `{}`)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := newTestRefresher(server.URL, now)

	cases := []models.Credential{
		{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(time.Hour)},
		{AccessToken: "a"},
	}
	for _, cred := range cases {
		got, renewed, err := r.Refresh(context.Background(), cred)
		if err != nil || renewed || got != cred {
			t.Fatalf("Refresh(%+v) = %+v, %v, %v", cred, got, renewed, err)
		}
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatalf("token endpoint should not be called, got %d calls", *calls)
	}
}

func TestOAuthRefresherRenews(t *testing.T) {
	server, calls := newTokenServer(t, http.StatusOK, `{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`)
	now := time.Now()
	r := newTestRefresher(server.URL, now)

	// Within the skew window counts as expired.
	cred := models.Credential{AccessToken: "stale", RefreshToken: "keep-me", ExpiresAt: now.Add(10 * time.Second)}
	got, renewed, err := r.Refresh(context.Background(), cred)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !renewed {
		t.Fatal("expected credential to be renewed")
	}
	if got.AccessToken != "fresh" || got.RefreshToken != "keep-me" {
		t.Fatalf("unexpected credential: %+v", got)
	}
	if !got.ExpiresAt.After(now) {
		t.Fatalf("expected new expiry after now, got %v", got.ExpiresAt)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("expected one token request, got %d", *calls)
	}
}

func TestOAuthRefresherRotatesRefreshToken(t *testing.T) {
	server, _ := newTokenServer(t, http.StatusOK, `{"access_token":"fresh","refresh_token":"rotated","token_type":"Bearer","expires_in":3600}`)
	r := newTestRefresher(server.URL, time.Now())

	got, _, err := r.Refresh(context.Background(), models.Credential{AccessToken: "old", RefreshToken: "old-refresh", ExpiresAt: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got.RefreshToken != "rotated" {
		t.Fatalf("RefreshToken = %q, want rotated", got.RefreshToken)
	}
}

func TestOAuthRefresherExpiredWithoutRefreshToken(t *testing.T) {
	server, calls := newTokenServer(t, http.StatusOK, `{}`)
	now := time.Now()
	r := newTestRefresher(server.URL, now)

	_, renewed, err := r.Refresh(context.Background(), models.Credential{AccessToken: "a", ExpiresAt: now.Add(-time.Minute)})
	if !errors.Is(err, ErrCredentialExpired) {
		t.Fatalf("expected ErrCredentialExpired, got %v", err)
	}
	if renewed || atomic.LoadInt32(calls) != 0 {
		t.Fatalf("expected no renewal and no endpoint call")
	}
}

func TestOAuthRefresherEndpointFailure(t *testing.T) {
	server, _ := newTokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	now := time.Now()
	r := newTestRefresher(server.URL, now)

	_, _, err := r.Refresh(context.Background(), models.Credential{AccessToken: "a", RefreshToken: "revoked", ExpiresAt: now.Add(-time.Minute)})
	if !errors.Is(err, ErrTokenRefresh) {
		t.Fatalf("expected ErrTokenRefresh, got %v", err)
	}
}

func TestOAuthRefresherTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	now := time.Now()
	r := newTestRefresher(server.URL, now)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := r.Refresh(ctx, models.Credential{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(-time.Minute)})
	if !errors.Is(err, ErrTokenRefresh) {
		t.Fatalf("expected ErrTokenRefresh on timeout, got %v", err)
	}
}
