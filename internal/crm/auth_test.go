package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTokenServer(t *testing.T, calls *int, accessToken string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if got := r.PostFormValue("grant_type"); got != "refresh_token" {
			t.Errorf("expected grant_type refresh_token, got %q", got)
		}
		if got := r.PostFormValue("refresh_token"); got != "refresh-1" {
			t.Errorf("expected refresh_token refresh-1, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": accessToken,
			"expires_in":   3600,
		})
	}))
}

func TestTokenProviderRefreshesAndCaches(t *testing.T) {
	var calls int
	srv := newTokenServer(t, &calls, "tok-abc")
	defer srv.Close()

	tp := NewTokenProvider(
		WithTokenURL(srv.URL),
		WithClientCredentials("client-1", "secret-1"),
		WithRefreshToken("refresh-1"),
	)

	tok, err := tp.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok != "tok-abc" {
		t.Errorf("expected tok-abc, got %q", tok)
	}

	// Second call should hit the cache.
	if _, err := tp.Token(context.Background()); err != nil {
		t.Fatalf("cached Token failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 refresh call, got %d", calls)
	}
}

func TestTokenProviderRefreshesNearExpiry(t *testing.T) {
	var calls int
	srv := newTokenServer(t, &calls, "tok-abc")
	defer srv.Close()

	tp := NewTokenProvider(WithTokenURL(srv.URL), WithRefreshToken("refresh-1"))
	if _, err := tp.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	// Shrink the remaining lifetime below the skew window.
	tp.mu.Lock()
	tp.expiresAt = time.Now().Add(time.Minute)
	tp.mu.Unlock()

	if _, err := tp.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected refresh near expiry, got %d calls", calls)
	}
}

func TestTokenProviderInvalidateForcesRefresh(t *testing.T) {
	var calls int
	srv := newTokenServer(t, &calls, "tok-abc")
	defer srv.Close()

	tp := NewTokenProvider(WithTokenURL(srv.URL), WithRefreshToken("refresh-1"))
	if _, err := tp.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	tp.Invalidate()
	if _, err := tp.Token(context.Background()); err != nil {
		t.Fatalf("Token after Invalidate failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 refresh calls after Invalidate, got %d", calls)
	}
}

func TestTokenProviderRejectsErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid_client"})
	}))
	defer srv.Close()

	tp := NewTokenProvider(WithTokenURL(srv.URL), WithRefreshToken("refresh-1"))
	if _, err := tp.Token(context.Background()); err == nil {
		t.Fatal("expected error for response without access token")
	}
}
