package kis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(baseURL string) *Client {
	c := NewClient(ClientConfig{
		BaseURL:   baseURL,
		AppKey:    "test-app-key",
		AppSecret: "test-app-secret",
		Timeout:   5 * time.Second,
		Retries:   1,
	})
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestAccessTokenSingleIssuanceUnderContention(t *testing.T) {
	var issued int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/tokenP" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		atomic.AddInt64(&issued, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"expires_in":   86400,
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	defer c.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.AccessToken(context.Background())
			if err != nil {
				errs <- err
				return
			}
			if tok != "tok-1" {
				t.Errorf("unexpected token %q", tok)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("AccessToken failed: %v", err)
	}

	if n := atomic.LoadInt64(&issued); n != 1 {
		t.Errorf("expected exactly 1 issuance call, got %d", n)
	}
}

func TestAccessTokenRefreshesNearExpiry(t *testing.T) {
	var issued int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&issued, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	defer c.Close()

	if _, err := c.AccessToken(context.Background()); err != nil {
		t.Fatalf("first AccessToken failed: %v", err)
	}

	// Within the 60s safety margin of expiry the cached token must not be
	// reused.
	base := time.Now()
	c.token.now = func() time.Time { return base.Add(3600*time.Second - 30*time.Second) }
	if _, err := c.AccessToken(context.Background()); err != nil {
		t.Fatalf("second AccessToken failed: %v", err)
	}

	if n := atomic.LoadInt64(&issued); n != 2 {
		t.Errorf("expected 2 issuance calls, got %d", n)
	}
}

func TestAccessTokenMissingCredentials(t *testing.T) {
	c := NewClient(ClientConfig{BaseURL: "http://localhost:1", Timeout: time.Second})
	defer c.Close()

	_, err := c.AccessToken(context.Background())
	if err == nil {
		t.Fatal("expected configuration error")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected *ConfigError, got %T: %v", err, err)
	}
}

func TestAccessTokenIncompleteBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	defer c.Close()

	if _, err := c.AccessToken(context.Background()); err == nil {
		t.Fatal("expected error for body missing expires_in")
	}
}
