package authmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fernmcp/hostd/internal/config"
	"github.com/fernmcp/hostd/storage"
	"github.com/fernmcp/hostd/storage/memstore"
)

func setup(t *testing.T) (*Middleware, *memstore.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.BaseURL = "https://hostd.example.com"
	store := memstore.New()
	store.PutContext(&storage.TenantContext{Id: "acme", Type: "agency", Active: true})
	return New(cfg, store), store
}

func TestAuthenticate_MissingBearerRejected(t *testing.T) {
	m, _ := setup(t)
	r := httptest.NewRequest(http.MethodPost, "/mcp/acme", nil)
	_, rej := m.Authenticate(context.Background(), r, "acme", "2025-03-26")
	if rej == nil || rej.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 rejection, got %+v", rej)
	}
	if rej.WWWAuthenticate == "" {
		t.Fatalf("expected WWW-Authenticate header value")
	}
}

func TestAuthenticate_ValidToken(t *testing.T) {
	m, store := setup(t)
	_ = store.StoreAccessToken(context.Background(), &storage.AccessToken{
		AccessToken: "tok-123",
		TenantId:    "acme",
		UserId:      "user-1",
		Scope:       "mcp:read",
		ExpiresAt:   time.Now().Add(time.Hour),
	})

	r := httptest.NewRequest(http.MethodPost, "/mcp/acme", nil)
	r.Header.Set("Authorization", "Bearer tok-123")
	rc, rej := m.Authenticate(context.Background(), r, "acme", "2025-03-26")
	if rej != nil {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	if rc.TenantId != "acme" || rc.UserId != "user-1" {
		t.Fatalf("unexpected request context: %+v", rc)
	}
}

func TestAuthenticate_2025_06_18RequiresResourceBinding(t *testing.T) {
	m, store := setup(t)
	_ = store.StoreAccessToken(context.Background(), &storage.AccessToken{
		AccessToken: "tok-456",
		TenantId:    "acme",
		Scope:       "mcp:read",
		ExpiresAt:   time.Now().Add(time.Hour),
		// Resource/Audience intentionally left unset.
	})

	r := httptest.NewRequest(http.MethodPost, "/mcp/acme", nil)
	r.Header.Set("Authorization", "Bearer tok-456")
	_, rej := m.Authenticate(context.Background(), r, "acme", "2025-06-18")
	if rej == nil {
		t.Fatalf("expected resource-binding rejection")
	}
}

func TestAuthenticate_QueryStringTokenRejected(t *testing.T) {
	m, _ := setup(t)
	r := httptest.NewRequest(http.MethodPost, "/mcp/acme?access_token=tok-123", nil)
	_, rej := m.Authenticate(context.Background(), r, "acme", "2025-03-26")
	if rej == nil {
		t.Fatalf("expected rejection for query-string token")
	}
}
