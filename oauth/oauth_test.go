package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/fernmcp/hostd/internal/config"
	"github.com/fernmcp/hostd/storage"
	"github.com/fernmcp/hostd/storage/memstore"
)

func newTestServer(t *testing.T) (*Server, *memstore.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.BaseURL = "https://hostd.example.com"
	store := memstore.New()
	return New(cfg, store), store
}

func TestVerifyPKCE(t *testing.T) {
	challenge := ChallengeFromVerifier("abc123verifier")
	if !VerifyPKCE("abc123verifier", challenge, "S256") {
		t.Fatalf("expected matching verifier to pass")
	}
	if VerifyPKCE("wrong", challenge, "S256") {
		t.Fatalf("expected mismatched verifier to fail")
	}
	if VerifyPKCE("abc123verifier", challenge, "plain") {
		t.Fatalf("expected non-S256 method to be rejected")
	}
}

func registerClient(t *testing.T, store *memstore.Store, clientId, redirectURI string) {
	t.Helper()
	_ = store.StoreOAuthClient(context.Background(), &storage.OAuthClient{
		ClientId:      clientId,
		ClientName:    "test client",
		RedirectURIs:  []string{redirectURI},
		GrantTypes:    []string{"authorization_code", "refresh_token"},
		ResponseTypes: []string{"code"},
	})
}

func TestAuthorizeUnknownClientRejected(t *testing.T) {
	s, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/oauth/authorize?response_type=code&client_id=nope&redirect_uri=https://app/cb&code_challenge=x&code_challenge_method=S256", nil)
	w := httptest.NewRecorder()
	s.HandleAuthorize(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown client, got %d", w.Code)
	}
}

func TestAuthorizeHappyPathRendersConsent(t *testing.T) {
	s, store := newTestServer(t)
	registerClient(t, store, "client-1", "https://app.example/cb")

	r := httptest.NewRequest(http.MethodGet, "/oauth/authorize?response_type=code&client_id=client-1&redirect_uri=https://app.example/cb&code_challenge=abc&code_challenge_method=S256&state=xyz", nil)
	w := httptest.NewRecorder()
	s.HandleAuthorize(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if len(w.Result().Cookies()) != 1 {
		t.Fatalf("expected authorization request cookie to be set")
	}
}

func TestAuthorize2025_06_18RequiresResource(t *testing.T) {
	s, store := newTestServer(t)
	registerClient(t, store, "client-1", "https://app.example/cb")

	r := httptest.NewRequest(http.MethodGet, "/oauth/authorize?response_type=code&client_id=client-1&redirect_uri=https://app.example/cb&code_challenge=abc&code_challenge_method=S256&mcp_protocol_version=2025-06-18", nil)
	w := httptest.NewRecorder()
	s.HandleAuthorize(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing resource on 2025-06-18, got %d", w.Code)
	}
}

func authorizeThenConsent(t *testing.T, s *Server, store *memstore.Store, clientId, redirectURI, verifier string) *http.Cookie {
	t.Helper()
	challenge := ChallengeFromVerifier(verifier)
	target := "/oauth/authorize?response_type=code&client_id=" + clientId +
		"&redirect_uri=" + url.QueryEscape(redirectURI) +
		"&code_challenge=" + challenge + "&code_challenge_method=S256&state=xyz"
	r := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	s.HandleAuthorize(w, r)
	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie from authorize, got %d", len(cookies))
	}
	return cookies[0]
}

func TestFullAuthorizationCodeGrant(t *testing.T) {
	s, store := newTestServer(t)
	registerClient(t, store, "client-1", "https://app.example/cb")
	verifier := "averylongcodeverifierthatisvalid1234567890"
	cookie := authorizeThenConsent(t, s, store, "client-1", "https://app.example/cb", verifier)

	form := url.Values{"action": {"allow"}, "user_id": {"user-1"}}
	r := httptest.NewRequest(http.MethodPost, "/oauth/consent", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.HandleConsent(w, r)
	if w.Code != http.StatusFound {
		t.Fatalf("expected redirect after consent, got %d body=%s", w.Code, w.Body.String())
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid redirect location: %v", err)
	}
	code := loc.Query().Get("code")
	if code == "" {
		t.Fatalf("expected authorization code in redirect, got %s", loc.String())
	}
	if loc.Query().Get("state") != "xyz" {
		t.Fatalf("expected state to be echoed back")
	}

	tokenForm := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {"client-1"},
		"redirect_uri":  {"https://app.example/cb"},
		"code_verifier": {verifier},
	}
	tr := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(tokenForm.Encode()))
	tr.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	tw := httptest.NewRecorder()
	s.HandleToken(tw, tr)
	if tw.Code != http.StatusOK {
		t.Fatalf("expected 200 from token endpoint, got %d body=%s", tw.Code, tw.Body.String())
	}

	reuse := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(tokenForm.Encode()))
	reuse.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	reuseW := httptest.NewRecorder()
	s.HandleToken(reuseW, reuse)
	if reuseW.Code != http.StatusBadRequest {
		t.Fatalf("expected reused code to be rejected, got %d", reuseW.Code)
	}
}

func TestRefreshTokenRotation(t *testing.T) {
	s, store := newTestServer(t)
	_ = store.StoreAccessToken(context.Background(), &storage.AccessToken{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ClientId:     "client-1",
		UserId:       "user-1",
	})

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"rt-1"}}
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.HandleToken(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}

	reuse := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	reuse.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	reuseW := httptest.NewRecorder()
	s.HandleToken(reuseW, reuse)
	if reuseW.Code != http.StatusBadRequest {
		t.Fatalf("expected reused refresh token to be rejected, got %d", reuseW.Code)
	}
}

func TestRegisterPublicClient(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"client_name":"cli","redirect_uris":["https://app/cb"]}`
	r := httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.HandleRegister(w, r)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), `"client_secret"`) {
		t.Fatalf("public client registration should not carry a client_secret")
	}
}

func TestRevokeAlwaysReturns200(t *testing.T) {
	s, _ := newTestServer(t)
	form := url.Values{"token": {"does-not-exist"}}
	r := httptest.NewRequest(http.MethodPost, "/oauth/revoke", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.HandleRevoke(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 regardless of token existence, got %d", w.Code)
	}
}

func TestAuthServerMetadataVersionConditional(t *testing.T) {
	s, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server?version=2025-06-18", nil)
	w := httptest.NewRecorder()
	s.HandleAuthServerMetadata(w, r)
	if !strings.Contains(w.Body.String(), `"require_resource_parameter":true`) {
		t.Fatalf("expected require_resource_parameter on 2025-06-18, got %s", w.Body.String())
	}

	r2 := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	w2 := httptest.NewRecorder()
	s.HandleAuthServerMetadata(w2, r2)
	if strings.Contains(w2.Body.String(), `"require_resource_parameter"`) {
		t.Fatalf("did not expect require_resource_parameter without version=2025-06-18")
	}
}
